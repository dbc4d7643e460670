package rbac

// Default policy. The public quiz API is unauthenticated; permissions only
// gate the admin surface.
var RolePermissions = map[string][]string{
	"admin": {
		"bank:manage",
		"sessions:manage",
	},
}
