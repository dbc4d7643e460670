package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckerDefaultPolicy(t *testing.T) {
	c := NewChecker(nil)
	assert.True(t, c.Has("admin", "bank:manage"))
	assert.True(t, c.Has("admin", "sessions:manage"))
	assert.False(t, c.Has("admin", "something:else"))
	assert.False(t, c.Has("viewer", "bank:manage"))
	assert.False(t, c.Has("", "bank:manage"))
}

func TestCheckerWildcards(t *testing.T) {
	c := NewChecker(map[string][]string{
		"root":   {"*"},
		"banker": {"bank:*"},
	})
	assert.True(t, c.Has("root", "anything:at:all"))
	assert.True(t, c.Has("banker", "bank:manage"))
	assert.False(t, c.Has("banker", "sessions:manage"))
	assert.True(t, c.Any("banker", "sessions:manage", "bank:manage"))
}

func TestRoleContext(t *testing.T) {
	ctx := WithRole(context.Background(), "admin")
	assert.Equal(t, "admin", RoleFromContext(ctx))
	assert.Equal(t, "", RoleFromContext(context.Background()))
}
