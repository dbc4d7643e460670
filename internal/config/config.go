package config

import (
	"os"
	"strconv"
	"strings"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type Config struct {
	Mode     Mode
	HTTPAddr string

	DBDriver string // sqlite|postgres
	DBDSN    string

	BanksDir     string // bank_*.json autoloaded at startup
	TestsDir     string // static test definitions
	BlobBasePath string // uploaded bank documents

	AdminUser      string
	AdminPassHash  string // bcrypt
	AuthHMACSecret string

	CORSOriginsDev  []string
	CORSOriginsProd []string

	DefaultPassingGrade float64
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeDev
	}
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		Mode:                mode,
		HTTPAddr:            addr,
		DBDriver:            envOr("DB_DRIVER", "sqlite"),
		DBDSN:               envOr("DB_DSN", ""),
		BanksDir:            envOr("BANKS_DIR", "./data/banks"),
		TestsDir:            envOr("TESTS_DIR", "./data/tests"),
		BlobBasePath:        envOr("BLOB_BASE_PATH", "./data/blobs"),
		AdminUser:           envOr("ADMIN_USER", "admin"),
		AdminPassHash:       envOr("ADMIN_PASS_HASH", "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji"),
		AuthHMACSecret:      envOr("AUTH_HMAC_SECRET", "dev-secret-change-me"),
		CORSOriginsDev:      csvOr("CORS_ORIGINS_DEV", "http://localhost:3000,http://localhost:5173"),
		CORSOriginsProd:     csvOr("CORS_ORIGINS_PROD", ""),
		DefaultPassingGrade: envFloat("DEFAULT_PASSING_GRADE", 70),
	}
}

// CORSOrigins returns the origin allowlist for the active mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeProd {
		return c.CORSOriginsProd
	}
	return c.CORSOriginsDev
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
