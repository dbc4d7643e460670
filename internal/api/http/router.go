// Package http wires the JSON API. Handlers are thin: decode, call the
// service or store, map errors, encode.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/quizforge/quizforge/internal/auth"
	"github.com/quizforge/quizforge/internal/cache"
	"github.com/quizforge/quizforge/internal/logging"
	"github.com/quizforge/quizforge/internal/quiz"
	"github.com/quizforge/quizforge/internal/rbac"
	"github.com/quizforge/quizforge/internal/storage"
)

type RouterDeps struct {
	Store       quiz.Store
	Service     *quiz.Service
	Tests       *cache.Tests
	Auth        *auth.AuthService
	Blobs       *storage.FSStore
	Log         *logging.Logger
	CORSOrigins []string

	AdminUser     string
	AdminPassHash string
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(d.Store))

	r.Post("/auth/login", auth.LoginHandler(d.Auth, d.AdminUser, d.AdminPassHash))

	r.Route("/api", func(r chi.Router) {
		r.Get("/tests", ListTestsHandler(d.Tests))
		r.Get("/tests/{testID}", GetTestHandler(d.Tests))
		r.Get("/categories", CategoriesHandler(d.Store))
		r.Get("/test-config", TestConfigHandler(d.Service))
		r.Post("/generate-test", GenerateTestHandler(d.Service))

		r.Post("/sessions", CreateSessionHandler(d.Service))
		r.Get("/sessions/{sessionID}/question/{index}", GetQuestionHandler(d.Service))
		r.Post("/sessions/{sessionID}/answers", SubmitAnswerHandler(d.Service))
		r.Post("/sessions/{sessionID}/complete", CompleteSessionHandler(d.Service))
		r.Get("/sessions/{sessionID}/results", GetResultsHandler(d.Service))

		r.Get("/stats", StatsHandler(d.Store))
		r.Get("/stats/pool", PoolStatsHandler(d.Store))
		r.Get("/stats/tests/{testID}", TestStatsHandler(d.Store))
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.JWTMiddleware(d.Auth))
		r.With(rbac.Require("bank:manage")).Post("/banks", UploadBankHandler(d.Store, d.Blobs, d.Log))
		r.With(rbac.Require("bank:manage")).Delete("/banks/{bankID}", DeleteBankHandler(d.Store, d.Blobs, d.Log))
		r.With(rbac.Require("bank:manage")).Get("/banks", ListBanksHandler(d.Store))
		r.With(rbac.Require("sessions:manage")).Get("/sessions", ListSessionsHandler(d.Store))
		r.With(rbac.Require("sessions:manage")).Delete("/sessions/{sessionID}", DeleteSessionHandler(d.Store, d.Log))
	})

	return r
}
