package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	api "github.com/quizforge/quizforge/internal/api/http"
	"github.com/quizforge/quizforge/internal/auth"
	"github.com/quizforge/quizforge/internal/bank"
	"github.com/quizforge/quizforge/internal/cache"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/db"
	"github.com/quizforge/quizforge/internal/logging"
	"github.com/quizforge/quizforge/internal/quiz"
	"github.com/quizforge/quizforge/internal/storage"
)

func main() {
	cfg := config.FromEnv()

	logger, err := logging.New(string(cfg.Mode))
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	for _, dir := range []string{cfg.BanksDir, cfg.TestsDir, cfg.BlobBasePath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal("ensure dir", "dir", dir, "err", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		logger.Fatal("db open", "driver", cfg.DBDriver, "err", err)
	}
	store := quiz.NewSQLStore(dbh, cfg.DBDriver)

	// Seed banks from disk. LoadBank skips banks whose question count is
	// unchanged, so restarts are cheap.
	banks, err := bank.LoadBanksDir(cfg.BanksDir)
	if err != nil {
		logger.Fatal("load banks", "dir", cfg.BanksDir, "err", err)
	}
	for _, b := range banks {
		n, err := store.LoadBank(ctx, b)
		if err != nil {
			logger.Fatal("load bank", "bank_id", b.ID, "err", err)
		}
		if n > 0 {
			logger.Info("bank loaded", "bank_id", b.ID, "questions", n)
		}
	}

	tests := cache.NewTests()
	static, err := bank.LoadTestsDir(cfg.TestsDir)
	if err != nil {
		logger.Fatal("load tests", "dir", cfg.TestsDir, "err", err)
	}
	tests.Replace(static)
	logger.Info("static tests loaded", "count", tests.Len())

	blobs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		logger.Fatal("blob store", "err", err)
	}

	svc := quiz.NewService(store, tests, cfg.DefaultPassingGrade, logger)
	authSvc := auth.NewAuthService(cfg.AuthHMACSecret)

	r := api.NewRouter(api.RouterDeps{
		Store:         store,
		Service:       svc,
		Tests:         tests,
		Auth:          authSvc,
		Blobs:         blobs,
		Log:           logger,
		CORSOrigins:   cfg.CORSOrigins(),
		AdminUser:     cfg.AdminUser,
		AdminPassHash: cfg.AdminPassHash,
	})

	logger.Info("listening", "addr", cfg.HTTPAddr, "mode", string(cfg.Mode), "db", cfg.DBDriver)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		logger.Fatal("serve", "err", err)
	}
}
