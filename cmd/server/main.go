package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/dallinjm/coursepulse/internal/api"
	"github.com/dallinjm/coursepulse/internal/auth"
	"github.com/dallinjm/coursepulse/internal/config"
	"github.com/dallinjm/coursepulse/internal/ingest"
	"github.com/dallinjm/coursepulse/internal/ingest/agent"
	"github.com/dallinjm/coursepulse/internal/ingest/canvas"
	"github.com/dallinjm/coursepulse/internal/reconcile"
	"github.com/dallinjm/coursepulse/internal/session"
	"github.com/dallinjm/coursepulse/internal/store"
	"github.com/dallinjm/coursepulse/internal/syncmgr"
)

const learningSuiteSource = "learningsuite"

func main() {
	// .env holds DATABASE_URL locally; missing file is fine in deployment.
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Error("config error", "error", err)
		os.Exit(1)
	}
	if cfg.Database.DSN == "" {
		log.Error("DATABASE_URL is not set")
		os.Exit(1)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	recordStore := store.NewGorm(db)
	if err := recordStore.Migrate(); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}

	sessions := session.NewStore()

	agentClient := agent.NewClient(learningSuiteSource, cfg.Sources.LearningSuite.AgentURL, log)
	canvasClient := canvas.NewClient(cfg.Sources.Canvas.BaseURL, log)

	flow := auth.NewFlow(sessions, log, cfg.LoginTimeout(), cfg.LoginPollInterval())
	flow.RegisterAgent(learningSuiteSource, agentClient)

	tokens := auth.NewTokenStore(cfg.Sources.Canvas.TokenFile, canvas.SourceName, sessions,
		func(token string) ingest.Session { return canvas.Session{Token: token} }, log)

	engine := reconcile.NewEngine(recordStore, log)

	manager := syncmgr.NewManager(
		[]syncmgr.Source{
			{Name: learningSuiteSource, Interactive: true},
			{Name: canvas.SourceName, Optional: true},
		},
		map[string]ingest.CourseClient{
			learningSuiteSource: agentClient,
			canvas.SourceName:   canvasClient,
		},
		sessions, flow, engine, recordStore, log,
	)

	go func() {
		for {
			time.Sleep(time.Hour)
			manager.Prune(cfg.TaskRetention())
			flow.Prune(cfg.TaskRetention())
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	api.RegisterHandlers(r, &api.APIHandler{
		Sync:              manager,
		Flow:              flow,
		Tokens:            tokens,
		Store:             recordStore,
		Sessions:          sessions,
		Validator:         canvasClient,
		InteractiveSource: learningSuiteSource,
	})

	log.Info("server starting", "port", cfg.Server.Port)
	if err := r.Run(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
