package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/ichi0g0y/lucky-draw/internal/audit"
	"github.com/ichi0g0y/lucky-draw/internal/env"
	"github.com/ichi0g0y/lucky-draw/internal/localdb"
	"github.com/ichi0g0y/lucky-draw/internal/session"
	"github.com/ichi0g0y/lucky-draw/internal/settings"
	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"github.com/ichi0g0y/lucky-draw/internal/version"
	"github.com/ichi0g0y/lucky-draw/internal/webserver"
	"go.uber.org/zap"
)

func main() {
	logger.Init(false)
	defer logger.Sync()

	if err := env.LoadEnv(); err != nil {
		logger.Fatal("Failed to load environment", zap.Error(err))
	}
	if env.Value.DebugMode {
		logger.Init(true)
		logger.Info("Debug mode enabled")
	}

	logger.Info("Starting lucky-draw server", zap.String("version", version.String()))

	// DEFAULT_MAX_DRAWS は未保存のときだけ効く
	if err := settings.OverrideDefault(settings.KeyMaxDraws, strconv.Itoa(env.Value.DefaultMaxDraws)); err != nil {
		logger.Fatal("Invalid DEFAULT_MAX_DRAWS", zap.Error(err))
	}

	if dir := filepath.Dir(env.Value.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal("Failed to create data directory", zap.String("dir", dir), zap.Error(err))
		}
	}
	db, err := localdb.SetupDB(env.Value.DBPath)
	if err != nil {
		logger.Fatal("Failed to setup database", zap.Error(err))
	}

	sm := settings.NewSettingsManager(db)
	if err := sm.InitializeDefaultSettings(); err != nil {
		logger.Fatal("Failed to initialize settings", zap.Error(err))
	}

	recorder := audit.NewRecorder(localdb.SaveAuditLog, 0)
	store := localdb.NewStore(sm)
	sess := session.New(session.Options{
		Directory: store,
		Ledger:    store,
		Settings:  sm,
		Audit:     recorder,
	})
	if _, err := sess.Restore(); err != nil {
		logger.Fatal("Failed to restore draw session", zap.Error(err))
	}

	srv := webserver.NewServer(webserver.Options{
		Session:    sess,
		Settings:   sm,
		Audit:      recorder,
		Gate:       webserver.NewGate(env.Value.AdminJWTSecret),
		CORSOrigin: env.Value.CORSOrigin,
	})
	if err := srv.Start(env.Value.ServerPort); err != nil {
		logger.Fatal("Failed to start web server", zap.Error(err))
	}

	logger.Info("Server started",
		zap.Int("port", env.Value.ServerPort),
		zap.String("api", fmt.Sprintf("http://localhost:%d/api/draw/state", env.Value.ServerPort)),
		zap.String("ws", fmt.Sprintf("ws://localhost:%d/ws", env.Value.ServerPort)))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	srv.Shutdown()
	recorder.Close()
	if err := localdb.CloseDB(); err != nil {
		logger.Warn("Failed to close database", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}
