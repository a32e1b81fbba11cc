package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ichi0g0y/lucky-draw/internal/env"
	"github.com/ichi0g0y/lucky-draw/internal/localdb"
	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"github.com/ichi0g0y/lucky-draw/internal/types"
	"go.uber.org/zap"
)

// 社員名簿(JSON配列)をDBに一括登録する
//
//	import-employees employees.json
func main() {
	logger.Init(false)
	defer logger.Sync()

	if len(os.Args) != 2 {
		logger.Fatal("usage: import-employees <employees.json>")
	}
	if err := env.LoadEnv(); err != nil {
		logger.Fatal("Failed to load environment", zap.Error(err))
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		logger.Fatal("Failed to read employee file", zap.String("file", os.Args[1]), zap.Error(err))
	}
	var employees []types.Employee
	if err := json.Unmarshal(data, &employees); err != nil {
		logger.Fatal("Employee file must be a JSON array", zap.Error(err))
	}

	if err := os.MkdirAll(filepath.Dir(env.Value.DBPath), 0o755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}
	logger.Info("Using database path", zap.String("path", env.Value.DBPath))
	if _, err := localdb.SetupDB(env.Value.DBPath); err != nil {
		logger.Fatal("Failed to setup database", zap.Error(err))
	}
	defer localdb.CloseDB()

	result, err := localdb.ImportEmployees(employees)
	if err != nil {
		logger.Fatal("Failed to import employees", zap.Error(err))
	}
	logger.Info("Employees imported",
		zap.Int("added", result.Added),
		zap.Int("reactivated", result.Reactivated),
		zap.Int("skipped", result.Skipped),
		zap.Strings("invalid", result.Invalid))
}
