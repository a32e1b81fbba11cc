package env

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// EnvValue は起動時に読み込む設定値。
type EnvValue struct {
	ServerPort      int    `env:"SERVER_PORT" envDefault:"8080"`
	DBPath          string `env:"DB_PATH" envDefault:"./data/luckydraw.db"`
	DebugMode       bool   `env:"DEBUG_MODE" envDefault:"false"`
	AdminJWTSecret  string `env:"ADMIN_JWT_SECRET"`
	CORSOrigin      string `env:"CORS_ORIGIN" envDefault:"*"`
	DefaultMaxDraws int    `env:"DEFAULT_MAX_DRAWS" envDefault:"10"`
}

var Value EnvValue

// LoadEnv reads .env (if present) and parses the environment into Value.
func LoadEnv() error {
	return LoadEnvFiles(".env")
}

// LoadEnvFiles is LoadEnv with explicit dotenv files. Missing files are skipped.
func LoadEnvFiles(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Debug("dotenv file not found, skipping", zap.String("file", f))
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
		logger.Info("Loaded dotenv file", zap.String("file", f))
	}

	var v EnvValue
	if err := env.Parse(&v); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if err := v.validate(); err != nil {
		return err
	}
	Value = v
	return nil
}

func (v *EnvValue) validate() error {
	if v.ServerPort <= 0 || v.ServerPort > 65535 {
		return fmt.Errorf("SERVER_PORT out of range: %d", v.ServerPort)
	}
	v.DBPath = strings.TrimSpace(v.DBPath)
	if v.DBPath == "" {
		return errors.New("DB_PATH is required")
	}
	if v.DefaultMaxDraws <= 0 {
		return fmt.Errorf("DEFAULT_MAX_DRAWS must be positive: %d", v.DefaultMaxDraws)
	}
	return nil
}
