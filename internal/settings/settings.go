package settings

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ichi0g0y/lucky-draw/internal/lottery"
	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"github.com/ichi0g0y/lucky-draw/internal/types"
	"go.uber.org/zap"
)

type SettingType string

const (
	SettingTypeNormal SettingType = "normal"
	SettingTypeDraw   SettingType = "draw"
)

const (
	KeyQuotas          = "quotas"
	KeyMaxDraws        = "max_draws"
	KeyPrizeAmount     = "prize_amount"
	KeySelectionPolicy = "selection_policy"
)

var (
	ErrInvalidSetting = errors.New("invalid setting")
	ErrUnknownSetting = errors.New("unknown setting key")
)

type Setting struct {
	Key         string      `json:"key"`
	Value       string      `json:"value"`
	Type        SettingType `json:"type"`
	Required    bool        `json:"required"`
	Description string      `json:"description"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type SettingsManager struct {
	db *sql.DB
}

func NewSettingsManager(db *sql.DB) *SettingsManager {
	return &SettingsManager{db: db}
}

// 設定の定義
var DefaultSettings = map[string]Setting{
	KeyQuotas: {
		Key: KeyQuotas, Type: SettingTypeDraw, Required: true,
		Value:       `{"Production":10,"Cutting":5,"Common":20,"PE":10,"Maintenance":20,"Admin":10,"QA":15,"HR":10}`,
		Description: "部署ごとの当選枠（賞品総数に対する%）",
	},
	KeyMaxDraws: {
		Key: KeyMaxDraws, Value: "10", Type: SettingTypeDraw, Required: true,
		Description: "賞品の総数（抽選回数）",
	},
	KeyPrizeAmount: {
		Key: KeyPrizeAmount, Value: "10000", Type: SettingTypeDraw, Required: false,
		Description: "1回の当選あたりの賞金額",
	},
	KeySelectionPolicy: {
		Key: KeySelectionPolicy, Value: string(types.SelectionUniform), Type: SettingTypeDraw, Required: false,
		Description: "有資格者からの選出方式（uniform / weighted）",
	},
}

// OverrideDefault replaces the default value of a known key after validating it.
// 起動時に環境変数から既定値を差し替えるために使う。
func OverrideDefault(key, value string) error {
	def, ok := DefaultSettings[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	if err := ValidateSetting(key, value); err != nil {
		return err
	}
	def.Value = value
	DefaultSettings[key] = def
	return nil
}

// CRUD操作
func (sm *SettingsManager) GetSetting(key string) (string, error) {
	var value string
	err := sm.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		// デフォルト値を返す
		if defaultSetting, exists := DefaultSettings[key]; exists {
			return defaultSetting.Value, nil
		}
		return "", fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	return value, err
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func setSetting(db execer, key, value string) error {
	// デフォルト設定が存在するかチェック
	defaultSetting, exists := DefaultSettings[key]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}

	_, err := db.Exec(`
		INSERT INTO settings (key, value, setting_type, is_required, description)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		key, value,
		string(defaultSetting.Type),
		defaultSetting.Required,
		defaultSetting.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

// GetAllSettings は保存済みの設定行を返す。未保存のキーはデフォルトで埋める
func (sm *SettingsManager) GetAllSettings() (map[string]Setting, error) {
	rows, err := sm.db.Query(`
		SELECT key, value, setting_type, is_required, description, updated_at
		FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]Setting)
	for rows.Next() {
		var s Setting
		var settingType string
		var description sql.NullString
		err := rows.Scan(&s.Key, &s.Value, &settingType, &s.Required, &description, &s.UpdatedAt)
		if err != nil {
			return nil, err
		}
		s.Type = SettingType(settingType)
		s.Description = description.String
		settings[s.Key] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// DBにない設定はデフォルト値で補完
	for key, defaultSetting := range DefaultSettings {
		if _, exists := settings[key]; !exists {
			settings[key] = defaultSetting
		}
	}

	return settings, nil
}

// バリデーション
func ValidateSetting(key, value string) error {
	switch key {
	case KeyQuotas:
		quotas, err := parseQuotas(value)
		if err != nil {
			return err
		}
		return validateQuotas(quotas)
	case KeyMaxDraws:
		if val, err := strconv.Atoi(value); err != nil || val < 1 {
			return fmt.Errorf("%w: %s must be a positive integer", ErrInvalidSetting, key)
		}
	case KeyPrizeAmount:
		if val, err := strconv.ParseFloat(value, 64); err != nil || val < 0 || math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("%w: %s must be a non-negative number", ErrInvalidSetting, key)
		}
	case KeySelectionPolicy:
		if _, err := lottery.SelectorFor(types.SelectionPolicy(value)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSetting, err)
		}
	default:
		if _, ok := DefaultSettings[key]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
		}
	}
	return nil
}

func parseQuotas(value string) (map[string]float64, error) {
	quotas := map[string]float64{}
	if strings.TrimSpace(value) == "" {
		return quotas, nil
	}
	if err := json.Unmarshal([]byte(value), &quotas); err != nil {
		return nil, fmt.Errorf("%w: quotas must be a JSON object of department to percent: %v", ErrInvalidSetting, err)
	}
	return quotas, nil
}

func validateQuotas(quotas map[string]float64) error {
	for dept, percent := range quotas {
		if strings.TrimSpace(dept) == "" {
			return fmt.Errorf("%w: quota department must not be empty", ErrInvalidSetting)
		}
		if percent < 0 || percent > 100 || math.IsNaN(percent) {
			return fmt.Errorf("%w: quota for %s must be between 0 and 100", ErrInvalidSetting, dept)
		}
	}
	return nil
}

// 初期設定のセットアップ
func (sm *SettingsManager) InitializeDefaultSettings() error {
	for key, setting := range DefaultSettings {
		// 既に設定が存在する場合はスキップ
		var existingKey string
		if err := sm.db.QueryRow("SELECT key FROM settings WHERE key = ?", key).Scan(&existingKey); err == nil {
			continue
		}

		// デフォルト値で初期化
		if err := setSetting(sm.db, key, setting.Value); err != nil {
			return fmt.Errorf("failed to initialize setting %s: %w", key, err)
		}
		logger.Debug("Initialized default setting", zap.String("key", key), zap.String("value", setting.Value))
	}
	return nil
}
