package settings

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"github.com/ichi0g0y/lucky-draw/internal/types"
	"go.uber.org/zap"
)

// DrawSettingsUpdate は部分更新。nilのフィールドは現在値を維持する。
type DrawSettingsUpdate struct {
	Quotas          map[string]float64     `json:"quotas,omitempty"`
	MaxDraws        *int                   `json:"max_draws,omitempty"`
	PrizeAmount     *float64               `json:"prize_amount,omitempty"`
	SelectionPolicy *types.SelectionPolicy `json:"selection_policy,omitempty"`
}

// Empty reports whether the update carries no field.
func (u DrawSettingsUpdate) Empty() bool {
	return u.Quotas == nil && u.MaxDraws == nil && u.PrizeAmount == nil && u.SelectionPolicy == nil
}

// GetDrawSettings reads the draw settings, falling back to defaults for keys
// that were never written.
func (sm *SettingsManager) GetDrawSettings() (*types.DrawSettings, error) {
	values := make(map[string]string, 4)
	for _, key := range []string{KeyQuotas, KeyMaxDraws, KeyPrizeAmount, KeySelectionPolicy} {
		v, err := sm.GetSetting(key)
		if err != nil {
			logger.Error("Failed to read draw setting", zap.String("key", key), zap.Error(err))
			return nil, fmt.Errorf("failed to read setting %s: %w", key, err)
		}
		values[key] = v
	}

	quotas, err := parseQuotas(values[KeyQuotas])
	if err != nil {
		return nil, err
	}
	maxDraws, err := strconv.Atoi(values[KeyMaxDraws])
	if err != nil {
		return nil, fmt.Errorf("%w: stored max_draws %q: %v", ErrInvalidSetting, values[KeyMaxDraws], err)
	}
	prize, err := strconv.ParseFloat(values[KeyPrizeAmount], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: stored prize_amount %q: %v", ErrInvalidSetting, values[KeyPrizeAmount], err)
	}

	return &types.DrawSettings{
		Quotas:          quotas,
		MaxDraws:        maxDraws,
		PrizeAmount:     prize,
		SelectionPolicy: types.SelectionPolicy(strings.ToLower(strings.TrimSpace(values[KeySelectionPolicy]))),
	}, nil
}

// UpdateDrawSettings merges the update into the current settings, validates
// the merged result and writes it in one transaction.
func (sm *SettingsManager) UpdateDrawSettings(update DrawSettingsUpdate) (*types.DrawSettings, error) {
	current, err := sm.GetDrawSettings()
	if err != nil {
		return nil, err
	}

	merged := *current
	changed := map[string]string{}

	if update.Quotas != nil {
		if err := validateQuotas(update.Quotas); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(update.Quotas)
		if err != nil {
			return nil, fmt.Errorf("failed to encode quotas: %w", err)
		}
		merged.Quotas = update.Quotas
		changed[KeyQuotas] = string(raw)
	}
	if update.MaxDraws != nil {
		merged.MaxDraws = *update.MaxDraws
		changed[KeyMaxDraws] = strconv.Itoa(*update.MaxDraws)
	}
	if update.PrizeAmount != nil {
		merged.PrizeAmount = *update.PrizeAmount
		changed[KeyPrizeAmount] = strconv.FormatFloat(*update.PrizeAmount, 'f', -1, 64)
	}
	if update.SelectionPolicy != nil {
		policy := types.SelectionPolicy(strings.ToLower(strings.TrimSpace(string(*update.SelectionPolicy))))
		merged.SelectionPolicy = policy
		changed[KeySelectionPolicy] = string(policy)
	}

	for key, value := range changed {
		if err := ValidateSetting(key, value); err != nil {
			return nil, err
		}
	}

	tx, err := sm.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for key, value := range changed {
		if err := setSetting(tx, key, value); err != nil {
			logger.Error("Failed to save draw setting", zap.String("key", key), zap.Error(err))
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settings: %w", err)
	}

	logger.Info("Draw settings updated",
		zap.Int("changed_keys", len(changed)),
		zap.Int("max_draws", merged.MaxDraws),
		zap.String("selection_policy", string(merged.SelectionPolicy)))
	return &merged, nil
}

func (sm *SettingsManager) GetQuotas() (map[string]float64, error) {
	settings, err := sm.GetDrawSettings()
	if err != nil {
		return nil, err
	}
	return settings.Quotas, nil
}

func (sm *SettingsManager) SetQuotas(quotas map[string]float64) error {
	if quotas == nil {
		quotas = map[string]float64{}
	}
	_, err := sm.UpdateDrawSettings(DrawSettingsUpdate{Quotas: quotas})
	return err
}

// PrizeAmount は当選記録に書き込む賞金額を返す
func (sm *SettingsManager) PrizeAmount() (float64, error) {
	settings, err := sm.GetDrawSettings()
	if err != nil {
		return 0, err
	}
	return settings.PrizeAmount, nil
}
