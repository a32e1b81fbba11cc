package settings

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ichi0g0y/lucky-draw/internal/localdb"
	"github.com/ichi0g0y/lucky-draw/internal/types"
)

func newTestManager(t *testing.T) *SettingsManager {
	t.Helper()

	if localdb.DBClient != nil {
		_ = localdb.CloseDB()
	}
	db, err := localdb.SetupDB(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("SetupDB failed: %v", err)
	}
	t.Cleanup(func() {
		_ = localdb.CloseDB()
	})
	return NewSettingsManager(db)
}

func TestGetDrawSettingsDefaults(t *testing.T) {
	sm := newTestManager(t)

	s, err := sm.GetDrawSettings()
	if err != nil {
		t.Fatalf("GetDrawSettings failed: %v", err)
	}
	if s.MaxDraws != 10 {
		t.Fatalf("unexpected max draws: got=%d want=10", s.MaxDraws)
	}
	if s.PrizeAmount != 10000 {
		t.Fatalf("unexpected prize amount: got=%v want=10000", s.PrizeAmount)
	}
	if s.SelectionPolicy != types.SelectionUniform {
		t.Fatalf("unexpected policy: got=%q", s.SelectionPolicy)
	}
	want := map[string]float64{
		"Production": 10, "Cutting": 5, "Common": 20, "PE": 10,
		"Maintenance": 20, "Admin": 10, "QA": 15, "HR": 10,
	}
	if len(s.Quotas) != len(want) {
		t.Fatalf("unexpected quotas: %v", s.Quotas)
	}
	for dept, percent := range want {
		if s.Quotas[dept] != percent {
			t.Fatalf("quota %s: got=%v want=%v", dept, s.Quotas[dept], percent)
		}
	}
}

func TestUpdateDrawSettingsMergesPartialFields(t *testing.T) {
	sm := newTestManager(t)
	if err := sm.InitializeDefaultSettings(); err != nil {
		t.Fatalf("InitializeDefaultSettings failed: %v", err)
	}

	maxDraws := 20
	updated, err := sm.UpdateDrawSettings(DrawSettingsUpdate{MaxDraws: &maxDraws})
	if err != nil {
		t.Fatalf("UpdateDrawSettings failed: %v", err)
	}
	if updated.MaxDraws != 20 || updated.PrizeAmount != 10000 || updated.Quotas["QA"] != 15 {
		t.Fatalf("unexpected merged settings: %+v", updated)
	}

	policy := types.SelectionPolicy("Weighted")
	prize := 2500.5
	if _, err := sm.UpdateDrawSettings(DrawSettingsUpdate{
		Quotas:          map[string]float64{"Sales": 60, "Others": 40},
		PrizeAmount:     &prize,
		SelectionPolicy: &policy,
	}); err != nil {
		t.Fatalf("UpdateDrawSettings failed: %v", err)
	}

	stored, err := sm.GetDrawSettings()
	if err != nil {
		t.Fatalf("GetDrawSettings failed: %v", err)
	}
	if stored.MaxDraws != 20 {
		t.Fatalf("max draws lost: got=%d", stored.MaxDraws)
	}
	if stored.PrizeAmount != 2500.5 {
		t.Fatalf("unexpected prize: got=%v", stored.PrizeAmount)
	}
	if stored.SelectionPolicy != types.SelectionWeighted {
		t.Fatalf("unexpected policy: got=%q", stored.SelectionPolicy)
	}
	if len(stored.Quotas) != 2 || stored.Quotas["Sales"] != 60 {
		t.Fatalf("quotas should be replaced: %v", stored.Quotas)
	}
}

func TestUpdateDrawSettingsValidation(t *testing.T) {
	sm := newTestManager(t)

	zero := 0
	negative := -1.0
	unknown := types.SelectionPolicy("nationality")

	tests := []struct {
		name   string
		update DrawSettingsUpdate
	}{
		{name: "max draws zero", update: DrawSettingsUpdate{MaxDraws: &zero}},
		{name: "negative prize", update: DrawSettingsUpdate{PrizeAmount: &negative}},
		{name: "unknown policy", update: DrawSettingsUpdate{SelectionPolicy: &unknown}},
		{name: "percent over 100", update: DrawSettingsUpdate{Quotas: map[string]float64{"A": 120}}},
		{name: "negative percent", update: DrawSettingsUpdate{Quotas: map[string]float64{"A": -5}}},
		{name: "empty department", update: DrawSettingsUpdate{Quotas: map[string]float64{" ": 5}}},
	}
	for _, tt := range tests {
		if _, err := sm.UpdateDrawSettings(tt.update); !errors.Is(err, ErrInvalidSetting) {
			t.Fatalf("%s: got=%v want=%v", tt.name, err, ErrInvalidSetting)
		}
	}

	s, err := sm.GetDrawSettings()
	if err != nil {
		t.Fatalf("GetDrawSettings failed: %v", err)
	}
	if s.MaxDraws != 10 {
		t.Fatalf("rejected update must not be persisted: max_draws=%d", s.MaxDraws)
	}
}

func TestQuotasRoundTrip(t *testing.T) {
	sm := newTestManager(t)

	if err := sm.SetQuotas(map[string]float64{"A": 50, "B": 25.5}); err != nil {
		t.Fatalf("SetQuotas failed: %v", err)
	}
	quotas, err := sm.GetQuotas()
	if err != nil {
		t.Fatalf("GetQuotas failed: %v", err)
	}
	if quotas["A"] != 50 || quotas["B"] != 25.5 || len(quotas) != 2 {
		t.Fatalf("unexpected quotas: %v", quotas)
	}
}

func TestValidateSettingRejectsUnknownKey(t *testing.T) {
	if err := ValidateSetting("PRINTER_ADDRESS", "x"); !errors.Is(err, ErrUnknownSetting) {
		t.Fatalf("got=%v want=%v", err, ErrUnknownSetting)
	}
	if err := ValidateSetting(KeyMaxDraws, "abc"); !errors.Is(err, ErrInvalidSetting) {
		t.Fatalf("got=%v want=%v", err, ErrInvalidSetting)
	}
}

func TestOverrideDefault(t *testing.T) {
	original := DefaultSettings[KeyMaxDraws]
	t.Cleanup(func() { DefaultSettings[KeyMaxDraws] = original })

	if err := OverrideDefault(KeyMaxDraws, "0"); !errors.Is(err, ErrInvalidSetting) {
		t.Fatalf("got=%v want=%v", err, ErrInvalidSetting)
	}
	if err := OverrideDefault(KeyMaxDraws, "25"); err != nil {
		t.Fatalf("OverrideDefault failed: %v", err)
	}

	sm := newTestManager(t)
	s, err := sm.GetDrawSettings()
	if err != nil {
		t.Fatalf("GetDrawSettings failed: %v", err)
	}
	if s.MaxDraws != 25 {
		t.Fatalf("unexpected max draws: got=%d want=25", s.MaxDraws)
	}
}

func TestGetAllSettingsIncludesDefaults(t *testing.T) {
	sm := newTestManager(t)
	prize := 500.0
	if _, err := sm.UpdateDrawSettings(DrawSettingsUpdate{PrizeAmount: &prize}); err != nil {
		t.Fatalf("UpdateDrawSettings failed: %v", err)
	}

	all, err := sm.GetAllSettings()
	if err != nil {
		t.Fatalf("GetAllSettings failed: %v", err)
	}
	if len(all) != len(DefaultSettings) {
		t.Fatalf("unexpected settings count: got=%d want=%d", len(all), len(DefaultSettings))
	}
	if all[KeyPrizeAmount].Value != "500" {
		t.Fatalf("unexpected prize setting: %+v", all[KeyPrizeAmount])
	}
}
