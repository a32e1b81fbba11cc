package webserver

import (
	"encoding/json"
	"net/http"

	"github.com/ichi0g0y/lucky-draw/internal/auth"
	"github.com/ichi0g0y/lucky-draw/internal/session"
	"github.com/ichi0g0y/lucky-draw/internal/settings"
	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"github.com/ichi0g0y/lucky-draw/internal/types"
	"go.uber.org/zap"
)

type settingsResponse struct {
	Settings *types.DrawSettings         `json:"settings"`
	Entries  map[string]settings.Setting `json:"entries,omitempty"`
	State    *session.Snapshot           `json:"state,omitempty"`
}

type quotasResponse struct {
	Quotas map[string]float64 `json:"quotas"`
	State  *session.Snapshot  `json:"state,omitempty"`
}

// handleSettings GET/PUT /api/settings
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		current, err := s.settings.GetDrawSettings()
		if err != nil {
			logger.Error("Failed to get draw settings", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to get settings")
			return
		}
		// 行ごとの更新日時も返す
		entries, err := s.settings.GetAllSettings()
		if err != nil {
			logger.Error("Failed to get setting entries", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to get settings")
			return
		}
		writeJSON(w, http.StatusOK, settingsResponse{Settings: current, Entries: entries})

	case http.MethodPut:
		var update settings.DrawSettingsUpdate
		if err := decodeJSON(w, r, &update); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		if update.Empty() {
			writeError(w, http.StatusBadRequest, "no settings to update")
			return
		}

		updated, err := s.settings.UpdateDrawSettings(update)
		if err != nil {
			writeDomainError(w, err, nil)
			return
		}

		details, _ := json.Marshal(update)
		s.record(ActionSettingsUpdate, string(details), auth.ActorFromContext(r.Context()))

		writeJSON(w, http.StatusOK, settingsResponse{Settings: updated, State: s.refreshSession()})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleQuotas GET/PUT /api/settings/quotas
// PUT は割当表を丸ごと置き換える。空のオブジェクトで全部署の枠を外せる
func (s *Server) handleQuotas(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		quotas, err := s.settings.GetQuotas()
		if err != nil {
			logger.Error("Failed to get quotas", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to get quotas")
			return
		}
		writeJSON(w, http.StatusOK, quotasResponse{Quotas: quotas})

	case http.MethodPut:
		var quotas map[string]float64
		if err := decodeJSON(w, r, &quotas); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		if quotas == nil {
			quotas = map[string]float64{}
		}

		if err := s.settings.SetQuotas(quotas); err != nil {
			writeDomainError(w, err, nil)
			return
		}

		details, _ := json.Marshal(map[string]any{"quotas": quotas})
		s.record(ActionSettingsUpdate, string(details), auth.ActorFromContext(r.Context()))

		writeJSON(w, http.StatusOK, quotasResponse{Quotas: quotas, State: s.refreshSession()})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// refreshSession は保存した設定をセッションに反映する。失敗しても設定の保存は成功扱い
func (s *Server) refreshSession() *session.Snapshot {
	snap, err := s.session.RefreshSettings()
	if err != nil {
		logger.Warn("Failed to refresh session settings", zap.Error(err))
		return nil
	}
	return &snap
}
