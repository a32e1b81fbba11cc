package webserver

import (
	"net/http"

	"github.com/ichi0g0y/lucky-draw/internal/auth"
	"github.com/ichi0g0y/lucky-draw/internal/session"
	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"go.uber.org/zap"
)

// handleDrawState GET /api/draw/state
func (s *Server) handleDrawState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

// drawAction は POST /api/draw/{action} をセッション遷移に繋ぐ
func (s *Server) drawAction(name string, transition func(actor string) (session.Snapshot, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		actor := auth.ActorFromContext(r.Context())
		snap, err := transition(actor)
		if err != nil {
			logger.Warn("Draw action failed",
				zap.String("action", name),
				zap.String("actor", actor),
				zap.Error(err))
			writeDomainError(w, err, &snap)
			return
		}

		logger.Debug("Draw action",
			zap.String("action", name),
			zap.String("status", string(snap.Status)),
			zap.Int("current_draw", snap.CurrentDraw))
		writeJSON(w, http.StatusOK, snap)
	}
}
