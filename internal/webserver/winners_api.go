package webserver

import (
	"net/http"

	"github.com/ichi0g0y/lucky-draw/internal/auth"
	"github.com/ichi0g0y/lucky-draw/internal/localdb"
	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"go.uber.org/zap"
)

// handleWinners GET/DELETE /api/winners
func (s *Server) handleWinners(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		winners, err := localdb.ListWinners()
		if err != nil {
			logger.Error("Failed to list winners", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list winners")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"winners": winners,
			"count":   len(winners),
		})

	case http.MethodDelete:
		// 当選者の全削除はセッションのリセットと同じ
		snap, err := s.session.Reset(auth.ActorFromContext(r.Context()))
		if err != nil {
			writeDomainError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, snap)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
