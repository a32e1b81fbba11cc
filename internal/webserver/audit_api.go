package webserver

import (
	"net/http"
	"strconv"

	"github.com/ichi0g0y/lucky-draw/internal/localdb"
	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"go.uber.org/zap"
)

// handleAudit GET /api/audit?limit=N
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}

	logs, err := localdb.GetAuditLogs(limit)
	if err != nil {
		logger.Error("Failed to read audit logs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read audit logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"count": len(logs),
	})
}
