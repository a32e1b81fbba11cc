package webserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ichi0g0y/lucky-draw/internal/auth"
	"github.com/ichi0g0y/lucky-draw/internal/localdb"
	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"github.com/ichi0g0y/lucky-draw/internal/types"
	"go.uber.org/zap"
)

// 管理操作の監査アクション
const (
	ActionEmployeesImported = "EMPLOYEES_IMPORTED"
	ActionEmployeesDeleted  = "EMPLOYEES_DELETED"
	ActionSettingsUpdate    = "SETTINGS_UPDATE"
)

// handleEmployees GET/POST/DELETE /api/employees
func (s *Server) handleEmployees(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listEmployees(w)
	case http.MethodPost:
		s.addEmployees(w, r)
	case http.MethodDelete:
		s.deleteEmployees(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listEmployees(w http.ResponseWriter) {
	employees, err := localdb.ListActiveEmployees()
	if err != nil {
		logger.Error("Failed to list employees", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list employees")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"employees": employees,
		"count":     len(employees),
	})
}

// addEmployees は単体（オブジェクト）と一括（配列）の両方を受け付ける
func (s *Server) addEmployees(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	body = bytes.TrimSpace(body)
	actor := auth.ActorFromContext(r.Context())

	if len(body) > 0 && body[0] == '[' {
		var employees []types.Employee
		if err := json.Unmarshal(body, &employees); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON array")
			return
		}
		result, err := localdb.ImportEmployees(employees)
		if err != nil {
			logger.Error("Failed to import employees", zap.Error(err))
			writeDomainError(w, err, nil)
			return
		}
		s.record(ActionEmployeesImported,
			fmt.Sprintf("added=%d reactivated=%d skipped=%d invalid=%d",
				result.Added, result.Reactivated, result.Skipped, len(result.Invalid)),
			actor)
		writeJSON(w, http.StatusOK, result)
		return
	}

	var employee types.Employee
	if err := json.Unmarshal(body, &employee); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	created, err := localdb.AddEmployee(employee)
	if err != nil {
		writeDomainError(w, err, nil)
		return
	}
	s.record(ActionEmployeesImported, "employee_id="+created.ID, actor)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) deleteEmployees(w http.ResponseWriter, r *http.Request) {
	deleted, purged, err := localdb.SoftDeleteAllEmployees()
	if err != nil {
		logger.Error("Failed to delete employees", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete employees")
		return
	}
	s.record(ActionEmployeesDeleted, fmt.Sprintf("deleted=%d purged=%d", deleted, purged), auth.ActorFromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]int64{
		"deleted": deleted,
		"purged":  purged,
	})
}

func (s *Server) record(action, details, actor string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(action, details, actor)
}
