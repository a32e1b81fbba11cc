package localdb

import (
	"database/sql"
	"fmt"

	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"github.com/ichi0g0y/lucky-draw/internal/types"
	"go.uber.org/zap"
)

const defaultAuditLimit = 100

// SetupAuditLogTable はaudit_logテーブルを作成
func SetupAuditLogTable(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		performed_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		logger.Error("Failed to create audit_log table", zap.Error(err))
		return fmt.Errorf("failed to create audit_log table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at DESC)`); err != nil {
		logger.Warn("Failed to create audit_log index", zap.Error(err))
	}
	return nil
}

func SaveAuditLog(entry types.AuditLog) error {
	db := GetDB()
	if db == nil {
		return errDBNotInitialized
	}

	_, err := db.Exec(`INSERT INTO audit_log (id, action, details, performed_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.Details, entry.PerformedBy, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save audit log: %w", err)
	}
	return nil
}

// GetAuditLogs は新しい順に監査ログを返す
func GetAuditLogs(limit int) ([]types.AuditLog, error) {
	db := GetDB()
	if db == nil {
		return nil, errDBNotInitialized
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}

	rows, err := db.Query(`
		SELECT id, action, details, performed_by, created_at
		FROM audit_log
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		logger.Error("Failed to query audit logs", zap.Error(err))
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	logs := []types.AuditLog{}
	for rows.Next() {
		var l types.AuditLog
		if err := rows.Scan(&l.ID, &l.Action, &l.Details, &l.PerformedBy, &l.CreatedAt); err != nil {
			logger.Error("Failed to scan audit log", zap.Error(err))
			continue
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit logs: %w", err)
	}
	return logs, nil
}
