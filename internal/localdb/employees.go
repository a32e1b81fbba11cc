package localdb

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"github.com/ichi0g0y/lucky-draw/internal/types"
	"go.uber.org/zap"
)

// PurgeAfter is how long a soft-deleted employee is kept before it is removed.
const PurgeAfter = 7 * 24 * time.Hour

var (
	ErrEmployeeNotFound = errors.New("employee not found")
	ErrEmployeeExists   = errors.New("employee already exists")
	ErrInvalidEmployee  = errors.New("invalid employee")
)

// ImportResult は一括登録の結果
type ImportResult struct {
	Added       int      `json:"added"`
	Reactivated int      `json:"reactivated"`
	Skipped     int      `json:"skipped"`
	Invalid     []string `json:"invalid"`
}

// SetupEmployeesTable はemployeesテーブルを作成
func SetupEmployeesTable(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS employees (
		employee_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		department TEXT NOT NULL DEFAULT '',
		plant TEXT NOT NULL DEFAULT '',
		section TEXT NOT NULL DEFAULT '',
		position TEXT NOT NULL DEFAULT '',
		nationality TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	)`)
	if err != nil {
		logger.Error("Failed to create employees table", zap.Error(err))
		return fmt.Errorf("failed to create employees table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_employees_deleted_at ON employees(deleted_at)`); err != nil {
		logger.Warn("Failed to create employees index", zap.Error(err))
	}
	return nil
}

func validateEmployee(e types.Employee) error {
	if !types.ValidEmployeeID(e.ID) {
		return fmt.Errorf("%w: id %q must be 7 digits", ErrInvalidEmployee, e.ID)
	}
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: name is required for %s", ErrInvalidEmployee, e.ID)
	}
	return nil
}

const employeeColumns = `employee_id, name, department, plant, section, position, nationality, is_active, created_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row rowScanner) (types.Employee, error) {
	var e types.Employee
	var deletedAt sql.NullTime
	err := row.Scan(
		&e.ID,
		&e.Name,
		&e.Department,
		&e.Plant,
		&e.Section,
		&e.Position,
		&e.Nationality,
		&e.IsActive,
		&e.CreatedAt,
		&deletedAt,
	)
	if err != nil {
		return e, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		e.DeletedAt = &t
	}
	return e, nil
}

// ListActiveEmployees は論理削除されていない社員を社員番号順に返す
func ListActiveEmployees() ([]types.Employee, error) {
	db := GetDB()
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(`SELECT ` + employeeColumns + ` FROM employees WHERE deleted_at IS NULL ORDER BY employee_id ASC`)
	if err != nil {
		logger.Error("Failed to query employees", zap.Error(err))
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	employees := []types.Employee{}
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			logger.Error("Failed to scan employee", zap.Error(err))
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		employees = append(employees, e)
	}
	if err := rows.Err(); err != nil {
		logger.Error("Error iterating employees", zap.Error(err))
		return nil, fmt.Errorf("failed to iterate employees: %w", err)
	}

	return employees, nil
}

// GetEmployee は削除済みも含めて社員を1件取得する
func GetEmployee(id string) (*types.Employee, error) {
	db := GetDB()
	if db == nil {
		return nil, errDBNotInitialized
	}

	e, err := scanEmployee(db.QueryRow(`SELECT `+employeeColumns+` FROM employees WHERE employee_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmployeeNotFound
	}
	if err != nil {
		logger.Error("Failed to get employee", zap.String("employee_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	return &e, nil
}

// AddEmployee registers one employee. A soft-deleted employee with the same
// id is reactivated as is; an active one yields ErrEmployeeExists.
func AddEmployee(e types.Employee) (*types.Employee, error) {
	result, err := ImportEmployees([]types.Employee{e})
	if err != nil {
		return nil, err
	}
	if len(result.Invalid) > 0 {
		return nil, validateEmployee(e)
	}
	if result.Skipped > 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmployeeExists, e.ID)
	}
	return GetEmployee(e.ID)
}

// ImportEmployees inserts employees in one transaction. Existing active ids
// are skipped, soft-deleted ids are reactivated without rewriting their
// fields, and invalid rows are reported back by id.
func ImportEmployees(employees []types.Employee) (*ImportResult, error) {
	db := GetDB()
	if db == nil {
		return nil, errDBNotInitialized
	}

	result := &ImportResult{Invalid: []string{}}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(employees))
	for _, e := range employees {
		e.ID = strings.TrimSpace(e.ID)
		if err := validateEmployee(e); err != nil {
			result.Invalid = append(result.Invalid, e.ID)
			continue
		}
		if _, dup := seen[e.ID]; dup {
			result.Skipped++
			continue
		}
		seen[e.ID] = struct{}{}

		var deletedAt sql.NullTime
		err := tx.QueryRow(`SELECT deleted_at FROM employees WHERE employee_id = ?`, e.ID).Scan(&deletedAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.Exec(`
				INSERT INTO employees (employee_id, name, department, plant, section, position, nationality, is_active, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, true, ?)`,
				e.ID,
				strings.TrimSpace(e.Name),
				strings.TrimSpace(e.Department),
				e.Plant,
				e.Section,
				e.Position,
				e.Nationality,
				now,
			)
			if err != nil {
				logger.Error("Failed to insert employee", zap.String("employee_id", e.ID), zap.Error(err))
				return nil, fmt.Errorf("failed to insert employee %s: %w", e.ID, err)
			}
			result.Added++
		case err != nil:
			return nil, fmt.Errorf("failed to look up employee %s: %w", e.ID, err)
		case deletedAt.Valid:
			if _, err := tx.Exec(`UPDATE employees SET deleted_at = NULL, is_active = true WHERE employee_id = ?`, e.ID); err != nil {
				return nil, fmt.Errorf("failed to reactivate employee %s: %w", e.ID, err)
			}
			result.Reactivated++
		default:
			result.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		logger.Error("Failed to commit employee import", zap.Error(err))
		return nil, fmt.Errorf("failed to commit employee import: %w", err)
	}

	logger.Info("Employees imported",
		zap.Int("added", result.Added),
		zap.Int("reactivated", result.Reactivated),
		zap.Int("skipped", result.Skipped),
		zap.Int("invalid", len(result.Invalid)))
	return result, nil
}

// SoftDeleteAllEmployees marks every active employee deleted and purges rows
// soft-deleted more than PurgeAfter ago that no winner references.
func SoftDeleteAllEmployees() (deleted int64, purged int64, err error) {
	db := GetDB()
	if db == nil {
		return 0, 0, errDBNotInitialized
	}

	now := time.Now().UTC()

	tx, err := db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		DELETE FROM employees
		WHERE deleted_at IS NOT NULL
		  AND deleted_at < ?
		  AND employee_id NOT IN (SELECT employee_id FROM winners)`,
		now.Add(-PurgeAfter))
	if err != nil {
		logger.Error("Failed to purge employees", zap.Error(err))
		return 0, 0, fmt.Errorf("failed to purge employees: %w", err)
	}
	purged, _ = res.RowsAffected()

	res, err = tx.Exec(`UPDATE employees SET deleted_at = ?, is_active = false WHERE deleted_at IS NULL`, now)
	if err != nil {
		logger.Error("Failed to soft delete employees", zap.Error(err))
		return 0, 0, fmt.Errorf("failed to soft delete employees: %w", err)
	}
	deleted, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit employee deletion: %w", err)
	}

	checkpoint(db, "soft delete employees")
	logger.Info("Employees soft deleted",
		zap.Int64("deleted", deleted),
		zap.Int64("purged", purged))
	return deleted, purged, nil
}
