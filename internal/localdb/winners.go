package localdb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"github.com/ichi0g0y/lucky-draw/internal/types"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateWinner は同じ社員または同じラウンドの当選記録が既にある場合
	ErrDuplicateWinner = errors.New("winner already recorded")
	ErrInvalidRound    = errors.New("draw round number must be positive")
)

// SetupWinnersTable はwinnersテーブルを作成
func SetupWinnersTable(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS winners (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		employee_id TEXT NOT NULL UNIQUE REFERENCES employees(employee_id),
		draw_round_number INTEGER NOT NULL UNIQUE CHECK (draw_round_number >= 1),
		won_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL DEFAULT 'confirmed',
		prize_amount REAL NOT NULL DEFAULT 0
	)`)
	if err != nil {
		logger.Error("Failed to create winners table", zap.Error(err))
		return fmt.Errorf("failed to create winners table: %w", err)
	}
	return nil
}

const winnerSelect = `
	SELECT w.id, w.employee_id, w.draw_round_number, w.won_at, w.status, w.prize_amount,
	       COALESCE(e.name, ''), COALESCE(e.department, ''), COALESCE(e.plant, ''),
	       COALESCE(e.section, ''), COALESCE(e.position, ''), COALESCE(e.nationality, ''),
	       COALESCE(e.is_active, false)
	FROM winners w
	LEFT JOIN employees e ON e.employee_id = w.employee_id`

func scanWinner(row rowScanner) (types.Winner, error) {
	var w types.Winner
	err := row.Scan(
		&w.ID,
		&w.EmployeeID,
		&w.DrawRoundNumber,
		&w.WonAt,
		&w.Status,
		&w.PrizeAmount,
		&w.Employee.Name,
		&w.Employee.Department,
		&w.Employee.Plant,
		&w.Employee.Section,
		&w.Employee.Position,
		&w.Employee.Nationality,
		&w.Employee.IsActive,
	)
	w.Employee.ID = w.EmployeeID
	return w, err
}

// ListWinners は当選者を社員情報付きでラウンド順に返す
func ListWinners() ([]types.Winner, error) {
	db := GetDB()
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(winnerSelect + ` ORDER BY w.draw_round_number ASC`)
	if err != nil {
		logger.Error("Failed to query winners", zap.Error(err))
		return nil, fmt.Errorf("failed to query winners: %w", err)
	}
	defer rows.Close()

	winners := []types.Winner{}
	for rows.Next() {
		w, err := scanWinner(rows)
		if err != nil {
			logger.Error("Failed to scan winner", zap.Error(err))
			return nil, fmt.Errorf("failed to scan winner: %w", err)
		}
		winners = append(winners, w)
	}
	if err := rows.Err(); err != nil {
		logger.Error("Error iterating winners", zap.Error(err))
		return nil, fmt.Errorf("failed to iterate winners: %w", err)
	}
	return winners, nil
}

// AppendWinner records a confirmed winner for the given round. The unique
// constraints on employee and round turn a double write into ErrDuplicateWinner.
func AppendWinner(employeeID string, drawRoundNumber int, prizeAmount float64) (*types.Winner, error) {
	db := GetDB()
	if db == nil {
		return nil, errDBNotInitialized
	}
	if drawRoundNumber < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRound, drawRoundNumber)
	}

	res, err := db.Exec(`
		INSERT INTO winners (employee_id, draw_round_number, won_at, status, prize_amount)
		VALUES (?, ?, ?, ?, ?)`,
		employeeID, drawRoundNumber, time.Now().UTC(), types.WinnerStatusConfirmed, prizeAmount)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			logger.Warn("Duplicate winner rejected",
				zap.String("employee_id", employeeID),
				zap.Int("round", drawRoundNumber))
			return nil, fmt.Errorf("%w: employee=%s round=%d", ErrDuplicateWinner, employeeID, drawRoundNumber)
		case isForeignKeyViolation(err):
			return nil, fmt.Errorf("%w: %s", ErrEmployeeNotFound, employeeID)
		}
		logger.Error("Failed to insert winner",
			zap.String("employee_id", employeeID),
			zap.Int("round", drawRoundNumber),
			zap.Error(err))
		return nil, fmt.Errorf("failed to insert winner: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get winner id: %w", err)
	}
	checkpoint(db, "append winner")

	w, err := scanWinner(db.QueryRow(winnerSelect+` WHERE w.id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to read back winner: %w", err)
	}

	logger.Info("Winner recorded",
		zap.String("employee_id", employeeID),
		zap.Int("round", drawRoundNumber))
	return &w, nil
}

// DeleteAllWinners は全当選記録を削除する
func DeleteAllWinners() error {
	db := GetDB()
	if db == nil {
		return errDBNotInitialized
	}

	res, err := db.Exec(`DELETE FROM winners`)
	if err != nil {
		logger.Error("Failed to delete winners", zap.Error(err))
		return fmt.Errorf("failed to delete winners: %w", err)
	}
	rowsAffected, _ := res.RowsAffected()
	checkpoint(db, "delete winners")

	logger.Info("All winners deleted", zap.Int64("rows_affected", rowsAffected))
	return nil
}
