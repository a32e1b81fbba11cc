package localdb

import (
	"errors"

	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"github.com/ichi0g0y/lucky-draw/internal/types"
	"go.uber.org/zap"
)

// DefaultPrizeAmount is used when no prize source is configured.
const DefaultPrizeAmount = 10000

// PrizeSource は当選記録に書き込む賞金額を提供する
type PrizeSource interface {
	PrizeAmount() (float64, error)
}

// Store adapts the package functions to the employee directory and winner
// ledger used by the draw session.
type Store struct {
	prizes PrizeSource
}

func NewStore(prizes PrizeSource) *Store {
	return &Store{prizes: prizes}
}

func (s *Store) ListActiveEmployees() ([]types.Employee, error) {
	return ListActiveEmployees()
}

func (s *Store) ListWinners() ([]types.Winner, error) {
	return ListWinners()
}

// AppendWinner は同じ社員・同じ回の記録が既にあればそれを返す。
func (s *Store) AppendWinner(employeeID string, drawRoundNumber int) (*types.Winner, error) {
	winner, err := AppendWinner(employeeID, drawRoundNumber, s.prizeAmount())
	if err == nil || !errors.Is(err, ErrDuplicateWinner) {
		return winner, err
	}

	existing, listErr := ListWinners()
	if listErr != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].EmployeeID == employeeID && existing[i].DrawRoundNumber == drawRoundNumber {
			logger.Info("Winner already recorded for this round",
				zap.String("employee_id", employeeID),
				zap.Int("round", drawRoundNumber))
			return &existing[i], nil
		}
	}
	return nil, err
}

func (s *Store) DeleteAllWinners() error {
	return DeleteAllWinners()
}

func (s *Store) prizeAmount() float64 {
	if s.prizes == nil {
		return DefaultPrizeAmount
	}
	amount, err := s.prizes.PrizeAmount()
	if err != nil {
		logger.Warn("Failed to read prize amount, using default",
			zap.Float64("default", DefaultPrizeAmount),
			zap.Error(err))
		return DefaultPrizeAmount
	}
	return amount
}
