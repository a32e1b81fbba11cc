package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ichi0g0y/lucky-draw/internal/lottery"
	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"github.com/ichi0g0y/lucky-draw/internal/types"
	"go.uber.org/zap"
)

// Snapshot は抽選セッションの読み取り専用コピー
type Snapshot struct {
	EpochID       string                `json:"epoch_id"`
	Status        types.DrawStatus      `json:"draw_status"`
	CurrentDraw   int                   `json:"current_draw"`
	MaxDraws      int                   `json:"max_draws"`
	CurrentWinner *types.Employee       `json:"current_winner"`
	Winners       []types.Employee      `json:"winners"`
	Quotas        []lottery.BucketUsage `json:"quotas"`
	LastError     string                `json:"last_error,omitempty"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// Options はセッションの依存先。Audit と Notifier は省略可。
type Options struct {
	Directory EmployeeDirectory
	Ledger    WinnerLedger
	Settings  SettingsStore
	Audit     AuditSink
	Notifier  Notifier
}

// Session is the single draw ceremony of the process. Every transition runs
// under one mutex; the ledger write on accept happens before the in-memory
// winner list advances.
type Session struct {
	mu sync.Mutex

	directory EmployeeDirectory
	ledger    WinnerLedger
	settings  SettingsStore
	audit     AuditSink

	notifierMu sync.RWMutex
	notifier   Notifier

	epochID       string
	status        types.DrawStatus
	currentDraw   int
	currentWinner *types.Employee
	winners       []types.Employee
	maxDraws      int
	quotas        map[string]float64
	policy        types.SelectionPolicy
	lastError     string
	updatedAt     time.Time
}

// New creates an idle session. Call Restore to pick up persisted winners.
func New(opts Options) *Session {
	return &Session{
		directory: opts.Directory,
		ledger:    opts.Ledger,
		settings:  opts.Settings,
		audit:     opts.Audit,
		notifier:  opts.Notifier,
		epochID:   uuid.NewString(),
		status:    types.DrawStatusIdle,
		quotas:    map[string]float64{},
		updatedAt: time.Now(),
	}
}

// SetNotifier は起動後に通知先（WebSocketハブなど）を差し替える
func (s *Session) SetNotifier(n Notifier) {
	s.notifierMu.Lock()
	defer s.notifierMu.Unlock()
	s.notifier = n
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		EpochID:     s.epochID,
		Status:      s.status,
		CurrentDraw: s.currentDraw,
		MaxDraws:    s.maxDraws,
		Winners:     make([]types.Employee, len(s.winners)),
		Quotas:      lottery.QuotaUsage(s.winners, s.quotas, s.maxDraws),
		LastError:   s.lastError,
		UpdatedAt:   s.updatedAt,
	}
	copy(snap.Winners, s.winners)
	if s.currentWinner != nil {
		w := *s.currentWinner
		snap.CurrentWinner = &w
	}
	return snap
}

func (s *Session) touchLocked() {
	s.updatedAt = time.Now()
}

// Restore reloads winners and settings from storage, typically at startup,
// so round numbering continues where the ledger left off.
func (s *Session) Restore() (Snapshot, error) {
	s.mu.Lock()
	if err := s.reloadLocked(); err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}

	s.currentWinner = nil
	s.lastError = ""
	s.currentDraw = len(s.winners)
	if s.exhaustedLocked() {
		s.status = types.DrawStatusCompleted
		s.currentDraw = min(len(s.winners), s.maxDraws)
	} else {
		s.status = types.DrawStatusIdle
	}
	s.touchLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	logger.Info("Draw session restored",
		zap.String("epoch_id", snap.EpochID),
		zap.String("status", string(snap.Status)),
		zap.Int("winners", len(snap.Winners)),
		zap.Int("max_draws", snap.MaxDraws))
	s.notify(EventRestored, snap)
	return snap, nil
}

// reloadLocked は永続化済みの当選者と設定を読み直す
func (s *Session) reloadLocked() error {
	settings, err := s.settings.GetDrawSettings()
	if err != nil {
		return persistenceError("load settings", err)
	}
	records, err := s.ledger.ListWinners()
	if err != nil {
		return persistenceError("load winners", err)
	}

	winners := make([]types.Employee, 0, len(records))
	for _, rec := range records {
		emp := rec.Employee
		if emp.ID == "" {
			emp.ID = rec.EmployeeID
		}
		winners = append(winners, emp)
	}

	s.winners = winners
	s.applySettingsLocked(settings)
	return nil
}

func (s *Session) applySettingsLocked(settings *types.DrawSettings) {
	s.maxDraws = settings.MaxDraws
	s.policy = settings.SelectionPolicy
	s.quotas = settings.Quotas
	if s.quotas == nil {
		s.quotas = map[string]float64{}
	}
}

func (s *Session) exhaustedLocked() bool {
	return len(s.winners) >= s.maxDraws
}

// StartDraw arms the next round: currentDraw becomes len(winners)+1.
func (s *Session) StartDraw(actor string) (Snapshot, error) {
	s.mu.Lock()
	if s.status != types.DrawStatusIdle {
		from := s.status
		s.mu.Unlock()
		return Snapshot{}, &TransitionError{Op: "start draw", From: from}
	}
	if err := s.reloadLocked(); err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}
	if s.exhaustedLocked() {
		snap := s.completeLocked()
		s.mu.Unlock()
		s.notify(EventCompleted, snap)
		return snap, ErrDrawsExhausted
	}

	s.currentDraw = len(s.winners) + 1
	s.currentWinner = nil
	s.lastError = ""
	s.touchLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.record(ActionDrawStarted, fmt.Sprintf("round=%d", snap.CurrentDraw), actor)
	s.notify(EventStarted, snap)
	return snap, nil
}

func (s *Session) completeLocked() Snapshot {
	s.status = types.DrawStatusCompleted
	s.currentWinner = nil
	s.currentDraw = min(len(s.winners), s.maxDraws)
	s.touchLocked()
	return s.snapshotLocked()
}

// DrawWinner picks a winner for the current round. It is only allowed while
// idle. When nobody is eligible the session stays idle and ErrNoEligibleWinner
// is returned; calling again re-evaluates against the persisted winners.
func (s *Session) DrawWinner(actor string) (Snapshot, error) {
	s.mu.Lock()
	switch s.status {
	case types.DrawStatusIdle:
	case types.DrawStatusCompleted:
		s.mu.Unlock()
		return Snapshot{}, ErrDrawsExhausted
	default:
		from := s.status
		s.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: status=%s", ErrDrawInProgress, from)
	}

	employees, err := s.directory.ListActiveEmployees()
	if err != nil {
		s.mu.Unlock()
		return Snapshot{}, persistenceError("load employees", err)
	}
	if err := s.reloadLocked(); err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}
	if s.exhaustedLocked() {
		snap := s.completeLocked()
		s.mu.Unlock()
		s.notify(EventCompleted, snap)
		return snap, ErrDrawsExhausted
	}

	selector, err := lottery.SelectorFor(s.policy)
	if err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}

	winner, err := lottery.SelectWinner(selector, employees, s.winners, s.quotas, s.maxDraws)
	if err != nil {
		s.mu.Unlock()
		return Snapshot{}, fmt.Errorf("failed to select winner: %w", err)
	}
	if winner == nil {
		s.lastError = ErrNoEligibleWinner.Error()
		s.touchLocked()
		snap := s.snapshotLocked()
		s.mu.Unlock()

		logger.Warn("No eligible winner",
			zap.Int("employees", len(employees)),
			zap.Int("winners", len(snap.Winners)),
			zap.Int("max_draws", snap.MaxDraws))
		s.notify(EventNoEligible, snap)
		return snap, ErrNoEligibleWinner
	}

	s.currentDraw = len(s.winners) + 1
	s.currentWinner = winner
	s.status = types.DrawStatusSpinning
	s.lastError = ""
	s.touchLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	logger.Info("Winner selected",
		zap.String("employee_id", winner.ID),
		zap.String("department", winner.Department),
		zap.Int("round", snap.CurrentDraw),
		zap.String("policy", string(selector.Policy())))
	s.record(ActionDrawSpun, fmt.Sprintf("round=%d employee_id=%s", snap.CurrentDraw, winner.ID), actor)
	s.notify(EventSpun, snap)
	return snap, nil
}

// RevealWinner はアニメーション終了の合図。当選者はまだ確定しない。
func (s *Session) RevealWinner(actor string) (Snapshot, error) {
	s.mu.Lock()
	if s.status != types.DrawStatusSpinning {
		from := s.status
		s.mu.Unlock()
		return Snapshot{}, &TransitionError{Op: "reveal winner", From: from}
	}
	s.status = types.DrawStatusRevealed
	s.touchLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(EventRevealed, snap)
	return snap, nil
}

// AcceptWinner persists the revealed winner with the current round number and
// only then appends it to the session. On a storage failure the session stays
// revealed with the same winner and a *PersistenceError is returned.
func (s *Session) AcceptWinner(actor string) (Snapshot, error) {
	s.mu.Lock()
	if s.status != types.DrawStatusRevealed || s.currentWinner == nil {
		from := s.status
		s.mu.Unlock()
		return Snapshot{}, &TransitionError{Op: "accept winner", From: from}
	}

	// 設定が抽選後に変わっていても上限を超えて確定しない
	settings, err := s.settings.GetDrawSettings()
	if err != nil {
		s.mu.Unlock()
		return Snapshot{}, persistenceError("load settings", err)
	}
	s.applySettingsLocked(settings)
	if !s.pendingWinnerFitsLocked() {
		snap, event, err := s.discardPendingLocked()
		s.mu.Unlock()
		logger.Warn("Revealed winner no longer fits the draw limits",
			zap.Int("winners", len(snap.Winners)),
			zap.Int("max_draws", snap.MaxDraws))
		s.notify(event, snap)
		return snap, err
	}

	winner := *s.currentWinner
	round := s.currentDraw
	if _, err := s.ledger.AppendWinner(winner.ID, round); err != nil {
		s.lastError = err.Error()
		s.touchLocked()
		s.mu.Unlock()
		logger.Error("Failed to persist winner",
			zap.String("employee_id", winner.ID),
			zap.Int("round", round),
			zap.Error(err))
		return Snapshot{}, persistenceError("append winner", err)
	}

	s.winners = append(s.winners, winner)
	s.lastError = ""
	event := EventConfirmed
	if s.exhaustedLocked() {
		s.status = types.DrawStatusCompleted
		event = EventCompleted
	} else {
		s.status = types.DrawStatusConfirmed
	}
	s.touchLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	logger.Info("Winner confirmed",
		zap.String("employee_id", winner.ID),
		zap.Int("round", round),
		zap.String("status", string(snap.Status)))
	s.record(ActionWinnerConfirmed, fmt.Sprintf("round=%d employee_id=%s", round, winner.ID), actor)
	s.notify(event, snap)
	return snap, nil
}

// pendingWinnerFitsLocked は抽選済みの当選者が現在の設定でもまだ確定できるか
func (s *Session) pendingWinnerFitsLocked() bool {
	if s.currentWinner == nil || s.exhaustedLocked() {
		return false
	}
	candidates := lottery.EligibleCandidates([]types.Employee{*s.currentWinner}, s.winners, s.quotas, s.maxDraws)
	return len(candidates) == 1
}

// discardPendingLocked drops the drawn winner without persisting it. The
// session completes when max_draws is already reached, otherwise it returns
// to idle with ErrNoEligibleWinner recorded.
func (s *Session) discardPendingLocked() (Snapshot, string, error) {
	s.currentWinner = nil
	if s.exhaustedLocked() {
		s.lastError = ErrDrawsExhausted.Error()
		snap := s.completeLocked()
		return snap, EventCompleted, ErrDrawsExhausted
	}
	s.status = types.DrawStatusIdle
	s.lastError = ErrNoEligibleWinner.Error()
	s.touchLocked()
	return s.snapshotLocked(), EventNoEligible, ErrNoEligibleWinner
}

// RejectWinner discards the revealed winner without persisting it.
// The round number is not advanced.
func (s *Session) RejectWinner(actor string) (Snapshot, error) {
	s.mu.Lock()
	if s.status != types.DrawStatusRevealed {
		from := s.status
		s.mu.Unlock()
		return Snapshot{}, &TransitionError{Op: "reject winner", From: from}
	}

	rejected := s.currentWinner
	s.currentWinner = nil
	s.status = types.DrawStatusIdle
	s.touchLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	details := fmt.Sprintf("round=%d", snap.CurrentDraw)
	if rejected != nil {
		details += " employee_id=" + rejected.ID
	}
	s.record(ActionDrawRejected, details, actor)
	s.notify(EventRejected, snap)
	return snap, nil
}

// NextDraw は confirmed から次のラウンドへ進める
func (s *Session) NextDraw(actor string) (Snapshot, error) {
	s.mu.Lock()
	if s.status != types.DrawStatusConfirmed {
		from := s.status
		s.mu.Unlock()
		return Snapshot{}, &TransitionError{Op: "advance to next draw", From: from}
	}

	s.currentDraw++
	s.currentWinner = nil
	s.status = types.DrawStatusIdle
	s.touchLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(EventNext, snap)
	return snap, nil
}

// Reset deletes every persisted winner and starts a new epoch.
// It is allowed from any state.
func (s *Session) Reset(actor string) (Snapshot, error) {
	s.mu.Lock()
	if err := s.ledger.DeleteAllWinners(); err != nil {
		s.mu.Unlock()
		logger.Error("Failed to delete winners", zap.Error(err))
		return Snapshot{}, persistenceError("delete winners", err)
	}

	previous := len(s.winners)
	s.epochID = uuid.NewString()
	s.winners = nil
	s.currentWinner = nil
	s.currentDraw = 0
	s.status = types.DrawStatusIdle
	s.lastError = ""
	if settings, err := s.settings.GetDrawSettings(); err == nil {
		s.applySettingsLocked(settings)
	} else {
		logger.Warn("Failed to reload settings after reset", zap.Error(err))
	}
	s.touchLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	logger.Info("Draw session reset",
		zap.String("epoch_id", snap.EpochID),
		zap.Int("deleted_winners", previous))
	s.record(ActionWinnersReset, fmt.Sprintf("deleted=%d", previous), actor)
	s.notify(EventReset, snap)
	return snap, nil
}

// RefreshSettings re-reads the draw settings after an admin update. An idle or
// confirmed session whose new max_draws is already reached completes; a
// completed one whose limit was raised returns to idle. A drawn winner that no
// longer fits the new limits is discarded.
func (s *Session) RefreshSettings() (Snapshot, error) {
	s.mu.Lock()
	settings, err := s.settings.GetDrawSettings()
	if err != nil {
		s.mu.Unlock()
		return Snapshot{}, persistenceError("load settings", err)
	}
	s.applySettingsLocked(settings)

	event := EventSettings
	switch s.status {
	case types.DrawStatusIdle, types.DrawStatusConfirmed:
		if s.exhaustedLocked() {
			s.completeLocked()
			event = EventCompleted
		}
	case types.DrawStatusSpinning, types.DrawStatusRevealed:
		if !s.pendingWinnerFitsLocked() {
			_, event, _ = s.discardPendingLocked()
		}
	case types.DrawStatusCompleted:
		if !s.exhaustedLocked() {
			s.status = types.DrawStatusIdle
			s.currentDraw = len(s.winners)
		}
	}
	s.touchLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(event, snap)
	return snap, nil
}

func (s *Session) record(action, details, actor string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(action, details, actor)
}

func (s *Session) notify(event string, snap Snapshot) {
	s.notifierMu.RLock()
	n := s.notifier
	s.notifierMu.RUnlock()
	if n == nil {
		return
	}
	n.Notify(event, snap)
}
