package session

import "github.com/ichi0g0y/lucky-draw/internal/types"

// EmployeeDirectory は抽選対象の社員一覧を提供する。
type EmployeeDirectory interface {
	ListActiveEmployees() ([]types.Employee, error)
}

// WinnerLedger は確定した当選者の永続化先。
type WinnerLedger interface {
	ListWinners() ([]types.Winner, error)
	AppendWinner(employeeID string, drawRoundNumber int) (*types.Winner, error)
	DeleteAllWinners() error
}

type SettingsStore interface {
	GetDrawSettings() (*types.DrawSettings, error)
}

// AuditSink receives fire-and-forget audit events. It must not block.
type AuditSink interface {
	Record(action, details, performedBy string)
}

// Notifier is told about every successful transition.
type Notifier interface {
	Notify(event string, snapshot Snapshot)
}

// 監査ログのアクション名
const (
	ActionDrawStarted     = "DRAW_STARTED"
	ActionDrawSpun        = "DRAW_SPUN"
	ActionWinnerConfirmed = "WINNER_CONFIRMED"
	ActionDrawRejected    = "DRAW_REJECTED"
	ActionWinnersReset    = "WINNERS_RESET"
)

// Notifier に渡すイベント名
const (
	EventRestored   = "draw_restored"
	EventStarted    = "draw_started"
	EventSpun       = "draw_spun"
	EventNoEligible = "draw_no_eligible"
	EventRevealed   = "winner_revealed"
	EventConfirmed  = "winner_confirmed"
	EventCompleted  = "draw_completed"
	EventRejected   = "draw_rejected"
	EventNext       = "draw_next"
	EventReset      = "draw_reset"
	EventSettings   = "settings_updated"
)
