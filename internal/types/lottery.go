package types

import (
	"regexp"
	"strings"
	"time"
)

// OthersDepartment は部署未設定・クォータ未登録の社員が集計されるバケット
const OthersDepartment = "Others"

var employeeIDPattern = regexp.MustCompile(`^[0-9]{7}$`)

// Employee は抽選対象の社員情報
type Employee struct {
	ID          string     `json:"id" db:"employee_id"` // 7桁の社員番号
	Name        string     `json:"name" db:"name"`
	Department  string     `json:"department" db:"department"`
	Plant       string     `json:"plant,omitempty" db:"plant"`
	Section     string     `json:"section,omitempty" db:"section"`
	Position    string     `json:"position,omitempty" db:"position"`
	Nationality string     `json:"nationality,omitempty" db:"nationality"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// DepartmentOrOthers returns the department, or OthersDepartment when it is blank.
func (e Employee) DepartmentOrOthers() string {
	dept := strings.TrimSpace(e.Department)
	if dept == "" {
		return OthersDepartment
	}
	return dept
}

// ValidEmployeeID reports whether id is a 7-digit numeric string.
func ValidEmployeeID(id string) bool {
	return employeeIDPattern.MatchString(id)
}

// WinnerStatusConfirmed is the only status a persisted winner can have;
// rejected draws are never written to the ledger.
const WinnerStatusConfirmed = "confirmed"

// Winner は確定した当選記録
type Winner struct {
	ID              int64     `json:"id" db:"id"`
	EmployeeID      string    `json:"employee_id" db:"employee_id"`
	DrawRoundNumber int       `json:"draw_round_number" db:"draw_round_number"`
	WonAt           time.Time `json:"won_at" db:"won_at"`
	Status          string    `json:"status" db:"status"`
	PrizeAmount     float64   `json:"prize_amount" db:"prize_amount"`
	Employee        Employee  `json:"employee"`
}

// DrawStatus は抽選セッションの状態
type DrawStatus string

const (
	DrawStatusIdle      DrawStatus = "idle"
	DrawStatusSpinning  DrawStatus = "spinning"
	DrawStatusRevealed  DrawStatus = "revealed"
	DrawStatusConfirmed DrawStatus = "confirmed"
	DrawStatusCompleted DrawStatus = "completed"
)

// SelectionPolicy は有資格者の中から当選者を選ぶ方式
type SelectionPolicy string

const (
	SelectionUniform  SelectionPolicy = "uniform"
	SelectionWeighted SelectionPolicy = "weighted"
)

// DrawSettings は管理者が設定する抽選設定（シングルトン）
type DrawSettings struct {
	Quotas          map[string]float64 `json:"quotas"` // 部署 -> 賞品総数に対する割合(%)
	MaxDraws        int                `json:"max_draws"`
	PrizeAmount     float64            `json:"prize_amount"`
	SelectionPolicy SelectionPolicy    `json:"selection_policy"`
}

// AuditLog は監査ログの1件
type AuditLog struct {
	ID          string    `json:"id" db:"id"`
	Action      string    `json:"action" db:"action"`
	Details     string    `json:"details" db:"details"`
	PerformedBy string    `json:"performed_by" db:"performed_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
