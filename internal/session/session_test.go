package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ichi0g0y/lucky-draw/internal/lottery"
	"github.com/ichi0g0y/lucky-draw/internal/types"
)

type fakeDirectory struct {
	employees []types.Employee
	err       error
}

func (f *fakeDirectory) ListActiveEmployees() ([]types.Employee, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]types.Employee(nil), f.employees...), nil
}

type fakeLedger struct {
	mu        sync.Mutex
	byID      map[string]types.Employee
	winners   []types.Winner
	appendErr error
	deleteErr error
	appends   int
}

func newFakeLedger(employees []types.Employee) *fakeLedger {
	byID := make(map[string]types.Employee, len(employees))
	for _, e := range employees {
		byID[e.ID] = e
	}
	return &fakeLedger{byID: byID}
}

func (f *fakeLedger) ListWinners() ([]types.Winner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Winner(nil), f.winners...), nil
}

func (f *fakeLedger) AppendWinner(employeeID string, round int) (*types.Winner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	for _, w := range f.winners {
		if w.EmployeeID == employeeID || w.DrawRoundNumber == round {
			return nil, errors.New("unique constraint failed")
		}
	}
	f.appends++
	w := types.Winner{
		ID:              int64(len(f.winners) + 1),
		EmployeeID:      employeeID,
		DrawRoundNumber: round,
		WonAt:           time.Now(),
		Status:          types.WinnerStatusConfirmed,
		Employee:        f.byID[employeeID],
	}
	f.winners = append(f.winners, w)
	return &w, nil
}

func (f *fakeLedger) DeleteAllWinners() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.winners = nil
	return nil
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.winners)
}

type fakeSettings struct {
	settings types.DrawSettings
}

func (f *fakeSettings) GetDrawSettings() (*types.DrawSettings, error) {
	s := f.settings
	return &s, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeAudit) Record(action, details, performedBy string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(event string, snapshot Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

type harness struct {
	session   *Session
	directory *fakeDirectory
	ledger    *fakeLedger
	settings  *fakeSettings
	audit     *fakeAudit
	notifier  *fakeNotifier
}

func newHarness(t *testing.T, employees []types.Employee, quotas map[string]float64, maxDraws int) *harness {
	t.Helper()

	h := &harness{
		directory: &fakeDirectory{employees: employees},
		ledger:    newFakeLedger(employees),
		settings: &fakeSettings{settings: types.DrawSettings{
			Quotas:          quotas,
			MaxDraws:        maxDraws,
			PrizeAmount:     10000,
			SelectionPolicy: types.SelectionUniform,
		}},
		audit:    &fakeAudit{},
		notifier: &fakeNotifier{},
	}
	h.session = New(Options{
		Directory: h.directory,
		Ledger:    h.ledger,
		Settings:  h.settings,
		Audit:     h.audit,
		Notifier:  h.notifier,
	})
	if _, err := h.session.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	return h
}

// drawAndReveal は idle から revealed まで進める
func (h *harness) drawAndReveal(t *testing.T) Snapshot {
	t.Helper()
	if _, err := h.session.StartDraw("admin"); err != nil {
		t.Fatalf("StartDraw failed: %v", err)
	}
	if _, err := h.session.DrawWinner("admin"); err != nil {
		t.Fatalf("DrawWinner failed: %v", err)
	}
	snap, err := h.session.RevealWinner("admin")
	if err != nil {
		t.Fatalf("RevealWinner failed: %v", err)
	}
	return snap
}

func assertStatus(t *testing.T, snap Snapshot, want types.DrawStatus) {
	t.Helper()
	if snap.Status != want {
		t.Fatalf("unexpected status: got=%s want=%s", snap.Status, want)
	}
}

func TestSingleSalesEmployeeCompletes(t *testing.T) {
	employees := []types.Employee{{ID: "0000001", Name: "Alice", Department: "Sales"}}
	h := newHarness(t, employees, map[string]float64{"Sales": 100}, 1)

	snap := h.drawAndReveal(t)
	assertStatus(t, snap, types.DrawStatusRevealed)
	if snap.CurrentWinner == nil || snap.CurrentWinner.ID != "0000001" {
		t.Fatalf("unexpected current winner: %+v", snap.CurrentWinner)
	}

	snap, err := h.session.AcceptWinner("admin")
	if err != nil {
		t.Fatalf("AcceptWinner failed: %v", err)
	}
	assertStatus(t, snap, types.DrawStatusCompleted)
	if len(snap.Winners) != 1 {
		t.Fatalf("unexpected winners: got=%d want=1", len(snap.Winners))
	}
	if h.ledger.count() != 1 {
		t.Fatalf("ledger not written: got=%d want=1", h.ledger.count())
	}
	if h.ledger.winners[0].DrawRoundNumber != 1 {
		t.Fatalf("unexpected round: got=%d want=1", h.ledger.winners[0].DrawRoundNumber)
	}

	if _, err := h.session.DrawWinner("admin"); !errors.Is(err, ErrDrawsExhausted) {
		t.Fatalf("draw after completion: got=%v want=%v", err, ErrDrawsExhausted)
	}
}

func TestQuotaExhaustedLeavesSessionIdle(t *testing.T) {
	employees := []types.Employee{
		{ID: "0000001", Department: "A"},
		{ID: "0000002", Department: "A"},
	}
	h := newHarness(t, employees, map[string]float64{"A": 50}, 2)

	h.drawAndReveal(t)
	snap, err := h.session.AcceptWinner("admin")
	if err != nil {
		t.Fatalf("AcceptWinner failed: %v", err)
	}
	assertStatus(t, snap, types.DrawStatusConfirmed)

	snap, err = h.session.NextDraw("admin")
	if err != nil {
		t.Fatalf("NextDraw failed: %v", err)
	}
	if snap.CurrentDraw != 2 {
		t.Fatalf("unexpected current draw: got=%d want=2", snap.CurrentDraw)
	}

	for i := 0; i < 3; i++ {
		snap, err = h.session.DrawWinner("admin")
		if !errors.Is(err, ErrNoEligibleWinner) {
			t.Fatalf("attempt %d: got=%v want=%v", i, err, ErrNoEligibleWinner)
		}
		assertStatus(t, snap, types.DrawStatusIdle)
		if snap.CurrentDraw != 2 {
			t.Fatalf("null draw changed current draw: got=%d", snap.CurrentDraw)
		}
		if len(snap.Winners) != 1 || snap.CurrentWinner != nil {
			t.Fatalf("null draw mutated winners: %+v", snap)
		}
		if snap.LastError == "" {
			t.Fatalf("last error should be recorded")
		}
	}
	if h.ledger.count() != 1 {
		t.Fatalf("ledger changed: got=%d want=1", h.ledger.count())
	}
}

func TestRejectDoesNotAdvanceRound(t *testing.T) {
	employees := []types.Employee{
		{ID: "0000001", Department: "Sales"},
		{ID: "0000002", Department: "Sales"},
	}
	h := newHarness(t, employees, map[string]float64{"Sales": 100}, 2)

	before := h.drawAndReveal(t)
	snap, err := h.session.RejectWinner("admin")
	if err != nil {
		t.Fatalf("RejectWinner failed: %v", err)
	}
	assertStatus(t, snap, types.DrawStatusIdle)
	if snap.CurrentDraw != before.CurrentDraw {
		t.Fatalf("round advanced: got=%d want=%d", snap.CurrentDraw, before.CurrentDraw)
	}
	if len(snap.Winners) != 0 || h.ledger.count() != 0 {
		t.Fatalf("reject must not persist")
	}
	if snap.CurrentWinner != nil {
		t.Fatalf("current winner should be cleared")
	}

	// 同じラウンドを引き直せる
	snap, err = h.session.DrawWinner("admin")
	if err != nil {
		t.Fatalf("redraw failed: %v", err)
	}
	assertStatus(t, snap, types.DrawStatusSpinning)
	if snap.CurrentDraw != 1 {
		t.Fatalf("redraw round: got=%d want=1", snap.CurrentDraw)
	}
}

func TestDrawRejectedWhileNotIdle(t *testing.T) {
	employees := []types.Employee{
		{ID: "0000001", Department: "Sales"},
		{ID: "0000002", Department: "Sales"},
	}
	h := newHarness(t, employees, map[string]float64{"Sales": 100}, 2)

	first, err := h.session.DrawWinner("admin")
	if err != nil {
		t.Fatalf("DrawWinner failed: %v", err)
	}
	_, err = h.session.DrawWinner("admin")
	if !errors.Is(err, ErrDrawInProgress) {
		t.Fatalf("second draw: got=%v want=%v", err, ErrDrawInProgress)
	}

	snap := h.session.Snapshot()
	if snap.CurrentWinner == nil || snap.CurrentWinner.ID != first.CurrentWinner.ID {
		t.Fatalf("current winner changed by rejected draw")
	}
}

func TestConcurrentDrawsProduceOneWinner(t *testing.T) {
	employees := make([]types.Employee, 50)
	for i := range employees {
		employees[i] = types.Employee{ID: formatID(i + 1), Department: "Sales"}
	}
	h := newHarness(t, employees, map[string]float64{"Sales": 100}, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.session.DrawWinner("admin"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("unexpected successful draws: got=%d want=1", successes)
	}
}

func TestInvalidTransitions(t *testing.T) {
	employees := []types.Employee{{ID: "0000001", Department: "Sales"}}
	h := newHarness(t, employees, map[string]float64{"Sales": 100}, 1)

	tests := []struct {
		name string
		op   func(string) (Snapshot, error)
	}{
		{name: "reveal from idle", op: h.session.RevealWinner},
		{name: "accept from idle", op: h.session.AcceptWinner},
		{name: "reject from idle", op: h.session.RejectWinner},
		{name: "next from idle", op: h.session.NextDraw},
	}
	for _, tt := range tests {
		_, err := tt.op("admin")
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s: got=%v want=%v", tt.name, err, ErrInvalidTransition)
		}
		var te *TransitionError
		if !errors.As(err, &te) || te.From != types.DrawStatusIdle {
			t.Fatalf("%s: unexpected transition error %v", tt.name, err)
		}
	}

	if _, err := h.session.DrawWinner("admin"); err != nil {
		t.Fatalf("DrawWinner failed: %v", err)
	}
	if _, err := h.session.AcceptWinner("admin"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("accept from spinning: got=%v", err)
	}
	if _, err := h.session.StartDraw("admin"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("start from spinning: got=%v", err)
	}
}

func TestAcceptPersistenceFailureKeepsRevealed(t *testing.T) {
	employees := []types.Employee{{ID: "0000001", Department: "Sales"}}
	h := newHarness(t, employees, map[string]float64{"Sales": 100}, 1)

	revealed := h.drawAndReveal(t)
	h.ledger.appendErr = errors.New("disk full")

	_, err := h.session.AcceptWinner("admin")
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got=%v", err)
	}

	snap := h.session.Snapshot()
	assertStatus(t, snap, types.DrawStatusRevealed)
	if len(snap.Winners) != 0 {
		t.Fatalf("winners advanced without persistence")
	}
	if snap.CurrentWinner == nil || snap.CurrentWinner.ID != revealed.CurrentWinner.ID {
		t.Fatalf("current winner should be kept for retry")
	}

	// 再試行で確定できる
	h.ledger.appendErr = nil
	snap, err = h.session.AcceptWinner("admin")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	assertStatus(t, snap, types.DrawStatusCompleted)
	if h.ledger.count() != 1 {
		t.Fatalf("unexpected ledger count: got=%d want=1", h.ledger.count())
	}
}

func TestDirectoryFailureIsPersistenceError(t *testing.T) {
	h := newHarness(t, nil, map[string]float64{"Sales": 100}, 1)
	h.directory.err = errors.New("db locked")

	snap, err := h.session.DrawWinner("admin")
	var pe *PersistenceError
	if !errors.As(err, &pe) || pe.Op != "load employees" {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != "" {
		t.Fatalf("no snapshot expected on failure")
	}
	assertStatus(t, h.session.Snapshot(), types.DrawStatusIdle)
}

func TestResetClearsLedgerAndEpoch(t *testing.T) {
	employees := []types.Employee{
		{ID: "0000001", Department: "Sales"},
		{ID: "0000002", Department: "Sales"},
	}
	h := newHarness(t, employees, map[string]float64{"Sales": 100}, 2)

	h.drawAndReveal(t)
	if _, err := h.session.AcceptWinner("admin"); err != nil {
		t.Fatalf("AcceptWinner failed: %v", err)
	}
	epoch := h.session.Snapshot().EpochID

	snap, err := h.session.Reset("admin")
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	assertStatus(t, snap, types.DrawStatusIdle)
	if snap.CurrentDraw != 0 || len(snap.Winners) != 0 || snap.CurrentWinner != nil {
		t.Fatalf("reset left state behind: %+v", snap)
	}
	if snap.EpochID == epoch {
		t.Fatalf("epoch should change on reset")
	}
	if h.ledger.count() != 0 {
		t.Fatalf("ledger not cleared")
	}
}

func TestResetFailureKeepsState(t *testing.T) {
	employees := []types.Employee{{ID: "0000001", Department: "Sales"}}
	h := newHarness(t, employees, map[string]float64{"Sales": 100}, 1)

	h.drawAndReveal(t)
	if _, err := h.session.AcceptWinner("admin"); err != nil {
		t.Fatalf("AcceptWinner failed: %v", err)
	}
	h.ledger.deleteErr = errors.New("readonly")

	if _, err := h.session.Reset("admin"); err == nil {
		t.Fatalf("expected reset error")
	}
	snap := h.session.Snapshot()
	assertStatus(t, snap, types.DrawStatusCompleted)
	if len(snap.Winners) != 1 {
		t.Fatalf("winners lost on failed reset")
	}
}

func TestRestoreContinuesRoundNumbering(t *testing.T) {
	employees := []types.Employee{
		{ID: "0000001", Department: "Sales"},
		{ID: "0000002", Department: "Sales"},
		{ID: "0000003", Department: "Sales"},
	}
	h := newHarness(t, employees, map[string]float64{"Sales": 100}, 3)
	h.drawAndReveal(t)
	if _, err := h.session.AcceptWinner("admin"); err != nil {
		t.Fatalf("AcceptWinner failed: %v", err)
	}

	// プロセス再起動を模す
	restarted := New(Options{Directory: h.directory, Ledger: h.ledger, Settings: h.settings})
	snap, err := restarted.Restore()
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	assertStatus(t, snap, types.DrawStatusIdle)
	if len(snap.Winners) != 1 {
		t.Fatalf("unexpected restored winners: got=%d want=1", len(snap.Winners))
	}

	snap, err = restarted.StartDraw("admin")
	if err != nil {
		t.Fatalf("StartDraw failed: %v", err)
	}
	if snap.CurrentDraw != 2 {
		t.Fatalf("unexpected round after restore: got=%d want=2", snap.CurrentDraw)
	}
}

func TestRestoreCompletedLedger(t *testing.T) {
	employees := []types.Employee{{ID: "0000001", Department: "Sales"}}
	h := newHarness(t, employees, map[string]float64{"Sales": 100}, 1)
	if _, err := h.ledger.AppendWinner("0000001", 1); err != nil {
		t.Fatalf("AppendWinner failed: %v", err)
	}

	snap, err := h.session.Restore()
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	assertStatus(t, snap, types.DrawStatusCompleted)
	if _, err := h.session.StartDraw("admin"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("start on completed session: got=%v", err)
	}
}

func TestFullCeremonyRespectsInvariants(t *testing.T) {
	departments := []string{"Production", "Cutting", "Common", "QA", "", "Finance"}
	employees := make([]types.Employee, 0, 60)
	for i := 0; i < 60; i++ {
		employees = append(employees, types.Employee{
			ID:         formatID(i + 1),
			Department: departments[i%len(departments)],
		})
	}
	quotas := map[string]float64{"Production": 30, "Cutting": 10, "Common": 20, "QA": 20, "Others": 20}
	maxDraws := 10

	for _, policy := range []types.SelectionPolicy{types.SelectionUniform, types.SelectionWeighted} {
		h := newHarness(t, employees, quotas, maxDraws)
		h.settings.settings.SelectionPolicy = policy

		lastDraw := 0
		for round := 1; round <= maxDraws; round++ {
			snap := h.drawAndReveal(t)
			if snap.CurrentDraw < lastDraw {
				t.Fatalf("%s: current draw decreased: %d -> %d", policy, lastDraw, snap.CurrentDraw)
			}
			lastDraw = snap.CurrentDraw

			// 偶数ラウンドは一度棄却して引き直す
			if round%2 == 0 {
				before := h.ledger.count()
				if _, err := h.session.RejectWinner("admin"); err != nil {
					t.Fatalf("%s: RejectWinner failed: %v", policy, err)
				}
				if h.ledger.count() != before {
					t.Fatalf("%s: reject changed the ledger", policy)
				}
				if _, err := h.session.DrawWinner("admin"); err != nil {
					t.Fatalf("%s: redraw failed: %v", policy, err)
				}
				if _, err := h.session.RevealWinner("admin"); err != nil {
					t.Fatalf("%s: reveal failed: %v", policy, err)
				}
			}

			before := h.ledger.count()
			snap, err := h.session.AcceptWinner("admin")
			if err != nil {
				t.Fatalf("%s: AcceptWinner failed: %v", policy, err)
			}
			if h.ledger.count() != before+1 {
				t.Fatalf("%s: accept must add exactly one winner", policy)
			}

			completed := snap.Status == types.DrawStatusCompleted
			if completed != (len(snap.Winners) == maxDraws) {
				t.Fatalf("%s: completed=%v with %d winners", policy, completed, len(snap.Winners))
			}
			if snap.CurrentDraw > maxDraws {
				t.Fatalf("%s: current draw exceeds max: %d", policy, snap.CurrentDraw)
			}
			if !completed {
				if _, err := h.session.NextDraw("admin"); err != nil {
					t.Fatalf("%s: NextDraw failed: %v", policy, err)
				}
			}
		}

		snap := h.session.Snapshot()
		assertStatus(t, snap, types.DrawStatusCompleted)

		seen := map[string]bool{}
		for _, w := range snap.Winners {
			if seen[w.ID] {
				t.Fatalf("%s: duplicate winner %s", policy, w.ID)
			}
			seen[w.ID] = true
		}
		for _, u := range lottery.QuotaUsage(snap.Winners, quotas, maxDraws) {
			if u.Won > u.MaxAllowed {
				t.Fatalf("%s: bucket %s over quota: won=%d max=%d", policy, u.Key, u.Won, u.MaxAllowed)
			}
		}
		for i, w := range h.ledger.winners {
			if w.DrawRoundNumber != i+1 {
				t.Fatalf("%s: round numbers not gapless: index=%d round=%d", policy, i, w.DrawRoundNumber)
			}
		}
	}
}

func TestAuditAndNotifications(t *testing.T) {
	employees := []types.Employee{
		{ID: "0000001", Department: "Sales"},
		{ID: "0000002", Department: "Sales"},
	}
	h := newHarness(t, employees, map[string]float64{"Sales": 100}, 2)

	h.drawAndReveal(t)
	if _, err := h.session.RejectWinner("admin"); err != nil {
		t.Fatalf("RejectWinner failed: %v", err)
	}
	if _, err := h.session.DrawWinner("admin"); err != nil {
		t.Fatalf("DrawWinner failed: %v", err)
	}
	if _, err := h.session.RevealWinner("admin"); err != nil {
		t.Fatalf("RevealWinner failed: %v", err)
	}
	if _, err := h.session.AcceptWinner("admin"); err != nil {
		t.Fatalf("AcceptWinner failed: %v", err)
	}
	if _, err := h.session.Reset("admin"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	wantActions := []string{
		ActionDrawStarted, ActionDrawSpun, ActionDrawRejected,
		ActionDrawSpun, ActionWinnerConfirmed, ActionWinnersReset,
	}
	if len(h.audit.actions) != len(wantActions) {
		t.Fatalf("unexpected audit actions: got=%v want=%v", h.audit.actions, wantActions)
	}
	for i := range wantActions {
		if h.audit.actions[i] != wantActions[i] {
			t.Fatalf("audit[%d]: got=%s want=%s", i, h.audit.actions[i], wantActions[i])
		}
	}

	wantEvents := []string{
		EventRestored, EventStarted, EventSpun, EventRevealed, EventRejected,
		EventSpun, EventRevealed, EventConfirmed, EventReset,
	}
	if len(h.notifier.events) != len(wantEvents) {
		t.Fatalf("unexpected events: got=%v want=%v", h.notifier.events, wantEvents)
	}
	for i := range wantEvents {
		if h.notifier.events[i] != wantEvents[i] {
			t.Fatalf("event[%d]: got=%s want=%s", i, h.notifier.events[i], wantEvents[i])
		}
	}
}

func formatID(n int) string {
	const digits = "0123456789"
	b := []byte("0000000")
	for i := len(b) - 1; i >= 0 && n > 0; i-- {
		b[i] = digits[n%10]
		n /= 10
	}
	return string(b)
}

func TestRefreshSettingsMovesBetweenIdleAndCompleted(t *testing.T) {
	employees := []types.Employee{
		{ID: "0000001", Department: "Sales"},
		{ID: "0000002", Department: "Sales"},
	}
	h := newHarness(t, employees, map[string]float64{"Sales": 100}, 2)

	h.drawAndReveal(t)
	if _, err := h.session.AcceptWinner("admin"); err != nil {
		t.Fatalf("AcceptWinner failed: %v", err)
	}

	h.settings.settings.MaxDraws = 1
	snap, err := h.session.RefreshSettings()
	if err != nil {
		t.Fatalf("RefreshSettings failed: %v", err)
	}
	assertStatus(t, snap, types.DrawStatusCompleted)
	if snap.MaxDraws != 1 {
		t.Fatalf("max draws not applied: got=%d want=1", snap.MaxDraws)
	}

	h.settings.settings.MaxDraws = 3
	snap, err = h.session.RefreshSettings()
	if err != nil {
		t.Fatalf("RefreshSettings failed: %v", err)
	}
	assertStatus(t, snap, types.DrawStatusIdle)
	if snap.CurrentDraw != 1 {
		t.Fatalf("unexpected current draw: got=%d want=1", snap.CurrentDraw)
	}

	snap, err = h.session.DrawWinner("admin")
	if err != nil {
		t.Fatalf("DrawWinner after raising limit failed: %v", err)
	}
	if snap.CurrentDraw != 2 {
		t.Fatalf("unexpected round: got=%d want=2", snap.CurrentDraw)
	}
}

// twoAcceptedAndThirdRevealed は A部署3人・上限3で2回確定し、3回目を revealed まで進める
func twoAcceptedAndThirdRevealed(t *testing.T) *harness {
	t.Helper()
	employees := []types.Employee{
		{ID: "0000001", Department: "A"},
		{ID: "0000002", Department: "A"},
		{ID: "0000003", Department: "A"},
	}
	h := newHarness(t, employees, map[string]float64{"A": 100}, 3)

	for round := 1; round <= 2; round++ {
		h.drawAndReveal(t)
		if _, err := h.session.AcceptWinner("admin"); err != nil {
			t.Fatalf("round %d: AcceptWinner failed: %v", round, err)
		}
		if _, err := h.session.NextDraw("admin"); err != nil {
			t.Fatalf("round %d: NextDraw failed: %v", round, err)
		}
	}
	if _, err := h.session.DrawWinner("admin"); err != nil {
		t.Fatalf("DrawWinner failed: %v", err)
	}
	if _, err := h.session.RevealWinner("admin"); err != nil {
		t.Fatalf("RevealWinner failed: %v", err)
	}
	return h
}

func assertWithinLimits(t *testing.T, snap Snapshot) {
	t.Helper()
	if len(snap.Winners) > snap.MaxDraws {
		t.Fatalf("winners %d exceed max draws %d", len(snap.Winners), snap.MaxDraws)
	}
	if snap.CurrentDraw > snap.MaxDraws {
		t.Fatalf("current draw %d exceeds max draws %d", snap.CurrentDraw, snap.MaxDraws)
	}
}

func TestAcceptAfterLimitsLoweredDoesNotPersist(t *testing.T) {
	h := twoAcceptedAndThirdRevealed(t)

	h.settings.settings.MaxDraws = 2
	h.settings.settings.Quotas = map[string]float64{"A": 50}

	snap, err := h.session.AcceptWinner("admin")
	if !errors.Is(err, ErrDrawsExhausted) {
		t.Fatalf("accept over limit: got=%v want=%v", err, ErrDrawsExhausted)
	}
	assertStatus(t, snap, types.DrawStatusCompleted)
	if snap.CurrentWinner != nil {
		t.Fatalf("discarded winner still set: %+v", snap.CurrentWinner)
	}
	if h.ledger.count() != 2 || len(snap.Winners) != 2 {
		t.Fatalf("ledger changed: ledger=%d winners=%d want=2", h.ledger.count(), len(snap.Winners))
	}
	assertWithinLimits(t, snap)
}

func TestAcceptAfterQuotaLoweredReturnsToIdle(t *testing.T) {
	h := twoAcceptedAndThirdRevealed(t)

	// 上限はそのまま、A部署の枠だけ 3*50% = 1 に下げる
	h.settings.settings.Quotas = map[string]float64{"A": 50}

	snap, err := h.session.AcceptWinner("admin")
	if !errors.Is(err, ErrNoEligibleWinner) {
		t.Fatalf("accept over quota: got=%v want=%v", err, ErrNoEligibleWinner)
	}
	assertStatus(t, snap, types.DrawStatusIdle)
	if snap.LastError == "" || snap.CurrentWinner != nil {
		t.Fatalf("unexpected state after discard: %+v", snap)
	}
	if h.ledger.count() != 2 {
		t.Fatalf("ledger changed: got=%d want=2", h.ledger.count())
	}
}

func TestRefreshSettingsDiscardsRevealedWinnerOverLimit(t *testing.T) {
	h := twoAcceptedAndThirdRevealed(t)

	h.settings.settings.MaxDraws = 2
	h.settings.settings.Quotas = map[string]float64{"A": 50}

	snap, err := h.session.RefreshSettings()
	if err != nil {
		t.Fatalf("RefreshSettings failed: %v", err)
	}
	assertStatus(t, snap, types.DrawStatusCompleted)
	if snap.CurrentWinner != nil {
		t.Fatalf("revealed winner should be discarded")
	}
	assertWithinLimits(t, snap)

	if _, err := h.session.AcceptWinner("admin"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("accept after discard: got=%v want=%v", err, ErrInvalidTransition)
	}
	if h.ledger.count() != 2 {
		t.Fatalf("ledger changed: got=%d want=2", h.ledger.count())
	}
}
