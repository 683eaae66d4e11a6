// Package monitor drives the unattended monitoring loop: keep a portal
// session alive, extract and validate the state report every cycle, notify
// operators, and recover from any failure by rebuilding the session from
// scratch.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/ftpay/portalwatch/internal/portal"
	"github.com/ftpay/portalwatch/internal/validation"
)

// State is the externally visible condition of the loop.
type State string

const (
	StateStarting  State = "starting"
	StateLoggedIn  State = "logged_in"
	StateChecking  State = "checking"
	StateSleeping  State = "sleeping"
	StateRestoring State = "restoring" // session torn down, rebuilding
	StateStopped   State = "stopped"
)

// PortalDriver is the portal surface one session exposes to the loop. A
// driver is bound to one browser; when any call fails the loop closes it and
// asks the factory for a fresh one.
type PortalDriver interface {
	Login(ctx context.Context) error
	KeepAlive(ctx context.Context) error
	OpenPrimary(ctx context.Context) error
	Extract(ctx context.Context) (*portal.ExtractionResult, error)

	// CaptureError saves a full-page screenshot, best effort. Returns the
	// written path or "".
	CaptureError(ctx context.Context, path string) string

	// Close tears the session's browser down. Must be safe to call more
	// than once.
	Close()
}

// Checker validates extracted rows. Bound to the same session as its driver
// because the aging rule navigates the portal.
type Checker interface {
	Validate(ctx context.Context, rows []portal.ReportRow) (*validation.Result, error)
}

// SessionFactory builds a fresh driver/checker pair, launching whatever
// browser state that requires.
type SessionFactory func(ctx context.Context) (PortalDriver, Checker, error)

// Alerter delivers operator notifications.
type Alerter interface {
	Info(ctx context.Context, text string) error
	Alert(ctx context.Context, text string, screenshots []string) error
}

// CycleRecorder persists finished cycles. Optional; a nil recorder disables
// history.
type CycleRecorder interface {
	Record(ctx context.Context, c CycleRecord) error
}

// CycleRecord is everything the loop knows about one finished cycle.
type CycleRecord struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Outcome     string // history.Outcome* values
	RecordCount int
	Heartbeat   bool
	Err         string
	Findings    []validation.Finding
	Rows        []portal.ReportRow
}

// Status is a point-in-time snapshot for the status API.
type Status struct {
	State         State     `json:"state"`
	StartedAt     time.Time `json:"started_at"`
	LastCycleAt   time.Time `json:"last_cycle_at,omitempty"`
	CyclesRun     int64     `json:"cycles_run"`
	IssuesFound   int64     `json:"issues_found"`
	Restarts      int64     `json:"restarts"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorAt   time.Time `json:"last_error_at,omitempty"`
	CurrentCycle  string    `json:"current_cycle,omitempty"`
	NextCycleDue  time.Time `json:"next_cycle_due,omitempty"`
	HeartbeatLast time.Time `json:"heartbeat_last,omitempty"`
}

// status is the mutex-guarded mutable form of Status.
type status struct {
	mu sync.RWMutex
	s  Status
}

func (st *status) snapshot() Status {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

func (st *status) update(fn func(*Status)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.s)
}
