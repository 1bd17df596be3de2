// Package quota implements the usage arbiter for capability backends.
//
// Each capability ("stt", "ai", "tts") owns an ordered priority list of
// backends, each with its own usage window. The arbiter decides admission
// (CheckQuota), records consumption (TrackUsage), and handles failover
// (DemoteBackend) when a backend is denied or reports an error upstream.
//
// Limits are soft: the arbiter's decisions gate calls, nothing else enforces
// the counter. Windows roll on wall-clock time and all state is
// process-lifetime only — a restart resets every counter, which is accepted
// behaviour rather than a bug.
//
// All methods are safe for concurrent use; mutation happens under a single
// critical section per capability row, so capture and dialogue workers may
// call in freely.
package quota

import (
	"log/slog"
	"sync"
	"time"
)

// Well-known capability names.
const (
	CapabilitySTT = "stt"
	CapabilityAI  = "ai"
	CapabilityTTS = "tts"
)

// DefaultWindow is the usage window applied when a backend is registered
// without one.
const DefaultWindow = 24 * time.Hour

// Window tracks usage of one backend within its rolling period.
type Window struct {
	CallsMade      int
	CallsLimit     int
	WindowStart    time.Time
	WindowDuration time.Duration
}

// Status is a read-only snapshot of one capability row.
type Status struct {
	// ActiveBackend is the identifier of the currently selected backend, or
	// empty when every backend has been demoted.
	ActiveBackend string

	// CallsRemaining is the active backend's remaining budget in the current
	// window. Zero when unavailable.
	CallsRemaining int

	// Available reports whether any backend can still serve this capability.
	Available bool
}

// backendState is one registered backend within a capability row.
type backendState struct {
	id      string
	win     Window
	demoted bool
}

// capabilityRow owns the ordered backend list for one capability. Its mutex
// is the single critical section guarding all mutation of the row.
type capabilityRow struct {
	mu       sync.Mutex
	backends []*backendState
}

// Observer receives notifications about admission denials and demotions.
// Callbacks run outside the arbiter's locks and must not block.
type Observer interface {
	// QuotaDenied is called each time CheckQuota refuses a call.
	QuotaDenied(capability string)

	// BackendDemoted is called after a backend has been marked unusable.
	BackendDemoted(capability, backendID string)
}

// Arbiter tracks per-capability-backend usage windows and owns the
// backend-selection mapping.
type Arbiter struct {
	mu   sync.RWMutex
	rows map[string]*capabilityRow

	obs Observer

	// now is the clock; replaced in tests.
	now func() time.Time
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithObserver attaches an [Observer] for denial and demotion events.
func WithObserver(obs Observer) Option {
	return func(a *Arbiter) { a.obs = obs }
}

// New returns an empty Arbiter. Backends are added with [Arbiter.Register].
func New(opts ...Option) *Arbiter {
	a := &Arbiter{
		rows: make(map[string]*capabilityRow),
		now:  time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Register appends a backend to capability's priority list. Registration
// order is priority order: the first registered backend is active until
// demoted. limit <= 0 means unlimited; window <= 0 falls back to
// [DefaultWindow].
func (a *Arbiter) Register(capability, backendID string, limit int, window time.Duration) {
	if window <= 0 {
		window = DefaultWindow
	}

	a.mu.Lock()
	row, ok := a.rows[capability]
	if !ok {
		row = &capabilityRow{}
		a.rows[capability] = row
	}
	a.mu.Unlock()

	row.mu.Lock()
	defer row.mu.Unlock()
	row.backends = append(row.backends, &backendState{
		id: backendID,
		win: Window{
			CallsLimit:     limit,
			WindowStart:    a.now(),
			WindowDuration: window,
		},
	})
}

// row returns the capability row, or nil when the capability is unknown.
func (a *Arbiter) row(capability string) *capabilityRow {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rows[capability]
}

// active returns the first non-demoted backend. Must be called with row.mu
// held.
func (r *capabilityRow) active() *backendState {
	for _, b := range r.backends {
		if !b.demoted {
			return b
		}
	}
	return nil
}

// advanceWindow rolls b's window forward when its period has elapsed,
// resetting the call counter. Must be called with the owning row's mutex
// held.
func (a *Arbiter) advanceWindow(b *backendState) {
	now := a.now()
	if now.Sub(b.win.WindowStart) >= b.win.WindowDuration {
		b.win.CallsMade = 0
		b.win.WindowStart = now
	}
}

// remaining returns b's remaining budget after window bookkeeping. Unlimited
// backends report their limit as 0 but are always admitted.
func remaining(b *backendState) int {
	if b.win.CallsLimit <= 0 {
		return 0
	}
	r := b.win.CallsLimit - b.win.CallsMade
	if r < 0 {
		return 0
	}
	return r
}

// CheckQuota evaluates the active backend's window for capability, advancing
// the window if its period elapsed, and reports whether a call would be
// admitted plus the remaining budget. It never increments usage.
func (a *Arbiter) CheckQuota(capability string) (admitted bool, calls int) {
	admitted, calls = a.checkQuota(capability)
	if !admitted && a.obs != nil {
		a.obs.QuotaDenied(capability)
	}
	return admitted, calls
}

func (a *Arbiter) checkQuota(capability string) (bool, int) {
	row := a.row(capability)
	if row == nil {
		return false, 0
	}

	row.mu.Lock()
	defer row.mu.Unlock()

	b := row.active()
	if b == nil {
		return false, 0
	}
	a.advanceWindow(b)
	if b.win.CallsLimit <= 0 {
		return true, 0
	}
	rem := remaining(b)
	return rem > 0, rem
}

// TrackUsage increments the active backend's call counter and returns the
// remaining budget. Call it exactly once per successful backend invocation —
// never for denied or locally-failed calls that never reached the backend.
func (a *Arbiter) TrackUsage(capability string) int {
	row := a.row(capability)
	if row == nil {
		return 0
	}

	row.mu.Lock()
	defer row.mu.Unlock()

	b := row.active()
	if b == nil {
		return 0
	}
	a.advanceWindow(b)
	b.win.CallsMade++
	return remaining(b)
}

// ActiveBackend returns the identifier of capability's active backend.
// ok is false when the capability is unknown or exhausted.
func (a *Arbiter) ActiveBackend(capability string) (id string, ok bool) {
	row := a.row(capability)
	if row == nil {
		return "", false
	}

	row.mu.Lock()
	defer row.mu.Unlock()

	b := row.active()
	if b == nil {
		return "", false
	}
	return b.id, true
}

// DemoteBackend marks capability's active backend as unusable and moves it to
// the back of the priority list, activating the next one. Demoting a
// capability with no active backend is a no-op. A demoted backend is never
// silently reactivated; see [Arbiter.ReviveExpired] and [Arbiter.Promote].
func (a *Arbiter) DemoteBackend(capability string) {
	row := a.row(capability)
	if row == nil {
		return
	}

	row.mu.Lock()

	b := row.active()
	if b == nil {
		row.mu.Unlock()
		return
	}
	b.demoted = true

	// Move to the back so a later revival re-enters at lowest priority.
	for i, s := range row.backends {
		if s == b {
			row.backends = append(append(row.backends[:i:i], row.backends[i+1:]...), b)
			break
		}
	}

	next := row.active()
	row.mu.Unlock()

	if next != nil {
		slog.Warn("backend demoted",
			"capability", capability, "demoted", b.id, "active", next.id)
	} else {
		slog.Error("all backends exhausted", "capability", capability)
	}
	if a.obs != nil {
		a.obs.BackendDemoted(capability, b.id)
	}
}

// ReviveExpired clears the demoted flag of any backend whose quota window has
// elapsed since demotion, resetting its window. This is the explicit
// quota-reset check that allows a demoted backend to serve again; it is
// called from housekeeping, never implicitly by admission checks.
func (a *Arbiter) ReviveExpired(capability string) {
	row := a.row(capability)
	if row == nil {
		return
	}

	row.mu.Lock()
	defer row.mu.Unlock()

	now := a.now()
	for _, b := range row.backends {
		if b.demoted && now.Sub(b.win.WindowStart) >= b.win.WindowDuration {
			b.demoted = false
			b.win.CallsMade = 0
			b.win.WindowStart = now
			slog.Info("backend revived after window reset",
				"capability", capability, "backend", b.id)
		}
	}
}

// Promote is the manual override: it reactivates backendID and moves it to
// the front of capability's priority list. Unknown identifiers are ignored.
func (a *Arbiter) Promote(capability, backendID string) {
	row := a.row(capability)
	if row == nil {
		return
	}

	row.mu.Lock()
	defer row.mu.Unlock()

	for i, b := range row.backends {
		if b.id == backendID {
			b.demoted = false
			row.backends = append([]*backendState{b},
				append(row.backends[:i:i], row.backends[i+1:]...)...)
			slog.Info("backend promoted", "capability", capability, "backend", backendID)
			return
		}
	}
}

// Capabilities returns the registered capability names in unspecified order.
func (a *Arbiter) Capabilities() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.rows))
	for name := range a.rows {
		names = append(names, name)
	}
	return names
}

// GetStatus returns a read-only snapshot of every capability row.
func (a *Arbiter) GetStatus() map[string]Status {
	a.mu.RLock()
	rows := make(map[string]*capabilityRow, len(a.rows))
	for name, row := range a.rows {
		rows[name] = row
	}
	a.mu.RUnlock()

	out := make(map[string]Status, len(rows))
	for name, row := range rows {
		row.mu.Lock()
		b := row.active()
		if b == nil {
			out[name] = Status{}
		} else {
			a.advanceWindow(b)
			out[name] = Status{
				ActiveBackend:  b.id,
				CallsRemaining: remaining(b),
				Available:      true,
			}
		}
		row.mu.Unlock()
	}
	return out
}
