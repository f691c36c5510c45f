// Package monitor provides the cooperative progress and cancellation
// surface shared by export, import and runner execution.
//
// Cancellation is cooperative: long-running operations poll Cancelled at
// entity or step boundaries and stop cleanly, returning a partial result.
// Done exposes the same signal as a channel so that supervisors of external
// processes can react while they block.
package monitor

import (
	"log/slog"
	"sync"
)

// Monitor reports progress and carries a cancellation request.
type Monitor interface {
	// ReportStep announces the start of a named step.
	ReportStep(description string)

	// ReportProgress reports done out of total units of work.
	ReportProgress(done, total int)

	// Cancelled reports whether cancellation has been requested.
	Cancelled() bool

	// RequestCancel asks the operation to stop at its next check point.
	// Safe to call multiple times and from any goroutine.
	RequestCancel()

	// Done is closed once cancellation has been requested.
	Done() <-chan struct{}
}

// Observer receives monitor events. Either callback may be nil.
type Observer struct {
	Step     func(description string)
	Progress func(done, total int)
}

// Tracker is the standard Monitor. It logs steps at debug level, remembers
// the latest progress and forwards events to an optional Observer.
//
// Thread-safety: all methods are safe for concurrent use.
type Tracker struct {
	logger   *slog.Logger
	observer Observer

	mu    sync.Mutex
	steps []string
	done  int
	total int

	once   sync.Once
	cancel chan struct{}
}

var _ Monitor = (*Tracker)(nil)

// New creates a Tracker. A nil logger falls back to slog.Default().
func New(logger *slog.Logger, observer Observer) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:   logger,
		observer: observer,
		cancel:   make(chan struct{}),
	}
}

// ReportStep records and logs a step.
func (t *Tracker) ReportStep(description string) {
	t.mu.Lock()
	t.steps = append(t.steps, description)
	t.mu.Unlock()

	t.logger.Debug("step", "description", description)
	if t.observer.Step != nil {
		t.observer.Step(description)
	}
}

// ReportProgress records and forwards progress.
func (t *Tracker) ReportProgress(done, total int) {
	t.mu.Lock()
	t.done, t.total = done, total
	t.mu.Unlock()

	if t.observer.Progress != nil {
		t.observer.Progress(done, total)
	}
}

// Cancelled reports whether RequestCancel was called.
func (t *Tracker) Cancelled() bool {
	select {
	case <-t.cancel:
		return true
	default:
		return false
	}
}

// RequestCancel closes the Done channel once.
func (t *Tracker) RequestCancel() {
	t.once.Do(func() {
		t.logger.Info("cancellation requested")
		close(t.cancel)
	})
}

// Done is closed once cancellation has been requested.
func (t *Tracker) Done() <-chan struct{} {
	return t.cancel
}

// Steps returns a copy of every step reported so far.
func (t *Tracker) Steps() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.steps))
	copy(out, t.steps)
	return out
}

// Progress returns the latest reported progress.
func (t *Tracker) Progress() (done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done, t.total
}

// nop is a Monitor that reports nothing and is never cancelled.
type nop struct{}

// Nop returns a Monitor that discards all events and never cancels.
func Nop() Monitor { return nop{} }

func (nop) ReportStep(string) {}
func (nop) ReportProgress(int, int) {}
func (nop) Cancelled() bool { return false }
func (nop) RequestCancel() {}
func (nop) Done() <-chan struct{} { return nil }
