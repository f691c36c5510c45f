package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/metrics"
	"github.com/roach88/issai/internal/monitor"
)

// DriverConfig configures how test processes are supervised.
type DriverConfig struct {
	// Timeout bounds each process. Zero disables it.
	Timeout time.Duration

	// RuntimeRoot is the directory test modules are resolved against.
	RuntimeRoot string

	// WorkDir is the process working directory. Defaults to RuntimeRoot.
	WorkDir string

	// Env is set on top of the inherited environment of every process.
	Env Env

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Validate fills defaults and rejects invalid values.
func (c *DriverConfig) Validate() error {
	if c.Timeout < 0 {
		return entity.NewConfigurationError("runner timeout must not be negative, got %s", c.Timeout)
	}
	if c.WorkDir == "" {
		c.WorkDir = c.RuntimeRoot
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Driver runs registered runners under a timeout and a Monitor.
//
// Thread-safety: Run may be called concurrently.
type Driver struct {
	registry *Registry
	cfg      DriverConfig
	logger   *slog.Logger
}

// NewDriver validates cfg and returns a Driver using registry.
func NewDriver(registry *Registry, cfg DriverConfig) (*Driver, error) {
	if registry == nil {
		registry = NewRegistry()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Driver{
		registry: registry,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "runner"),
	}, nil
}

// Knows reports whether name resolves to a runner.
func (d *Driver) Knows(name string) bool {
	_, ok := d.registry.Lookup(name)
	return ok
}

// Run executes specifier with the runner called name.
//
// An unknown runner is a ConfigurationError returned before anything runs.
// Everything else, including timeouts and cancellation, is reported in the
// Outcome. A cancellation request on mon kills the process before Run
// returns.
func (d *Driver) Run(ctx context.Context, name, specifier string, mon monitor.Monitor) (Outcome, error) {
	fn, ok := d.registry.Lookup(name)
	if !ok {
		return Outcome{}, entity.NewConfigurationError("unknown runner %q", name)
	}
	if mon == nil {
		mon = monitor.Nop()
	}
	if mon.Cancelled() {
		return Outcome{
			ExitCode: ExitRunnerError,
			Err:      entity.NewRunnerError("cancelled before start", context.Canceled),
		}, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if d.cfg.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, d.cfg.Timeout)
		defer cancelTimeout()
	}

	// Kill the process as soon as cancellation is requested
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-mon.Done():
			cancel()
		case <-stop:
		}
	}()

	d.logger.Debug("running test", "runner", name, "specifier", specifier, "timeout", d.cfg.Timeout)
	out := fn(runCtx, d.cfg.Env, d.cfg.RuntimeRoot, d.cfg.WorkDir, specifier)

	if out.ExitCode == ExitRunnerError {
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			out.Err = entity.NewRunnerError(fmt.Sprintf("timed out after %s", d.cfg.Timeout), context.DeadlineExceeded)
		case mon.Cancelled():
			out.Err = entity.NewRunnerError("cancelled", context.Canceled)
		case out.Err == nil:
			out.Err = entity.NewRunnerError("runner reported an error", nil)
		}
		if runCtx.Err() != nil {
			out.Stderr = appendLine(out.Stderr, out.Err.Error())
		}
	}

	metrics.RecordRun(name, out.ExitCode, out.Duration.Seconds())
	d.logger.Info("test finished",
		"runner", name,
		"specifier", specifier,
		"exit_code", out.ExitCode,
		"duration", out.Duration,
		"error", out.Err)
	return out, nil
}
