package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/issai/internal/execution"
	"github.com/roach88/issai/internal/metrics"
	"github.com/roach88/issai/internal/runner"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Timeout  time.Duration
	TestRoot string
	RunName  string

	// RunIDs allows overriding the run name generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs execution.RunIDGenerator
}

// runReport is the JSON payload of a finished run.
type runReport struct {
	Run          string      `json:"run"`
	PlanResult   string      `json:"plan_result,omitempty"`
	Passed       int         `json:"passed"`
	Failed       int         `json:"failed"`
	RunnerErrors int         `json:"runner_errors"`
	Manual       int         `json:"manual"`
	Cancelled    bool        `json:"cancelled,omitempty"`
	Cases        []caseEntry `json:"cases"`
}

type caseEntry struct {
	Summary  string `json:"summary"`
	Runner   string `json:"runner"`
	ExitCode int    `json:"exit_code"`
	Result   string `json:"result"`
	Error    string `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <plan-id> <build-id>",
		Short: "Run the test cases of a plan against a build",
		Long: `Run every automated test case of a test plan through its runner and
record one case result per case plus a plan result in the store.

Failing cases do not change the exit code: they are recorded as results.
Ctrl-C stops the run after killing the case in flight.

Example:
  issai run 7 3 --test-root ./tests
  issai run 7 3 --timeout 2m --run-name nightly-42`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "per-case timeout (default from runner.timeout)")
	cmd.Flags().StringVar(&opts.TestRoot, "test-root", "", "directory of test modules (default from runner.test_root)")
	cmd.Flags().StringVar(&opts.RunName, "run-name", "", "name of this run (default: generated)")

	return cmd
}

func runPlan(opts *RunOptions, planID, buildID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if cmd.Flags().Changed("timeout") {
		opts.Config.Runner.Timeout = opts.Timeout
	}
	if opts.TestRoot != "" {
		opts.Config.Runner.TestRoot = opts.TestRoot
	}
	registry, err := opts.Config.Registry()
	if err != nil {
		return err
	}
	driver, err := runner.NewDriver(registry, opts.Config.DriverConfig(opts.Logger))
	if err != nil {
		return err
	}
	executor, err := execution.New(execution.Options{
		Driver: driver,
		RunIDs: opts.RunIDs,
		Logger: opts.Logger,
	})
	if err != nil {
		return err
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	ctx := commandContext(cmd)
	mon := opts.newMonitor(formatter)
	stop := watchSignals(ctx, mon, opts.Logger)
	defer stop()

	result, err := executor.RunPlanAs(ctx, st, planID, buildID, opts.RunName, mon)
	if err != nil {
		return err
	}

	report := runReport{
		Run:          result.Run,
		PlanResult:   result.PlanResultID,
		Passed:       result.Passed,
		Failed:       result.Failed,
		RunnerErrors: result.RunnerErrors,
		Manual:       result.Manual,
		Cancelled:    result.Cancelled,
		Cases:        make([]caseEntry, 0, len(result.Cases)),
	}
	for _, c := range result.Cases {
		entry := caseEntry{
			Summary:  c.Summary,
			Runner:   c.Runner,
			ExitCode: c.Outcome.ExitCode,
			Result:   metrics.RunResult(c.Outcome.ExitCode),
		}
		if c.Outcome.Err != nil {
			entry.Error = c.Outcome.Err.Error()
		}
		report.Cases = append(report.Cases, entry)
	}
	return formatter.Success(report, result.Summary(opts.Printer))
}
