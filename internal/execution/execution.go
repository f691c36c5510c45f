// Package execution runs the test cases of a plan and records the outcome
// in the store: one caseresult per executed case and a planresult linking
// them in plan order.
//
// Cases run one at a time through a runner.Driver. A runner error on one
// case never stops its siblings; a cancellation request stops the run at
// the next case boundary and kills the case in flight.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/metrics"
	"github.com/roach88/issai/internal/monitor"
	"github.com/roach88/issai/internal/repository"
	"github.com/roach88/issai/internal/runner"
)

// Options configures an Executor.
type Options struct {
	// Driver runs the cases. Required.
	Driver *runner.Driver

	// RunIDs names runs. Defaults to UUIDv7Generator.
	RunIDs RunIDGenerator

	// Now stamps started and finished fields. Defaults to time.Now.
	Now func() time.Time

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Executor runs test plans. Safe for concurrent use when its Options are.
type Executor struct {
	driver *runner.Driver
	runIDs RunIDGenerator
	now    func() time.Time
	logger *slog.Logger
}

// New validates opts and returns an Executor.
func New(opts Options) (*Executor, error) {
	if opts.Driver == nil {
		return nil, entity.NewConfigurationError("execution needs a runner driver")
	}
	if opts.RunIDs == nil {
		opts.RunIDs = UUIDv7Generator{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Executor{
		driver: opts.Driver,
		runIDs: opts.RunIDs,
		now:    opts.Now,
		logger: opts.Logger.With("component", "execution"),
	}, nil
}

// testCase is a case loaded ahead of the run.
type testCase struct {
	rec       *repository.Record
	summary   string
	runner    string
	specifier string
}

// RunPlan runs every case of the plan against the build under a fresh run
// name.
func (x *Executor) RunPlan(ctx context.Context, repo repository.Repository, planID, buildID string, mon monitor.Monitor) (*Result, error) {
	return x.RunPlanAs(ctx, repo, planID, buildID, "", mon)
}

// RunPlanAs is RunPlan with a caller-chosen run name. An empty run name
// generates one.
//
// Store failures are returned as StoreErrors. A failure mid-run still
// records a plan result linking the cases recorded so far. An unknown runner
// on any case is a ConfigurationError raised before the first case runs.
func (x *Executor) RunPlanAs(ctx context.Context, repo repository.Repository, planID, buildID, run string, mon monitor.Monitor) (*Result, error) {
	if mon == nil {
		mon = monitor.Nop()
	}
	plan, err := repo.Get(ctx, entity.KindTestPlan, planID)
	if err != nil {
		return nil, entity.NewStoreError(entity.KindTestPlan, "read plan "+planID, err)
	}
	if _, err := repo.Get(ctx, entity.KindBuild, buildID); err != nil {
		return nil, entity.NewStoreError(entity.KindBuild, "read build "+buildID, err)
	}
	cases, err := x.loadCases(ctx, repo, plan)
	if err != nil {
		return nil, err
	}
	if run == "" {
		run = x.runIDs.Generate()
	}

	res := &Result{Run: run, Plan: stringField(plan.Key, entity.FieldName)}
	started := x.stamp()
	logger := x.logger.With("plan", planID, "build", buildID, "run", run)
	logger.Info("plan run started", "cases", len(cases))

	var resultIDs []string
	var abort error
	for i, c := range cases {
		if mon.Cancelled() {
			res.Cancelled = true
			break
		}
		if c.runner == "" {
			res.Manual++
			mon.ReportProgress(i+1, len(cases))
			continue
		}

		mon.ReportStep(fmt.Sprintf("run testcase %q", c.summary))
		caseStarted := x.stamp()
		out, err := x.driver.Run(ctx, c.runner, c.specifier, mon)
		if err != nil {
			// Runners were checked up front; a miss here is a registry change mid-run
			abort = err
			break
		}

		id, err := repo.Create(ctx, x.caseResult(c, buildID, run, out, caseStarted))
		if err != nil {
			abort = entity.NewStoreError(entity.KindCaseResult, "record result of "+c.summary, err)
			break
		}
		resultIDs = append(resultIDs, id)
		res.add(CaseRun{CaseID: c.rec.ID, Summary: c.summary, Runner: c.runner, ResultID: id, Outcome: out})
		mon.ReportProgress(i+1, len(cases))

		if mon.Cancelled() {
			res.Cancelled = true
			break
		}
	}

	planResult := &repository.Record{
		Kind: entity.KindPlanResult,
		Key:  entity.Object{entity.FieldSummary: entity.String(run)},
		Fields: entity.Object{
			entity.FieldStarted:  entity.String(started),
			entity.FieldFinished: entity.String(x.stamp()),
		},
		Links: map[string][]string{
			entity.LinkPlan:  {planID},
			entity.LinkBuild: {buildID},
		},
	}
	if len(resultIDs) > 0 {
		planResult.Links[entity.LinkResults] = resultIDs
	}
	notes := res.notes(len(cases))
	if abort != nil {
		notes = fmt.Sprintf("aborted after %d of %d cases: %v", len(res.Cases), len(cases), abort)
	}
	if notes != "" {
		planResult.Fields[entity.FieldNotes] = entity.String(notes)
	}
	res.PlanResultID, err = repo.Create(ctx, planResult)
	if abort != nil {
		// The abort cause wins over a plan result failure
		logger.Error("plan run aborted", "error", abort, "cases", len(res.Cases), "plan_result_error", err)
		return nil, abort
	}
	if err != nil {
		return nil, entity.NewStoreError(entity.KindPlanResult, "record plan result "+run, err)
	}

	logger.Info("plan run finished",
		"passed", res.Passed,
		"failed", res.Failed,
		"runner_errors", res.RunnerErrors,
		"manual", res.Manual,
		"cancelled", res.Cancelled)
	return res, nil
}

// loadCases reads every case of plan in plan order and checks that each
// automated case names a known runner.
func (x *Executor) loadCases(ctx context.Context, repo repository.Reader, plan *repository.Record) ([]testCase, error) {
	ids := plan.Links[entity.LinkCases]
	cases := make([]testCase, 0, len(ids))
	for _, id := range ids {
		rec, err := repo.Get(ctx, entity.KindTestCase, id)
		if err != nil {
			return nil, entity.NewStoreError(entity.KindTestCase, "read case "+id, err)
		}
		c := testCase{
			rec:     rec,
			summary: stringField(rec.Key, entity.FieldSummary),
			runner:  stringField(rec.Fields, entity.FieldRunner),
		}
		if c.runner != "" {
			if !x.driver.Knows(c.runner) {
				return nil, entity.NewConfigurationError("test case %q uses unknown runner %q", c.summary, c.runner)
			}
			c.specifier = specifier(rec.Fields)
		}
		cases = append(cases, c)
	}
	return cases, nil
}

func (x *Executor) caseResult(c testCase, buildID, run string, out runner.Outcome, started string) *repository.Record {
	fields := entity.Object{
		entity.FieldOutcome:  entity.String(metrics.RunResult(out.ExitCode)),
		entity.FieldExitCode: entity.Int(out.ExitCode),
		entity.FieldStarted:  entity.String(started),
		entity.FieldFinished: entity.String(x.stamp()),
	}
	if out.Stdout != "" {
		fields[entity.FieldStdout] = entity.String(out.Stdout)
	}
	if out.Stderr != "" {
		fields[entity.FieldStderr] = entity.String(out.Stderr)
	}
	return &repository.Record{
		Kind:   entity.KindCaseResult,
		Key:    entity.Object{entity.FieldRun: entity.String(run)},
		Fields: fields,
		Links: map[string][]string{
			entity.LinkCase:  {c.rec.ID},
			entity.LinkBuild: {buildID},
		},
	}
}

func (x *Executor) stamp() string {
	return x.now().UTC().Format(time.RFC3339)
}

// specifier joins the script of a case with its arguments.
func specifier(fields entity.Object) string {
	parts := []string{stringField(fields, entity.FieldScript)}
	if args, ok := fields[entity.FieldArguments].(entity.List); ok {
		for _, a := range args {
			if s, ok := a.(entity.String); ok {
				parts = append(parts, string(s))
			}
		}
	} else if s := stringField(fields, entity.FieldArguments); s != "" {
		parts = append(parts, s)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func stringField(obj entity.Object, name string) string {
	s, _ := obj[name].(entity.String)
	return string(s)
}
