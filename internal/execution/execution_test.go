package execution

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/monitor"
	"github.com/roach88/issai/internal/repository"
	"github.com/roach88/issai/internal/runner"
	"github.com/roach88/issai/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newExecutor(t *testing.T, cfg runner.DriverConfig, runs ...string) *Executor {
	t.Helper()
	if cfg.RuntimeRoot == "" {
		root, err := filepath.Abs(filepath.Join("..", "runner", "testdata", "modules"))
		require.NoError(t, err)
		cfg.RuntimeRoot = root
	}
	cfg.Logger = discardLogger()
	driver, err := runner.NewDriver(nil, cfg)
	require.NoError(t, err)

	opts := Options{
		Driver: driver,
		Now:    testutil.NewClock(time.Second).Now,
		Logger: discardLogger(),
	}
	if len(runs) > 0 {
		opts.RunIDs = NewFixedGenerator(runs...)
	}
	x, err := New(opts)
	require.NoError(t, err)
	return x
}

func shellCase(script string) entity.Object {
	return entity.Object{
		entity.FieldRunner: entity.String("shell"),
		entity.FieldScript: entity.String(script),
	}
}

type fixture struct {
	repo    *testutil.MemoryRepository
	product string
	build   string
}

func newFixture(t *testing.T) fixture {
	repo := testutil.NewMemoryRepository()
	s := testutil.Seed(t, repo)
	product := s.Product("shop", nil)
	return fixture{repo: repo, product: product, build: s.Build(product, "1.0", "rc1")}
}

func (f fixture) plan(t *testing.T, cases map[string]entity.Object, order ...string) string {
	s := testutil.Seed(t, f.repo)
	ids := make([]string, 0, len(order))
	for _, summary := range order {
		ids = append(ids, s.TestCase(f.product, summary, cases[summary], nil, ""))
	}
	return s.TestPlan(f.product, "regression", "1.0", ids...)
}

func TestRunPlan_RecordsResults(t *testing.T) {
	f := newFixture(t)
	planID := f.plan(t, map[string]entity.Object{
		"login works": shellCase("echo logged in"),
		"broken tool": {
			entity.FieldRunner: entity.String("exec"),
			entity.FieldScript: entity.String("/nonexistent/tool"),
		},
		"logout":     shellCase("echo still here >&2; exit 2"),
		"by a human": {entity.FieldText: entity.String("click around")},
	}, "login works", "broken tool", "logout", "by a human")

	x := newExecutor(t, runner.DriverConfig{}, "run-1")
	res, err := x.RunPlan(context.Background(), f.repo, planID, f.build, nil)
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.Run)
	assert.Equal(t, "regression", res.Plan)
	assert.Equal(t, 1, res.Passed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.RunnerErrors, "runner error does not stop the cases after it")
	assert.Equal(t, 1, res.Manual)
	assert.False(t, res.Cancelled)
	assert.False(t, res.OK())
	require.Len(t, res.Cases, 3)

	ctx := context.Background()
	want := []struct {
		summary  string
		outcome  string
		exitCode int
	}{
		{"login works", "passed", 0},
		{"broken tool", "runner_error", runner.ExitRunnerError},
		{"logout", "failed", 2},
	}
	for i, w := range want {
		c := res.Cases[i]
		assert.Equal(t, w.summary, c.Summary)
		rec, err := f.repo.Get(ctx, entity.KindCaseResult, c.ResultID)
		require.NoError(t, err)
		assert.Equal(t, entity.String("run-1"), rec.Key[entity.FieldRun])
		assert.Equal(t, entity.String(w.outcome), rec.Fields[entity.FieldOutcome], w.summary)
		assert.Equal(t, entity.Int(w.exitCode), rec.Fields[entity.FieldExitCode], w.summary)
		assert.Equal(t, []string{c.CaseID}, rec.Links[entity.LinkCase])
		assert.Equal(t, []string{f.build}, rec.Links[entity.LinkBuild])
	}

	first, err := f.repo.Get(ctx, entity.KindCaseResult, res.Cases[0].ResultID)
	require.NoError(t, err)
	assert.Equal(t, entity.String("logged in\n"), first.Fields[entity.FieldStdout])
	last, err := f.repo.Get(ctx, entity.KindCaseResult, res.Cases[2].ResultID)
	require.NoError(t, err)
	assert.Equal(t, entity.String("still here\n"), last.Fields[entity.FieldStderr])

	pr, err := f.repo.Get(ctx, entity.KindPlanResult, res.PlanResultID)
	require.NoError(t, err)
	assert.Equal(t, entity.String("run-1"), pr.Key[entity.FieldSummary])
	assert.Equal(t, entity.String("2024-01-01T00:00:00Z"), pr.Fields[entity.FieldStarted])
	assert.NotContains(t, pr.Fields, entity.FieldNotes)
	assert.Equal(t, []string{
		res.Cases[0].ResultID, res.Cases[1].ResultID, res.Cases[2].ResultID,
	}, pr.Links[entity.LinkResults])
	assert.Equal(t, []string{planID}, pr.Links[entity.LinkPlan])
}

func TestRunPlan_ModuleInternalError(t *testing.T) {
	f := newFixture(t)
	planID := f.plan(t, map[string]entity.Object{
		"self test": {
			entity.FieldRunner: entity.String("module"),
			entity.FieldScript: entity.String("dummy.sh"),
		},
	}, "self test")

	x := newExecutor(t, runner.DriverConfig{Env: runner.Env{runner.EnvTestMode: "raise"}}, "run-1")
	res, err := x.RunPlan(context.Background(), f.repo, planID, f.build, nil)
	require.NoError(t, err)

	require.Len(t, res.Cases, 1)
	assert.Equal(t, runner.ExitRunnerError, res.Cases[0].Outcome.ExitCode)
	rec, err := f.repo.Get(context.Background(), entity.KindCaseResult, res.Cases[0].ResultID)
	require.NoError(t, err)
	stderr, _ := rec.Fields[entity.FieldStderr].(entity.String)
	assert.Contains(t, string(stderr), "internal error: dummy module raised on request")
}

func TestRunPlan_UnknownRunnerBeforeAnyWork(t *testing.T) {
	f := newFixture(t)
	planID := f.plan(t, map[string]entity.Object{
		"first":  shellCase("echo ok"),
		"second": {entity.FieldRunner: entity.String("robot"), entity.FieldScript: entity.String("suite.robot")},
	}, "first", "second")
	before := f.repo.Len()

	x := newExecutor(t, runner.DriverConfig{}, "run-1")
	_, err := x.RunPlan(context.Background(), f.repo, planID, f.build, nil)

	require.Error(t, err)
	assert.True(t, entity.IsConfiguration(err))
	assert.Contains(t, err.Error(), `unknown runner "robot"`)
	assert.Equal(t, before, f.repo.Len(), "nothing recorded")
}

func TestRunPlan_MissingEntities(t *testing.T) {
	f := newFixture(t)
	planID := f.plan(t, map[string]entity.Object{"a": shellCase("true")}, "a")
	x := newExecutor(t, runner.DriverConfig{})

	_, err := x.RunPlan(context.Background(), f.repo, "no-such-plan", f.build, nil)
	assert.True(t, entity.IsStore(err))
	assert.True(t, errors.Is(err, entity.ErrNotFound))

	_, err = x.RunPlan(context.Background(), f.repo, planID, "no-such-build", nil)
	assert.True(t, entity.IsStore(err))
}

func TestRunPlan_StoreFailure(t *testing.T) {
	f := newFixture(t)
	planID := f.plan(t, map[string]entity.Object{"a": shellCase("true")}, "a")
	f.repo.SetFailure(testutil.FailOn(testutil.OpCreate, entity.KindCaseResult, entity.FieldRun, "run-1"))

	x := newExecutor(t, runner.DriverConfig{}, "run-1")
	_, err := x.RunPlan(context.Background(), f.repo, planID, f.build, nil)

	require.Error(t, err)
	assert.True(t, entity.IsStore(err))
	assert.True(t, errors.Is(err, testutil.ErrInjected))
}

func TestRunPlan_StoreFailureKeepsRecordedCases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	planID := f.plan(t, map[string]entity.Object{
		"a": shellCase("true"),
		"b": shellCase("true"),
		"c": shellCase("true"),
	}, "a", "b", "c")

	created := 0
	f.repo.SetFailure(func(op testutil.Op, kind entity.Kind, _ entity.Object) error {
		if op != testutil.OpCreate || kind != entity.KindCaseResult {
			return nil
		}
		created++
		if created > 1 {
			return testutil.ErrInjected
		}
		return nil
	})

	x := newExecutor(t, runner.DriverConfig{}, "run-1")
	_, err := x.RunPlan(ctx, f.repo, planID, f.build, nil)
	require.Error(t, err)
	assert.True(t, entity.IsStore(err))
	assert.ErrorIs(t, err, testutil.ErrInjected)

	results, err := f.repo.List(ctx, entity.KindCaseResult)
	require.NoError(t, err)
	require.Len(t, results, 1)

	plans, err := f.repo.List(ctx, entity.KindPlanResult)
	require.NoError(t, err)
	require.Len(t, plans, 1, "recorded case results stay linked from a plan result")
	assert.Equal(t, []string{results[0].ID}, plans[0].Links[entity.LinkResults])
	notes, _ := plans[0].Fields[entity.FieldNotes].(entity.String)
	assert.True(t, strings.HasPrefix(string(notes), "aborted after 1 of 3 cases: "), string(notes))
}

func TestRunPlan_CancelBetweenCases(t *testing.T) {
	f := newFixture(t)
	planID := f.plan(t, map[string]entity.Object{
		"a": shellCase("echo a"),
		"b": shellCase("echo b"),
		"c": shellCase("echo c"),
	}, "a", "b", "c")

	var mon *monitor.Tracker
	mon = monitor.New(discardLogger(), monitor.Observer{
		Progress: func(done, total int) {
			if done == 1 {
				mon.RequestCancel()
			}
		},
	})

	x := newExecutor(t, runner.DriverConfig{}, "run-1")
	res, err := x.RunPlan(context.Background(), f.repo, planID, f.build, mon)
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	require.Len(t, res.Cases, 1)
	assert.Equal(t, "a", res.Cases[0].Summary)
	assert.Equal(t, []string{`run testcase "a"`}, mon.Steps())

	pr, err := f.repo.Get(context.Background(), entity.KindPlanResult, res.PlanResultID)
	require.NoError(t, err)
	assert.Equal(t, entity.String("cancelled after 1 of 3 cases"), pr.Fields[entity.FieldNotes])
	assert.Len(t, pr.Links[entity.LinkResults], 1)
}

func TestRunPlan_CancelKillsCaseInFlight(t *testing.T) {
	f := newFixture(t)
	planID := f.plan(t, map[string]entity.Object{
		"hangs": {
			entity.FieldRunner: entity.String("module"),
			entity.FieldScript: entity.String("dummy.sh"),
		},
		"never runs": shellCase("echo nope"),
	}, "hangs", "never runs")

	mon := monitor.New(discardLogger(), monitor.Observer{})
	timer := time.AfterFunc(300*time.Millisecond, mon.RequestCancel)
	defer timer.Stop()

	x := newExecutor(t, runner.DriverConfig{Env: runner.Env{runner.EnvTestMode: "hang"}}, "run-1")
	start := time.Now()
	res, err := x.RunPlan(context.Background(), f.repo, planID, f.build, mon)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, res.Cancelled)
	require.Len(t, res.Cases, 1)
	assert.Equal(t, runner.ExitRunnerError, res.Cases[0].Outcome.ExitCode)
	assert.Equal(t, 1, res.RunnerErrors)
}

func TestRunPlan_GeneratesRunName(t *testing.T) {
	f := newFixture(t)
	planID := f.plan(t, map[string]entity.Object{"a": shellCase("true")}, "a")
	x := newExecutor(t, runner.DriverConfig{})

	res, err := x.RunPlan(context.Background(), f.repo, planID, f.build, nil)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(res.Run, "run-"), res.Run)
	parsed, err := uuid.Parse(strings.TrimPrefix(res.Run, "run-"))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestRunPlanAs_RunNameReusedIsStoreError(t *testing.T) {
	f := newFixture(t)
	planID := f.plan(t, map[string]entity.Object{"a": shellCase("true")}, "a")
	x := newExecutor(t, runner.DriverConfig{})

	_, err := x.RunPlanAs(context.Background(), f.repo, planID, f.build, "nightly", nil)
	require.NoError(t, err)

	_, err = x.RunPlanAs(context.Background(), f.repo, planID, f.build, "nightly", nil)
	require.Error(t, err)
	assert.True(t, entity.IsStore(err), "results are keyed by run name")
}

func TestRunPlan_ArgumentsExtendScript(t *testing.T) {
	f := newFixture(t)
	fields := shellCase("echo")
	fields[entity.FieldArguments] = entity.List{entity.String("--fast"), entity.String("smoke")}
	planID := f.plan(t, map[string]entity.Object{"args": fields}, "args")

	assert.Equal(t, "echo --fast smoke", specifier(fields))

	x := newExecutor(t, runner.DriverConfig{}, "run-1")
	res, err := x.RunPlan(context.Background(), f.repo, planID, f.build, nil)
	require.NoError(t, err)
	require.Len(t, res.Cases, 1)
	assert.Equal(t, "--fast smoke\n", res.Cases[0].Outcome.Stdout)
}

func TestNew_RequiresDriver(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.True(t, entity.IsConfiguration(err))
}

func TestResultSummary(t *testing.T) {
	res := &Result{Run: "run-1"}
	res.add(CaseRun{Summary: "login works", Outcome: runner.Outcome{ExitCode: 0}})
	res.add(CaseRun{Summary: "logout", Outcome: runner.Outcome{ExitCode: 2}})
	res.Manual = 1

	want := "Ran 2 cases: 1 passed, 1 failed, 0 runner errors\n" +
		"  passed       exit=0   login works\n" +
		"  failed       exit=2   logout\n" +
		"  1 manual cases not run\n"
	assert.Equal(t, want, res.Summary(nil))

	res.Cancelled = true
	assert.True(t, strings.HasPrefix(res.Summary(nil), "Run cancelled after 2 cases\n"))
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("run-a", "run-b")
	assert.Equal(t, "run-a", g.Generate())
	assert.Equal(t, "run-b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

var _ repository.Repository = (*testutil.MemoryRepository)(nil)
