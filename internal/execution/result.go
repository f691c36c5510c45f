package execution

import (
	"fmt"
	"strings"

	"golang.org/x/text/message"

	"github.com/roach88/issai/internal/i18n"
	"github.com/roach88/issai/internal/metrics"
	"github.com/roach88/issai/internal/runner"
)

// CaseRun is one executed case.
type CaseRun struct {
	CaseID   string
	Summary  string
	Runner   string
	ResultID string // store id of the recorded caseresult
	Outcome  runner.Outcome
}

// Result describes a finished or cancelled plan run.
type Result struct {
	Run          string
	Plan         string
	PlanResultID string
	Cases        []CaseRun

	Passed       int
	Failed       int
	RunnerErrors int
	Manual       int // cases without a runner, not executed

	Cancelled bool
}

func (r *Result) add(c CaseRun) {
	r.Cases = append(r.Cases, c)
	switch metrics.RunResult(c.Outcome.ExitCode) {
	case metrics.ResultPassed:
		r.Passed++
	case metrics.ResultRunnerError:
		r.RunnerErrors++
	default:
		r.Failed++
	}
}

// OK reports whether every executed case passed.
func (r *Result) OK() bool {
	return !r.Cancelled && r.Failed == 0 && r.RunnerErrors == 0
}

func (r *Result) notes(total int) string {
	if r.Cancelled {
		return fmt.Sprintf("cancelled after %d of %d cases", len(r.Cases), total)
	}
	return ""
}

// Summary renders r for humans.
func (r *Result) Summary(p *message.Printer) string {
	if p == nil {
		p = i18n.Default()
	}
	var b strings.Builder
	if r.Cancelled {
		b.WriteString(p.Sprintf(i18n.MsgRunCancelled, len(r.Cases)))
		b.WriteByte('\n')
	}
	b.WriteString(p.Sprintf(i18n.MsgRunSummary, len(r.Cases), r.Passed, r.Failed, r.RunnerErrors))
	b.WriteByte('\n')
	for _, c := range r.Cases {
		b.WriteString(p.Sprintf(i18n.MsgCaseOutcome, metrics.RunResult(c.Outcome.ExitCode), c.Outcome.ExitCode, c.Summary))
		b.WriteByte('\n')
	}
	if r.Manual > 0 {
		b.WriteString(p.Sprintf(i18n.MsgManualCases, r.Manual))
		b.WriteByte('\n')
	}
	return b.String()
}
