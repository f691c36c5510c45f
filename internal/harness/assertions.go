package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/repository"
)

// AssertionError is returned when an assertion fails.
// It includes the monitor steps to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Steps    []string // Monitor steps for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Steps) > 0 {
		fmt.Fprintf(&buf, "\nSteps:\n")
		for i, step := range e.Steps {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, step)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns failure messages.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(ctx, result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return failures
}

func evaluate(ctx context.Context, result *Result, a Assertion) error {
	switch a.Type {
	case AssertExportCount:
		return assertExportCount(result, a)
	case AssertExportWarning:
		return assertExportWarning(result, a)
	case AssertImportTally:
		return assertImportTally(result, a)
	case AssertImportError:
		return assertImportError(result, a)
	case AssertFinalState:
		return assertFinalState(ctx, result, a)
	case AssertStepOrder:
		return assertStepOrder(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertExportCount(result *Result, a Assertion) error {
	if result.Export == nil {
		return fmt.Errorf("scenario did not export")
	}
	got := result.Export.Counts[entity.Kind(a.Kind)]
	if got != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s entities", *a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d", got),
			Steps:    result.Steps,
		}
	}
	return nil
}

func assertExportWarning(result *Result, a Assertion) error {
	if result.Export == nil {
		return fmt.Errorf("scenario did not export")
	}
	warnings := result.Export.Warnings
	if a.Count != nil && len(warnings) != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d warnings", *a.Count),
			Actual:   fmt.Sprintf("%d: %q", len(warnings), warnings),
		}
	}
	if a.Contains != "" && !anyContains(warnings, a.Contains) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("a warning containing %q", a.Contains),
			Actual:   fmt.Sprintf("%q", warnings),
		}
	}
	return nil
}

func assertImportTally(result *Result, a Assertion) error {
	if result.Import == nil {
		return fmt.Errorf("scenario did not import")
	}
	tally := result.Import.Tallies[entity.Kind(a.Kind)]
	got := map[string]int{
		"created":   tally.Created,
		"updated":   tally.Updated,
		"unchanged": tally.Unchanged,
		"skipped":   tally.Skipped,
		"failed":    tally.Failed,
	}
	for outcome, want := range a.Tally {
		n, ok := got[outcome]
		if !ok {
			return fmt.Errorf("unknown outcome %q", outcome)
		}
		if n != want {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s %s=%d", a.Kind, outcome, want),
				Actual:   fmt.Sprintf("%+v", tally),
				Steps:    result.Steps,
			}
		}
	}
	return nil
}

func assertImportError(result *Result, a Assertion) error {
	if result.Import == nil {
		return fmt.Errorf("scenario did not import")
	}
	msgs := make([]string, 0, len(result.Import.Errors)+len(result.Import.Notes))
	for _, e := range result.Import.Errors {
		msgs = append(msgs, e.Error())
	}
	msgs = append(msgs, result.Import.Notes...)
	if !anyContains(msgs, a.Contains) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("an error or note containing %q", a.Contains),
			Actual:   fmt.Sprintf("%q", msgs),
		}
	}
	return nil
}

// assertFinalState finds exactly one record of kind whose key fields match
// where, then checks expect as a subset of its fields.
func assertFinalState(ctx context.Context, result *Result, a Assertion) error {
	where, err := toObject(a.Where)
	if err != nil {
		return fmt.Errorf("where: %w", err)
	}
	expect, err := toObject(a.Expect)
	if err != nil {
		return fmt.Errorf("expect: %w", err)
	}

	recs, err := result.target.List(ctx, entity.Kind(a.Kind))
	if err != nil {
		return fmt.Errorf("list %s: %w", a.Kind, err)
	}
	var matches []*repository.Record
	for _, rec := range recs {
		if subset(rec.Key, where) {
			matches = append(matches, rec)
		}
	}
	if len(matches) != 1 {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("exactly one %s where %v", a.Kind, a.Where),
			Actual:   fmt.Sprintf("%d records", len(matches)),
		}
	}
	if !subset(matches[0].Fields, expect) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("fields %v", a.Expect),
			Actual:   fmt.Sprintf("%v", entity.ToAny(matches[0].Fields)),
		}
	}
	return nil
}

// assertStepOrder checks that the steps appear in order, each matched as a
// substring, with anything in between.
func assertStepOrder(result *Result, a Assertion) error {
	next := 0
	for _, step := range result.Steps {
		if next < len(a.Steps) && strings.Contains(step, a.Steps[next]) {
			next++
		}
	}
	if next < len(a.Steps) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("steps in order %q", a.Steps),
			Actual:   fmt.Sprintf("missing %q", a.Steps[next]),
			Steps:    result.Steps,
		}
	}
	return nil
}

// subset reports whether every entry of want is present and equal in got.
func subset(got, want entity.Object) bool {
	for k, v := range want {
		if !entity.EqualValues(got[k], v) {
			return false
		}
	}
	return true
}

func anyContains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
