// Package runner executes test cases as external processes.
//
// A runner is a Func that turns a test specifier into a subprocess, waits
// for it and reports a structured Outcome. Built-in runners wrap common
// interpreters and test frameworks. Exit code 0 is success, positive codes
// are the framework's own failure codes and ExitRunnerError means the
// runner itself could not be driven to completion.
package runner

import (
	"context"
	"maps"
	"slices"
	"time"
)

// ExitRunnerError is reported when the process could not start, timed out,
// was cancelled, or the target module raised an error it could not turn
// into a framework exit code. It never means "no tests ran".
const ExitRunnerError = -1

// ModuleErrorExit is the exit code a test module uses to report an internal
// error. The module runner maps it to ExitRunnerError.
const ModuleErrorExit = 125

// Environment variables understood by built-in runners and test modules.
const (
	// EnvTestRoot holds the directory test modules are resolved against.
	EnvTestRoot = "ISSAI_TEST_ROOT"
	// EnvTestMode opts dummy modules into failure injection.
	EnvTestMode = "ISSAI_TEST_MODE"
	// EnvPython overrides the interpreter used by the python runners.
	EnvPython = "ISSAI_PYTHON"
)

// Env holds variables set on top of the inherited process environment.
type Env map[string]string

// Func runs one test. runtimeRoot is where test modules live, workDir is
// the process working directory and specifier names the test in the
// runner's own syntax.
type Func func(ctx context.Context, env Env, runtimeRoot, workDir, specifier string) Outcome

// Outcome is the result of one runner invocation.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration

	// Err explains an ExitRunnerError outcome.
	Err error
}

// Passed reports whether the test succeeded.
func (o Outcome) Passed() bool { return o.ExitCode == 0 }

// adapter is a built-in runner. extra carries fixed arguments from
// registry aliases.
type adapter func(ctx context.Context, env Env, runtimeRoot, workDir, specifier string, extra []string) Outcome

func (a adapter) bind(extra []string) Func {
	extra = slices.Clone(extra)
	return func(ctx context.Context, env Env, runtimeRoot, workDir, specifier string) Outcome {
		return a(ctx, env, runtimeRoot, workDir, specifier, extra)
	}
}

// builtins is fixed at init. Lookups never reflect.
var builtins = map[string]adapter{
	"exec":     runExec,
	"shell":    runShell,
	"module":   runModule,
	"python":   runPython,
	"pytest":   runPytest,
	"unittest": runUnittest,
	"gotest":   runGoTest,
}

// Builtin returns the built-in runner called name.
func Builtin(name string) (Func, bool) {
	a, ok := builtins[name]
	if !ok {
		return nil, false
	}
	return a.bind(nil), true
}

// BuiltinNames lists the built-in runners in sorted order.
func BuiltinNames() []string {
	return slices.Sorted(maps.Keys(builtins))
}
