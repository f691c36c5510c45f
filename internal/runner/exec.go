package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/roach88/issai/internal/entity"
)

// waitDelay bounds how long Wait keeps reading output after the process
// was killed or exited while descendants still hold its pipes.
const waitDelay = 2 * time.Second

// command runs argv to completion and captures both streams fully.
// Output written before a kill is kept.
func command(ctx context.Context, dir string, env []string, argv []string) Outcome {
	start := time.Now()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.WaitDelay = waitDelay
	killGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Outcome{Duration: time.Since(start)}

	var exitErr *exec.ExitError
	switch {
	case err != nil && ctx.Err() != nil:
		out.ExitCode = ExitRunnerError
		out.Err = entity.NewRunnerError(fmt.Sprintf("%s interrupted", argv[0]), ctx.Err())
	case errors.Is(err, exec.ErrWaitDelay):
		// Exited normally; a descendant kept the pipes open
		out.ExitCode = cmd.ProcessState.ExitCode()
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
		if out.ExitCode < 0 {
			out.ExitCode = ExitRunnerError
			out.Err = entity.NewRunnerError(fmt.Sprintf("%s terminated: %s", argv[0], exitErr.ProcessState), nil)
		}
	case err != nil:
		out.ExitCode = ExitRunnerError
		out.Err = entity.NewRunnerError(fmt.Sprintf("could not run %s", argv[0]), err)
	}

	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	// An interrupted process is annotated by whoever knows why it was killed
	if out.Err != nil && out.ExitCode == ExitRunnerError && ctx.Err() == nil {
		out.Stderr = appendLine(out.Stderr, out.Err.Error())
	}
	return out
}

// environ merges the process environment with layers of overrides. Later
// layers win. Inherited variables keep their order; new ones are appended
// sorted by name.
func environ(env Env, adapterVars map[string]string) []string {
	merged := map[string]string{}
	maps.Copy(merged, adapterVars)
	maps.Copy(merged, env)

	base := os.Environ()
	out := make([]string, 0, len(base)+len(merged))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, overridden := merged[name]; overridden {
			continue
		}
		out = append(out, kv)
	}
	for _, name := range slices.Sorted(maps.Keys(merged)) {
		out = append(out, name+"="+merged[name])
	}
	return out
}

// failed is an outcome for a test that never reached a process.
func failed(start time.Time, msg string) Outcome {
	return failedErr(start, entity.NewRunnerError(msg, nil))
}

func failedErr(start time.Time, err error) Outcome {
	return Outcome{
		ExitCode: ExitRunnerError,
		Stderr:   appendLine("", err.Error()),
		Duration: time.Since(start),
		Err:      err,
	}
}

func appendLine(s, line string) string {
	if s != "" && !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s + line + "\n"
}
