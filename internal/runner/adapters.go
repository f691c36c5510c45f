package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/issai/internal/entity"
)

const (
	defaultPython = "python3"
	defaultShell  = "/bin/sh"
	goBinary      = "go"
)

// runExec runs the specifier as a command line. A relative program path
// containing a separator is resolved against runtimeRoot.
func runExec(ctx context.Context, env Env, root, dir, spec string, extra []string) Outcome {
	argv := strings.Fields(spec)
	if len(argv) == 0 {
		return failed(time.Now(), "exec runner needs a command")
	}
	if strings.ContainsRune(argv[0], filepath.Separator) && !filepath.IsAbs(argv[0]) {
		argv[0] = filepath.Join(root, argv[0])
	}
	argv = append(argv, extra...)
	return command(ctx, dir, environ(env, testRootVars(root)), argv)
}

// runShell hands the specifier to /bin/sh -c.
func runShell(ctx context.Context, env Env, root, dir, spec string, extra []string) Outcome {
	if strings.TrimSpace(spec) == "" {
		return failed(time.Now(), "shell runner needs a script")
	}
	argv := []string{defaultShell, "-c", spec, "issai-shell"}
	argv = append(argv, extra...)
	return command(ctx, dir, environ(env, testRootVars(root)), argv)
}

// runModule runs a shell test module below runtimeRoot. A module reports an
// internal error by exiting with ModuleErrorExit.
func runModule(ctx context.Context, env Env, root, dir, spec string, extra []string) Outcome {
	start := time.Now()
	path, err := resolveModule(root, spec)
	if err != nil {
		return failedErr(start, err)
	}
	argv := append([]string{defaultShell, path}, extra...)
	out := command(ctx, dir, environ(env, testRootVars(root)), argv)
	if out.ExitCode == ModuleErrorExit {
		out.ExitCode = ExitRunnerError
		out.Err = entity.NewRunnerError(fmt.Sprintf("module %s raised an internal error", spec), nil)
	}
	return out
}

// runPython runs a python script below runtimeRoot with runtimeRoot on
// PYTHONPATH.
func runPython(ctx context.Context, env Env, root, dir, spec string, extra []string) Outcome {
	start := time.Now()
	path, err := resolveModule(root, spec)
	if err != nil {
		return failedErr(start, err)
	}
	argv := append([]string{python(env), path}, extra...)
	return command(ctx, dir, environ(env, pythonVars(root)), argv)
}

// runPytest runs pytest on a node id such as tests/test_login.py::test_ok.
func runPytest(ctx context.Context, env Env, root, dir, spec string, extra []string) Outcome {
	if spec == "" {
		return failed(time.Now(), "pytest runner needs a test node id")
	}
	argv := []string{python(env), "-m", "pytest", "-q", "--rootdir", root, spec}
	argv = append(argv, extra...)
	return command(ctx, dir, environ(env, pythonVars(root)), argv)
}

// runUnittest runs a dotted unittest name such as tests.test_login.LoginTest.
func runUnittest(ctx context.Context, env Env, root, dir, spec string, extra []string) Outcome {
	if spec == "" {
		return failed(time.Now(), "unittest runner needs a test name")
	}
	argv := []string{python(env), "-m", "unittest"}
	argv = append(argv, extra...)
	argv = append(argv, spec)
	return command(ctx, dir, environ(env, pythonVars(root)), argv)
}

// runGoTest runs go test on "package" or "package:TestName".
func runGoTest(ctx context.Context, env Env, root, dir, spec string, extra []string) Outcome {
	pkg, fn, _ := strings.Cut(spec, ":")
	if pkg == "" {
		return failed(time.Now(), "gotest runner needs a package")
	}
	argv := []string{goBinary, "test", "-count=1", "-v"}
	argv = append(argv, extra...)
	argv = append(argv, pkg)
	if fn != "" {
		argv = append(argv, "-run", fmt.Sprintf("^%s$", fn))
	}
	if dir == "" {
		dir = root
	}
	return command(ctx, dir, environ(env, testRootVars(root)), argv)
}

// resolveModule finds spec below root. Missing modules are runner errors.
func resolveModule(root, spec string) (string, error) {
	if spec == "" {
		return "", entity.NewRunnerError("no module given", nil)
	}
	path := spec
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, spec)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", entity.NewRunnerError(fmt.Sprintf("module %s not found", spec), err)
	}
	if info.IsDir() {
		return "", entity.NewRunnerError(fmt.Sprintf("module %s is a directory", spec), nil)
	}
	return path, nil
}

func python(env Env) string {
	if p := env[EnvPython]; p != "" {
		return p
	}
	if p := os.Getenv(EnvPython); p != "" {
		return p
	}
	return defaultPython
}

func testRootVars(root string) map[string]string {
	if root == "" {
		return nil
	}
	return map[string]string{EnvTestRoot: root}
}

func pythonVars(root string) map[string]string {
	vars := testRootVars(root)
	if root == "" {
		return vars
	}
	pythonPath := root
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		pythonPath = root + string(os.PathListSeparator) + existing
	}
	vars["PYTHONPATH"] = pythonPath
	return vars
}
