package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/issai/internal/entity"
)

func TestExport_WritesDocument(t *testing.T) {
	f := seedStore(t)
	out := filepath.Join(t.TempDir(), "shop.json")

	stdout, _, err := execute(t, "--db", f.db, "export", "product", f.product, "-o", out)
	require.NoError(t, err)

	assert.Contains(t, stdout, "Exported 4 entities to "+out)
	assert.Contains(t, stdout, "testcase")
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"format": "issai-document"`)
}

func TestExport_JSONOutput(t *testing.T) {
	f := seedStore(t)
	out := filepath.Join(t.TempDir(), "smoke.yaml")

	stdout, _, err := execute(t, "--db", f.db, "--format", "json", "export", "testplan", f.plan, "-o", out)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   exportReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, out, resp.Data.Path)
	assert.Equal(t, map[string]int{"testplan": 1, "product": 1, "testcase": 2}, resp.Data.Counts)
}

func TestExport_GermanSummary(t *testing.T) {
	f := seedStore(t)
	out := filepath.Join(t.TempDir(), "shop.json")

	stdout, _, err := execute(t, "--db", f.db, "--locale", "de", "export", "product", f.product, "-o", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "4 Entitäten nach "+out+" exportiert")
}

func TestExport_Errors(t *testing.T) {
	f := seedStore(t)
	out := filepath.Join(t.TempDir(), "x.json")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unknown kind", []string{"export", "widget", "1", "-o", out}, "unknown entity kind"},
		{"not exportable", []string{"export", "build", f.build, "-o", out}, "cannot export"},
		{"build without results", []string{"export", "testplan", f.plan, "-o", out, "--build", "nightly-42"}, "requires results"},
		{"missing root", []string{"export", "product", "999", "-o", out}, "read export root"},
		{"missing output", []string{"export", "product", f.product}, `"output" not set`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, append([]string{"--db", f.db}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, ExitFailure, GetExitCode(err))
		})
	}
}

func TestImport_RoundTripIntoFreshStore(t *testing.T) {
	f := seedStore(t)
	out := filepath.Join(t.TempDir(), "shop.json")
	_, _, err := execute(t, "--db", f.db, "export", "product", f.product, "-o", out)
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "target.db")
	stdout, _, err := execute(t, "--db", target, "import", out, "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Imported 4 entities")
	assert.Regexp(t, `testcase\s+created=2 updated=0`, stdout)

	// Importing again changes nothing
	stdout, _, err = execute(t, "--db", target, "import", out)
	require.NoError(t, err)
	assert.Regexp(t, `testcase\s+created=0 updated=0 unchanged=2`, stdout)

	listed, _, err := execute(t, "--db", target, "--format", "json", "list", "testcase")
	require.NoError(t, err)
	var resp struct {
		Data []listEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(listed), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "login works", resp.Data[0].Key["summary"])
}

func TestImport_DryRun(t *testing.T) {
	f := seedStore(t)
	out := filepath.Join(t.TempDir(), "shop.json")
	_, _, err := execute(t, "--db", f.db, "export", "product", f.product, "-o", out)
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "target.db")
	stdout, _, err := execute(t, "--db", target, "import", out, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Dry run: 4 entities planned, nothing written")

	listed, _, err := execute(t, "--db", target, "--format", "json", "list", "product")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, listed)
}

func TestImport_Errors(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"format":"issai-document","version":1,"root":1,"entities":{"1":{"kind":"testcase","key":{"summary":"s"},"links":{"product":[9]}}}}`), 0o644))
	valid := filepath.Join(dir, "valid.json")
	require.NoError(t, os.WriteFile(valid, []byte(`{"format":"issai-document","version":1,"root":1,"entities":{"1":{"kind":"product","key":{"name":"p"}}}}`), 0o644))

	_, _, err := execute(t, "--db", filepath.Join(dir, "t.db"), "import", broken)
	require.Error(t, err)
	assert.True(t, entity.IsStructural(err), "got %v", err)

	_, _, err = execute(t, "--db", filepath.Join(dir, "t.db"), "import", valid, "--merge-mode", "replace")
	require.Error(t, err)
	assert.True(t, entity.IsConfiguration(err), "got %v", err)
}

func TestRun_RecordsResults(t *testing.T) {
	f := seedStore(t)

	stdout, _, err := execute(t, "--db", f.db, "--format", "json", "run", f.plan, f.build, "--run-name", "r1")
	require.NoError(t, err)

	var resp struct {
		Data runReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "r1", resp.Data.Run)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Cases, 2)
	assert.Equal(t, caseEntry{Summary: "login works", Runner: "shell", ExitCode: 0, Result: "passed"}, resp.Data.Cases[0])
	assert.Equal(t, 3, resp.Data.Cases[1].ExitCode)
	assert.Equal(t, "failed", resp.Data.Cases[1].Result)

	listed, _, err := execute(t, "--db", f.db, "--format", "json", "list", "caseresult")
	require.NoError(t, err)
	var results struct {
		Data []listEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(listed), &results))
	assert.Len(t, results.Data, 2)
}

func TestRun_TextSummary(t *testing.T) {
	f := seedStore(t)

	stdout, _, err := execute(t, "--db", f.db, "run", f.plan, f.build)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Ran 2 cases: 1 passed, 1 failed, 0 runner errors")
	assert.Contains(t, stdout, "logout works")
}

func TestRun_Errors(t *testing.T) {
	f := seedStore(t)

	_, _, err := execute(t, "--db", f.db, "run", "999", f.build)
	require.Error(t, err)
	assert.True(t, entity.IsStore(err), "got %v", err)

	_, _, err = execute(t, "--db", f.db, "run", f.plan, f.build, "--timeout=-1s")
	require.Error(t, err)
	assert.True(t, entity.IsConfiguration(err), "got %v", err)
}

func TestValidate(t *testing.T) {
	f := seedStore(t)
	dir := t.TempDir()
	good := filepath.Join(dir, "shop.json")
	_, _, err := execute(t, "--db", f.db, "export", "product", f.product, "-o", good)
	require.NoError(t, err)

	stdout, _, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, stdout, good+": valid document, 4 entities")
	assert.Contains(t, stdout, "KIND")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"format":"other","version":1,"root":1,"entities":{}}`), 0o644))

	stdout, _, err = execute(t, "validate", good, bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 of 2 documents invalid")
	assert.Contains(t, stdout, "error: "+bad)
}

func TestRunners_ListsBuiltinsAndAliases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issai.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runner:\n  aliases:\n    smoke:\n      builtin: pytest\n      args: [\"-m\", \"smoke\"]\n"), 0o644))

	stdout, _, err := execute(t, "--config", path, "--format", "json", "runners")
	require.NoError(t, err)

	var resp struct {
		Data []runnerEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Contains(t, resp.Data, runnerEntry{Name: "smoke", Builtin: "pytest", Args: []string{"-m", "smoke"}})
	assert.Contains(t, resp.Data, runnerEntry{Name: "shell", Builtin: "shell"})

	text, _, err := execute(t, "--config", path, "runners")
	require.NoError(t, err)
	assert.Contains(t, text, "RUNNER")
	assert.Contains(t, text, "-m smoke")
}

func TestList_UnknownKind(t *testing.T) {
	_, _, err := execute(t, "--db", filepath.Join(t.TempDir(), "x.db"), "list", "widget")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entity kind")
}
