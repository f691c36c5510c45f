package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/issai/internal/entity"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data, "ignored in json mode\n")
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"result": "success"}, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("STORE", "store unavailable", map[string]string{"path": "issai.db"})
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "STORE", resp.Error.Code)
	assert.Equal(t, "store unavailable", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success(struct{}{}, "Imported 3 entities\n")
	require.NoError(t, err)
	assert.Equal(t, "Imported 3 entities\n", buf.String())
}

func TestOutputFormatter_TextErrorGoesToErrWriter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:    "text",
		Writer:    out,
		ErrWriter: errOut,
		Verbose:   true,
	}

	err := formatter.Error("RUNNER", "runner failed", "exit -1")
	require.NoError(t, err)
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Error [RUNNER]: runner failed")
	assert.Contains(t, errOut.String(), "Details: exit -1")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			formatter.VerboseLog("progress: %d/%d", 2, 5)

			if tt.wantLog {
				assert.Contains(t, buf.String(), "progress: 2/5")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "failed")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(7, "custom", errors.New("inner")))
	assert.Equal(t, 7, GetExitCode(wrapped))
	assert.Equal(t, "outer: custom: inner", wrapped.Error())
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "STRUCTURAL", ErrorCode(entity.NewStructuralError(3, "bad link")))
	assert.Equal(t, "CONFIGURATION", ErrorCode(fmt.Errorf("load: %w", entity.NewConfigurationError("bad"))))
	assert.Equal(t, "GENERIC", ErrorCode(errors.New("plain")))
}

func TestCountsTable(t *testing.T) {
	out := countsTable(map[string]int{"testcase": 2, "product": 1})
	assert.Contains(t, out, "KIND")
	assert.Less(t, bytes.Index([]byte(out), []byte("product")), bytes.Index([]byte(out), []byte("testcase")))
}
