package monitor

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTracker_RecordsStepsAndProgress(t *testing.T) {
	var observed []string
	var lastDone, lastTotal int
	tr := New(discardLogger(), Observer{
		Step:     func(d string) { observed = append(observed, d) },
		Progress: func(done, total int) { lastDone, lastTotal = done, total },
	})

	tr.ReportStep("export product")
	tr.ReportStep("write document")
	tr.ReportProgress(3, 7)

	assert.Equal(t, []string{"export product", "write document"}, tr.Steps())
	assert.Equal(t, observed, tr.Steps())
	done, total := tr.Progress()
	assert.Equal(t, 3, done)
	assert.Equal(t, 7, total)
	assert.Equal(t, 3, lastDone)
	assert.Equal(t, 7, lastTotal)
}

func TestTracker_Cancel(t *testing.T) {
	tr := New(discardLogger(), Observer{})
	assert.False(t, tr.Cancelled())

	select {
	case <-tr.Done():
		t.Fatal("Done closed before cancel")
	default:
	}

	tr.RequestCancel()
	tr.RequestCancel() // idempotent

	assert.True(t, tr.Cancelled())
	<-tr.Done()
}

func TestTracker_ConcurrentUse(t *testing.T) {
	tr := New(discardLogger(), Observer{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.ReportStep("step")
			tr.ReportProgress(i, 16)
			if i == 8 {
				tr.RequestCancel()
			}
			_ = tr.Cancelled()
		}(i)
	}
	wg.Wait()

	assert.Len(t, tr.Steps(), 16)
	assert.True(t, tr.Cancelled())
}

func TestNop(t *testing.T) {
	m := Nop()
	m.ReportStep("x")
	m.ReportProgress(1, 2)
	m.RequestCancel()
	assert.False(t, m.Cancelled())
	assert.Nil(t, m.Done())
}
