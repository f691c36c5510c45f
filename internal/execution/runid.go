package execution

import (
	"sync"

	"github.com/google/uuid"
)

// RunIDGenerator names plan runs.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable run names of the form
// "run-<uuidv7>", so runs of one plan sort by start time.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate panics if the random source fails.
func (UUIDv7Generator) Generate() string {
	return "run-" + uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined run names for tests.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu    sync.Mutex
	names []string
	idx   int
}

// NewFixedGenerator creates a generator that returns names in order.
func NewFixedGenerator(names ...string) *FixedGenerator {
	return &FixedGenerator{names: names}
}

// Generate returns the next name. Panics once all names are consumed, so
// a test that starts more runs than expected fails loudly.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.names) {
		panic("FixedGenerator: all run names exhausted")
	}
	name := g.names[g.idx]
	g.idx++
	return name
}
