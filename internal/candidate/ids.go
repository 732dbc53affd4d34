package candidate

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// LineageGenerator produces lineage identifiers.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type LineageGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 lineage ids.
//
// Sorting lineage ids sorts them by creation time, which keeps artifact
// listings in the order the run produced them.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined lineage ids for testing.
//
// Once the provided ids run out it continues with "<prefix>-N" so long
// scenarios do not need to enumerate every id up front.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	ids    []string
	idx    int
	prefix string
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids, prefix: "lineage"}
}

// NewSequenceGenerator creates a generator yielding prefix-1, prefix-2, ...
func NewSequenceGenerator(prefix string) *FixedGenerator {
	return &FixedGenerator{prefix: prefix}
}

// Generate returns the next predetermined id.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.idx++
	if g.idx <= len(g.ids) {
		return g.ids[g.idx-1]
	}
	return g.prefix + "-" + strconv.Itoa(g.idx)
}
