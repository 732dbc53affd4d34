package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/harnessforge/internal/coverage"
)

const sampleCoverage = `INFO: Seed: 1234
COVERED_FUNC: hits: 12 edges: 3/5 parse_header /proj/src/parser.c:41
UNCOVERED_FUNC: hits: 0 edges: 0/4 reset /proj/src/parser.c:90
COVERED_FUNC: hits: 2 edges: 1/1 ns::Reader::read(char const*, unsigned long) /proj/src/reader.cc:7
COVERED_FUNC: hits: 1 edges: 1/1 LLVMFuzzerTestOneInput /tmp/candidate-1/harness.c:3
Done 100 runs in 1 second(s)
`

// TestParseCoverage tests COVERED_FUNC parsing.
func TestParseCoverage(t *testing.T) {
	got := ParseCoverage(sampleCoverage, "/proj")

	want := coverage.Report{}
	want["parse_header@src/parser.c:41"] = 12
	want["ns::Reader::read(char const*, unsigned long)@src/reader.cc:7"] = 2
	want["LLVMFuzzerTestOneInput@/tmp/candidate-1/harness.c:3"] = 1
	assert.Equal(t, want, got)
}

// TestParseCoverage_Empty tests output without coverage lines.
func TestParseCoverage_Empty(t *testing.T) {
	got := ParseCoverage("nothing here\n", "")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

// TestCollectCorpus tests sample ordering, limits and seed skipping.
func TestCollectCorpus(t *testing.T) {
	dir := t.TempDir()
	for name, data := range map[string]string{"seed": "test", "b": "2", "a": "1", "c": "3"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644))
	}

	assert.Equal(t, [][]byte{[]byte("1"), []byte("2")}, collectCorpus(dir, 2))
	assert.Nil(t, collectCorpus(dir, 0))
	assert.Nil(t, collectCorpus(filepath.Join(dir, "missing"), 4))
}
