package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pySource = `import struct


def parse_header(data):
    """Parse a header.

def not_a_function():
    """
    if len(data) < 4:
        return None
    return struct.unpack("<I", data[:4])


class Reader:
    kind = "reader"

    def read(self, data):
        def inner(x):
            return x + 1
        return inner(len(data))


def untouched():
    pass
`

// TestPythonLineOwners tests attribution of lines to enclosing defs.
func TestPythonLineOwners(t *testing.T) {
	owners := pythonLineOwners(pySource)

	assert.Empty(t, owners[0].name, "module import")
	assert.Empty(t, owners[3].name, "def line")
	assert.Equal(t, pyDef{name: "parse_header", line: 4, indent: 0}, owners[6], "docstring line")
	assert.Equal(t, "parse_header", owners[8].name)
	assert.Equal(t, 4, owners[8].line)
	assert.Empty(t, owners[14].name, "class body")
	assert.Equal(t, "inner", owners[18].name)
	assert.Equal(t, "read", owners[19].name)
	assert.Equal(t, 17, owners[19].line)
}

// TestParsePythonCoverage tests conversion of a coverage.py json report.
func TestParsePythonCoverage(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	src := filepath.Join(root, "pkg", "codec.py")
	require.NoError(t, os.WriteFile(src, []byte(pySource), 0o644))
	dir := t.TempDir()

	raw := []byte(`{"meta": {"version": "7.4.0"}, "files": {
		"` + src + `": {"executed_lines": [1, 4, 9, 10, 11, 14, 15, 17, 18, 20, 0, 999]},
		"harness.py": {"executed_lines": [1, 2, 3]},
		"/usr/lib/python3/struct.py": {"executed_lines": [1]}
	}}`)

	report, err := parsePythonCoverage(raw, dir, root)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), report["parse_header@pkg/codec.py:4"])
	assert.Equal(t, uint64(2), report["read@pkg/codec.py:17"])
	assert.NotContains(t, report, "untouched@pkg/codec.py:23")
	assert.Len(t, report, 2)

	_, err = parsePythonCoverage([]byte("not json"), dir, root)
	assert.Error(t, err)
}
