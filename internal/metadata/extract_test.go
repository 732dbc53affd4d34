package metadata

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/harnessforge/internal/candidate"
)

const sampleC = `#include <stdio.h>
#include "parser.h"

int parse_int(const char *str) {
    return str ? 1 : 0;
}

static void helper(int x) {
    if (x) {
        return;
    }
}

char *dup_string(const char *src, size_t len) {
    return 0;
}

void copy_buf(char dest[16], const char *src) {
}
`

const samplePy = `import os

def parse(data: bytes, strict=False) -> int:
    return 0

def _private(x):
    pass

class Reader:
    def read(self, n):
        return n
`

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// TestExtract_CFunctions tests C definition scanning.
func TestExtract_CFunctions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/parser.c", sampleC)
	writeFile(t, root, "src/parser.h", "int parse_int(const char *str);\n")

	md, err := NewSourceExtractor().Extract(context.Background(), Source{
		Root:       root,
		Name:       "demo",
		Language:   candidate.LanguageC,
		SourceDirs: []string{"src"},
	})
	require.NoError(t, err)

	assert.Equal(t, "demo", md.Project)
	assert.Equal(t, []string{"parser.h", "stdio.h"}, md.Includes)
	assert.Equal(t, []string{"src/parser.c"}, md.SourceFiles)

	f, ok := md.Function("parse_int")
	require.True(t, ok)
	assert.Equal(t, "int", f.ReturnType)
	assert.Equal(t, 4, f.Line)
	assert.Equal(t, "src/parser.c", f.File)
	require.Len(t, f.Params, 1)
	assert.Equal(t, Param{Name: "str", Type: "const char *", Pointer: true}, f.Params[0])
	assert.Equal(t, "int parse_int(const char * str)", f.Signature())

	helper, ok := md.Function("helper")
	require.True(t, ok)
	assert.False(t, helper.Public)

	dup, ok := md.Function("dup_string")
	require.True(t, ok)
	assert.Equal(t, "char*", dup.ReturnType)
	require.Len(t, dup.Params, 2)
	assert.Equal(t, "len", dup.Params[1].Name)

	cp, ok := md.Function("copy_buf")
	require.True(t, ok)
	assert.Equal(t, "dest", cp.Params[0].Name)
	assert.True(t, cp.Params[0].Pointer)

	_, ok = md.Function("if")
	assert.False(t, ok)

	assert.Equal(t, []string{"parse_int", "dup_string", "copy_buf"}, md.Targets)
}

// TestExtract_PythonFunctions tests def scanning and privacy.
func TestExtract_PythonFunctions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "lib/reader.py", samplePy)

	md, err := NewSourceExtractor().Extract(context.Background(), Source{
		Root:     root,
		Language: candidate.LanguagePython,
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Base(root), md.Project)
	assert.Equal(t, []string{"parse"}, md.Targets)

	f, ok := md.Function("parse")
	require.True(t, ok)
	assert.Equal(t, "int", f.ReturnType)
	assert.Equal(t, []Param{{Name: "data", Type: "bytes"}, {Name: "strict", Type: "Any"}}, f.Params)

	read, ok := md.Function("read")
	require.True(t, ok)
	assert.False(t, read.Public, "methods are not top-level targets")
}

// TestExtract_FallsBackToRoot tests missing source_dirs.
func TestExtract_FallsBackToRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "parser.c", sampleC)

	md, err := NewSourceExtractor().Extract(context.Background(), Source{
		Root:       root,
		Language:   candidate.LanguageC,
		SourceDirs: []string{"does-not-exist"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"parser.c"}, md.SourceFiles)
}

// TestExtract_ConfiguredTargets tests target selection and validation.
func TestExtract_ConfiguredTargets(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "parser.c", sampleC)

	md, err := NewSourceExtractor().Extract(context.Background(), Source{
		Root:            root,
		Language:        candidate.LanguageC,
		TargetFunctions: []string{"copy_buf", "parse_int"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"copy_buf", "parse_int"}, md.Targets)
	assert.Len(t, md.TargetFunctions(), 2)
	assert.Equal(t, "copy_buf", md.TargetFunctions()[0].Name)

	_, err = NewSourceExtractor().Extract(context.Background(), Source{
		Root:            root,
		Language:        candidate.LanguageC,
		TargetFunctions: []string{"missing_fn"},
	})
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Error(), "missing_fn")
}

// TestExtract_ParseErrors tests unusable projects.
func TestExtract_ParseErrors(t *testing.T) {
	x := NewSourceExtractor()
	ctx := context.Background()

	_, err := x.Extract(ctx, Source{Root: filepath.Join(t.TempDir(), "nope"), Language: candidate.LanguageC})
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)

	empty := t.TempDir()
	_, err = x.Extract(ctx, Source{Root: empty, Language: candidate.LanguageC})
	assert.ErrorAs(t, err, &pe)

	noFuncs := t.TempDir()
	writeFile(t, noFuncs, "types.h", "typedef int handle_t;\n")
	_, err = x.Extract(ctx, Source{Root: noFuncs, Language: candidate.LanguageC})
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Message, "no functions")

	_, err = x.Extract(ctx, Source{Root: empty, Language: "rust"})
	assert.ErrorAs(t, err, &pe)
}

// TestExtract_FileCap tests the source file limit.
func TestExtract_FileCap(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.c", "b.c", "c.c"} {
		writeFile(t, root, name, "int f_"+name[:1]+"(int x) {\n return x;\n}\n")
	}

	x := &SourceExtractor{MaxFiles: 2}
	md, err := x.Extract(context.Background(), Source{Root: root, Language: candidate.LanguageC})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.c", "b.c"}, md.SourceFiles)
	assert.Equal(t, []string{"f_a", "f_b"}, md.Targets)
}
