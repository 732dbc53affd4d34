package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/coverage"
)

const (
	pyCoverageData   = ".coverage"
	pyCoverageReport = "coverage.json"

	// maxReplayInputs caps how many corpus files the replay feeds back.
	maxReplayInputs = 256
)

// pythonCoverage replays the corpus of a finished atheris run under
// coverage.py and reports the project functions it executed. Passing the
// inputs as files makes libFuzzer run each once and exit.
func (v *Validator) pythonCoverage(ctx context.Context, dir, srcName string, env []string, limits Limits) (coverage.Report, error) {
	inputs, err := replayInputs(filepath.Join(dir, corpusDir))
	if err != nil {
		return nil, err
	}
	data := "--data-file=" + pyCoverageData
	include := "--include=" + filepath.Join(v.Root, "*")

	replay := append([]string{v.Python, "-m", "coverage", "run", data, include, srcName}, inputs...)
	report := []string{v.Python, "-m", "coverage", "json", data, "-o", pyCoverageReport}
	for _, argv := range [][]string{replay, report} {
		pr := run(ctx, process{dir: dir, env: env, argv: argv, limits: limits})
		if res := classify(candidate.PhaseRun, pr, limits); res != nil {
			return nil, fmt.Errorf("%s: %s", strings.Join(argv[:4], " "), firstLine(res.Diagnostic))
		}
	}

	raw, err := os.ReadFile(filepath.Join(dir, pyCoverageReport))
	if err != nil {
		return nil, err
	}
	return parsePythonCoverage(raw, dir, v.Root)
}

func replayInputs(corpus string) ([]string, error) {
	entries, err := os.ReadDir(corpus)
	if err != nil {
		return nil, err
	}
	var inputs []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			inputs = append(inputs, filepath.Join(corpusDir, e.Name()))
		}
	}
	slices.Sort(inputs)
	if len(inputs) > maxReplayInputs {
		inputs = inputs[:maxReplayInputs]
	}
	return inputs, nil
}

// pyCoverageJSON is the part of coverage.py's json report we read.
type pyCoverageJSON struct {
	Files map[string]struct {
		ExecutedLines []int `json:"executed_lines"`
	} `json:"files"`
}

// parsePythonCoverage turns a coverage.py json report into a function
// report. Executed lines are attributed to their innermost enclosing def;
// the hit count is the number of executed body lines. Files outside root
// are ignored. Relative paths in the report are relative to dir.
func parsePythonCoverage(raw []byte, dir, root string) (coverage.Report, error) {
	var doc pyCoverageJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode coverage report: %w", err)
	}

	report := make(coverage.Report)
	for path, f := range doc.Files {
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		src, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		owners := pythonLineOwners(string(src))
		for _, line := range f.ExecutedLines {
			if line < 1 || line > len(owners) || owners[line-1].name == "" {
				continue
			}
			o := owners[line-1]
			report[coverage.Location(o.name, filepath.ToSlash(rel), o.line)]++
		}
	}
	return report, nil
}

type pyDef struct {
	name   string
	line   int
	indent int
}

// pythonLineOwners maps each source line to the def whose body contains
// it. Module-level def lines, and lines outside any function, get a zero
// owner.
func pythonLineOwners(src string) []pyDef {
	lines := strings.Split(src, "\n")
	owners := make([]pyDef, len(lines))
	var stack []pyDef
	inString := ""

	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if inString != "" || trimmed == "" || strings.HasPrefix(trimmed, "#") {
			if len(stack) > 0 {
				owners[i] = stack[len(stack)-1]
			}
			inString = stringState(inString, trimmed)
			continue
		}

		indent := len(line) - len(trimmed)
		for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
			stack = stack[:len(stack)-1]
		}
		if len(stack) > 0 {
			owners[i] = stack[len(stack)-1]
		}
		if name, ok := defName(trimmed); ok {
			stack = append(stack, pyDef{name: name, line: i + 1, indent: indent})
		}
		inString = stringState(inString, trimmed)
	}
	return owners
}

func defName(trimmed string) (string, bool) {
	rest, ok := strings.CutPrefix(trimmed, "async ")
	if ok {
		trimmed = strings.TrimLeft(rest, " \t")
	}
	rest, ok = strings.CutPrefix(trimmed, "def ")
	if !ok {
		return "", false
	}
	rest = strings.TrimLeft(rest, " \t")
	end := strings.IndexFunc(rest, func(r rune) bool {
		return r != '_' && !('a' <= r && r <= 'z') && !('A' <= r && r <= 'Z') && !('0' <= r && r <= '9')
	})
	if end <= 0 {
		return "", false
	}
	return rest[:end], true
}

// stringState tracks whether a triple-quoted string is still open after
// line. Open strings keep the indentation stack untouched.
func stringState(open, line string) string {
	for {
		if open != "" {
			i := strings.Index(line, open)
			if i < 0 {
				return open
			}
			line = line[i+3:]
			open = ""
			continue
		}
		dq, sq := strings.Index(line, `"""`), strings.Index(line, `'''`)
		switch {
		case dq < 0 && sq < 0:
			return ""
		case sq < 0 || (dq >= 0 && dq < sq):
			open, line = `"""`, line[dq+3:]
		default:
			open, line = `'''`, line[sq+3:]
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
