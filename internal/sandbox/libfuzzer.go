package sandbox

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"fortio.org/safecast"

	"github.com/roach88/harnessforge/internal/coverage"
)

const coveredFuncPrefix = "COVERED_FUNC:"

// coveredFunc matches libFuzzer's -print_coverage lines:
//
//	COVERED_FUNC: hits: 12 edges: 3/5 parse_header /src/parser.c:41
//
// The function may contain spaces (C++ signatures) so the file:line pair is
// anchored at the end of the line.
var coveredFunc = regexp.MustCompile(`^COVERED_FUNC: hits: (\d+) edges: \d+/\d+ (.+) (\S+):(\d+)\s*$`)

// ParseCoverage extracts a coverage report from fuzzer output.
// File paths under root are made relative to it.
func ParseCoverage(output, root string) coverage.Report {
	report := make(coverage.Report)
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		m := coveredFunc.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		raw, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		hits, err := safecast.Conv[uint64](raw)
		if err != nil {
			continue
		}
		line, err := strconv.Atoi(m[4])
		if err != nil {
			continue
		}
		file := m[3]
		if root != "" {
			if rel, err := filepath.Rel(root, file); err == nil && !strings.HasPrefix(rel, "..") {
				file = filepath.ToSlash(rel)
			}
		}
		report[coverage.Location(strings.TrimSpace(m[2]), file, line)] += hits
	}
	return report
}

// libFuzzerTimeout reports whether output carries libFuzzer's hang report.
func libFuzzerTimeout(output string) bool {
	return strings.Contains(output, "ERROR: libFuzzer: timeout")
}

const maxSampleBytes = 1 << 20

// collectCorpus reads up to limit corpus files in name order, skipping the seed.
func collectCorpus(dir string, limit int) [][]byte {
	if limit <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && e.Name() != seedName {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	var samples [][]byte
	for _, name := range names {
		if len(samples) == limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil || len(data) > maxSampleBytes {
			continue
		}
		samples = append(samples, data)
	}
	return samples
}
