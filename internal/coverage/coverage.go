// Package coverage models per-run coverage reports and the cumulative map.
//
// Location ids have the form "function@file:line". Reports are plain maps
// from location id to hit count; merging sums counts and the delta of a
// report is the set of locations the cumulative map had never seen.
package coverage

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Report maps location ids to hit counts.
type Report map[string]uint64

// Location formats a location id.
func Location(function, file string, line int) string {
	return fmt.Sprintf("%s@%s:%d", function, file, line)
}

// FunctionOf returns the function part of a location id.
func FunctionOf(location string) string {
	if i := strings.LastIndex(location, "@"); i >= 0 {
		return location[:i]
	}
	return location
}

// Clone returns an independent copy. A nil report clones to an empty one.
func (r Report) Clone() Report {
	out := make(Report, len(r))
	maps.Copy(out, r)
	return out
}

// Total returns the summed hit count.
func (r Report) Total() uint64 {
	var n uint64
	for _, hits := range r {
		n += hits
	}
	return n
}

// Locations returns the location ids in sorted order.
func (r Report) Locations() []string {
	return slices.Sorted(maps.Keys(r))
}

// Functions sums hits per function.
func (r Report) Functions() map[string]uint64 {
	out := make(map[string]uint64)
	for loc, hits := range r {
		out[FunctionOf(loc)] += hits
	}
	return out
}

// Diff returns the locations of r absent from base, with r's hit counts.
func (r Report) Diff(base Report) Report {
	delta := make(Report)
	for loc, hits := range r {
		if _, seen := base[loc]; !seen {
			delta[loc] = hits
		}
	}
	return delta
}

// Merge sums any number of reports into a new report.
// Merge is commutative and associative; inputs are not modified.
func Merge(reports ...Report) Report {
	out := make(Report)
	for _, r := range reports {
		for loc, hits := range r {
			out[loc] += hits
		}
	}
	return out
}

// Encode serializes a report with msgpack for the artifact index.
func Encode(r Report) ([]byte, error) {
	if r == nil {
		r = Report{}
	}
	b, err := msgpack.Marshal(map[string]uint64(r))
	if err != nil {
		return nil, fmt.Errorf("encode coverage: %w", err)
	}
	return b, nil
}

// Decode parses a report written by Encode.
func Decode(b []byte) (Report, error) {
	var m map[string]uint64
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode coverage: %w", err)
	}
	if m == nil {
		m = map[string]uint64{}
	}
	return Report(m), nil
}
