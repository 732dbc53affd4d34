package conformance

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/harnessforge/internal/candidate"
)

// TraceSnapshot is the deterministic view of a run compared against golden
// files. Lineages and artifacts are sorted by lineage id so concurrent
// scheduling does not reorder the output.
type TraceSnapshot struct {
	Scenario    string             `json:"scenario"`
	Lineages    []LineageSnapshot  `json:"lineages"`
	Artifacts   []ArtifactSnapshot `json:"artifacts"`
	Validations int                `json:"validations"`
}

// LineageSnapshot is one lineage's transitions, formatted one per line.
type LineageSnapshot struct {
	Lineage candidate.LineageID `json:"lineage"`
	Steps   []string            `json:"steps"`
}

// ArtifactSnapshot drops the fields that carry wall-clock time or source.
type ArtifactSnapshot struct {
	Lineage   candidate.LineageID `json:"lineage"`
	Candidate candidate.ID        `json:"candidate"`
	Kind      string              `json:"kind"`
	Status    candidate.Status    `json:"status"`
	Tag       string              `json:"tag"`
	Reason    string              `json:"reason,omitempty"`
	Locations int                 `json:"locations"`
	Hits      uint64              `json:"hits"`
}

// Snapshot builds the golden view of result.
func Snapshot(name string, result *Result) TraceSnapshot {
	snap := TraceSnapshot{
		Scenario:    name,
		Lineages:    []LineageSnapshot{},
		Artifacts:   []ArtifactSnapshot{},
		Validations: result.Validations,
	}

	index := make(map[candidate.LineageID]int)
	for _, tr := range result.Trace {
		i, ok := index[tr.Lineage]
		if !ok {
			i = len(snap.Lineages)
			index[tr.Lineage] = i
			snap.Lineages = append(snap.Lineages, LineageSnapshot{Lineage: tr.Lineage})
		}
		snap.Lineages[i].Steps = append(snap.Lineages[i].Steps, formatTransition(tr.Candidate, tr.From, tr.To, tr.Reason))
	}
	slices.SortFunc(snap.Lineages, func(a, b LineageSnapshot) int {
		return strings.Compare(string(a.Lineage), string(b.Lineage))
	})

	for _, a := range result.Artifacts {
		var hits uint64
		for _, n := range a.Coverage {
			hits += n
		}
		snap.Artifacts = append(snap.Artifacts, ArtifactSnapshot{
			Lineage:   a.Lineage,
			Candidate: a.Candidate,
			Kind:      string(a.Kind),
			Status:    a.Status,
			Tag:       a.Tag,
			Reason:    a.Reason,
			Locations: len(a.Coverage),
			Hits:      hits,
		})
	}
	slices.SortFunc(snap.Artifacts, func(a, b ArtifactSnapshot) int {
		return strings.Compare(string(a.Lineage), string(b.Lineage))
	})
	return snap
}

// MarshalSnapshot renders a snapshot as indented JSON with a trailing
// newline. HTML escaping is off so transition arrows stay readable.
func MarshalSnapshot(s TraceSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/conformance -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(Snapshot(name, result))
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
