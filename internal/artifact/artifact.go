// Package artifact defines the terminal records a run emits, one per
// lineage, and the on-disk layout they are written to.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/coverage"
)

// Kind is the terminal record type of a lineage. It names the bucket the
// artifact's source is written to.
type Kind string

const (
	KindHarness   Kind = "harness"
	KindException Kind = "exception"
)

// CorpusBucket holds the accepted corpus samples of saved harnesses, one
// subdirectory per artifact. Samples are not artifacts of their own.
const CorpusBucket = "corpus"

// TrailEntry is one validation (or failed generation) in a lineage's history.
type TrailEntry struct {
	Candidate  candidate.ID      `json:"candidate" msgpack:"candidate"`
	Generation int64             `json:"generation" msgpack:"generation"`
	Outcome    candidate.Outcome `json:"outcome,omitempty" msgpack:"outcome"`
	Phase      candidate.Phase   `json:"phase,omitempty" msgpack:"phase"`
	Category   string            `json:"category,omitempty" msgpack:"category"`
	Diagnostic string            `json:"diagnostic,omitempty" msgpack:"diagnostic"`
}

// Artifact is the terminal record of one lineage.
type Artifact struct {
	Kind       Kind                `json:"kind"`
	Lineage    candidate.LineageID `json:"lineage"`
	Candidate  candidate.ID        `json:"candidate"`
	Generation int64               `json:"generation"`
	Status     candidate.Status    `json:"status"`
	Tag        string              `json:"tag"`
	Reason     string              `json:"reason,omitempty"`
	Language   candidate.Language  `json:"language"`
	Source     string              `json:"-"`
	Targets    []string            `json:"targets"`
	Coverage   coverage.Report     `json:"coverage,omitempty"`
	Trail      []TrailEntry        `json:"trail,omitempty"`
	Corpus     [][]byte            `json:"-"`
	CreatedAt  time.Time           `json:"created_at"`
}

// Name is the artifact's base file name: <lineage>-g<generation>.
func (a *Artifact) Name() string {
	return Name(a.Lineage, a.Generation)
}

// Name formats the base file name for a lineage member.
func Name(lineage candidate.LineageID, generation int64) string {
	return fmt.Sprintf("%s-g%d", lineage, generation)
}

// LastDiagnostic returns the most recent diagnostic in the trail.
func (a *Artifact) LastDiagnostic() string {
	for i := len(a.Trail) - 1; i >= 0; i-- {
		if a.Trail[i].Diagnostic != "" {
			return a.Trail[i].Diagnostic
		}
	}
	return ""
}

// Layout maps artifacts onto the output directory.
//
//	<root>/harness/<lineage>-g<N>.<ext>
//	<root>/exception/<lineage>-g<N>.<ext>
//	<root>/exception/<lineage>-g<N>.log
//	<root>/corpus/<lineage>-g<N>/<index>
type Layout struct {
	Root string
}

// Dir returns the bucket directory for kind.
func (l Layout) Dir(kind Kind) string {
	return filepath.Join(l.Root, string(kind))
}

// EnsureDirs creates every bucket directory.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.Dir(KindHarness), l.Dir(KindException), filepath.Join(l.Root, CorpusBucket)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// SourcePath is where the artifact's harness source is written.
func (l Layout) SourcePath(a *Artifact) string {
	return filepath.Join(l.Dir(a.Kind), a.Name()+a.Language.Extension())
}

// LogPath is where an exception's diagnostic trail is written.
func (l Layout) LogPath(a *Artifact) string {
	return filepath.Join(l.Dir(KindException), a.Name()+".log")
}

// CorpusDir is where a harness's corpus samples are written.
func (l Layout) CorpusDir(a *Artifact) string {
	return filepath.Join(l.Root, CorpusBucket, a.Name())
}
