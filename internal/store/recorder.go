package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/harnessforge/internal/artifact"
	"github.com/roach88/harnessforge/internal/candidate"
)

// Recorder writes each emitted artifact to the bucket layout and indexes
// it under one run. It satisfies engine.Sink.
//
// Thread-safety: safe for concurrent use.
type Recorder struct {
	store  *Store
	layout artifact.Layout
	runID  string

	mu    sync.Mutex
	paths map[candidate.LineageID]artifact.Paths
}

// NewRecorder creates a recorder for runID. The index may be nil, in which
// case artifacts are only written to disk.
func NewRecorder(s *Store, layout artifact.Layout, runID string) *Recorder {
	return &Recorder{
		store:  s,
		layout: layout,
		runID:  runID,
		paths:  make(map[candidate.LineageID]artifact.Paths),
	}
}

// Emit writes a's files and indexes them.
func (r *Recorder) Emit(ctx context.Context, a *artifact.Artifact) error {
	paths, err := r.layout.Write(a)
	if err != nil {
		return fmt.Errorf("record %s: %w", a.Name(), err)
	}

	r.mu.Lock()
	r.paths[a.Lineage] = paths
	r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	if err := r.store.SaveArtifact(ctx, r.runID, a, paths); err != nil {
		return fmt.Errorf("record %s: %w", a.Name(), err)
	}
	return nil
}

// Paths returns the files written for lineage, if any.
func (r *Recorder) Paths(lineage candidate.LineageID) (artifact.Paths, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.paths[lineage]
	return p, ok
}
