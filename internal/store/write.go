package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fortio.org/safecast"

	"github.com/roach88/harnessforge/internal/artifact"
	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/coverage"
)

// Run is one engine run as recorded in the index.
type Run struct {
	ID          string             `json:"id"`
	Project     string             `json:"project"`
	Language    candidate.Language `json:"language"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at,omitzero"`
	Lineages    int                `json:"lineages"`
	Candidates  int                `json:"candidates"`
	Validations int                `json:"validations"`
	Harnesses   int                `json:"harnesses"`
	Exceptions  int                `json:"exceptions"`
	Coverage    coverage.Report    `json:"-"`
	Expired     bool               `json:"expired"`
	Cause       string             `json:"cause,omitempty"`
}

const timeLayout = time.RFC3339Nano

// BeginRun records the start of a run.
// Uses ON CONFLICT(id) DO NOTHING so a retried begin is harmless.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, project, language, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Project,
		string(run.Language),
		run.StartedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun stores a run's summary counters and cumulative coverage.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	blob, err := coverage.Encode(run.Coverage)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?, lineages = ?, candidates = ?, validations = ?,
			harnesses = ?, exceptions = ?, coverage = ?, expired = ?, cause = ?
		WHERE id = ?
	`,
		run.FinishedAt.UTC().Format(timeLayout),
		run.Lineages,
		run.Candidates,
		run.Validations,
		run.Harnesses,
		run.Exceptions,
		blob,
		run.Expired,
		run.Cause,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// SaveArtifact indexes a written artifact.
// Uses ON CONFLICT DO NOTHING: a lineage is recorded at most once per run.
//
// Note: The run referenced by runID must exist (foreign key constraint).
func (s *Store) SaveArtifact(ctx context.Context, runID string, a *artifact.Artifact, paths artifact.Paths) error {
	targets, err := json.Marshal(a.Targets)
	if err != nil {
		return fmt.Errorf("save artifact: marshal targets: %w", err)
	}
	blob, err := coverage.Encode(a.Coverage)
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	hits, err := safecast.Conv[int64](a.Coverage.Total())
	if err != nil {
		return fmt.Errorf("save artifact: hit count: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts
		(run_id, lineage, candidate, generation, kind, status, tag, reason, language,
		 targets, source_path, log_path, corpus_count, coverage, locations, hits, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		runID,
		string(a.Lineage),
		string(a.Candidate),
		a.Generation,
		string(a.Kind),
		string(a.Status),
		a.Tag,
		a.Reason,
		string(a.Language),
		string(targets),
		paths.Source,
		paths.Log,
		len(paths.Corpus),
		blob,
		len(a.Coverage),
		hits,
		a.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}
