package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/harnessforge/internal/artifact"
	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/coverage"
)

// Record is one indexed artifact.
type Record struct {
	Seq         int64               `json:"seq"`
	RunID       string              `json:"run_id"`
	Lineage     candidate.LineageID `json:"lineage"`
	Candidate   candidate.ID        `json:"candidate"`
	Generation  int64               `json:"generation"`
	Kind        artifact.Kind       `json:"kind"`
	Status      candidate.Status    `json:"status"`
	Tag         string              `json:"tag"`
	Reason      string              `json:"reason,omitempty"`
	Language    candidate.Language  `json:"language"`
	Targets     []string            `json:"targets"`
	SourcePath  string              `json:"source_path"`
	LogPath     string              `json:"log_path,omitempty"`
	CorpusCount int                 `json:"corpus_count"`
	Coverage    coverage.Report     `json:"-"`
	Locations   int                 `json:"locations"`
	Hits        int64               `json:"hits"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Filter narrows ListArtifacts. Zero fields match everything.
type Filter struct {
	RunID  string
	Kind   artifact.Kind
	Status candidate.Status
}

// ListArtifacts returns indexed artifacts in emission order.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListArtifacts(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	query := `
		SELECT seq, run_id, lineage, candidate, generation, kind, status, tag, reason,
		       language, targets, source_path, log_path, corpus_count, coverage,
		       locations, hits, created_at
		FROM artifacts`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		r                            Record
		lineage, cand, kind, status  string
		language, targets, createdAt string
		blob                         []byte
	)
	err := rows.Scan(&r.Seq, &r.RunID, &lineage, &cand, &r.Generation, &kind, &status, &r.Tag,
		&r.Reason, &language, &targets, &r.SourcePath, &r.LogPath, &r.CorpusCount, &blob,
		&r.Locations, &r.Hits, &createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("scan artifact: %w", err)
	}

	r.Lineage = candidate.LineageID(lineage)
	r.Candidate = candidate.ID(cand)
	r.Kind = artifact.Kind(kind)
	r.Status = candidate.Status(status)
	r.Language = candidate.Language(language)
	if err := json.Unmarshal([]byte(targets), &r.Targets); err != nil {
		return Record{}, fmt.Errorf("scan artifact %d: targets: %w", r.Seq, err)
	}
	if r.Coverage, err = decodeCoverage(blob); err != nil {
		return Record{}, fmt.Errorf("scan artifact %d: %w", r.Seq, err)
	}
	if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return Record{}, fmt.Errorf("scan artifact %d: created_at: %w", r.Seq, err)
	}
	return r, nil
}

// GetRun returns the run with the given id, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, runSelect+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// LatestRun returns the most recently started run, or ErrNotFound.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, runSelect+` ORDER BY started_at DESC, id ASC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("latest run: %w", ErrNotFound)
	}
	return run, err
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, runSelect+` ORDER BY started_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

const runSelect = `
		SELECT id, project, language, started_at, finished_at, lineages, candidates,
		       validations, harnesses, exceptions, coverage, expired, cause
		FROM runs`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run                             Run
		language, startedAt, finishedAt string
		blob                            []byte
	)
	err := row.Scan(&run.ID, &run.Project, &language, &startedAt, &finishedAt, &run.Lineages,
		&run.Candidates, &run.Validations, &run.Harnesses, &run.Exceptions, &blob,
		&run.Expired, &run.Cause)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	run.Language = candidate.Language(language)
	if run.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return Run{}, fmt.Errorf("scan run %s: started_at: %w", run.ID, err)
	}
	if finishedAt != "" {
		if run.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
			return Run{}, fmt.Errorf("scan run %s: finished_at: %w", run.ID, err)
		}
	}
	if run.Coverage, err = decodeCoverage(blob); err != nil {
		return Run{}, fmt.Errorf("scan run %s: %w", run.ID, err)
	}
	return run, nil
}

func decodeCoverage(blob []byte) (coverage.Report, error) {
	if len(blob) == 0 {
		return coverage.Report{}, nil
	}
	return coverage.Decode(blob)
}
