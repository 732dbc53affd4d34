// Package service exposes the two operations harnessforge offers its
// callers: Analyze lists a project's target API, Generate runs the
// synthesis loop for it and persists the resulting artifacts.
//
// Both take the path of a configuration file (or a directory holding one).
// Collaborators default to the real implementations: the source extractor,
// the HTTP generation client and the process sandbox. Tests replace them
// through options.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/roach88/harnessforge/internal/artifact"
	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/config"
	"github.com/roach88/harnessforge/internal/engine"
	"github.com/roach88/harnessforge/internal/generation"
	"github.com/roach88/harnessforge/internal/metadata"
	"github.com/roach88/harnessforge/internal/sandbox"
	"github.com/roach88/harnessforge/internal/store"
)

// IndexFile is the run index written inside the output directory.
const IndexFile = "index.db"

// Service runs analyze and generate requests.
type Service struct {
	extractor    metadata.Extractor
	newGenerator func(*config.Config) (generation.Service, error)
	newValidator func(*config.Config, *metadata.Metadata) engine.Validator
	runIDs       candidate.LineageGenerator
	logger       *slog.Logger
	now          func() time.Time
	engineOpts   []engine.EngineOption
}

// Option configures a Service.
type Option func(*Service)

// WithExtractor replaces the metadata extractor.
func WithExtractor(x metadata.Extractor) Option {
	return func(s *Service) {
		s.extractor = x
	}
}

// WithGenerator uses svc for every run instead of building an HTTP client.
func WithGenerator(svc generation.Service) Option {
	return func(s *Service) {
		s.newGenerator = func(*config.Config) (generation.Service, error) { return svc, nil }
	}
}

// WithValidator uses v for every run instead of the process sandbox.
func WithValidator(v engine.Validator) Option {
	return func(s *Service) {
		s.newValidator = func(*config.Config, *metadata.Metadata) engine.Validator { return v }
	}
}

// WithRunIDs sets the run id source. Default: candidate.UUIDv7Generator.
func WithRunIDs(g candidate.LineageGenerator) Option {
	return func(s *Service) {
		s.runIDs = g
	}
}

// WithLogger sets the logger passed to every collaborator.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithTimeSource sets the wall clock used for run and artifact stamps.
func WithTimeSource(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithEngineOptions appends options to every engine the service builds.
func WithEngineOptions(opts ...engine.EngineOption) Option {
	return func(s *Service) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// New creates a Service.
func New(opts ...Option) *Service {
	s := &Service{
		runIDs: candidate.UUIDv7Generator{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.extractor == nil {
		s.extractor = &metadata.SourceExtractor{MaxFiles: metadata.DefaultMaxFiles, Logger: s.logger}
	}
	if s.newGenerator == nil {
		s.newGenerator = s.httpGenerator
	}
	if s.newValidator == nil {
		s.newValidator = s.sandboxValidator
	}
	return s
}

// ErrNoAPIKey is returned when the HTTP collaborator has no credentials.
var ErrNoAPIKey = errors.New("generation api key not set (use " + config.APIKeyEnv + ")")

func (s *Service) httpGenerator(cfg *config.Config) (generation.Service, error) {
	if cfg.Generation.APIKey == "" && cfg.Generation.APIURL == "" {
		return nil, ErrNoAPIKey
	}
	return generation.NewClient(cfg.ClientConfig())
}

func (s *Service) sandboxValidator(cfg *config.Config, md *metadata.Metadata) engine.Validator {
	opts := append(cfg.ValidatorOptions(), sandbox.WithLogger(s.logger))
	return sandbox.NewValidator(cfg.ProjectRoot(), md.SourceFiles, opts...)
}

// AnalyzeReport describes a project's extractable API.
type AnalyzeReport struct {
	Project     string              `json:"project"`
	Language    candidate.Language  `json:"language"`
	Root        string              `json:"root"`
	Config      string              `json:"config"`
	Functions   []metadata.Function `json:"functions"`
	Targets     []string            `json:"targets"`
	Includes    []string            `json:"includes,omitempty"`
	SourceFiles []string            `json:"source_files"`
}

// Analyze loads the configuration at path and extracts the project's
// functions. Extraction failures are PARSE_ERROR RuntimeErrors.
func (s *Service) Analyze(ctx context.Context, path string) (*AnalyzeReport, error) {
	cfg, md, err := s.load(ctx, path)
	if err != nil {
		return nil, err
	}
	return &AnalyzeReport{
		Project:     md.Project,
		Language:    md.Language,
		Root:        md.Root,
		Config:      cfg.Dir,
		Functions:   md.Functions,
		Targets:     md.Targets,
		Includes:    md.Includes,
		SourceFiles: md.SourceFiles,
	}, nil
}

func (s *Service) load(ctx context.Context, path string) (*config.Config, *metadata.Metadata, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	md, err := s.extractor.Extract(ctx, cfg.Source())
	if err != nil {
		var pe *metadata.ParseError
		if errors.As(err, &pe) {
			return nil, nil, engine.NewParseError(err)
		}
		return nil, nil, fmt.Errorf("extract metadata: %w", err)
	}
	return cfg, md, nil
}

// Entry is one persisted artifact.
type Entry struct {
	*artifact.Artifact
	Paths artifact.Paths `json:"paths"`
}

// GenerateReport is the outcome of one Generate call.
type GenerateReport struct {
	RunID       string            `json:"run_id"`
	Project     string            `json:"project"`
	OutputDir   string            `json:"output_dir"`
	Index       string            `json:"index"`
	Seeded      int               `json:"seeded"`
	Harnesses   int               `json:"harnesses"`
	Exceptions  int               `json:"exceptions"`
	Exhausted   int               `json:"exhausted"`
	Covered     int               `json:"covered_locations"`
	Run         *engine.RunReport `json:"-"`
	Artifacts   []Entry           `json:"artifacts"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	SeedFailure string            `json:"seed_failure,omitempty"`
}

// Err reports a run cut short by its budget. It is informational: a
// budget-limited run still produced valid artifacts.
func (r *GenerateReport) Err() error {
	if r.Run == nil {
		return nil
	}
	return r.Run.Err()
}

// Generate runs the synthesis loop for the project configured at path.
//
// Artifacts are written under the configured output directory and indexed
// in its index.db. A collaborator that cannot produce any seed harness is a
// GENERATION_UNAVAILABLE error; a run that seeded at least one lineage
// returns its report even if the deadline cut it short.
func (s *Service) Generate(ctx context.Context, path string) (*GenerateReport, error) {
	cfg, md, err := s.load(ctx, path)
	if err != nil {
		return nil, err
	}

	gen, err := s.newGenerator(cfg)
	if err != nil {
		return nil, engine.NewGenerationError("configure", err)
	}

	out := cfg.OutputPath()
	layout := artifact.Layout{Root: out}
	if err := layout.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("prepare output: %w", err)
	}
	index := filepath.Join(out, IndexFile)
	st, err := store.Open(index)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer st.Close()

	start := s.now()
	runID := s.runIDs.Generate()
	run := store.Run{ID: runID, Project: md.Project, Language: md.Language, StartedAt: start}
	if err := st.BeginRun(ctx, run); err != nil {
		return nil, err
	}

	rec := store.NewRecorder(st, layout, runID)
	opts := append([]engine.EngineOption{
		engine.WithLogger(s.logger),
		engine.WithSink(rec),
		engine.WithTimeSource(s.now),
	}, s.engineOpts...)
	eng := engine.New(md, s.newValidator(cfg, md), gen, cfg.EngineConfig(), opts...)

	result := &GenerateReport{
		RunID:     runID,
		Project:   md.Project,
		OutputDir: out,
		Index:     index,
		StartedAt: start,
	}

	// The deadline covers seeding as well as the loop. It runs on the real
	// clock even when artifact stamps come from an injected time source.
	limits := cfg.BudgetLimits(time.Now())
	seedCtx := ctx
	if !limits.Deadline.IsZero() {
		var cancelSeed context.CancelFunc
		seedCtx, cancelSeed = context.WithDeadline(ctx, limits.Deadline)
		defer cancelSeed()
	}

	var seedErr error
	for _, targets := range seedTargets(md.Targets, cfg.Engine.Seeds) {
		if seedCtx.Err() != nil {
			break
		}
		if _, err := eng.Seed(seedCtx, targets); err != nil {
			s.logger.Warn("seed failed", "targets", targets, "error", err)
			seedErr = err
			continue
		}
		result.Seeded++
	}
	if result.Seeded == 0 {
		run.FinishedAt = s.now()
		if err := st.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			s.logger.Error("finish run failed", "run", runID, "error", err)
		}
		switch {
		case ctx.Err() == nil && errors.Is(seedCtx.Err(), context.DeadlineExceeded):
			seedErr = &engine.RuntimeError{
				Code:    engine.ErrCodeBudgetExhausted,
				Message: "deadline passed before any seed was generated",
				Err:     seedErr,
				Details: map[string]string{"cause": "deadline"},
			}
		case seedErr == nil:
			seedErr = engine.NewGenerationError("synthesize", errors.New("no seeds requested"))
		}
		return nil, seedErr
	}
	if seedErr != nil {
		result.SeedFailure = seedErr.Error()
	}

	report, runErr := eng.Run(ctx, engine.NewBudget(limits))
	result.FinishedAt = s.now()
	result.Run = report
	if report != nil {
		result.Harnesses = report.Count(artifact.KindHarness)
		result.Exceptions = report.Count(artifact.KindException)
		result.Exhausted = report.Exhausted()
		result.Covered = len(report.Coverage)
		for _, a := range report.Artifacts {
			paths, _ := rec.Paths(a.Lineage)
			result.Artifacts = append(result.Artifacts, Entry{Artifact: a, Paths: paths})
		}

		run.FinishedAt = result.FinishedAt
		run.Lineages = report.Lineages
		run.Candidates = report.Candidates
		run.Validations = report.Validations
		run.Harnesses = result.Harnesses
		run.Exceptions = result.Exceptions
		run.Coverage = report.Coverage
		run.Expired = report.Expired
		run.Cause = report.Cause
		if err := st.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			return result, err
		}
	}
	if runErr != nil {
		return result, runErr
	}

	s.logger.Info("generate finished",
		"run", runID,
		"harnesses", result.Harnesses,
		"exceptions", result.Exceptions,
		"exhausted", result.Exhausted,
		"output", out)
	return result, nil
}

// seedTargets spreads n initial lineages over the targets: the first covers
// every target, the rest take one target each in order.
func seedTargets(targets []string, n int) [][]string {
	if n <= 0 || len(targets) == 0 {
		return nil
	}
	out := [][]string{targets}
	for i := 1; i < n; i++ {
		out = append(out, []string{targets[(i-1)%len(targets)]})
	}
	return out
}
