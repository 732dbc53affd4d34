package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/harnessforge/internal/artifact"
	"github.com/roach88/harnessforge/internal/candidate"
	"github.com/roach88/harnessforge/internal/coverage"
	"github.com/roach88/harnessforge/internal/generation"
	"github.com/roach88/harnessforge/internal/metadata"
	"github.com/roach88/harnessforge/internal/mutation"
	"github.com/roach88/harnessforge/internal/repair"
	"github.com/roach88/harnessforge/internal/sandbox"
)

// Validator runs one candidate in the sandbox. Implemented by
// *sandbox.Validator; tests substitute scripted validators.
type Validator interface {
	Validate(ctx context.Context, c *candidate.Candidate, limits sandbox.Limits) *candidate.Result
}

// Sink receives each terminal artifact as soon as its lineage ends.
type Sink interface {
	Emit(ctx context.Context, a *artifact.Artifact) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, a *artifact.Artifact) error

// Emit calls f(ctx, a).
func (f SinkFunc) Emit(ctx context.Context, a *artifact.Artifact) error {
	return f(ctx, a)
}

// Transition records one lineage status change.
type Transition struct {
	Seq       int64               `json:"seq"`
	Lineage   candidate.LineageID `json:"lineage"`
	Candidate candidate.ID        `json:"candidate"`
	From      candidate.Status    `json:"from"`
	To        candidate.Status    `json:"to"`
	Reason    string              `json:"reason,omitempty"`
}

// Default configuration values.
const (
	DefaultConcurrency        = 4
	DefaultQueueSize          = 64
	DefaultRepairBudget       = 3
	DefaultMutationRounds     = 20
	DefaultPlateauThreshold   = 3
	DefaultMaxCombinationSize = 2
	DefaultGenerationSlots    = 2
)

// Termination reasons recorded on artifacts and transitions that are not
// already named by the repair or mutation policies.
const (
	reasonMutated     = "mutated"
	reasonUnavailable = "generation-unavailable"
	reasonDeadline    = "deadline"
	reasonCancelled   = "cancelled"
	reasonStalled     = "stalled"
	reasonStopped     = "engine-stopped"
	reasonStoreError  = "store-error"
)

// Config holds engine tuning.
type Config struct {
	// Concurrency is the number of validation workers.
	Concurrency int

	// QueueSize bounds the validation queue.
	QueueSize int

	// RepairBudget is the default repair attempts per lineage, used when
	// Run is given a nil Budget.
	RepairBudget int

	// MutationRounds is the default global mutation budget, used when Run
	// is given a nil Budget.
	MutationRounds int

	// PlateauThreshold is the number of consecutive successes without new
	// coverage after which a chain stops mutating. Below 1 disables it.
	PlateauThreshold int

	// MaxCombinationSize bounds the target subsets mutation enumerates.
	MaxCombinationSize int

	// GenerationSlots bounds concurrent generation calls.
	GenerationSlots int

	// Retry governs every generation call.
	Retry generation.RetryPolicy

	// Limits is applied to every validation.
	Limits sandbox.Limits
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:        DefaultConcurrency,
		QueueSize:          DefaultQueueSize,
		RepairBudget:       DefaultRepairBudget,
		MutationRounds:     DefaultMutationRounds,
		PlateauThreshold:   DefaultPlateauThreshold,
		MaxCombinationSize: DefaultMaxCombinationSize,
		GenerationSlots:    DefaultGenerationSlots,
		Retry:              generation.DefaultRetryPolicy(),
		Limits:             sandbox.DefaultLimits(),
	}
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = DefaultConcurrency
	}
	if c.QueueSize < 1 {
		c.QueueSize = DefaultQueueSize
	}
	if c.GenerationSlots < 1 {
		c.GenerationSlots = DefaultGenerationSlots
	}
	if c.MaxCombinationSize < 1 {
		c.MaxCombinationSize = DefaultMaxCombinationSize
	}
	if c.Retry.Attempts < 1 {
		c.Retry = generation.DefaultRetryPolicy()
	}
	return c
}

// Engine schedules candidates through validation, repair, and mutation
// until every lineage reaches a terminal status or the budget runs out.
//
// Thread-safety model:
//   - Seed(), SeedSource(), Submit(): safe from any goroutine
//   - Run(): must be called exactly once
//
// All lineage state changes happen under one lock held by the Run loop
// while it handles an event. Validation workers and generation calls run
// outside the lock and report back over channels.
//
// INVARIANTS:
//   - Every lineage ends in exactly one terminal status and emits exactly
//     one artifact.
//   - The validation queue never exceeds QueueSize.
//   - At most GenerationSlots generation calls are in flight.
//   - Coverage merges into the aggregator once per successful validation.
type Engine struct {
	cfg       Config
	md        *metadata.Metadata
	store     *candidate.Store
	validator Validator
	service   generation.Service
	repair    *repair.Policy
	mutation  *mutation.Policy
	agg       *coverage.Aggregator
	ids       candidate.LineageGenerator
	clock     *Clock
	queue     *candidateQueue
	logger    *slog.Logger
	sink      Sink
	observer  func(Transition)
	now       func() time.Time

	results chan validation
	replies chan genReply
	quit    chan struct{}

	started atomic.Bool
	stopped atomic.Bool

	// Guarded by mu.
	mu          sync.Mutex
	lineages    map[candidate.LineageID]*lineageState
	order       []candidate.LineageID
	backlog     []candidate.LineageID
	requests    requestQueue
	inFlight    int // enqueued validations whose result is not yet handled
	genInFlight int
	active      int // non-terminal lineages
	expired     bool
	cause       string
	events      int64
	validations int
	artifacts   []*artifact.Artifact
	emitCtx     context.Context
}

// EngineOption allows configuration of engine collaborators.
type EngineOption func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithLineageGenerator sets the lineage id source.
// Default: candidate.UUIDv7Generator. Tests use candidate.NewSequenceGenerator.
func WithLineageGenerator(g candidate.LineageGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithClock sets the generation clock.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithSink sets where terminal artifacts are delivered.
func WithSink(s Sink) EngineOption {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithObserver registers a callback for every lineage transition. The
// callback runs on the Run loop with the engine lock held and must not call
// back into the engine.
func WithObserver(fn func(Transition)) EngineOption {
	return func(e *Engine) {
		e.observer = fn
	}
}

// WithTimeSource sets the wall clock used to stamp artifacts.
func WithTimeSource(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine for the targets in md.
func New(md *metadata.Metadata, v Validator, svc generation.Service, cfg Config, opts ...EngineOption) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:       cfg,
		md:        md,
		store:     candidate.NewStore(),
		validator: v,
		service:   svc,
		repair:    repair.NewPolicy(svc),
		mutation: mutation.NewPolicy(md, svc, mutation.Options{
			MaxCombinationSize: cfg.MaxCombinationSize,
			PlateauThreshold:   cfg.PlateauThreshold,
		}),
		agg:      coverage.NewAggregator(),
		ids:      candidate.UUIDv7Generator{},
		clock:    NewClock(),
		queue:    newCandidateQueue(cfg.QueueSize),
		logger:   slog.Default(),
		now:      time.Now,
		results:  make(chan validation, cfg.Concurrency),
		replies:  make(chan genReply, cfg.GenerationSlots),
		quit:     make(chan struct{}),
		lineages: make(map[candidate.LineageID]*lineageState),
		emitCtx:  context.Background(),
	}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the candidate store.
func (e *Engine) Store() *candidate.Store {
	return e.store
}

// Coverage returns a snapshot of cumulative coverage.
func (e *Engine) Coverage() coverage.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agg.Snapshot()
}

// Seed asks the collaborator for an initial harness over functions (all
// targets when empty) and submits it as a new lineage. The call blocks for
// the generation round-trip and its retries.
func (e *Engine) Seed(ctx context.Context, functions []string) (candidate.ID, error) {
	if len(functions) == 0 {
		functions = e.md.Targets
	}
	strategy := generation.Initial(functions)
	source, err := generation.Call(ctx, e.cfg.Retry, "synthesize", func(ctx context.Context) (string, error) {
		return e.service.Synthesize(ctx, e.md, strategy)
	})
	if err != nil {
		return "", NewGenerationError("synthesize", err)
	}
	return e.SeedSource(source, functions)
}

// SeedSource opens a new lineage from an existing harness source and
// submits it. When the validation queue is full the lineage waits in the
// backlog and is submitted as capacity frees up.
func (e *Engine) SeedSource(source string, functions []string) (candidate.ID, error) {
	if len(functions) == 0 {
		functions = e.md.Targets
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped.Load() {
		return "", newStoppedError("")
	}

	id := candidate.LineageID(e.ids.Generate())
	c, err := e.store.Add(candidate.Candidate{
		ID:       candidate.NewID(id, e.clock.Next()),
		Lineage:  id,
		Kind:     candidate.KindInitial,
		Language: e.md.Language,
		Source:   source,
		Targets:  slices.Clone(functions),
		Strategy: string(generation.StrategyInitial),
	})
	if err != nil {
		return "", err
	}

	lin := e.track(id, "", c.ID, 0)
	e.mutation.MarkTried(functions)
	e.logger.Info("lineage seeded", "lineage", id, "candidate", c.ID, "targets", functions)
	e.submitOrBacklog(lin)
	return c.ID, nil
}

// Submit queues the head candidate of a Generated lineage for validation.
// Returns a QUEUE_FULL RuntimeError when the queue is at capacity (the
// lineage stays Generated) and ENGINE_STOPPED once the run has ended.
func (e *Engine) Submit(id candidate.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.store.Get(id)
	if !ok {
		return fmt.Errorf("submit: unknown candidate %s", id)
	}
	lin, ok := e.lineages[c.Lineage]
	if !ok || lin.head != id {
		return &RuntimeError{
			Code:      ErrCodeInvalidTransition,
			Message:   "only a lineage head can be submitted",
			Lineage:   string(c.Lineage),
			Candidate: string(id),
		}
	}
	return e.submit(lin)
}

// track registers a new lineage with the loop. Caller holds mu.
func (e *Engine) track(id, origin candidate.LineageID, head candidate.ID, streak int) *lineageState {
	lin := &lineageState{
		id:     id,
		origin: origin,
		head:   head,
		status: candidate.StatusGenerated,
		streak: streak,
	}
	e.lineages[id] = lin
	e.order = append(e.order, id)
	e.active++
	return lin
}

// submit enqueues the lineage head and moves it to Validating. Caller holds mu.
func (e *Engine) submit(lin *lineageState) error {
	if e.stopped.Load() {
		return newStoppedError(string(lin.head))
	}
	if lin.status != candidate.StatusGenerated {
		return &RuntimeError{
			Code:      ErrCodeInvalidTransition,
			Message:   fmt.Sprintf("cannot submit lineage in status %s", lin.status),
			Lineage:   string(lin.id),
			Candidate: string(lin.head),
		}
	}
	if err := e.queue.Enqueue(lin.head); err != nil {
		if errors.Is(err, ErrQueueFull) {
			return newQueueFullError(string(lin.head), e.queue.Capacity())
		}
		return newStoppedError(string(lin.head))
	}
	lin.queued = true
	lin.backlogged = false
	e.inFlight++
	e.transition(lin, candidate.StatusValidating, "submitted")
	return nil
}

// submitOrBacklog submits lin, parking it in the backlog if the queue is
// full. Caller holds mu.
func (e *Engine) submitOrBacklog(lin *lineageState) {
	err := e.submit(lin)
	switch {
	case err == nil:
	case IsQueueFull(err):
		if !lin.backlogged {
			lin.backlogged = true
			e.backlog = append(e.backlog, lin.id)
		}
		e.logger.Debug("validation queue full, lineage backlogged",
			"lineage", lin.id,
			"backlog", len(e.backlog),
		)
	default:
		e.logger.Error("submit failed", "lineage", lin.id, "error", err)
		e.terminate(lin, candidate.StatusBudgetExhausted, reasonStopped)
	}
}

// flushBacklog submits backlogged lineages in order until the queue fills.
// Caller holds mu.
func (e *Engine) flushBacklog() {
	for len(e.backlog) > 0 {
		lin := e.lineages[e.backlog[0]]
		if lin.status != candidate.StatusGenerated {
			e.backlog = e.backlog[1:]
			continue
		}
		if err := e.submit(lin); err != nil {
			if IsQueueFull(err) {
				return
			}
			e.logger.Error("submit failed", "lineage", lin.id, "error", err)
			e.terminate(lin, candidate.StatusBudgetExhausted, reasonStopped)
		}
		e.backlog = e.backlog[1:]
	}
}

// Run drives the engine until every lineage is terminal or the budget is
// spent, then returns the run summary.
//
// A nil budget uses Config.RepairBudget and Config.MutationRounds with no
// deadline. When the deadline passes (or ctx is cancelled) queued and
// pending work is abandoned and marked Budget-Exhausted; validations
// already running are allowed to finish first. Run returns ctx.Err() only
// when the parent context was cancelled.
func (e *Engine) Run(ctx context.Context, budget *Budget) (*RunReport, error) {
	if !e.started.CompareAndSwap(false, true) {
		return nil, &RuntimeError{Code: ErrCodeEngineStopped, Message: "engine already ran", Err: ErrEngineStopped}
	}
	if budget == nil {
		budget = NewBudget(BudgetLimits{
			RepairPerLineage: e.cfg.RepairBudget,
			MutationRounds:   e.cfg.MutationRounds,
		})
	}

	start := time.Now()
	deadline, hasDeadline := budget.Deadline()
	e.logger.Info("engine starting",
		"lineages", len(e.order),
		"workers", e.cfg.Concurrency,
		"queue", e.cfg.QueueSize,
		"generation_slots", e.cfg.GenerationSlots,
		"deadline", deadline,
		"has_deadline", hasDeadline,
	)

	e.mu.Lock()
	e.emitCtx = context.WithoutCancel(ctx)
	e.mu.Unlock()

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()
	budgetCtx, cancelBudget := budget.context(ctx)
	defer cancelBudget()

	g, gctx := errgroup.WithContext(workCtx)
	g.SetLimit(e.cfg.Concurrency)
	for range e.cfg.Concurrency {
		g.Go(func() error {
			e.work(gctx)
			return nil
		})
	}

	expiry := budgetCtx.Done()
	for {
		e.mu.Lock()
		if !e.expired {
			e.flushBacklog()
			e.dispatch(budgetCtx)
			if e.stalled() {
				e.logger.Error("engine stalled with open lineages", "active", e.active)
				e.expire(reasonStalled)
			}
		}
		done := e.finished()
		if done {
			// Stop under the same lock that decided done, so no SeedSource
			// or Submit can open work the loop will never see.
			e.stopped.Store(true)
			e.queue.Close()
		}
		e.mu.Unlock()
		if done {
			break
		}

		select {
		case v := <-e.results:
			e.mu.Lock()
			e.expireIfDone(ctx, budgetCtx)
			e.handleValidation(v, budget)
			e.mu.Unlock()
		case r := <-e.replies:
			e.mu.Lock()
			e.expireIfDone(ctx, budgetCtx)
			e.handleReply(r)
			e.mu.Unlock()
		case <-expiry:
			expiry = nil
			e.mu.Lock()
			e.expireIfDone(ctx, budgetCtx)
			e.mu.Unlock()
		}
	}

	close(e.quit)
	cancelWork()
	if err := g.Wait(); err != nil {
		e.logger.Error("validation worker failed", "error", err)
	}

	report := e.report(budget, time.Since(start))
	e.logger.Info("engine stopped",
		"lineages", report.Lineages,
		"candidates", report.Candidates,
		"validations", report.Validations,
		"harnesses", report.Count(artifact.KindHarness),
		"exceptions", report.Count(artifact.KindException),
		"covered_locations", len(report.Coverage),
		"expired", report.Expired,
		"elapsed", report.Elapsed,
	)

	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}

// work is one validation worker: dequeue, validate, report.
func (e *Engine) work(ctx context.Context) {
	for {
		id, ok := e.queue.TryDequeue()
		if !ok {
			if e.queue.Done() {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-e.queue.Wait():
			}
			continue
		}

		var res *candidate.Result
		if c, found := e.store.Get(id); found {
			res = e.validator.Validate(ctx, c, e.cfg.Limits)
		}
		if res == nil {
			res = &candidate.Result{
				Outcome:    candidate.OutcomeRuntimeCrash,
				Phase:      candidate.PhaseRun,
				Diagnostic: "validator returned no result",
			}
		}

		select {
		case e.results <- validation{id: id, result: res}:
		case <-e.quit:
			return
		}
	}
}

// dispatch starts queued generation requests while slots are free.
// Caller holds mu.
func (e *Engine) dispatch(ctx context.Context) {
	for e.genInFlight < e.cfg.GenerationSlots {
		req, ok := e.requests.pop()
		if !ok {
			return
		}
		lin := e.lineages[req.lineage]
		if lin.status.IsTerminal() {
			continue
		}
		lin.pending = true
		e.genInFlight++
		e.logger.Debug("generation dispatched", "lineage", req.lineage, "op", req.kind)
		go e.generate(ctx, req)
	}
}

// generate performs one generation call outside the lock.
func (e *Engine) generate(ctx context.Context, req *genRequest) {
	var fn func(context.Context) (string, error)
	switch req.kind {
	case requestRepair:
		fn = func(ctx context.Context) (string, error) { return e.repair.Patch(ctx, req.repair) }
	default:
		fn = func(ctx context.Context) (string, error) { return e.mutation.Synthesize(ctx, req.mutation) }
	}
	source, err := generation.Call(ctx, e.cfg.Retry, req.kind.String(), fn)

	select {
	case e.replies <- genReply{req: req, source: source, err: err}:
	case <-e.quit:
	}
}

// handleValidation applies a validation result to its lineage.
// Caller holds mu.
func (e *Engine) handleValidation(v validation, budget *Budget) {
	e.inFlight--
	e.validations++

	c, ok := e.store.Get(v.id)
	if !ok {
		e.logger.Error("result for unknown candidate", "candidate", v.id)
		return
	}
	lin := e.lineages[c.Lineage]
	lin.queued = false
	lin.last = v.result

	if err := e.store.Attach(v.id, v.result); err != nil {
		e.logger.Error("attach result failed", "candidate", v.id, "error", err)
	}

	category := repair.Classify(v.result)
	lin.trail = append(lin.trail, artifact.TrailEntry{
		Candidate:  c.ID,
		Generation: c.Generation,
		Outcome:    v.result.Outcome,
		Phase:      v.result.Phase,
		Category:   string(category),
		Diagnostic: v.result.Diagnostic,
	})

	e.logger.Info("candidate validated",
		"lineage", lin.id,
		"candidate", c.ID,
		"outcome", v.result.Outcome,
		"phase", v.result.Phase,
		"duration", v.result.Duration,
	)

	if !e.transition(lin, v.result.Outcome.Status(), string(v.result.Outcome)) {
		return
	}

	var delta coverage.Report
	if v.result.Outcome == candidate.OutcomeSuccess {
		delta = e.agg.Merge(v.result.Coverage)
		lin.report = v.result.Coverage
		lin.streak = coverage.NextStreak(lin.streak, delta)
	}

	if e.expired {
		e.terminate(lin, candidate.StatusBudgetExhausted, e.cause)
		return
	}

	switch v.result.Outcome {
	case candidate.OutcomeSuccess:
		e.onSuccess(lin, c, v.result, delta, budget)
	case candidate.OutcomeSandboxViolation:
		e.terminate(lin, candidate.StatusSavedException, string(repair.ReasonViolation))
	default:
		e.onFailure(lin, c, v.result, budget)
	}
}

// onFailure routes a failed candidate to repair or to Saved-Exception.
// Caller holds mu.
func (e *Engine) onFailure(lin *lineageState, c *candidate.Candidate, res *candidate.Result, budget *Budget) {
	req, reason := e.repair.Propose(c, res, budget.RepairsLeft(lin.id))
	if req == nil {
		e.terminate(lin, candidate.StatusSavedException, string(reason))
		return
	}
	if err := budget.TakeRepair(lin.id); err != nil {
		e.terminate(lin, candidate.StatusSavedException, string(repair.ReasonBudgetExhausted))
		return
	}
	e.transition(lin, candidate.StatusRepairPending, string(req.Category))
	e.requests.push(&genRequest{kind: requestRepair, lineage: lin.id, repair: req})
}

// onSuccess routes a successful candidate to mutation or to Saved-Harness.
// Caller holds mu.
func (e *Engine) onSuccess(lin *lineageState, c *candidate.Candidate, res *candidate.Result, delta coverage.Report, budget *Budget) {
	if coverage.Plateaued(lin.streak, e.cfg.PlateauThreshold) {
		e.terminate(lin, candidate.StatusSavedHarness, string(mutation.ReasonPlateau))
		return
	}
	req, reason := e.mutation.Propose(mutation.Input{
		Candidate:  c,
		Report:     res.Coverage,
		Delta:      delta,
		Cumulative: e.agg,
		RoundsLeft: budget.MutationsLeft(),
		Streak:     lin.streak,
	})
	if req == nil {
		e.terminate(lin, candidate.StatusSavedHarness, string(reason))
		return
	}
	if err := budget.TakeMutation(); err != nil {
		e.terminate(lin, candidate.StatusSavedHarness, string(mutation.ReasonBudgetExhausted))
		return
	}
	e.transition(lin, candidate.StatusMutationPending, string(req.Strategy.Kind))
	e.requests.push(&genRequest{kind: requestMutation, lineage: lin.id, mutation: req})
}

// handleReply applies a finished generation call. Caller holds mu.
func (e *Engine) handleReply(r genReply) {
	e.genInFlight--
	lin := e.lineages[r.req.lineage]
	lin.pending = false
	if lin.status.IsTerminal() {
		return
	}

	if r.err != nil {
		e.logger.Warn("generation unavailable",
			"lineage", lin.id,
			"op", r.req.kind,
			"error", r.err,
		)
		lin.trail = append(lin.trail, artifact.TrailEntry{
			Candidate:  lin.head,
			Category:   reasonUnavailable,
			Diagnostic: r.err.Error(),
		})
		if r.req.kind == requestRepair {
			e.terminate(lin, candidate.StatusSavedException, reasonUnavailable)
		} else {
			e.terminate(lin, candidate.StatusSavedHarness, reasonUnavailable)
		}
		return
	}

	if r.req.kind == requestRepair {
		e.applyRepair(lin, r.req.repair, r.source)
		return
	}
	e.applyMutation(lin, r.req.mutation, r.source)
}

// applyRepair extends lin with the patched candidate. Caller holds mu.
func (e *Engine) applyRepair(lin *lineageState, req *repair.Request, source string) {
	var targets []string
	if parent, ok := e.store.Get(req.Candidate); ok {
		targets = parent.Targets
	}
	c, err := e.store.Add(candidate.Candidate{
		ID:       candidate.NewID(lin.id, e.clock.Next()),
		Lineage:  lin.id,
		Parent:   req.Candidate,
		Kind:     candidate.KindRepaired,
		Language: req.Language,
		Source:   source,
		Targets:  targets,
		Strategy: "repair:" + string(req.Category),
	})
	if err != nil {
		e.logger.Error("store repaired candidate failed", "lineage", lin.id, "error", err)
		e.terminate(lin, candidate.StatusSavedException, reasonStoreError)
		return
	}
	lin.head = c.ID
	e.transition(lin, candidate.StatusGenerated, "repaired")
	e.submitOrBacklog(lin)
}

// applyMutation opens a child lineage from the mutated source and closes
// the parent as a harness. Caller holds mu.
func (e *Engine) applyMutation(lin *lineageState, req *mutation.Request, source string) {
	childID := candidate.LineageID(e.ids.Generate())
	c, err := e.store.Add(candidate.Candidate{
		ID:       candidate.NewID(childID, e.clock.Next()),
		Lineage:  childID,
		Parent:   req.Parent,
		Kind:     candidate.KindMutated,
		Language: e.md.Language,
		Source:   source,
		Targets:  req.Functions,
		Strategy: string(req.Strategy.Kind),
	})
	if err != nil {
		e.logger.Error("store mutated candidate failed", "lineage", lin.id, "error", err)
		e.terminate(lin, candidate.StatusSavedHarness, reasonStoreError)
		return
	}

	child := e.track(childID, lin.id, c.ID, lin.streak)
	e.logger.Info("lineage mutated",
		"parent", lin.id,
		"lineage", childID,
		"candidate", c.ID,
		"strategy", req.Strategy.Kind,
		"targets", req.Functions,
	)
	e.terminate(lin, candidate.StatusSavedHarness, reasonMutated)
	e.submitOrBacklog(child)
}

// transition moves lin to status to in both the loop state and the store.
// Returns false (and logs) if the store refuses. Caller holds mu.
func (e *Engine) transition(lin *lineageState, to candidate.Status, reason string) bool {
	from := lin.status
	if err := e.store.Transition(lin.id, from, to); err != nil {
		e.logger.Error("invalid lineage transition",
			"lineage", lin.id,
			"from", from,
			"to", to,
			"error", err,
		)
		return false
	}
	lin.status = to
	if to.IsTerminal() {
		e.active--
	}
	e.events++
	if e.observer != nil {
		e.observer(Transition{
			Seq:       e.events,
			Lineage:   lin.id,
			Candidate: lin.head,
			From:      from,
			To:        to,
			Reason:    reason,
		})
	}
	return true
}

// terminate closes lin and emits its artifact. Caller holds mu.
func (e *Engine) terminate(lin *lineageState, to candidate.Status, reason string) {
	if lin.status.IsTerminal() {
		return
	}
	if !e.transition(lin, to, reason) {
		return
	}

	a := e.artifactFor(lin, to, reason)
	e.artifacts = append(e.artifacts, a)
	e.logger.Info("lineage terminated",
		"lineage", lin.id,
		"candidate", a.Candidate,
		"status", to,
		"tag", a.Tag,
		"reason", reason,
	)
	if e.sink != nil {
		if err := e.sink.Emit(e.emitCtx, a); err != nil {
			e.logger.Error("emit artifact failed", "lineage", lin.id, "error", err)
		}
	}
}

// artifactFor builds the terminal artifact for lin. Caller holds mu.
func (e *Engine) artifactFor(lin *lineageState, status candidate.Status, reason string) *artifact.Artifact {
	head, _ := e.store.Get(lin.head)
	a := &artifact.Artifact{
		Kind:       artifact.KindException,
		Lineage:    lin.id,
		Candidate:  head.ID,
		Generation: head.Generation,
		Status:     status,
		Reason:     reason,
		Language:   head.Language,
		Source:     head.Source,
		Targets:    slices.Clone(head.Targets),
		Coverage:   lin.report.Clone(),
		Trail:      slices.Clone(lin.trail),
		CreatedAt:  e.now(),
	}

	switch {
	case status == candidate.StatusSavedHarness:
		a.Kind = artifact.KindHarness
		a.Tag = string(candidate.OutcomeSuccess)
		if lin.last != nil {
			a.Corpus = lin.last.Corpus
		}
	case status == candidate.StatusBudgetExhausted:
		a.Tag = "BudgetExhausted"
	case lin.last != nil:
		a.Tag = string(lin.last.Outcome)
	default:
		a.Tag = reason
	}
	return a
}

// expireIfDone expires the run once the budget context has ended, so
// results racing the deadline are routed as expired. Caller holds mu.
func (e *Engine) expireIfDone(parent, budgetCtx context.Context) {
	if e.expired || budgetCtx.Err() == nil {
		return
	}
	cause := reasonDeadline
	if parent.Err() != nil {
		cause = reasonCancelled
	}
	e.expire(cause)
}

// expire abandons queued and pending work after the deadline or a
// cancellation. Lineages with a validation still running stay open until
// its result arrives. Caller holds mu.
func (e *Engine) expire(cause string) {
	if e.expired {
		return
	}
	e.expired = true
	e.cause = cause
	e.stopped.Store(true)

	drained := e.queue.Drain()
	e.queue.Close()
	e.inFlight -= len(drained)
	for _, id := range drained {
		if c, ok := e.store.Get(id); ok {
			e.lineages[c.Lineage].queued = false
		}
	}
	e.backlog = nil
	e.requests.clear()

	exhausted := 0
	for _, id := range e.order {
		lin := e.lineages[id]
		if lin.status.IsTerminal() || lin.queued {
			continue
		}
		e.terminate(lin, candidate.StatusBudgetExhausted, cause)
		exhausted++
	}
	e.logger.Warn("budget expired",
		"cause", cause,
		"exhausted", exhausted,
		"in_flight", e.inFlight,
	)
}

// stalled reports open lineages with nothing left that could move them.
// Caller holds mu.
func (e *Engine) stalled() bool {
	return e.active > 0 &&
		e.inFlight == 0 &&
		e.genInFlight == 0 &&
		e.requests.len() == 0 &&
		len(e.backlog) == 0
}

// finished reports whether Run may return. Caller holds mu.
func (e *Engine) finished() bool {
	if e.inFlight > 0 {
		return false
	}
	if e.expired {
		return true
	}
	return e.active == 0
}
