// Package scheduler drives one build run: it decides which targets are stale,
// dispatches them to the execution backend in dependency order, and records
// fresh cache entries for everything that succeeds.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
	"github.com/loomworks/loom/internal/engine/analyze"
	"github.com/loomworks/loom/internal/engine/staleness"
	"go.trai.ch/zerr"
)

// TargetStatus represents the status of a target within one run.
type TargetStatus string

const (
	// StatusPending indicates staleness has not been decided yet.
	StatusPending TargetStatus = "Pending"
	// StatusUpToDate indicates the cache entry still covers the target.
	StatusUpToDate TargetStatus = "UpToDate"
	// StatusStale indicates the target must be rebuilt.
	StatusStale TargetStatus = "Stale"
	// StatusQueued indicates every upstream finished and the target awaits a slot.
	StatusQueued TargetStatus = "Queued"
	// StatusRunning indicates the target is executing on the backend.
	StatusRunning TargetStatus = "Running"
	// StatusSucceeded indicates the build finished and its entry was stored.
	StatusSucceeded TargetStatus = "Succeeded"
	// StatusFailed indicates the build failed.
	StatusFailed TargetStatus = "Failed"
	// StatusFailedUpstream indicates a transitive dependency failed; the
	// target was never dispatched.
	StatusFailedUpstream TargetStatus = "FailedUpstream"
	// StatusSkipped indicates an up-to-date target that was not dispatched.
	StatusSkipped TargetStatus = "Skipped"
)

// Options configures one run.
type Options struct {
	// Parallelism bounds the number of in-flight builds. Values below 1 mean 1.
	Parallelism int
	// NoCache bypasses staleness and rebuilds every selected target.
	NoCache bool
	// RetryBaseDelay is the first retry backoff step. Zero means 100ms.
	RetryBaseDelay time.Duration
}

// retryMaxDelay caps the exponential backoff between retries.
const retryMaxDelay = 5 * time.Second

// TargetReport is the terminal record for one target in the run summary.
type TargetReport struct {
	Name     string
	Status   TargetStatus
	Duration time.Duration
	Err      error
	Retries  int
}

// Summary describes the outcome of one run, in dependency order.
type Summary struct {
	Reports []TargetReport
}

// Count returns the number of targets that ended in the given status.
func (s *Summary) Count(status TargetStatus) int {
	n := 0
	for _, r := range s.Reports {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Scheduler manages the execution of targets in the dependency graph.
type Scheduler struct {
	backend ports.Backend
	store   ports.FingerprintStore
	blobs   ports.BlobStore
	hasher  ports.Hasher
	checker *staleness.Checker
	tracer  ports.Tracer
	logger  ports.Logger

	mu     sync.RWMutex
	status map[domain.InternedString]TargetStatus
}

// NewScheduler creates a new Scheduler with the given dependencies.
func NewScheduler(
	backend ports.Backend,
	store ports.FingerprintStore,
	blobs ports.BlobStore,
	hasher ports.Hasher,
	checker *staleness.Checker,
	tracer ports.Tracer,
	logger ports.Logger,
) *Scheduler {
	return &Scheduler{
		backend: backend,
		store:   store,
		blobs:   blobs,
		hasher:  hasher,
		checker: checker,
		tracer:  tracer,
		logger:  logger,
		status:  make(map[domain.InternedString]TargetStatus),
	}
}

// Status returns the current status of a target.
func (s *Scheduler) Status(name domain.InternedString) TargetStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status[name]
}

func (s *Scheduler) updateStatus(name domain.InternedString, status TargetStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[name] = status
}

// Run executes the selected targets and their transitive upstream closure.
// If targetNames contains "all", every target in the graph is selected.
// The returned summary is valid even when err is non-nil.
func (s *Scheduler) Run(
	ctx context.Context,
	graph *domain.Graph,
	targetNames []string,
	opts Options,
) (*Summary, error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	if len(targetNames) == 0 {
		return nil, domain.ErrNoTargetsSpecified
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}

	state, err := s.newRunState(ctx, graph, targetNames, opts)
	if err != nil {
		return nil, err
	}

	// Phase 1: staleness pre-pass in topological order, so every downstream
	// fingerprint is derived from this run's upstream fingerprints and never
	// from a stale cache value.
	state.evaluateStaleness()

	s.tracer.EmitPlan(ctx, state.plannedNames())

	// Phase 2: dispatch.
	runCtx, span := s.tracer.Start(ctx, "run")
	state.ctx = runCtx
	err = state.runExecutionLoop()
	span.End()

	return state.summary(), err
}

type result struct {
	target   domain.InternedString
	err      error
	cacheErr error
	duration time.Duration
	retries  int
}

type runState struct {
	s     *Scheduler
	graph *domain.Graph
	ctx   context.Context
	opts  Options

	runSet   map[domain.InternedString]bool
	order    []domain.InternedString // topological, restricted to runSet
	targets  map[domain.InternedString]domain.Target
	inDegree map[domain.InternedString]int

	fingerprints map[domain.InternedString]string
	failures     map[domain.InternedString]error
	durations    map[domain.InternedString]time.Duration
	retries      map[domain.InternedString]int

	ready     []domain.InternedString
	active    int
	resultsCh chan result
	errs      error
}

func (s *Scheduler) newRunState(
	ctx context.Context,
	graph *domain.Graph,
	targetNames []string,
	opts Options,
) (*runState, error) {
	runSet, err := s.resolveTargetsToRun(graph, targetNames)
	if err != nil {
		return nil, err
	}

	state := &runState{
		s:            s,
		graph:        graph,
		ctx:          ctx,
		opts:         opts,
		runSet:       runSet,
		targets:      make(map[domain.InternedString]domain.Target, len(runSet)),
		inDegree:     make(map[domain.InternedString]int, len(runSet)),
		fingerprints: make(map[domain.InternedString]string, len(runSet)),
		failures:     make(map[domain.InternedString]error),
		durations:    make(map[domain.InternedString]time.Duration),
		retries:      make(map[domain.InternedString]int),
		resultsCh:    make(chan result, opts.Parallelism),
	}

	// Restrict the graph's full topological order to this run.
	for target := range graph.Walk() {
		if runSet[target.Name] {
			state.order = append(state.order, target.Name)
			state.targets[target.Name] = target
			s.updateStatus(target.Name, StatusPending)
		}
	}

	return state, nil
}

// resolveTargetsToRun expands the requested names into their transitive
// upstream closure via BFS.
func (s *Scheduler) resolveTargetsToRun(
	graph *domain.Graph,
	targetNames []string,
) (map[domain.InternedString]bool, error) {
	runSet := make(map[domain.InternedString]bool)

	if slices.Contains(targetNames, domain.TargetAll) {
		for target := range graph.Walk() {
			runSet[target.Name] = true
		}
		return runSet, nil
	}

	queue := make([]domain.InternedString, 0, len(targetNames))
	for _, nameStr := range targetNames {
		name := domain.NewInternedString(nameStr)
		if _, ok := graph.GetTarget(name); !ok {
			return nil, zerr.With(fmt.Errorf("%w", domain.ErrTargetNotFound), "target", nameStr)
		}
		if !runSet[name] {
			runSet[name] = true
			queue = append(queue, name)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		target, _ := graph.GetTarget(current)
		for _, dep := range target.Deps {
			if !runSet[dep] {
				runSet[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	return runSet, nil
}

// evaluateStaleness walks the run set in topological order, computes every
// target's current fingerprint, and decides Stale vs UpToDate. A target whose
// fingerprint cannot be computed (missing input, unreadable store) is marked
// Failed here and poisons its dependents.
func (state *runState) evaluateStaleness() {
	root := state.graph.Root()

	for _, name := range state.order {
		target := state.targets[name]

		upstream, poisoned := state.upstreamFingerprints(&target)
		if poisoned {
			state.s.updateStatus(name, StatusFailedUpstream)
			continue
		}

		fp, err := state.s.checker.Fingerprint(&target, root, upstream)
		if err != nil {
			state.failTarget(name, err)
			continue
		}
		state.fingerprints[name] = fp

		if state.opts.NoCache {
			state.s.updateStatus(name, StatusStale)
			continue
		}

		stale, err := state.s.checker.Evaluate(&target, root, fp, true)
		if err != nil {
			state.failTarget(name, err)
			continue
		}

		if stale {
			state.s.updateStatus(name, StatusStale)
		} else {
			state.s.updateStatus(name, StatusUpToDate)
		}
	}

	state.initDispatch()
}

// upstreamFingerprints collects the already-computed fingerprints of the
// target's dependencies. poisoned reports that at least one upstream has no
// fingerprint because it failed during the pre-pass.
func (state *runState) upstreamFingerprints(target *domain.Target) (fps []string, poisoned bool) {
	for _, dep := range target.Deps {
		fp, ok := state.fingerprints[dep]
		if !ok {
			return nil, true
		}
		fps = append(fps, fp)
	}
	return fps, false
}

func (state *runState) failTarget(name domain.InternedString, err error) {
	state.s.updateStatus(name, StatusFailed)
	state.failures[name] = err
	state.errs = errors.Join(state.errs, zerr.With(
		fmt.Errorf("%w: %w", domain.ErrTargetExecutionFailed, err),
		"target", name.String(),
	))
}

// initDispatch marks up-to-date targets Skipped and seeds the ready queue
// with stale targets whose upstreams are all settled.
func (state *runState) initDispatch() {
	for _, name := range state.order {
		switch state.s.Status(name) {
		case StatusUpToDate:
			state.s.updateStatus(name, StatusSkipped)
		case StatusStale:
			target := state.targets[name]
			degree := 0
			blocked := false
			for _, dep := range target.Deps {
				switch state.s.Status(dep) {
				case StatusStale, StatusQueued:
					degree++
				case StatusFailed, StatusFailedUpstream:
					blocked = true
				}
			}
			if blocked {
				state.s.updateStatus(name, StatusFailedUpstream)
				continue
			}
			state.inDegree[name] = degree
			if degree == 0 {
				state.s.updateStatus(name, StatusQueued)
				state.ready = append(state.ready, name)
			}
		}
	}
}

// plannedNames returns the names of the targets that will actually build,
// in dependency order.
func (state *runState) plannedNames() []string {
	var planned []string
	for _, name := range state.order {
		status := state.s.Status(name)
		if status == StatusStale || status == StatusQueued {
			planned = append(planned, name.String())
		}
	}
	return planned
}

func (state *runState) isDone() bool {
	return state.active == 0 && len(state.ready) == 0
}

func (state *runState) runExecutionLoop() error {
	for !state.isDone() {
		state.schedule()

		if state.isDone() {
			break
		}

		if state.ctx.Err() != nil {
			if state.active == 0 {
				break
			}
			// Cancelled with builds in flight: nothing new is admitted, so
			// block on the remaining results only.
			state.handleResult(<-state.resultsCh)
			continue
		}

		select {
		case res := <-state.resultsCh:
			state.handleResult(res)
		case <-state.ctx.Done():
		}
	}

	if state.ctx.Err() != nil {
		state.errs = errors.Join(state.errs, domain.ErrRunInterrupted, state.ctx.Err())
	}

	return state.errs
}

// schedule dispatches ready targets while the in-flight window has room.
// Admission stops as soon as the context is cancelled.
func (state *runState) schedule() {
	for len(state.ready) > 0 && state.active < state.opts.Parallelism && state.ctx.Err() == nil {
		name := state.ready[0]
		state.ready = state.ready[1:]

		state.active++
		state.s.updateStatus(name, StatusRunning)

		target := state.targets[name]
		go state.buildTarget(&target)
	}
}

// buildTarget runs on its own goroutine: it submits the work order, retries
// transient dispatch failures, and persists the cache entry on success.
func (state *runState) buildTarget(target *domain.Target) {
	start := time.Now()
	retries, err := state.submitWithRetry(target)

	var cacheErr error
	if err == nil && state.ctx.Err() == nil {
		// Single writer per target: only the goroutine that built the target
		// stores its entry. An interrupted build stores nothing.
		cacheErr = state.s.persistEntry(target, state.graph.Root(), state.fingerprints[target.Name])
	}

	state.resultsCh <- result{
		target:   target.Name,
		err:      err,
		cacheErr: cacheErr,
		duration: time.Since(start),
		retries:  retries,
	}
}

// submitWithRetry dispatches the work order, retrying transient dispatch
// failures with exponential backoff. Fatal build errors are never retried.
func (state *runState) submitWithRetry(target *domain.Target) (int, error) {
	order := state.workOrder(target)

	var lastErr error
	for attempt := 0; attempt <= target.Retries; attempt++ {
		if attempt > 0 {
			if err := state.backoff(attempt); err != nil {
				return attempt - 1, lastErr
			}
		}

		future, err := state.s.backend.Submit(state.ctx, order)
		if err == nil {
			_, err = future.Wait(state.ctx)
		}
		if err == nil {
			return attempt, nil
		}

		lastErr = err

		var buildErr *domain.BuildError
		if !errors.As(err, &buildErr) || !buildErr.Retryable {
			return attempt, err
		}
	}

	return target.Retries, lastErr
}

// backoff sleeps for the attempt's delay, doubling each attempt up to the
// cap, and returns early when the run is cancelled.
func (state *runState) backoff(attempt int) error {
	delay := state.opts.RetryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-state.ctx.Done():
		return state.ctx.Err()
	}
}

// workOrder assembles the backend work order with the target's expanded
// build expression.
func (state *runState) workOrder(target *domain.Target) *domain.WorkOrder {
	return &domain.WorkOrder{
		Target:     target.Name,
		Argv:       analyze.ExpandArgv(state.graph, target),
		Env:        target.Env,
		WorkingDir: state.resolveWorkingDir(target),
		Timeout:    target.Timeout,
	}
}

func (state *runState) resolveWorkingDir(target *domain.Target) string {
	wd := target.WorkingDir.String()
	if wd == "" {
		return state.graph.Root()
	}
	return wd
}

// persistEntry stores the target's fresh cache entry, including blob
// references for every declared output. A failed archive of an individual
// blob only degrades restore; a failed output hash or entry write is
// returned so the run does not report the target as a clean success.
func (s *Scheduler) persistEntry(target *domain.Target, root, fingerprint string) error {
	outputs := make([]string, len(target.Outputs))
	for i, out := range target.Outputs {
		outputs[i] = out.String()
	}

	var outputHash string
	if len(outputs) > 0 {
		var err error
		outputHash, err = s.hasher.OutputHash(outputs, root)
		if err != nil {
			return zerr.With(
				fmt.Errorf("%w: %w", domain.ErrOutputHashFailed, err),
				"target", target.Name.String(),
			)
		}
	}

	var refs []domain.OutputRef
	if s.blobs != nil {
		for _, out := range outputs {
			ref, err := s.blobs.Store(root, out)
			if err != nil {
				warn := zerr.With(zerr.Wrap(err, "failed to archive output"), "target", target.Name.String())
				warn = zerr.With(warn, "output", out)
				s.logger.Warn(warn.Error())
				continue
			}
			refs = append(refs, *ref)
		}
	}

	err := s.store.Put(root, domain.Entry{
		TargetName:  target.Name.String(),
		Fingerprint: fingerprint,
		OutputHash:  outputHash,
		Outputs:     refs,
		Timestamp:   time.Now(),
	})
	if err != nil {
		return zerr.With(
			fmt.Errorf("%w: %w", domain.ErrStoreWriteFailed, err),
			"target", target.Name.String(),
		)
	}
	return nil
}

func (state *runState) handleResult(res result) {
	state.active--
	state.durations[res.target] = res.duration
	state.retries[res.target] = res.retries

	if res.err == nil {
		// Dependents are unlocked either way: the outputs exist on disk and
		// the in-memory fingerprints are intact. A failed cache write still
		// fails the target's report so the run does not claim a clean cache.
		state.handleSuccess(res.target)
		if res.cacheErr != nil {
			state.s.updateStatus(res.target, StatusFailed)
			state.failures[res.target] = res.cacheErr
			state.errs = errors.Join(state.errs, res.cacheErr)
		}
		return
	}

	// An interrupted build is not a target failure: it stays un-cached and
	// its dependents are simply never admitted.
	if errors.Is(res.err, context.Canceled) || state.ctx.Err() != nil {
		state.s.updateStatus(res.target, StatusFailed)
		state.failures[res.target] = domain.ErrRunInterrupted
		return
	}

	state.failTarget(res.target, res.err)
	state.cascadeFailure(res.target)
}

func (state *runState) handleSuccess(name domain.InternedString) {
	state.s.updateStatus(name, StatusSucceeded)

	for _, dep := range state.graph.Dependents(name) {
		if _, ok := state.inDegree[dep]; !ok {
			continue
		}
		if state.s.Status(dep) != StatusStale {
			continue
		}
		state.inDegree[dep]--
		if state.inDegree[dep] == 0 {
			state.s.updateStatus(dep, StatusQueued)
			state.ready = append(state.ready, dep)
		}
	}
}

// cascadeFailure marks every transitive dependent inside the run set as
// FailedUpstream. Branches not downstream of the failure keep running.
func (state *runState) cascadeFailure(name domain.InternedString) {
	for _, dep := range state.graph.Dependents(name) {
		if !state.runSet[dep] {
			continue
		}
		status := state.s.Status(dep)
		if status == StatusStale || status == StatusQueued {
			state.s.updateStatus(dep, StatusFailedUpstream)
			state.ready = slices.DeleteFunc(state.ready, func(n domain.InternedString) bool {
				return n == dep
			})
			state.cascadeFailure(dep)
		}
	}
}

// summary builds the per-target terminal report in dependency order.
func (state *runState) summary() *Summary {
	reports := make([]TargetReport, 0, len(state.order))
	for _, name := range state.order {
		reports = append(reports, TargetReport{
			Name:     name.String(),
			Status:   state.s.Status(name),
			Duration: state.durations[name],
			Err:      state.failures[name],
			Retries:  state.retries[name],
		})
	}
	return &Summary{Reports: reports}
}
