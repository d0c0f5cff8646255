// Package app implements the application layer for loom.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/loomworks/loom/internal/adapters/cache"
	"github.com/loomworks/loom/internal/adapters/telemetry"
	"github.com/loomworks/loom/internal/adapters/watcher"
	"github.com/loomworks/loom/internal/adapters/worker"
	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
	"github.com/loomworks/loom/internal/engine/analyze"
	"github.com/loomworks/loom/internal/engine/report"
	"github.com/loomworks/loom/internal/engine/scheduler"
	"github.com/loomworks/loom/internal/engine/staleness"
	"go.trai.ch/zerr"
)

// Backend names accepted by RunOptions.Backend.
const (
	BackendLocal = "local"
	BackendPool  = "pool"
)

// App represents the main application logic.
type App struct {
	planLoader ports.PlanLoader
	analyzer   *analyze.Analyzer
	executor   ports.Executor
	hasher     ports.Hasher
	resolver   ports.InputResolver
	blobs      ports.BlobStore
	watcher    ports.Watcher
	hashCache  *watcher.HashCache
	logger     ports.Logger
}

// New creates a new App instance.
func New(
	loader ports.PlanLoader,
	analyzer *analyze.Analyzer,
	executor ports.Executor,
	hasher ports.Hasher,
	resolver ports.InputResolver,
	blobs ports.BlobStore,
	watch ports.Watcher,
	hashCache *watcher.HashCache,
	log ports.Logger,
) *App {
	return &App{
		planLoader: loader,
		analyzer:   analyzer,
		executor:   executor,
		hasher:     hasher,
		resolver:   resolver,
		blobs:      blobs,
		watcher:    watch,
		hashCache:  hashCache,
		logger:     log,
	}
}

// RunOptions configuration for the Run method.
type RunOptions struct {
	// NoCache bypasses staleness and rebuilds every selected target.
	NoCache bool
	// Jobs bounds in-flight builds. Zero means NumCPU.
	Jobs int
	// Backend selects the execution backend ("local" or "pool").
	Backend string
	// Verbose reports span starts and ends through the logger.
	Verbose bool
}

// Run executes the build for the specified targets.
func (a *App) Run(ctx context.Context, targetNames []string, opts RunOptions) error {
	if len(targetNames) == 0 {
		return domain.ErrNoTargetsSpecified
	}

	graph, err := a.loadGraph()
	if err != nil {
		return err
	}

	store, err := cache.NewStore(graph.CacheBackend)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	summary, err := a.runOnce(ctx, graph, store, targetNames, opts)
	if summary != nil {
		a.logSummary(summary)
	}
	if err != nil {
		return errors.Join(domain.ErrBuildExecutionFailed, err)
	}
	return nil
}

// runOnce wires one scheduler run: telemetry, backend, staleness checker.
func (a *App) runOnce(
	ctx context.Context,
	graph *graphBundle,
	store ports.FingerprintStore,
	targetNames []string,
	opts RunOptions,
) (*scheduler.Summary, error) {
	// The bridge surfaces span starts/ends through the logger; the tracer
	// records build output as span events.
	setupOTel(telemetry.NewBridge(a.logger, opts.Verbose))
	tracer := telemetry.NewOTelTracer("loom")

	backend, err := a.newBackend(opts, tracer)
	if err != nil {
		return nil, err
	}
	defer func() { _ = backend.Close() }()

	checker := staleness.NewChecker(store, a.blobs, a.hasher, a.resolver)
	sched := scheduler.NewScheduler(backend, store, a.blobs, a.hasher, checker, tracer, a.logger)

	jobs := opts.Jobs
	if jobs < 1 {
		jobs = runtime.NumCPU()
	}

	return sched.Run(ctx, graph.Graph, targetNames, scheduler.Options{
		Parallelism: jobs,
		NoCache:     opts.NoCache,
	})
}

func (a *App) newBackend(opts RunOptions, tracer ports.Tracer) (ports.Backend, error) {
	jobs := opts.Jobs
	if jobs < 1 {
		jobs = runtime.NumCPU()
	}

	switch opts.Backend {
	case "", BackendLocal:
		return worker.NewLocal(a.executor, tracer), nil
	case BackendPool:
		return worker.NewPool(a.executor, tracer, jobs), nil
	default:
		return nil, zerr.With(zerr.New("unknown execution backend"), "backend", opts.Backend)
	}
}

// Outdated returns the names of targets whose cache entry no longer covers
// them. Pure read: nothing is built, restored, or written.
func (a *App) Outdated(_ context.Context) ([]string, error) {
	graph, err := a.loadGraph()
	if err != nil {
		return nil, err
	}

	store, err := cache.NewStore(graph.CacheBackend)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	checker := staleness.NewChecker(store, nil, a.hasher, a.resolver)
	return report.NewReporter(checker).Outdated(graph.Graph)
}

// GraphDOT renders the dependency graph in Graphviz DOT format.
func (a *App) GraphDOT(_ context.Context) (string, error) {
	graph, err := a.loadGraph()
	if err != nil {
		return "", err
	}
	return report.DOT(graph.Graph), nil
}

// CleanOptions configuration for the Clean method.
type CleanOptions struct {
	// Entries removes the fingerprint store.
	Entries bool
	// Blobs removes the archived output blobs.
	Blobs bool
}

// Clean removes cache state under the workspace directory.
func (a *App) Clean(_ context.Context, opts CleanOptions) error {
	graph, err := a.loadGraph()
	if err != nil {
		return err
	}
	root := graph.Graph.Root()

	var errs error
	remove := func(path, name string) {
		a.logger.Info(fmt.Sprintf("removing %s...", name))
		if err := os.RemoveAll(path); err != nil {
			errs = errors.Join(errs, zerr.Wrap(err, fmt.Sprintf("failed to remove %s", name)))
			return
		}
		a.logger.Info(fmt.Sprintf("removed %s", name))
	}

	// Blobs live under the store directory, so order matters: removing the
	// whole store covers both.
	if opts.Entries {
		remove(domain.StorePath(root), "fingerprint store")
		return errs
	}
	if opts.Blobs {
		remove(domain.BlobsPath(root), "output blobs")
	}

	return errs
}

// Watch runs the targets once, then re-runs them whenever a relevant file
// under the plan root changes. It returns when ctx is cancelled.
func (a *App) Watch(ctx context.Context, targetNames []string, opts RunOptions) error {
	if len(targetNames) == 0 {
		return domain.ErrNoTargetsSpecified
	}

	graph, err := a.loadGraph()
	if err != nil {
		return err
	}
	root := graph.Graph.Root()

	store, err := cache.NewStore(graph.CacheBackend)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	// First pass before watching.
	if summary, runErr := a.runOnce(ctx, graph, store, targetNames, opts); summary != nil {
		a.logSummary(summary)
		_ = runErr // build failures keep the watch alive
	} else if runErr != nil {
		return runErr
	}
	a.refreshMemo(graph)

	if err := a.watcher.Start(ctx, root); err != nil {
		return zerr.Wrap(err, "failed to start watcher")
	}
	defer func() { _ = a.watcher.Stop() }()

	rebuildCh := make(chan []string, 1)
	debouncer := watcher.NewDebouncer(watcher.DefaultDebounceWindow, func(paths []string) {
		select {
		case rebuildCh <- paths:
		case <-ctx.Done():
		}
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for event := range a.watcher.Events() {
			if a.ignoreEvent(graph, event.Path) {
				continue
			}
			debouncer.Add(event.Path)
		}
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case paths := <-rebuildCh:
				a.handleChange(ctx, graph, store, targetNames, opts, paths)
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handleChange re-runs the targets for one debounced batch of changed paths.
func (a *App) handleChange(
	ctx context.Context,
	graph *graphBundle,
	store ports.FingerprintStore,
	targetNames []string,
	opts RunOptions,
	paths []string,
) {
	// Drop batches that touch nothing any target reads. Tracked inputs are
	// recorded in the fingerprint memo; an untracked path is only relevant
	// when a declared input pattern could match it, which covers brand-new
	// files appearing under a glob.
	affected := a.hashCache.Invalidate(paths)
	if !affected && !a.inputRelevant(graph, paths) {
		return
	}

	a.logger.Info(fmt.Sprintf("change detected (%d paths), rebuilding...", len(paths)))

	if summary, err := a.runOnce(ctx, graph, store, targetNames, opts); summary != nil {
		a.logSummary(summary)
		_ = err // reported per target in the summary
	} else if err != nil {
		a.logger.Error(err)
	}

	a.refreshMemo(graph)
}

// ignoreEvent filters watcher noise: workspace internals and the targets'
// own declared outputs, which would otherwise re-trigger every build.
func (a *App) ignoreEvent(graph *graphBundle, path string) bool {
	if graph.OutputPaths[path] {
		return true
	}
	return false
}

// inputRelevant reports whether any changed path could match a declared input
// pattern. Patterns naming a directory cover the files beneath it.
func (a *App) inputRelevant(graph *graphBundle, paths []string) bool {
	root := graph.Graph.Root()
	for _, path := range paths {
		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)
		for _, pattern := range graph.InputPatterns {
			p := filepath.ToSlash(pattern)
			if ok, err := doublestar.Match(p, rel); err == nil && ok {
				return true
			}
			if ok, err := doublestar.Match(p+"/**", rel); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// refreshMemo brings the watch-mode fingerprint memo up to date in dependency
// order so the next change batch can be classified. Targets whose memoized
// fingerprint survived invalidation and whose upstreams are unchanged are
// reused without rehashing their inputs.
func (a *App) refreshMemo(graph *graphBundle) {
	root := graph.Graph.Root()
	memo := make(map[domain.InternedString]string, graph.Graph.TargetCount())
	stale := make(map[domain.InternedString]bool, graph.Graph.TargetCount())

	for target := range graph.Graph.Walk() {
		upstream := make([]string, 0, len(target.Deps))
		complete := true
		upstreamStale := false
		for _, dep := range target.Deps {
			fp, ok := memo[dep]
			if !ok {
				complete = false
				break
			}
			upstream = append(upstream, fp)
			if stale[dep] {
				upstreamStale = true
			}
		}
		if !complete {
			continue
		}

		prior, hit := a.hashCache.Get(target.Name.String(), root)
		if hit && !upstreamStale {
			memo[target.Name] = prior
			continue
		}

		fp, err := a.hashCache.Compute(target, root, upstream)
		if err != nil {
			// An unreadable input just means the next change rebuilds.
			continue
		}
		memo[target.Name] = fp
		stale[target.Name] = !hit || fp != prior
	}
}

func (a *App) logSummary(summary *scheduler.Summary) {
	succeeded := summary.Count(scheduler.StatusSucceeded)
	skipped := summary.Count(scheduler.StatusSkipped)
	failed := summary.Count(scheduler.StatusFailed) + summary.Count(scheduler.StatusFailedUpstream)

	a.logger.Info(fmt.Sprintf("%d built, %d up to date, %d failed", succeeded, skipped, failed))

	for _, r := range summary.Reports {
		if r.Err != nil {
			a.logger.Error(zerr.With(zerr.Wrap(r.Err, "target failed"), "target", r.Name))
		}
	}
}

// graphBundle carries the analyzed graph together with plan-level settings
// the app layer needs after analysis.
type graphBundle struct {
	Graph         *domain.Graph
	CacheBackend  string
	OutputPaths   map[string]bool
	InputPatterns []string
}

// loadGraph loads the plan from the current directory and analyzes it.
func (a *App) loadGraph() (*graphBundle, error) {
	plan, err := a.planLoader.Load(".")
	if err != nil {
		return nil, zerr.Wrap(err, "failed to load plan")
	}

	graph, err := a.analyzer.Analyze(plan)
	if err != nil {
		return nil, err
	}

	outputs := make(map[string]bool)
	var patterns []string
	for target := range graph.Walk() {
		for _, out := range target.Outputs {
			outputs[out.String()] = true
			outputs[absJoin(graph.Root(), out.String())] = true
		}
		for _, in := range target.Inputs {
			patterns = append(patterns, in.String())
		}
	}

	return &graphBundle{
		Graph:         graph,
		CacheBackend:  plan.Cache.Backend,
		OutputPaths:   outputs,
		InputPatterns: patterns,
	}, nil
}

func absJoin(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// setupOTel configures the OpenTelemetry SDK with the logger bridge.
func setupOTel(bridge *telemetry.Bridge) {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(bridge),
	)
	otel.SetTracerProvider(tp)
}
