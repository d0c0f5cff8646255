package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
	"github.com/loomworks/loom/internal/core/ports/mocks"
	"github.com/loomworks/loom/internal/engine/scheduler"
	"github.com/loomworks/loom/internal/engine/staleness"
)

type schedulerTestMocks struct {
	ctrl     *gomock.Controller
	backend  *mocks.MockBackend
	store    *mocks.MockFingerprintStore
	blobs    *mocks.MockBlobStore
	hasher   *mocks.MockHasher
	resolver *mocks.MockInputResolver
	tracer   *mocks.MockTracer
	logger   *mocks.MockLogger
}

// setupSchedulerTest creates a scheduler and common mocks.
func setupSchedulerTest(t *testing.T) (*scheduler.Scheduler, schedulerTestMocks) {
	t.Helper()
	ctrl := gomock.NewController(t)
	m := schedulerTestMocks{
		ctrl:     ctrl,
		backend:  mocks.NewMockBackend(ctrl),
		store:    mocks.NewMockFingerprintStore(ctrl),
		blobs:    mocks.NewMockBlobStore(ctrl),
		hasher:   mocks.NewMockHasher(ctrl),
		resolver: mocks.NewMockInputResolver(ctrl),
		tracer:   mocks.NewMockTracer(ctrl),
		logger:   mocks.NewMockLogger(ctrl),
	}

	// Default optimistic mocks to reduce noise in specific tests.
	mockSpan := mocks.NewMockSpan(ctrl)
	mockSpan.EXPECT().End().AnyTimes()
	mockSpan.EXPECT().RecordError(gomock.Any()).AnyTimes()
	mockSpan.EXPECT().SetAttribute(gomock.Any(), gomock.Any()).AnyTimes()

	m.tracer.EXPECT().Start(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ string, _ ...ports.SpanOption) (context.Context, ports.Span) {
			return ctx, mockSpan
		},
	).AnyTimes()
	m.tracer.EXPECT().EmitPlan(gomock.Any(), gomock.Any()).AnyTimes()
	m.logger.EXPECT().Info(gomock.Any()).AnyTimes()
	m.logger.EXPECT().Warn(gomock.Any()).AnyTimes()

	checker := staleness.NewChecker(m.store, m.blobs, m.hasher, m.resolver)
	s := scheduler.NewScheduler(m.backend, m.store, m.blobs, m.hasher, checker, m.tracer, m.logger)
	return s, m
}

// expectAllStale wires the staleness pre-pass so every target misses the cache.
func expectAllStale(m schedulerTestMocks) {
	m.resolver.EXPECT().ResolveInputs(gomock.Any(), gomock.Any()).Return([]string{}, nil).AnyTimes()
	m.hasher.EXPECT().Fingerprint(gomock.Any(), gomock.Any(), gomock.Any()).Return("hash", nil).AnyTimes()
	m.store.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
}

// completedFuture returns a future that resolves immediately.
func completedFuture(m schedulerTestMocks, err error) ports.Future {
	f := mocks.NewMockFuture(m.ctrl)
	f.EXPECT().Wait(gomock.Any()).DoAndReturn(
		func(_ context.Context) (*domain.BuildResult, error) {
			if err != nil {
				return nil, err
			}
			return &domain.BuildResult{}, nil
		},
	)
	return f
}

// createGraphHelper constructs a graph from a simple map of dependencies.
// deps format: "target" -> ["dep1", "dep2"].
func createGraphHelper(t *testing.T, deps map[string][]string) *domain.Graph {
	t.Helper()
	g := domain.NewGraph()
	g.SetRoot("/tmp/root")

	for name, myDeps := range deps {
		interned := make([]domain.InternedString, len(myDeps))
		for i, d := range myDeps {
			interned[i] = domain.NewInternedString(d)
		}

		target := &domain.Target{
			Name: domain.NewInternedString(name),
			Run:  []string{"echo", name},
			Deps: interned,
		}
		require.NoError(t, g.AddTarget(target))
	}

	// Add leaves that only appear as dependencies.
	for _, myDeps := range deps {
		for _, d := range myDeps {
			if _, ok := g.GetTarget(domain.NewInternedString(d)); !ok {
				target := &domain.Target{
					Name: domain.NewInternedString(d),
					Run:  []string{"echo", d},
				}
				require.NoError(t, g.AddTarget(target))
			}
		}
	}

	require.NoError(t, g.Validate())
	return g
}

// orderMatcher implements gomock.Matcher for *domain.WorkOrder.
type orderMatcher struct {
	name string
}

func (m orderMatcher) Matches(x interface{}) bool {
	order, ok := x.(*domain.WorkOrder)
	if !ok {
		return false
	}
	return order.Target.String() == m.name
}

func (m orderMatcher) String() string {
	return "work order target is " + m.name
}

func matchOrder(name string) gomock.Matcher {
	return orderMatcher{name: name}
}

func reportFor(t *testing.T, s *scheduler.Summary, name string) scheduler.TargetReport {
	t.Helper()
	for _, r := range s.Reports {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no report for target %s", name)
	return scheduler.TargetReport{}
}

func TestScheduler_DiamondDependency(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// Graph: A -> B, A -> C, B -> D, C -> D.
		// Execution order must be D, then B and C in parallel, then A.
		deps := map[string][]string{
			"A": {"B", "C"},
			"B": {"D"},
			"C": {"D"},
		}
		g := createGraphHelper(t, deps)
		s, m := setupSchedulerTest(t)

		expectAllStale(m)
		m.store.EXPECT().Put(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

		dCall := m.backend.EXPECT().Submit(gomock.Any(), matchOrder("D")).DoAndReturn(
			func(context.Context, *domain.WorkOrder) (ports.Future, error) {
				return completedFuture(m, nil), nil
			},
		).Times(1)

		bCall := m.backend.EXPECT().Submit(gomock.Any(), matchOrder("B")).DoAndReturn(
			func(context.Context, *domain.WorkOrder) (ports.Future, error) {
				return completedFuture(m, nil), nil
			},
		).Times(1).After(dCall)

		cCall := m.backend.EXPECT().Submit(gomock.Any(), matchOrder("C")).DoAndReturn(
			func(context.Context, *domain.WorkOrder) (ports.Future, error) {
				return completedFuture(m, nil), nil
			},
		).Times(1).After(dCall)

		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("A")).DoAndReturn(
			func(context.Context, *domain.WorkOrder) (ports.Future, error) {
				return completedFuture(m, nil), nil
			},
		).Times(1).After(bCall).After(cCall)

		summary, err := s.Run(context.Background(), g, []string{"all"}, scheduler.Options{Parallelism: 4})
		require.NoError(t, err)
		assert.Equal(t, 4, summary.Count(scheduler.StatusSucceeded))
	})
}

func TestScheduler_FailurePropagation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// Graph: A -> B. B fails, so A must never be dispatched.
		deps := map[string][]string{
			"A": {"B"},
		}
		g := createGraphHelper(t, deps)
		s, m := setupSchedulerTest(t)

		expectAllStale(m)

		buildErr := &domain.BuildError{Target: "B", Cause: errors.New("boom")}
		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("B")).DoAndReturn(
			func(context.Context, *domain.WorkOrder) (ports.Future, error) {
				return completedFuture(m, buildErr), nil
			},
		).Times(1)
		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("A")).Times(0)

		summary, err := s.Run(context.Background(), g, []string{"all"}, scheduler.Options{Parallelism: 4})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTargetExecutionFailed)

		assert.Equal(t, scheduler.StatusFailed, reportFor(t, summary, "B").Status)
		assert.Equal(t, scheduler.StatusFailedUpstream, reportFor(t, summary, "A").Status)
	})
}

func TestScheduler_IndependentBranchSurvivesFailure(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// app -> lib, docs is independent. lib fails; docs still builds.
		deps := map[string][]string{
			"app":  {"lib"},
			"docs": {},
		}
		g := createGraphHelper(t, deps)
		s, m := setupSchedulerTest(t)

		expectAllStale(m)
		m.store.EXPECT().Put(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("lib")).DoAndReturn(
			func(context.Context, *domain.WorkOrder) (ports.Future, error) {
				return completedFuture(m, &domain.BuildError{Target: "lib", Cause: errors.New("boom")}), nil
			},
		).Times(1)
		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("docs")).DoAndReturn(
			func(context.Context, *domain.WorkOrder) (ports.Future, error) {
				return completedFuture(m, nil), nil
			},
		).Times(1)
		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("app")).Times(0)

		summary, err := s.Run(context.Background(), g, []string{"all"}, scheduler.Options{Parallelism: 4})
		require.Error(t, err)

		assert.Equal(t, scheduler.StatusSucceeded, reportFor(t, summary, "docs").Status)
		assert.Equal(t, scheduler.StatusFailed, reportFor(t, summary, "lib").Status)
		assert.Equal(t, scheduler.StatusFailedUpstream, reportFor(t, summary, "app").Status)
	})
}

func TestScheduler_UpToDateIsSkipped(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		g := createGraphHelper(t, map[string][]string{"A": {}})
		s, m := setupSchedulerTest(t)

		m.resolver.EXPECT().ResolveInputs(gomock.Any(), gomock.Any()).Return([]string{}, nil).AnyTimes()
		m.hasher.EXPECT().Fingerprint(gomock.Any(), gomock.Any(), gomock.Any()).Return("hash", nil).AnyTimes()
		m.store.EXPECT().Get(gomock.Any(), "A").Return(&domain.Entry{Fingerprint: "hash"}, nil)

		// Nothing is stale, nothing is dispatched.
		m.backend.EXPECT().Submit(gomock.Any(), gomock.Any()).Times(0)

		summary, err := s.Run(context.Background(), g, []string{"A"}, scheduler.Options{})
		require.NoError(t, err)
		assert.Equal(t, scheduler.StatusSkipped, reportFor(t, summary, "A").Status)
	})
}

func TestScheduler_NoCacheRebuildsEverything(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		g := createGraphHelper(t, map[string][]string{"A": {}})
		s, m := setupSchedulerTest(t)

		m.resolver.EXPECT().ResolveInputs(gomock.Any(), gomock.Any()).Return([]string{}, nil).AnyTimes()
		m.hasher.EXPECT().Fingerprint(gomock.Any(), gomock.Any(), gomock.Any()).Return("hash", nil).AnyTimes()
		// NoCache never consults the store for staleness.
		m.store.EXPECT().Put(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("A")).DoAndReturn(
			func(context.Context, *domain.WorkOrder) (ports.Future, error) {
				return completedFuture(m, nil), nil
			},
		).Times(1)

		summary, err := s.Run(context.Background(), g, []string{"A"}, scheduler.Options{NoCache: true})
		require.NoError(t, err)
		assert.Equal(t, scheduler.StatusSucceeded, reportFor(t, summary, "A").Status)
	})
}

func TestScheduler_RetryableDispatchFailure(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		g := createGraphHelper(t, map[string][]string{})
		require.NoError(t, g.AddTarget(&domain.Target{
			Name:    domain.NewInternedString("flaky"),
			Run:     []string{"echo", "flaky"},
			Retries: 3,
		}))
		require.NoError(t, g.Validate())

		s, m := setupSchedulerTest(t)
		expectAllStale(m)
		m.store.EXPECT().Put(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

		retryable := &domain.BuildError{Target: "flaky", Cause: domain.ErrBackendClosed, Retryable: true}

		// Two transient failures, then success.
		gomock.InOrder(
			m.backend.EXPECT().Submit(gomock.Any(), matchOrder("flaky")).Return(nil, retryable).Times(2),
			m.backend.EXPECT().Submit(gomock.Any(), matchOrder("flaky")).DoAndReturn(
				func(context.Context, *domain.WorkOrder) (ports.Future, error) {
					return completedFuture(m, nil), nil
				},
			).Times(1),
		)

		summary, err := s.Run(context.Background(), g, []string{"flaky"}, scheduler.Options{})
		require.NoError(t, err)

		report := reportFor(t, summary, "flaky")
		assert.Equal(t, scheduler.StatusSucceeded, report.Status)
		assert.Equal(t, 2, report.Retries)
	})
}

func TestScheduler_FatalFailureIsNotRetried(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		g := createGraphHelper(t, map[string][]string{})
		require.NoError(t, g.AddTarget(&domain.Target{
			Name:    domain.NewInternedString("broken"),
			Run:     []string{"false"},
			Retries: 5,
		}))
		require.NoError(t, g.Validate())

		s, m := setupSchedulerTest(t)
		expectAllStale(m)

		fatal := &domain.BuildError{Target: "broken", Cause: errors.New("exit status 1")}
		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("broken")).DoAndReturn(
			func(context.Context, *domain.WorkOrder) (ports.Future, error) {
				return completedFuture(m, fatal), nil
			},
		).Times(1)

		summary, err := s.Run(context.Background(), g, []string{"broken"}, scheduler.Options{})
		require.Error(t, err)
		assert.Equal(t, scheduler.StatusFailed, reportFor(t, summary, "broken").Status)
	})
}

func TestScheduler_RetriesExhausted(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		g := createGraphHelper(t, map[string][]string{})
		require.NoError(t, g.AddTarget(&domain.Target{
			Name:    domain.NewInternedString("flaky"),
			Run:     []string{"echo"},
			Retries: 2,
		}))
		require.NoError(t, g.Validate())

		s, m := setupSchedulerTest(t)
		expectAllStale(m)

		retryable := &domain.BuildError{Target: "flaky", Cause: domain.ErrBackendClosed, Retryable: true}
		// Initial attempt plus two retries.
		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("flaky")).Return(nil, retryable).Times(3)

		summary, err := s.Run(context.Background(), g, []string{"flaky"}, scheduler.Options{})
		require.Error(t, err)
		assert.Equal(t, scheduler.StatusFailed, reportFor(t, summary, "flaky").Status)
	})
}

func TestScheduler_Cancellation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		g := createGraphHelper(t, map[string][]string{"A": {}})
		s, m := setupSchedulerTest(t)

		expectAllStale(m)
		// No Put expectation: an interrupted build must not update the cache.

		blocking := mocks.NewMockFuture(m.ctrl)
		blocking.EXPECT().Wait(gomock.Any()).DoAndReturn(
			func(ctx context.Context) (*domain.BuildResult, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		).Times(1)
		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("A")).Return(blocking, nil).Times(1)

		ctx, cancel := context.WithCancel(context.Background())

		errCh := make(chan error, 1)
		var summary *scheduler.Summary
		go func() {
			var err error
			summary, err = s.Run(ctx, g, []string{"A"}, scheduler.Options{})
			errCh <- err
		}()

		synctest.Wait()
		cancel()
		synctest.Wait()

		err := <-errCh
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrRunInterrupted)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, scheduler.StatusFailed, reportFor(t, summary, "A").Status)
		assert.ErrorIs(t, reportFor(t, summary, "A").Err, domain.ErrRunInterrupted)
	})
}

func TestScheduler_CancellationWaitsForStragglers(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// A build that keeps running past cancellation still gets collected:
		// the loop must block on its result instead of spinning.
		g := createGraphHelper(t, map[string][]string{"A": {}})
		s, m := setupSchedulerTest(t)

		expectAllStale(m)

		straggler := mocks.NewMockFuture(m.ctrl)
		straggler.EXPECT().Wait(gomock.Any()).DoAndReturn(
			func(context.Context) (*domain.BuildResult, error) {
				time.Sleep(100 * time.Millisecond)
				return &domain.BuildResult{}, nil
			},
		).Times(1)
		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("A")).Return(straggler, nil).Times(1)
		// The run was interrupted, so nothing is cached.
		m.store.EXPECT().Put(gomock.Any(), gomock.Any()).Times(0)

		ctx, cancel := context.WithCancel(context.Background())

		errCh := make(chan error, 1)
		var summary *scheduler.Summary
		go func() {
			var err error
			summary, err = s.Run(ctx, g, []string{"A"}, scheduler.Options{})
			errCh <- err
		}()

		synctest.Wait()
		cancel()

		err := <-errCh
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrRunInterrupted)
		assert.Equal(t, scheduler.StatusSucceeded, reportFor(t, summary, "A").Status)
	})
}

func TestScheduler_CacheWriteFailureFailsRun(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// lib builds fine but its entry cannot be stored. app still builds
		// (the outputs exist on disk), but the run must not report success.
		deps := map[string][]string{"app": {"lib"}}
		g := createGraphHelper(t, deps)
		s, m := setupSchedulerTest(t)

		expectAllStale(m)

		diskFull := errors.New("disk full")
		m.store.EXPECT().Put(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ string, entry domain.Entry) error {
				if entry.TargetName == "lib" {
					return diskFull
				}
				return nil
			},
		).Times(2)

		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("lib")).DoAndReturn(
			func(context.Context, *domain.WorkOrder) (ports.Future, error) {
				return completedFuture(m, nil), nil
			},
		).Times(1)
		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("app")).DoAndReturn(
			func(context.Context, *domain.WorkOrder) (ports.Future, error) {
				return completedFuture(m, nil), nil
			},
		).Times(1)

		summary, err := s.Run(context.Background(), g, []string{"all"}, scheduler.Options{})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrStoreWriteFailed)
		assert.ErrorIs(t, err, diskFull)

		libReport := reportFor(t, summary, "lib")
		assert.Equal(t, scheduler.StatusFailed, libReport.Status)
		assert.ErrorIs(t, libReport.Err, domain.ErrStoreWriteFailed)
		assert.Equal(t, scheduler.StatusSucceeded, reportFor(t, summary, "app").Status)
	})
}

func TestScheduler_MissingInputPoisonsDependents(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		deps := map[string][]string{"app": {"lib"}}
		g := createGraphHelper(t, deps)
		s, m := setupSchedulerTest(t)

		missing := &domain.MissingInputError{Target: "lib", Path: "gone.c"}
		m.resolver.EXPECT().ResolveInputs(gomock.Any(), gomock.Any()).Return(nil, missing).AnyTimes()

		// Nothing is ever dispatched.
		m.backend.EXPECT().Submit(gomock.Any(), gomock.Any()).Times(0)

		summary, err := s.Run(context.Background(), g, []string{"all"}, scheduler.Options{})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrMissingInput)

		assert.Equal(t, scheduler.StatusFailed, reportFor(t, summary, "lib").Status)
		assert.Equal(t, scheduler.StatusFailedUpstream, reportFor(t, summary, "app").Status)
	})
}

func TestScheduler_SelectedSubset(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// Running lib must pull in gen (its upstream) but never touch app.
		deps := map[string][]string{
			"app": {"lib"},
			"lib": {"gen"},
		}
		g := createGraphHelper(t, deps)
		s, m := setupSchedulerTest(t)

		expectAllStale(m)
		m.store.EXPECT().Put(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("gen")).DoAndReturn(
			func(context.Context, *domain.WorkOrder) (ports.Future, error) {
				return completedFuture(m, nil), nil
			},
		).Times(1)
		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("lib")).DoAndReturn(
			func(context.Context, *domain.WorkOrder) (ports.Future, error) {
				return completedFuture(m, nil), nil
			},
		).Times(1)
		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("app")).Times(0)

		summary, err := s.Run(context.Background(), g, []string{"lib"}, scheduler.Options{Parallelism: 2})
		require.NoError(t, err)
		assert.Len(t, summary.Reports, 2)
	})
}

func TestScheduler_InputValidation(t *testing.T) {
	g := createGraphHelper(t, map[string][]string{"A": {}})
	s, _ := setupSchedulerTest(t)

	t.Run("unknown target", func(t *testing.T) {
		_, err := s.Run(context.Background(), g, []string{"ghost"}, scheduler.Options{})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTargetNotFound)
	})

	t.Run("no targets", func(t *testing.T) {
		_, err := s.Run(context.Background(), g, nil, scheduler.Options{})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrNoTargetsSpecified)
	})
}

func TestScheduler_PersistsEntryWithOutputs(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		g := domain.NewGraph()
		g.SetRoot("/tmp/root")
		require.NoError(t, g.AddTarget(&domain.Target{
			Name:    domain.NewInternedString("app"),
			Run:     []string{"cc"},
			Outputs: []domain.InternedString{domain.NewInternedString("bin/app")},
		}))
		require.NoError(t, g.Validate())

		s, m := setupSchedulerTest(t)
		expectAllStale(m)

		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("app")).DoAndReturn(
			func(context.Context, *domain.WorkOrder) (ports.Future, error) {
				return completedFuture(m, nil), nil
			},
		).Times(1)

		ref := &domain.OutputRef{Path: "bin/app", Digest: "d1", Size: 10}
		m.hasher.EXPECT().OutputHash([]string{"bin/app"}, "/tmp/root").Return("oh1", nil)
		m.blobs.EXPECT().Store("/tmp/root", "bin/app").Return(ref, nil)
		m.store.EXPECT().Put("/tmp/root", gomock.Any()).DoAndReturn(
			func(_ string, entry domain.Entry) error {
				assert.Equal(t, "app", entry.TargetName)
				assert.Equal(t, "hash", entry.Fingerprint)
				assert.Equal(t, "oh1", entry.OutputHash)
				assert.Equal(t, []domain.OutputRef{*ref}, entry.Outputs)
				return nil
			},
		).Times(1)

		_, err := s.Run(context.Background(), g, []string{"app"}, scheduler.Options{})
		require.NoError(t, err)
	})
}

func TestScheduler_BlobArchiveFailureOnlyWarns(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// A blob that cannot be archived degrades restore but the entry is
		// still stored and the run still succeeds.
		g := domain.NewGraph()
		g.SetRoot("/tmp/root")
		require.NoError(t, g.AddTarget(&domain.Target{
			Name:    domain.NewInternedString("app"),
			Run:     []string{"cc"},
			Outputs: []domain.InternedString{domain.NewInternedString("bin/app")},
		}))
		require.NoError(t, g.Validate())

		s, m := setupSchedulerTest(t)
		expectAllStale(m)

		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("app")).DoAndReturn(
			func(context.Context, *domain.WorkOrder) (ports.Future, error) {
				return completedFuture(m, nil), nil
			},
		).Times(1)

		m.hasher.EXPECT().OutputHash([]string{"bin/app"}, "/tmp/root").Return("oh1", nil)
		m.blobs.EXPECT().Store("/tmp/root", "bin/app").Return(nil, errors.New("read-only store"))
		m.store.EXPECT().Put("/tmp/root", gomock.Any()).DoAndReturn(
			func(_ string, entry domain.Entry) error {
				assert.Empty(t, entry.Outputs)
				return nil
			},
		).Times(1)

		summary, err := s.Run(context.Background(), g, []string{"app"}, scheduler.Options{})
		require.NoError(t, err)
		assert.Equal(t, scheduler.StatusSucceeded, reportFor(t, summary, "app").Status)
	})
}

func TestScheduler_Idempotence(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// First run builds, second run with an unchanged fingerprint skips.
		g := createGraphHelper(t, map[string][]string{"A": {}})
		s, m := setupSchedulerTest(t)

		m.resolver.EXPECT().ResolveInputs(gomock.Any(), gomock.Any()).Return([]string{}, nil).AnyTimes()
		m.hasher.EXPECT().Fingerprint(gomock.Any(), gomock.Any(), gomock.Any()).Return("hash", nil).AnyTimes()

		var stored *domain.Entry
		m.store.EXPECT().Get(gomock.Any(), "A").DoAndReturn(
			func(string, string) (*domain.Entry, error) { return stored, nil },
		).AnyTimes()
		m.store.EXPECT().Put(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ string, entry domain.Entry) error {
				stored = &entry
				return nil
			},
		).Times(1)

		m.backend.EXPECT().Submit(gomock.Any(), matchOrder("A")).DoAndReturn(
			func(context.Context, *domain.WorkOrder) (ports.Future, error) {
				return completedFuture(m, nil), nil
			},
		).Times(1)

		first, err := s.Run(context.Background(), g, []string{"A"}, scheduler.Options{})
		require.NoError(t, err)
		assert.Equal(t, scheduler.StatusSucceeded, reportFor(t, first, "A").Status)

		second, err := s.Run(context.Background(), g, []string{"A"}, scheduler.Options{})
		require.NoError(t, err)
		assert.Equal(t, scheduler.StatusSkipped, reportFor(t, second, "A").Status)
	})
}

func TestScheduler_RetryBackoffDelay(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		g := createGraphHelper(t, map[string][]string{})
		require.NoError(t, g.AddTarget(&domain.Target{
			Name:    domain.NewInternedString("flaky"),
			Run:     []string{"echo"},
			Retries: 1,
		}))
		require.NoError(t, g.Validate())

		s, m := setupSchedulerTest(t)
		expectAllStale(m)
		m.store.EXPECT().Put(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

		retryable := &domain.BuildError{Target: "flaky", Cause: domain.ErrBackendClosed, Retryable: true}
		start := time.Now()
		gomock.InOrder(
			m.backend.EXPECT().Submit(gomock.Any(), matchOrder("flaky")).Return(nil, retryable).Times(1),
			m.backend.EXPECT().Submit(gomock.Any(), matchOrder("flaky")).DoAndReturn(
				func(context.Context, *domain.WorkOrder) (ports.Future, error) {
					// Inside the bubble the fake clock advanced by exactly
					// the base delay before the retry.
					assert.Equal(t, 200*time.Millisecond, time.Since(start))
					return completedFuture(m, nil), nil
				},
			).Times(1),
		)

		_, err := s.Run(context.Background(), g, []string{"flaky"}, scheduler.Options{
			RetryBaseDelay: 200 * time.Millisecond,
		})
		require.NoError(t, err)
	})
}
