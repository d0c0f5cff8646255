package domain_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/core/domain"
)

func TestGraph_Cycle(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*domain.Graph)
		wantErr     bool
		errContains string
	}{
		{
			name: "Simple Cycle A->A",
			setup: func(g *domain.Graph) {
				tA := &domain.Target{
					Name: domain.NewInternedString("A"),
					Deps: []domain.InternedString{domain.NewInternedString("A")},
				}
				_ = g.AddTarget(tA)
			},
			wantErr:     true,
			errContains: "cycle detected",
		},
		{
			name: "Two Node Cycle A->B->A",
			setup: func(g *domain.Graph) {
				tA := &domain.Target{
					Name: domain.NewInternedString("A"),
					Deps: []domain.InternedString{domain.NewInternedString("B")},
				}
				tB := &domain.Target{
					Name: domain.NewInternedString("B"),
					Deps: []domain.InternedString{domain.NewInternedString("A")},
				}
				_ = g.AddTarget(tA)
				_ = g.AddTarget(tB)
			},
			wantErr:     true,
			errContains: "cycle detected",
		},
		{
			name: "Three Node Cycle A->B->C->A",
			setup: func(g *domain.Graph) {
				tA := &domain.Target{
					Name: domain.NewInternedString("A"),
					Deps: []domain.InternedString{domain.NewInternedString("B")},
				}
				tB := &domain.Target{
					Name: domain.NewInternedString("B"),
					Deps: []domain.InternedString{domain.NewInternedString("C")},
				}
				tC := &domain.Target{
					Name: domain.NewInternedString("C"),
					Deps: []domain.InternedString{domain.NewInternedString("A")},
				}
				_ = g.AddTarget(tA)
				_ = g.AddTarget(tB)
				_ = g.AddTarget(tC)
			},
			wantErr:     true,
			errContains: "cycle detected",
		},
		{
			name: "No Cycle A->B->C",
			setup: func(g *domain.Graph) {
				tA := &domain.Target{
					Name: domain.NewInternedString("A"),
					Deps: []domain.InternedString{domain.NewInternedString("B")},
				}
				tB := &domain.Target{
					Name: domain.NewInternedString("B"),
					Deps: []domain.InternedString{domain.NewInternedString("C")},
				}
				tC := &domain.Target{
					Name: domain.NewInternedString("C"),
				}
				_ = g.AddTarget(tA)
				_ = g.AddTarget(tB)
				_ = g.AddTarget(tC)
			},
			wantErr: false,
		},
		{
			name: "Disconnected Components No Cycle",
			setup: func(g *domain.Graph) {
				tA := &domain.Target{
					Name: domain.NewInternedString("A"),
					Deps: []domain.InternedString{domain.NewInternedString("B")},
				}
				tB := &domain.Target{
					Name: domain.NewInternedString("B"),
				}
				tC := &domain.Target{
					Name: domain.NewInternedString("C"),
					Deps: []domain.InternedString{domain.NewInternedString("D")},
				}
				tD := &domain.Target{
					Name: domain.NewInternedString("D"),
				}
				_ = g.AddTarget(tA)
				_ = g.AddTarget(tB)
				_ = g.AddTarget(tC)
				_ = g.AddTarget(tD)
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := domain.NewGraph()
			tt.setup(g)

			err := g.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrCycleDetected)
				assert.Contains(t, err.Error(), tt.errContains)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestGraph_CyclePath(t *testing.T) {
	g := domain.NewGraph()
	require.NoError(t, g.AddTarget(&domain.Target{
		Name: domain.NewInternedString("a"),
		Deps: []domain.InternedString{domain.NewInternedString("b")},
	}))
	require.NoError(t, g.AddTarget(&domain.Target{
		Name: domain.NewInternedString("b"),
		Deps: []domain.InternedString{domain.NewInternedString("c")},
	}))
	require.NoError(t, g.AddTarget(&domain.Target{
		Name: domain.NewInternedString("c"),
		Deps: []domain.InternedString{domain.NewInternedString("a")},
	}))

	err := g.Validate()
	require.Error(t, err)

	var cycleErr *domain.CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Equal(t, []string{"a", "b", "c", "a"}, cycleErr.Cycle)
}

func TestGraph_UnknownReference(t *testing.T) {
	g := domain.NewGraph()
	require.NoError(t, g.AddTarget(&domain.Target{
		Name: domain.NewInternedString("app"),
		Deps: []domain.InternedString{domain.NewInternedString("missing")},
	}))

	err := g.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownReference)

	var refErr *domain.UnknownReferenceError
	require.True(t, errors.As(err, &refErr))
	assert.Equal(t, "app", refErr.Target)
	assert.Equal(t, "missing", refErr.Reference)
}

func TestGraph_AddTarget_Duplicate(t *testing.T) {
	g := domain.NewGraph()
	target := &domain.Target{Name: domain.NewInternedString("dup")}

	require.NoError(t, g.AddTarget(target))
	err := g.AddTarget(target)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTargetAlreadyExists)
}

func TestGraph_Walk_ExecutionOrder(t *testing.T) {
	// app -> lib -> gen: gen must come first, app last.
	g := domain.NewGraph()
	require.NoError(t, g.AddTarget(&domain.Target{
		Name: domain.NewInternedString("app"),
		Deps: []domain.InternedString{domain.NewInternedString("lib")},
	}))
	require.NoError(t, g.AddTarget(&domain.Target{
		Name: domain.NewInternedString("lib"),
		Deps: []domain.InternedString{domain.NewInternedString("gen")},
	}))
	require.NoError(t, g.AddTarget(&domain.Target{
		Name: domain.NewInternedString("gen"),
	}))
	require.NoError(t, g.Validate())

	var order []string
	for target := range g.Walk() {
		order = append(order, target.Name.String())
	}
	assert.Equal(t, []string{"gen", "lib", "app"}, order)
}

func TestGraph_Walk_Deterministic(t *testing.T) {
	build := func() []string {
		g := domain.NewGraph()
		for _, name := range []string{"zeta", "alpha", "mid"} {
			require.NoError(t, g.AddTarget(&domain.Target{Name: domain.NewInternedString(name)}))
		}
		require.NoError(t, g.Validate())

		var order []string
		for target := range g.Walk() {
			order = append(order, target.Name.String())
		}
		return order
	}

	first := build()
	for range 10 {
		assert.Equal(t, first, build())
	}
}

func TestGraph_Dependents(t *testing.T) {
	g := domain.NewGraph()
	require.NoError(t, g.AddTarget(&domain.Target{
		Name: domain.NewInternedString("app"),
		Deps: []domain.InternedString{domain.NewInternedString("lib")},
	}))
	require.NoError(t, g.AddTarget(&domain.Target{
		Name: domain.NewInternedString("cli"),
		Deps: []domain.InternedString{domain.NewInternedString("lib")},
	}))
	require.NoError(t, g.AddTarget(&domain.Target{
		Name: domain.NewInternedString("lib"),
	}))

	dependents := g.Dependents(domain.NewInternedString("lib"))
	names := make([]string, 0, len(dependents))
	for _, d := range dependents {
		names = append(names, d.String())
	}
	assert.ElementsMatch(t, []string{"app", "cli"}, names)
	assert.Empty(t, g.Dependents(domain.NewInternedString("app")))
}

func TestGraph_Vars(t *testing.T) {
	g := domain.NewGraph()
	g.SetVars(map[string]string{"cc": "gcc"})

	v, ok := g.Var("cc")
	require.True(t, ok)
	assert.Equal(t, "gcc", v)

	_, ok = g.Var("missing")
	assert.False(t, ok)
}

func TestInternedString(t *testing.T) {
	a := domain.NewInternedString("hello")
	b := domain.NewInternedString("hello")
	c := domain.NewInternedString("world")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "hello", a.String())

	var zero domain.InternedString
	assert.Equal(t, "", zero.String())
}

func TestInternedString_TextRoundTrip(t *testing.T) {
	a := domain.NewInternedString("targets/app")
	text, err := a.MarshalText()
	require.NoError(t, err)

	var b domain.InternedString
	require.NoError(t, b.UnmarshalText(text))
	assert.Equal(t, a, b)
}

func TestTarget_PrimaryOutput(t *testing.T) {
	target := &domain.Target{
		Name: domain.NewInternedString("app"),
		Outputs: []domain.InternedString{
			domain.NewInternedString("bin/app"),
			domain.NewInternedString("bin/app.map"),
		},
	}
	assert.Equal(t, "bin/app", target.PrimaryOutput())

	empty := &domain.Target{Name: domain.NewInternedString("check")}
	assert.Equal(t, "", empty.PrimaryOutput())
}

func TestPlan_Spec(t *testing.T) {
	p := &domain.Plan{
		Targets: []domain.TargetSpec{
			{Name: "app"},
			{Name: "lib"},
		},
	}

	spec, ok := p.Spec("lib")
	require.True(t, ok)
	assert.Equal(t, "lib", spec.Name)

	_, ok = p.Spec("missing")
	assert.False(t, ok)
}

func TestBuildError(t *testing.T) {
	cause := errors.New("exit status 1")
	err := &domain.BuildError{Target: "app", Cause: cause, Retryable: false}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `target "app"`)
	assert.Contains(t, err.Error(), "fatal")

	retryable := &domain.BuildError{Target: "app", Cause: cause, Retryable: true}
	assert.Contains(t, retryable.Error(), "retryable")
}

func TestMissingInputError(t *testing.T) {
	err := &domain.MissingInputError{Target: "app", Path: "src/main.c"}
	assert.ErrorIs(t, err, domain.ErrMissingInput)
	assert.Contains(t, err.Error(), `"src/main.c"`)
	assert.Contains(t, err.Error(), `"app"`)
}
