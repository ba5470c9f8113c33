package optimize

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tradeforge/tradeforge/internal/core"
)

func gridSpace() Space {
	return Space{
		{Name: "rsi.period", Min: 10, Max: 20, Step: 5},
		{Name: "sl_pct", Min: 0.02, Max: 0.04, Step: 0.01},
	}
}

func TestSpace_Validate(t *testing.T) {
	cases := []struct {
		name  string
		space Space
		ok    bool
	}{
		{"valid", gridSpace(), true},
		{"empty", Space{}, false},
		{"unnamed", Space{{Min: 0, Max: 1}}, false},
		{"duplicate", Space{{Name: "a", Min: 0, Max: 1}, {Name: "a", Min: 0, Max: 1}}, false},
		{"inverted", Space{{Name: "a", Min: 5, Max: 1}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.space.Validate()
			if tc.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tc.ok && !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Validate() = %v, want CONFIG_INVALID", err)
			}
		})
	}
}

func TestGridSearch_EnumeratesEveryPoint(t *testing.T) {
	space := gridSpace()
	want := space.GridSize()
	if want != 9 {
		t.Fatalf("GridSize() = %d, want 9", want)
	}

	g := newGridSearch(space)
	seen := make(map[string]bool)
	for {
		params, ok := g.Next()
		if !ok {
			break
		}
		key := fmt.Sprintf("%v|%v", params["rsi.period"], params["sl_pct"])
		if seen[key] {
			t.Fatalf("grid proposed %s twice", key)
		}
		seen[key] = true
	}
	if len(seen) != want {
		t.Errorf("grid proposed %d points, want %d", len(seen), want)
	}
	if _, ok := g.Next(); ok {
		t.Error("exhausted grid must keep returning false")
	}
}

func TestRandomSearch_SeedDeterminism(t *testing.T) {
	space := gridSpace()
	a := newRandomSearch(space, 42)
	b := newRandomSearch(space, 42)
	for i := 0; i < 20; i++ {
		pa, _ := a.Next()
		pb, _ := b.Next()
		for _, r := range space {
			if pa[r.Name] != pb[r.Name] {
				t.Fatalf("trial %d: same seed proposed %v and %v", i, pa, pb)
			}
		}
	}
}

func TestSearchers_StayInBounds(t *testing.T) {
	space := Space{
		{Name: "period", Min: 5, Max: 50, Step: 1},
		{Name: "threshold", Min: 10, Max: 90},
	}
	searchers := map[string]Searcher{
		"surrogate": newSurrogateSearch(space, 7),
		"evolution": newEvolutionSearch(space, 7),
		"hybrid":    newHybridSearch(space, 7, 40),
	}
	for name, s := range searchers {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 40; i++ {
				params, ok := s.Next()
				if !ok {
					t.Fatalf("trial %d: searcher gave up", i)
				}
				for _, r := range space {
					v := params[r.Name]
					if v < r.Min || v > r.Max {
						t.Fatalf("trial %d: %s = %v outside [%v,%v]", i, r.Name, v, r.Min, r.Max)
					}
				}
				// Feed a simple peaked objective so adaptive searchers
				// have something to learn.
				score := -abs(params["period"] - 20)
				s.Observe(params, score, false)
			}
		})
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestNewSearcher_MethodMapping(t *testing.T) {
	space := gridSpace()

	s, err := NewSearcher(MethodAuto, "", space, 1, 50)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*gridSearch); !ok {
		t.Errorf("auto over a small enumerable space = %T, want grid", s)
	}

	s, err = NewSearcher(MethodAuto, "", space, 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*surrogateSearch); !ok {
		t.Errorf("auto with a budget below the grid size = %T, want surrogate", s)
	}

	if _, err := NewSearcher("genetic", "", space, 1, 10); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("unknown method error = %v, want CONFIG_INVALID", err)
	}
	if _, err := NewSearcher(MethodML, "annealing", space, 1, 10); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("unknown search method error = %v, want CONFIG_INVALID", err)
	}
}

func TestObjectiveByName(t *testing.T) {
	for _, name := range Objectives() {
		if _, err := ObjectiveByName(name); err != nil {
			t.Errorf("ObjectiveByName(%q) = %v", name, err)
		}
	}
	if _, err := ObjectiveByName("calmar"); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("unknown objective error = %v, want CONFIG_INVALID", err)
	}
}
