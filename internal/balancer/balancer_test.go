package balancer

import (
	"testing"

	"github.com/rs/zerolog"

	"allocbatch/internal/upstream"
)

type staticProvider struct {
	main     []*upstream.Endpoint
	fallback []*upstream.Endpoint
}

func (p *staticProvider) GetHealthyMain() []*upstream.Endpoint     { return p.main }
func (p *staticProvider) GetHealthyFallback() []*upstream.Endpoint { return p.fallback }

func endpoint(name string, weight int, role upstream.Role) *upstream.Endpoint {
	return upstream.NewEndpoint(upstream.Config{
		Name:   name,
		URL:    "http://" + name,
		Weight: weight,
		Role:   role,
		Logger: zerolog.Nop(),
	})
}

func TestWeightedRoundRobin_Distribution(t *testing.T) {
	a := endpoint("a", 3, upstream.RoleMain)
	b := endpoint("b", 1, upstream.RoleMain)
	wrr := NewWeightedRoundRobin(&staticProvider{main: []*upstream.Endpoint{a, b}})

	counts := make(map[string]int)
	for i := 0; i < 400; i++ {
		counts[wrr.Next(nil).Name()]++
	}

	if counts["a"] != 300 || counts["b"] != 100 {
		t.Errorf("counts = %v, want a=300 b=100", counts)
	}
}

func TestWeightedRoundRobin_PrefersMain(t *testing.T) {
	main := endpoint("main", 1, upstream.RoleMain)
	fb := endpoint("fb", 1, upstream.RoleFallback)
	wrr := NewWeightedRoundRobin(&staticProvider{
		main:     []*upstream.Endpoint{main},
		fallback: []*upstream.Endpoint{fb},
	})

	for i := 0; i < 5; i++ {
		if got := wrr.Next(nil); got != main {
			t.Fatalf("Next() = %s, want main", got.Name())
		}
	}

	if got := wrr.Next(map[string]bool{"main": true}); got != fb {
		t.Fatalf("Next(exclude main) = %v, want fb", got)
	}

	if got := wrr.Next(map[string]bool{"main": true, "fb": true}); got != nil {
		t.Fatalf("Next(exclude all) = %s, want nil", got.Name())
	}
}

func TestWeightedRoundRobin_ShrinkingSet(t *testing.T) {
	a := endpoint("a", 1, upstream.RoleMain)
	b := endpoint("b", 1, upstream.RoleMain)
	c := endpoint("c", 1, upstream.RoleMain)
	p := &staticProvider{main: []*upstream.Endpoint{a, b, c}}
	wrr := NewWeightedRoundRobin(p)

	wrr.Next(nil)
	wrr.Next(nil)
	wrr.Next(nil)

	p.main = []*upstream.Endpoint{a}
	if got := wrr.Next(nil); got != a {
		t.Fatalf("Next() = %s, want a", got.Name())
	}

	p.main = []*upstream.Endpoint{a, b}
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		seen[wrr.Next(nil).Name()] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("seen = %v, want both a and b", seen)
	}
}
