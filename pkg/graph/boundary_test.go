package graph

import (
	"reflect"
	"strings"
	"testing"

	"github.com/velo-dev/velo/internal/errors"
)

// build constructs a BuildGraph from an adjacency description.
func build(static map[string][]string, dynamic map[string][]string) BuildGraph {
	g := make(BuildGraph)
	add := func(id string) *BuildNode {
		if n, ok := g[id]; ok {
			return n
		}
		n := &BuildNode{ID: id}
		g[id] = n
		return n
	}
	for id, deps := range static {
		n := add(id)
		n.StaticImports = deps
		for _, d := range deps {
			add(d)
		}
	}
	for id, deps := range dynamic {
		n := add(id)
		n.DynamicImports = deps
		for _, d := range deps {
			add(d)
		}
	}
	return g
}

func rootOf(t *testing.T, g BuildGraph, id string) Walkable {
	t.Helper()
	n, ok := g.Node(id)
	if !ok {
		t.Fatalf("node %q not in graph", id)
	}
	return n
}

func TestCheckNoViolation(t *testing.T) {
	g := build(map[string][]string{
		"A": {"B", "C"},
		"B": {"C"},
		"C": {"A"}, // cycle back to the root
	}, nil)

	if chain := Check(rootOf(t, g, "A"), NewForbidden("Z")); chain != nil {
		t.Errorf("Check = %v, want no violation", chain)
	}
}

func TestCheckStaticChain(t *testing.T) {
	g := build(map[string][]string{
		"A": {"B"},
		"B": {"C"},
	}, nil)

	chain := Check(rootOf(t, g, "A"), NewForbidden("C"))
	want := []ChainLink{{"A", false}, {"B", false}, {"C", false}}
	if !reflect.DeepEqual(chain, want) {
		t.Errorf("chain = %v, want %v", chain, want)
	}
}

func TestCheckDynamicEdgeFlag(t *testing.T) {
	g := build(map[string][]string{
		"A": {"B"},
	}, map[string][]string{
		"B": {"C"},
	})

	chain := Check(rootOf(t, g, "A"), NewForbidden("C"))
	want := []ChainLink{{"A", false}, {"B", false}, {"C", true}}
	if !reflect.DeepEqual(chain, want) {
		t.Errorf("chain = %v, want %v", chain, want)
	}
}

func TestCheckStaticReportedBeforeDynamic(t *testing.T) {
	// Both a static and a dynamic path reach a forbidden module; the
	// static one must win.
	g := build(map[string][]string{
		"A": {"B"},
		"B": {"X"},
	}, map[string][]string{
		"A": {"X"},
	})

	chain := Check(rootOf(t, g, "A"), NewForbidden("X"))
	want := []ChainLink{{"A", false}, {"B", false}, {"X", false}}
	if !reflect.DeepEqual(chain, want) {
		t.Errorf("chain = %v, want %v", chain, want)
	}
}

func TestCheckIdempotent(t *testing.T) {
	g := build(map[string][]string{
		"A": {"B", "C"},
		"B": {"D"},
		"C": {"D"},
		"D": {"X"},
	}, nil)

	root := rootOf(t, g, "A")
	forbidden := NewForbidden("X")

	first := Check(root, forbidden)
	second := Check(root, forbidden)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("runs differ: %v vs %v", first, second)
	}
}

// countingWalker records how many times each node's children are asked
// for, proving the seen set is backtracked between sibling branches.
type countingWalker struct {
	Walkable
	visits map[string]int
}

func (c *countingWalker) Static() []Walkable {
	c.visits[c.ID()]++
	return c.wrap(c.Walkable.Static())
}

func (c *countingWalker) Dynamic() []Walkable {
	return c.wrap(c.Walkable.Dynamic())
}

func (c *countingWalker) wrap(children []Walkable) []Walkable {
	out := make([]Walkable, len(children))
	for i, child := range children {
		out[i] = &countingWalker{Walkable: child, visits: c.visits}
	}
	return out
}

func TestCheckBacktracksSeenSet(t *testing.T) {
	// S is reachable from both siblings. After the A branch exhausts
	// without a violation, S must be walkable again from B.
	g := build(map[string][]string{
		"root": {"A", "B"},
		"A":    {"S"},
		"B":    {"S"},
		"S":    {"T"},
	}, nil)

	counter := &countingWalker{Walkable: rootOf(t, g, "root"), visits: make(map[string]int)}
	if chain := Check(counter, NewForbidden("Z")); chain != nil {
		t.Fatalf("unexpected violation: %v", chain)
	}
	if counter.visits["S"] != 2 {
		t.Errorf("S descended %d times, want 2 (seen set must backtrack)", counter.visits["S"])
	}
}

func TestCheckFilteredSkipsAssets(t *testing.T) {
	// The dev graph over-reports an edge through an image; the filtered
	// walk must not descend into it.
	img := &DevNode{URL: "/assets/logo.png", File: "/app/assets/logo.png"}
	private := &DevNode{URL: "$env/static/private"}
	img.Imported = []*DevNode{private}

	code := &DevNode{URL: "/src/routes/page.velo", File: "/app/src/routes/page.velo"}
	code.Imported = []*DevNode{img}

	if chain := CheckFiltered(code, NewForbidden("$env/static/private"), nil); chain != nil {
		t.Errorf("filtered check descended into a non-code asset: %v", chain)
	}

	// The unfiltered check still sees the violation.
	if chain := Check(code, NewForbidden("$env/static/private")); chain == nil {
		t.Error("unfiltered check should report the violation")
	}
}

func TestCheckFilteredExtraExtensions(t *testing.T) {
	dep := &DevNode{URL: "/src/lib/query.gql", File: "/app/src/lib/query.gql"}
	private := &DevNode{URL: "$env/static/private"}
	dep.Imported = []*DevNode{private}

	code := &DevNode{URL: "/src/routes/page.velo", File: "/app/src/routes/page.velo"}
	code.Imported = []*DevNode{dep}

	forbidden := NewForbidden("$env/static/private")
	if chain := CheckFiltered(code, forbidden, nil); chain != nil {
		t.Errorf(".gql should be skipped by default, got %v", chain)
	}
	if chain := CheckFiltered(code, forbidden, []string{"gql"}); chain == nil {
		t.Error("configured extension should be descended into")
	}
}

func TestFormatChain(t *testing.T) {
	chain := []ChainLink{
		{"src/routes/+page.velo", false},
		{"src/lib/db.go", false},
		{"dist/runtime/env/static/private.go", true},
	}

	out := FormatChain(chain, "dist")
	want := "- src/routes/+page.velo\n" +
		"  - src/lib/db.go\n" +
		"    - $env/static/private (imported by src/lib/db.go dynamically)"
	if out != want {
		t.Errorf("FormatChain =\n%s\nwant\n%s", out, want)
	}
}

func TestFormatChainDynamicRoot(t *testing.T) {
	// A dynamic root link has no importer to name; the annotation is
	// dropped rather than indexing before the chain.
	out := FormatChain([]ChainLink{{"src/lib/db.go", true}}, "")
	if out != "- src/lib/db.go" {
		t.Errorf("FormatChain = %q", out)
	}
}

func TestAssertBoundary(t *testing.T) {
	g := build(map[string][]string{
		"A": {"B"},
		"B": {"dist/runtime/env/static/private.go"},
	}, nil)

	err := AssertBoundary(rootOf(t, g, "A"), NewForbidden("dist/runtime/env/static/private.go"), "dist")
	if err == nil {
		t.Fatal("expected a boundary violation error")
	}
	if !errors.IsCode(err, "E201") {
		t.Errorf("error = %v, want E201", err)
	}
	ve := err.(*errors.Error)
	if !strings.Contains(ve.Detail, "$env/static/private") {
		t.Errorf("detail should alias the env path:\n%s", ve.Detail)
	}

	if err := AssertBoundary(rootOf(t, g, "A"), NewForbidden("absent"), "dist"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
