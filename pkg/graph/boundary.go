package graph

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/velo-dev/velo/internal/errors"
)

// Forbidden is the set of canonical module ids that must never be
// reachable from client-executed code. It is built once per dev session
// or build and never mutated during a check.
type Forbidden map[string]struct{}

// NewForbidden builds a forbidden set from canonical ids.
func NewForbidden(ids ...string) Forbidden {
	f := make(Forbidden, len(ids))
	for _, id := range ids {
		f[id] = struct{}{}
	}
	return f
}

// Has reports whether id is forbidden.
func (f Forbidden) Has(id string) bool {
	_, ok := f[id]
	return ok
}

// ChainLink is one step of an import chain. Dynamic marks the edge
// *into* the named module; the root link is never dynamic.
type ChainLink struct {
	Name    string
	Dynamic bool
}

// Check performs a depth-first search from root and returns the import
// chain from root down to the first forbidden module encountered, or
// nil when no forbidden module is reachable. Static edges are explored
// before dynamic ones, so a static violation is reported even when a
// dynamic one also exists.
//
// The seen set is scoped to this call. A node is removed from it again
// once its subtree is exhausted without a violation, so the same module
// can be reconsidered on a different path from a sibling higher up.
// Diamond-shaped graphs therefore revisit subtrees; that is a deliberate
// trade of speed for a small amount of state.
func Check(root Walkable, forbidden Forbidden) []ChainLink {
	seen := make(map[string]struct{})
	return walk(root, false, forbidden, seen)
}

func walk(node Walkable, viaDynamic bool, forbidden Forbidden, seen map[string]struct{}) []ChainLink {
	id := node.ID()

	if _, ok := seen[id]; ok {
		// Already on the current path or fully explored on it; do not
		// re-descend.
		return nil
	}
	seen[id] = struct{}{}

	if forbidden.Has(id) {
		return []ChainLink{{Name: id, Dynamic: viaDynamic}}
	}

	for _, child := range node.Static() {
		if chain := walk(child, false, forbidden, seen); chain != nil {
			return prepend(id, viaDynamic, chain)
		}
	}
	for _, child := range node.Dynamic() {
		if chain := walk(child, true, forbidden, seen); chain != nil {
			return prepend(id, viaDynamic, chain)
		}
	}

	// Backtrack: this subtree is clean, but the module may still sit on
	// a violating path reached from elsewhere.
	delete(seen, id)
	return nil
}

func prepend(id string, dynamic bool, chain []ChainLink) []ChainLink {
	return append([]ChainLink{{Name: id, Dynamic: dynamic}}, chain...)
}

// CheckFiltered is Check restricted to the allow-listed code extensions
// (DefaultExtensions plus extra). It exists for the live development
// graph, which over-reports import edges for non-code assets.
func CheckFiltered(root Walkable, forbidden Forbidden, extra []string) []ChainLink {
	return Check(Filtered(root, extra), forbidden)
}

// FormatChain renders an import chain as an indented chain-of-custody
// listing. Paths under <outputDir>/runtime/env are rewritten to their
// $env alias for readability.
func FormatChain(chain []ChainLink, outputDir string) string {
	var b strings.Builder
	for depth, link := range chain {
		if depth > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString("- ")
		b.WriteString(aliasEnvPath(link.Name, outputDir))
		// Check never marks the root link dynamic, but FormatChain stays
		// total over hand-built chains.
		if link.Dynamic && depth > 0 {
			b.WriteString(" (imported by ")
			b.WriteString(aliasEnvPath(chain[depth-1].Name, outputDir))
			b.WriteString(" dynamically)")
		}
	}
	return b.String()
}

// AssertBoundary runs Check and converts a violation into the fatal
// chain-of-custody error. A nil return means root cannot reach any
// forbidden module.
func AssertBoundary(root Walkable, forbidden Forbidden, outputDir string) error {
	chain := Check(root, forbidden)
	if chain == nil {
		return nil
	}
	return violation(chain, outputDir)
}

// AssertBoundaryFiltered is AssertBoundary over the extension-filtered
// development graph.
func AssertBoundaryFiltered(root Walkable, forbidden Forbidden, extra []string, outputDir string) error {
	chain := CheckFiltered(root, forbidden, extra)
	if chain == nil {
		return nil
	}
	return violation(chain, outputDir)
}

func violation(chain []ChainLink, outputDir string) error {
	offender := chain[len(chain)-1].Name
	return errors.New("E201").
		WithFile(chain[0].Name).
		WithDetailf("%s is imported by client-reachable code:\n\n%s",
			aliasEnvPath(offender, outputDir), FormatChain(chain, outputDir)).
		WithSuggestion("Move the import into server-only code, or expose the value through a public environment variable")
}

// aliasEnvPath rewrites generated environment module paths back to
// their $env virtual id so error output names what the user imported.
func aliasEnvPath(id, outputDir string) string {
	if outputDir == "" {
		return id
	}
	envDir := filepath.ToSlash(filepath.Join(outputDir, "runtime", "env"))
	norm := filepath.ToSlash(id)
	rel, ok := strings.CutPrefix(norm, envDir+"/")
	if !ok {
		return id
	}
	rel = strings.TrimSuffix(rel, path.Ext(rel))
	return "$env/" + rel
}
