// Package graph models the module dependency graph owned by the
// bundler collaborator and implements the import-boundary checker and
// stylesheet collector that run against it.
//
// Two graph shapes exist behind one capability. The build-time graph
// identifies modules by canonical id and lists imported ids; the live
// development graph hands out node handles whose children are further
// handles. Both are adapted to Walkable so the checker is written once.
package graph

import (
	"context"
	"path"
	"strings"
)

// Module is the export map of a loaded module. The default export, when
// present, is stored under the "default" key.
type Module map[string]any

// Default returns the module's default export.
func (m Module) Default() (any, bool) {
	v, ok := m["default"]
	return v, ok
}

// Walkable is the capability the boundary checker requires of a graph
// node: an identity and its statically and dynamically imported
// children. Implementations only read the underlying graph, which is
// owned by the bundler collaborator.
type Walkable interface {
	// ID returns the canonical module identifier.
	ID() string

	// Static returns nodes imported through static import edges.
	Static() []Walkable

	// Dynamic returns nodes imported through dynamic import edges.
	Dynamic() []Walkable
}

// =============================================================================
// Build-time graph shape
// =============================================================================

// BuildNode describes one module in the build-time graph: its canonical
// id and the ids it imports. Imported ids that are absent from the
// graph are treated as leaves.
type BuildNode struct {
	ID             string   `json:"id"`
	StaticImports  []string `json:"static"`
	DynamicImports []string `json:"dynamic"`
}

// BuildGraph is the build-time module graph, keyed by canonical id.
type BuildGraph map[string]*BuildNode

// Node adapts the module with the given id to Walkable.
func (g BuildGraph) Node(id string) (Walkable, bool) {
	n, ok := g[id]
	if !ok {
		return nil, false
	}
	return &buildWalker{graph: g, node: n}, true
}

type buildWalker struct {
	graph BuildGraph
	node  *BuildNode
}

func (w *buildWalker) ID() string { return w.node.ID }

func (w *buildWalker) Static() []Walkable {
	return w.resolve(w.node.StaticImports)
}

func (w *buildWalker) Dynamic() []Walkable {
	return w.resolve(w.node.DynamicImports)
}

func (w *buildWalker) resolve(ids []string) []Walkable {
	children := make([]Walkable, 0, len(ids))
	for _, id := range ids {
		if n, ok := w.graph[id]; ok {
			children = append(children, &buildWalker{graph: w.graph, node: n})
		} else {
			// Unresolvable ids still participate in the forbidden
			// check as leaves.
			children = append(children, leaf(id))
		}
	}
	return children
}

type leaf string

func (l leaf) ID() string          { return string(l) }
func (l leaf) Static() []Walkable  { return nil }
func (l leaf) Dynamic() []Walkable { return nil }

// =============================================================================
// Development graph shape
// =============================================================================

// DevNode is a handle into the live development module graph. File is
// the canonicalized absolute path for on-disk modules and empty for
// virtual ones, in which case URL identifies the node.
type DevNode struct {
	URL                 string
	File                string
	Imported            []*DevNode
	DynamicallyImported []*DevNode
}

// ID returns the canonical identity of the node.
func (n *DevNode) ID() string {
	if n.File != "" {
		return n.File
	}
	return n.URL
}

// Static implements Walkable.
func (n *DevNode) Static() []Walkable { return devChildren(n.Imported) }

// Dynamic implements Walkable.
func (n *DevNode) Dynamic() []Walkable { return devChildren(n.DynamicallyImported) }

func devChildren(nodes []*DevNode) []Walkable {
	children := make([]Walkable, len(nodes))
	for i, c := range nodes {
		children[i] = c
	}
	return children
}

// =============================================================================
// Extension filtering
// =============================================================================

// DefaultExtensions are the code extensions the filtered checker
// descends into. The live development graph transitively over-reports
// import edges for non-code assets; restricting traversal to these
// extensions (plus any configured extras) keeps the dev-graph check in
// line with the build-time graph.
var DefaultExtensions = []string{".go", ".velo", ".json"}

// Filtered wraps a node so that children whose ids carry a file
// extension outside the allowed set are not descended into. Ids without
// an extension (virtual modules such as $env/static/private) always
// pass.
func Filtered(node Walkable, extra []string) Walkable {
	allowed := make(map[string]struct{}, len(DefaultExtensions)+len(extra))
	for _, ext := range DefaultExtensions {
		allowed[ext] = struct{}{}
	}
	for _, ext := range extra {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	return &filteredWalker{node: node, allowed: allowed}
}

type filteredWalker struct {
	node    Walkable
	allowed map[string]struct{}
}

func (f *filteredWalker) ID() string { return f.node.ID() }

func (f *filteredWalker) Static() []Walkable { return f.filter(f.node.Static()) }

func (f *filteredWalker) Dynamic() []Walkable { return f.filter(f.node.Dynamic()) }

func (f *filteredWalker) filter(children []Walkable) []Walkable {
	out := make([]Walkable, 0, len(children))
	for _, c := range children {
		ext := idExtension(c.ID())
		if ext != "" {
			if _, ok := f.allowed[ext]; !ok {
				continue
			}
		}
		out = append(out, &filteredWalker{node: c, allowed: f.allowed})
	}
	return out
}

// idExtension returns the file extension of a module id, ignoring any
// query string.
func idExtension(id string) string {
	if idx := strings.IndexByte(id, '?'); idx != -1 {
		id = id[:idx]
	}
	return path.Ext(id)
}

// =============================================================================
// Loader collaborator
// =============================================================================

// Loader is the module-graph loader collaborator. It owns module
// resolution, loading, and the source-map facility; this package and
// its callers only consume it.
type Loader interface {
	// Resolve maps a source file or virtual id to a graph-addressable URL.
	Resolve(id string) string

	// Load requests a module by URL, transforming and executing it if
	// it is not already in the graph.
	Load(ctx context.Context, url string) (Module, error)

	// NodeByURL returns the current graph node for a URL.
	NodeByURL(url string) (*DevNode, bool)

	// Define registers a virtual module under the given id, replacing
	// any previous definition.
	Define(id string, exports Module)

	// FixStack rewrites a stack trace through the graph's source maps.
	FixStack(stack string) string
}
