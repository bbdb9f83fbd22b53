// Package manifest assembles the render manifest: the immutable
// description of every loadable route and component for one point in
// time.
//
// A manifest is rebuilt from the file-system route tree whenever a
// route file is added or removed, and replaced atomically. Requests
// take a snapshot reference once and use it for their entire lifetime;
// in-flight loads against a stale manifest stay valid until collected.
package manifest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/velo-dev/velo/pkg/graph"
	"github.com/velo-dev/velo/pkg/routepat"
)

// NodeLoader lazily loads one manifest node. Implementations must be
// safe for concurrent use and may cache the loaded result.
type NodeLoader interface {
	Resolve(ctx context.Context) (*LoadedNode, error)
}

// LoadedNode is a manifest node after its module has been loaded,
// graph-located, and boundary-checked.
type LoadedNode struct {
	// Module is the loaded module's exports.
	Module graph.Module

	// Node is the module's current graph node.
	Node *graph.DevNode

	stylesOnce sync.Once
	styles     map[string]string
	stylesErr  error
	collect    func(ctx context.Context) (map[string]string, error)
}

// InlineStyles returns the transitive stylesheet contents of the node,
// keyed by URL. The graph walk is deferred until first requested and
// performed at most once.
func (n *LoadedNode) InlineStyles(ctx context.Context) (map[string]string, error) {
	n.stylesOnce.Do(func() {
		if n.collect == nil {
			n.styles = map[string]string{}
			return
		}
		n.styles, n.stylesErr = n.collect(ctx)
	})
	return n.styles, n.stylesErr
}

// Node is one loadable unit (UI component or endpoint handler).
type Node struct {
	// Index is the node's position in Manifest.Nodes.
	Index int

	// File is the resolved source file id.
	File string

	// Loader lazily loads the node.
	Loader NodeLoader
}

// Route is a manifest route, either a *PageRoute or an *EndpointRoute.
type Route interface {
	// RouteID returns the route id the route was compiled from.
	RouteID() string

	// Matcher returns the compiled pattern.
	Matcher() *routepat.Pattern
}

// PageRoute renders a component tree: the layouts in order from root to
// leaf, then the page itself.
type PageRoute struct {
	ID      string
	Pattern *routepat.Pattern

	// Layouts are indices into Manifest.Nodes, root first.
	Layouts []int

	// Page is the page node's index into Manifest.Nodes.
	Page int
}

func (r *PageRoute) RouteID() string            { return r.ID }
func (r *PageRoute) Matcher() *routepat.Pattern { return r.Pattern }

// EndpointRoute serves a request through a handler module.
type EndpointRoute struct {
	ID      string
	Pattern *routepat.Pattern

	// Loader lazily loads the handler module.
	Loader NodeLoader
}

func (r *EndpointRoute) RouteID() string            { return r.ID }
func (r *EndpointRoute) Matcher() *routepat.Pattern { return r.Pattern }

// Asset describes one static asset available to the app.
type Asset struct {
	// File is the path relative to the assets directory.
	File string

	// Size is the file size in bytes.
	Size int64

	// Type is the MIME type derived from the extension.
	Type string
}

// Manifest is an immutable snapshot of everything loadable. It is
// never mutated after Build returns; rebuilds produce a fresh value.
type Manifest struct {
	// Entry is the client entry module id.
	Entry string

	// Nodes are the loadable units referenced by routes.
	Nodes []*Node

	// Routes are in match order: the first route whose pattern and
	// matchers accept a pathname wins.
	Routes []Route

	// Matchers are the loaded parameter matchers by name.
	Matchers map[string]routepat.Matcher

	// Assets are the static assets found at build time.
	Assets []Asset

	// MimeTypes maps file extensions to MIME types.
	MimeTypes map[string]string
}

// Match finds the first route accepting the pathname. The returned
// params hold the captured values.
func (m *Manifest) Match(pathname string) (Route, routepat.Params, bool) {
	for _, route := range m.Routes {
		params, ok := route.Matcher().Match(pathname)
		if !ok {
			continue
		}
		if !route.Matcher().Satisfies(params, m.Matchers) {
			continue
		}
		return route, params, true
	}
	return nil, nil, false
}

// Cell is the single swap-on-write holder of the current manifest.
// One writer (the rebuild loop) replaces the value; any number of
// readers snapshot it. No locking: replacement is an atomic pointer
// swap and snapshots stay internally consistent.
type Cell struct {
	ptr atomic.Pointer[Manifest]
}

// Set replaces the current manifest.
func (c *Cell) Set(m *Manifest) {
	c.ptr.Store(m)
}

// Get returns the current manifest snapshot, or nil before the first
// build.
func (c *Cell) Get() *Manifest {
	return c.ptr.Load()
}

// DefaultMimeTypes is the extension-to-MIME table embedded in each
// manifest and used by the dev server's static responders.
var DefaultMimeTypes = map[string]string{
	".html":  "text/html",
	".css":   "text/css",
	".js":    "text/javascript",
	".mjs":   "text/javascript",
	".json":  "application/json",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".webp":  "image/webp",
	".avif":  "image/avif",
	".ico":   "image/x-icon",
	".txt":   "text/plain",
	".xml":   "application/xml",
	".pdf":   "application/pdf",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
	".mp3":   "audio/mpeg",
	".wasm":  "application/wasm",
}
