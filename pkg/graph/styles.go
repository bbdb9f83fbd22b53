package graph

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// styleExtensions are URL extensions treated as stylesheets.
var styleExtensions = map[string]struct{}{
	".css":  {},
	".scss": {},
	".sass": {},
	".less": {},
}

// IsStylesheet reports whether a module URL refers to a stylesheet,
// either by extension or by the style marker query parameter the
// transform pipeline attaches to compiled component styles. Extra
// extensions (with or without the leading dot) widen the match.
func IsStylesheet(moduleURL string, extra ...string) bool {
	ext := idExtension(moduleURL)
	if _, ok := styleExtensions[ext]; ok {
		return true
	}
	for _, e := range extra {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if ext == e {
			return true
		}
	}
	if idx := strings.IndexByte(moduleURL, '?'); idx != -1 {
		q, err := url.ParseQuery(moduleURL[idx+1:])
		if err == nil && q.Get("type") == "style" {
			return true
		}
	}
	return false
}

// CollectStyles walks the development graph from node and gathers the
// raw CSS of every stylesheet dependency, keyed by URL, for inline
// injection during server rendering. Sibling branches are resolved
// concurrently and joined before returning.
//
// Individual load failures are swallowed: the graph may report edges
// for modules that cannot be loaded in isolation during dynamic-import
// analysis, and a partial result still prevents most unstyled flashes.
func CollectStyles(ctx context.Context, loader Loader, node *DevNode, extra []string) (map[string]string, error) {
	c := &styleCollector{
		loader: loader,
		extra:  extra,
		seen:   make(map[string]struct{}),
		styles: make(map[string]string),
	}
	c.mark(node.ID())
	if err := c.visit(ctx, node); err != nil {
		return c.styles, err
	}
	return c.styles, nil
}

type styleCollector struct {
	loader Loader
	extra  []string
	mu     sync.Mutex
	seen   map[string]struct{}
	styles map[string]string
}

// mark records an id as visited, returning false if it already was.
func (c *styleCollector) mark(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[id]; ok {
		return false
	}
	c.seen[id] = struct{}{}
	return true
}

func (c *styleCollector) record(url, css string) {
	c.mu.Lock()
	c.styles[url] = css
	c.mu.Unlock()
}

func (c *styleCollector) visit(ctx context.Context, node *DevNode) error {
	deps := make([]*DevNode, 0, len(node.Imported)+len(node.DynamicallyImported))
	deps = append(deps, node.Imported...)
	deps = append(deps, node.DynamicallyImported...)

	g, ctx := errgroup.WithContext(ctx)
	for _, dep := range deps {
		if !c.mark(dep.ID()) {
			continue
		}
		dep := dep
		g.Go(func() error {
			if err := c.visit(ctx, dep); err != nil {
				return err
			}
			if !IsStylesheet(dep.URL, c.extra...) {
				return nil
			}
			mod, err := c.loader.Load(ctx, dep.URL)
			if err != nil {
				// Non-fatal: keep whatever the other branches found.
				return nil
			}
			if css, ok := mod.Default(); ok {
				if text, ok := css.(string); ok {
					c.record(dep.URL, text)
				}
			}
			return nil
		})
	}
	return g.Wait()
}
