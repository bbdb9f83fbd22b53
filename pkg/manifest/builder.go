package manifest

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/velo-dev/velo/internal/errors"
	"github.com/velo-dev/velo/pkg/graph"
	"github.com/velo-dev/velo/pkg/routepat"
)

// RouteDef is one route as reported by the route tree collaborator.
type RouteDef struct {
	// ID is the route id, e.g. "/blog/[slug]".
	ID string

	// Layouts are layout component files from root to leaf.
	Layouts []string

	// Page is the page component file, empty for endpoint-only routes.
	Page string

	// Endpoint is the endpoint handler file, empty if none.
	Endpoint string
}

// MatcherDef names one parameter matcher module.
type MatcherDef struct {
	Name string
	File string
}

// RouteSource is the file-system route tree collaborator.
type RouteSource interface {
	Routes() ([]RouteDef, error)
	Matchers() ([]MatcherDef, error)
}

// Builder assembles manifests from the current route tree and module
// graph. A Builder is immutable; Build may be called repeatedly and
// each call yields an independent manifest.
type Builder struct {
	// Loader is the module-graph loader collaborator.
	Loader graph.Loader

	// Source is the route tree collaborator.
	Source RouteSource

	// Forbidden is the session's forbidden module set.
	Forbidden graph.Forbidden

	// OutputDir is the build output directory, used to alias generated
	// environment modules in error output.
	OutputDir string

	// Extensions are extra code extensions for the filtered boundary
	// check.
	Extensions []string

	// Entry is the client entry module id recorded in the manifest.
	Entry string

	// AssetsDir is the static assets directory, scanned into the
	// manifest's asset list. Optional.
	AssetsDir string
}

// Build produces a new manifest snapshot. The returned manifest is
// complete before it is returned; callers publish it with Cell.Set so
// no partial manifest is ever observable.
func (b *Builder) Build(ctx context.Context) (*Manifest, error) {
	defs, err := b.Source.Routes()
	if err != nil {
		return nil, errors.New("E110").Wrap(err)
	}

	m := &Manifest{
		Entry:     b.Entry,
		Matchers:  make(map[string]routepat.Matcher),
		MimeTypes: DefaultMimeTypes,
	}

	// One node per unique component file; layouts shared between
	// routes reuse the same node index.
	indices := make(map[string]int)
	nodeFor := func(file string) int {
		if idx, ok := indices[file]; ok {
			return idx
		}
		idx := len(m.Nodes)
		indices[file] = idx
		m.Nodes = append(m.Nodes, &Node{
			Index:  idx,
			File:   file,
			Loader: b.newNodeLoader(file),
		})
		return idx
	}

	sortBySpecificity(defs)

	for _, def := range defs {
		pattern, err := routepat.Compile(def.ID)
		if err != nil {
			return nil, errors.New("E111").WithFile(def.ID).Wrap(err)
		}

		if def.Page != "" {
			route := &PageRoute{ID: def.ID, Pattern: pattern}
			for _, layout := range def.Layouts {
				route.Layouts = append(route.Layouts, nodeFor(layout))
			}
			route.Page = nodeFor(def.Page)
			m.Routes = append(m.Routes, route)
		}
		if def.Endpoint != "" {
			m.Routes = append(m.Routes, &EndpointRoute{
				ID:      def.ID,
				Pattern: pattern,
				Loader:  b.newNodeLoader(def.Endpoint),
			})
		}
	}

	matcherDefs, err := b.Source.Matchers()
	if err != nil {
		return nil, errors.New("E110").Wrap(err)
	}
	for _, def := range matcherDefs {
		matcher, err := b.loadMatcher(ctx, def)
		if err != nil {
			return nil, err
		}
		m.Matchers[def.Name] = matcher
	}

	if b.AssetsDir != "" {
		assets, err := scanAssets(b.AssetsDir)
		if err != nil {
			return nil, errors.New("E110").Wrap(err)
		}
		m.Assets = assets
	}

	return m, nil
}

// loadMatcher loads a matcher module and extracts its match function.
func (b *Builder) loadMatcher(ctx context.Context, def MatcherDef) (routepat.Matcher, error) {
	mod, err := b.Loader.Load(ctx, b.Loader.Resolve(def.File))
	if err != nil {
		return nil, errors.FromError(err, "E110").WithFile(def.File)
	}

	v, ok := mod["match"]
	if !ok {
		return nil, errors.New("E202").WithFile(def.File)
	}
	fn, ok := v.(func(string) bool)
	if !ok {
		return nil, errors.New("E202").
			WithFile(def.File).
			WithDetail("The \"match\" export must be a func(string) bool.")
	}
	return routepat.Matcher(fn), nil
}

// newNodeLoader creates the lazy loader embedded in a manifest node.
func (b *Builder) newNodeLoader(file string) NodeLoader {
	return &nodeLoader{
		loader:     b.Loader,
		file:       file,
		forbidden:  b.Forbidden,
		outputDir:  b.OutputDir,
		extensions: b.Extensions,
	}
}

// nodeLoader resolves a node on demand: load the module, locate its
// graph node, prove the import boundary holds, and attach the lazy
// styles accessor.
type nodeLoader struct {
	loader     graph.Loader
	file       string
	forbidden  graph.Forbidden
	outputDir  string
	extensions []string
}

func (l *nodeLoader) Resolve(ctx context.Context) (*LoadedNode, error) {
	url := l.loader.Resolve(l.file)

	mod, err := l.loader.Load(ctx, url)
	if err != nil {
		return nil, err
	}

	node, ok := l.loader.NodeByURL(url)
	if !ok {
		return nil, errors.Newf(errors.CategoryLoader, "module %s is not in the module graph", l.file).
			WithFile(l.file)
	}

	if err := graph.AssertBoundaryFiltered(node, l.forbidden, l.extensions, l.outputDir); err != nil {
		return nil, err
	}

	loaded := &LoadedNode{Module: mod, Node: node}
	loaded.collect = func(ctx context.Context) (map[string]string, error) {
		return graph.CollectStyles(ctx, l.loader, node, nil)
	}
	return loaded, nil
}

// scanAssets lists the files under dir with sizes and MIME types.
func scanAssets(dir string) ([]Asset, error) {
	var assets []Asset
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == dir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		assets = append(assets, Asset{
			File: rel,
			Size: info.Size(),
			Type: DefaultMimeTypes[path.Ext(rel)],
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].File < assets[j].File })
	return assets, nil
}

// sortBySpecificity orders route defs so more specific routes match
// first: literal segments beat constrained params, constrained params
// beat plain ones, and rest segments come last. Ties break on id for
// deterministic rebuilds.
func sortBySpecificity(defs []RouteDef) {
	sort.SliceStable(defs, func(i, j int) bool {
		a, b := routeScore(defs[i].ID), routeScore(defs[j].ID)
		if a != b {
			return a > b
		}
		return defs[i].ID < defs[j].ID
	})
}

func routeScore(id string) int {
	score := 0
	for _, seg := range strings.Split(strings.Trim(id, "/"), "/") {
		switch {
		case seg == "":
		case strings.HasPrefix(seg, "[..."):
			score -= 10
		case strings.HasPrefix(seg, "["):
			if strings.Contains(seg, "=") {
				score += 2
			} else {
				score++
			}
		default:
			score += 4
		}
	}
	return score
}
