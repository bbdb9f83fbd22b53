package runtime

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/velo-dev/velo/internal/errors"
	"github.com/velo-dev/velo/pkg/graph"
)

// Import directives recognized in .velo sources. @import pulls a module
// in unconditionally; @defer marks a lazily loaded one.
var (
	staticImportRe  = regexp.MustCompile(`(?m)^@import\s+"([^"]+)"`)
	dynamicImportRe = regexp.MustCompile(`(?m)^@defer\s+"([^"]+)"`)
)

// Loader is the built-in file-backed module loader. It reads modules
// from disk, tracks their import graph, and serves virtual modules
// registered through Define. Safe for concurrent use.
type Loader struct {
	// Root is the project directory module paths resolve against.
	Root string

	mu      sync.Mutex
	modules map[string]graph.Module
	nodes   map[string]*graph.DevNode
	virtual map[string]graph.Module
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{
		Root:    dir,
		modules: make(map[string]graph.Module),
		nodes:   make(map[string]*graph.DevNode),
		virtual: make(map[string]graph.Module),
	}
}

// Resolve canonicalizes a module id. Virtual ids ($env/...) pass
// through; file ids become absolute paths.
func (l *Loader) Resolve(id string) string {
	if strings.HasPrefix(id, "$") {
		return id
	}
	if filepath.IsAbs(id) {
		return filepath.Clean(id)
	}
	return filepath.Join(l.Root, id)
}

// Load returns a module's exports, reading and caching the file on
// first use.
func (l *Loader) Load(ctx context.Context, url string) (graph.Module, error) {
	l.mu.Lock()
	if mod, ok := l.virtual[url]; ok {
		l.mu.Unlock()
		return mod, nil
	}
	if mod, ok := l.modules[url]; ok {
		l.mu.Unlock()
		return mod, nil
	}
	l.mu.Unlock()

	data, err := os.ReadFile(url)
	if err != nil {
		return nil, errors.Newf(errors.CategoryLoader, "cannot load module %s", url).
			WithFile(url).
			Wrap(err)
	}
	content := string(data)

	node := &graph.DevNode{URL: url, File: url}
	for _, dep := range staticImportRe.FindAllStringSubmatch(content, -1) {
		child, err := l.loadDep(ctx, url, dep[1])
		if err != nil {
			return nil, err
		}
		node.Imported = append(node.Imported, child)
	}
	for _, dep := range dynamicImportRe.FindAllStringSubmatch(content, -1) {
		child, err := l.loadDep(ctx, url, dep[1])
		if err != nil {
			return nil, err
		}
		node.DynamicallyImported = append(node.DynamicallyImported, child)
	}

	mod := graph.Module{"default": content}

	l.mu.Lock()
	l.modules[url] = mod
	l.nodes[url] = node
	l.mu.Unlock()

	return mod, nil
}

// loadDep resolves and loads one imported module, returning its graph
// node. Virtual deps yield bare nodes so the boundary checker sees
// them.
func (l *Loader) loadDep(ctx context.Context, from, dep string) (*graph.DevNode, error) {
	var url string
	if strings.HasPrefix(dep, "$") {
		url = dep
	} else if strings.HasPrefix(dep, ".") {
		url = filepath.Clean(filepath.Join(filepath.Dir(from), dep))
	} else {
		url = l.Resolve(dep)
	}

	if strings.HasPrefix(url, "$") {
		l.mu.Lock()
		node, ok := l.nodes[url]
		if !ok {
			node = &graph.DevNode{URL: url}
			l.nodes[url] = node
		}
		l.mu.Unlock()
		return node, nil
	}

	if _, err := l.Load(ctx, url); err != nil {
		return nil, err
	}
	l.mu.Lock()
	node := l.nodes[url]
	l.mu.Unlock()
	return node, nil
}

// NodeByURL returns the graph node for a loaded module.
func (l *Loader) NodeByURL(url string) (*graph.DevNode, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if node, ok := l.nodes[url]; ok {
		return node, true
	}
	if _, ok := l.virtual[url]; ok {
		node := &graph.DevNode{URL: url}
		l.nodes[url] = node
		return node, true
	}
	return nil, false
}

// Define registers a virtual module, replacing any previous value.
// Defining a file id attaches Go-defined exports (endpoint handlers,
// parameter matchers) the loader cannot derive from source.
func (l *Loader) Define(id string, exports graph.Module) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.virtual[id] = exports
}

// Executable reports whether the loader can execute a module file.
// Template sources always can; Go sources only when their exports were
// registered through Define.
func (l *Loader) Executable(file string) bool {
	if !strings.HasSuffix(file, ".go") {
		return true
	}
	url := l.Resolve(file)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.virtual[url]
	return ok
}

// Invalidate drops a module from the cache so the next load re-reads
// it. Directory prefixes invalidate everything beneath them.
func (l *Loader) Invalidate(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id := range l.modules {
		if id == url || strings.HasPrefix(id, url+string(os.PathSeparator)) {
			delete(l.modules, id)
			delete(l.nodes, id)
		}
	}
}

// FixStack strips the project root from stack trace paths for
// readability.
func (l *Loader) FixStack(stack string) string {
	if l.Root == "" {
		return stack
	}
	return strings.ReplaceAll(stack, l.Root+string(os.PathSeparator), "")
}
