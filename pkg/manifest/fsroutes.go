package manifest

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Route file conventions inside the routes directory.
const (
	pageFile     = "+page.velo"
	layoutFile   = "+layout.velo"
	endpointFile = "+server.go"
)

// FSRouteSource derives route definitions from an on-disk route tree.
// Every directory under Root is a route id; +page.velo, +layout.velo
// and +server.go files inside it supply the route's nodes. Layouts
// accumulate from the root of the tree down to the route's directory.
type FSRouteSource struct {
	// Root is the routes directory.
	Root string

	// ParamsDir is the matcher directory. Every non-test .go file in it
	// is a matcher named after its base name.
	ParamsDir string

	// Supports reports whether the session's loader can execute a
	// module file. Endpoints and matchers it cannot execute are left
	// out of the route table instead of failing every build. A nil
	// Supports discovers everything.
	Supports func(file string) bool
}

func (s FSRouteSource) supports(file string) bool {
	return s.Supports == nil || s.Supports(file)
}

// Routes implements RouteSource.
func (s FSRouteSource) Routes() ([]RouteDef, error) {
	type dirEntry struct {
		hasPage   bool
		hasLayout bool
		hasServer bool
	}
	dirs := make(map[string]*dirEntry)

	err := filepath.WalkDir(s.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Directories starting with an underscore are private to
			// the app and never become routes.
			if strings.HasPrefix(d.Name(), "_") && p != s.Root {
				return filepath.SkipDir
			}
			return nil
		}

		dir := filepath.Dir(p)
		entry := dirs[dir]
		if entry == nil {
			entry = &dirEntry{}
			dirs[dir] = entry
		}
		switch d.Name() {
		case pageFile:
			entry.hasPage = true
		case layoutFile:
			entry.hasLayout = true
		case endpointFile:
			entry.hasServer = true
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var defs []RouteDef
	for dir, entry := range dirs {
		if !entry.hasPage && !entry.hasServer {
			continue
		}

		id, err := s.routeID(dir)
		if err != nil {
			return nil, err
		}

		def := RouteDef{ID: id}
		if entry.hasPage {
			def.Page = filepath.Join(dir, pageFile)
			def.Layouts = s.layoutChain(dir, func(d string) bool {
				e := dirs[d]
				return e != nil && e.hasLayout
			})
		}
		if entry.hasServer {
			endpoint := filepath.Join(dir, endpointFile)
			if s.supports(endpoint) {
				def.Endpoint = endpoint
			}
		}
		if def.Page == "" && def.Endpoint == "" {
			continue
		}
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

// layoutChain returns the +layout.velo files from the routes root down
// to dir, outermost first.
func (s FSRouteSource) layoutChain(dir string, hasLayout func(string) bool) []string {
	var chain []string
	current := dir
	for {
		if hasLayout(current) {
			chain = append(chain, filepath.Join(current, layoutFile))
		}
		if current == s.Root {
			break
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	// Collected leaf-first; reverse to root-first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// routeID converts a route directory into its route id.
func (s FSRouteSource) routeID(dir string) (string, error) {
	rel, err := filepath.Rel(s.Root, dir)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "/", nil
	}
	return "/" + filepath.ToSlash(rel), nil
}

// Matchers implements RouteSource.
func (s FSRouteSource) Matchers() ([]MatcherDef, error) {
	if s.ParamsDir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(s.ParamsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var defs []MatcherDef
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file := filepath.Join(s.ParamsDir, name)
		if !s.supports(file) {
			continue
		}
		defs = append(defs, MatcherDef{
			Name: strings.TrimSuffix(name, ".go"),
			File: file,
		})
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}
