package dev

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/velo-dev/velo/internal/config"
	"github.com/velo-dev/velo/pkg/env"
	"github.com/velo-dev/velo/pkg/graph"
	"github.com/velo-dev/velo/pkg/hooks"
	"github.com/velo-dev/velo/pkg/manifest"
)

// testLoader is an in-memory graph.Loader.
type testLoader struct {
	mu      sync.Mutex
	modules map[string]graph.Module
	defined map[string]graph.Module
}

func newTestLoader() *testLoader {
	return &testLoader{
		modules: make(map[string]graph.Module),
		defined: make(map[string]graph.Module),
	}
}

func (l *testLoader) Resolve(id string) string { return id }

func (l *testLoader) Load(ctx context.Context, url string) (graph.Module, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if mod, ok := l.modules[url]; ok {
		return mod, nil
	}
	if mod, ok := l.defined[url]; ok {
		return mod, nil
	}
	return nil, fmt.Errorf("module %s not found", url)
}

func (l *testLoader) NodeByURL(url string) (*graph.DevNode, bool) { return nil, false }

func (l *testLoader) Define(id string, exports graph.Module) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defined[id] = exports
}

func (l *testLoader) FixStack(stack string) string { return "rewritten:" + stack }

func (l *testLoader) hasDefined(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.defined[id]
	return ok
}

// renderFunc adapts a function to the Renderer interface.
type renderFunc func(ctx context.Context, req *http.Request, opts *RenderOptions) (*hooks.Response, error)

func (f renderFunc) Respond(ctx context.Context, req *http.Request, opts *RenderOptions) (*hooks.Response, error) {
	return f(ctx, req, opts)
}

func notFoundRenderer() Renderer {
	return renderFunc(func(ctx context.Context, req *http.Request, opts *RenderOptions) (*hooks.Response, error) {
		resp := hooks.NewResponse(http.StatusNotFound)
		resp.Body = "render: not found"
		return resp, nil
	})
}

// newTestServer builds a server over a throwaway project directory.
func newTestServer(t *testing.T, loader *testLoader, renderer Renderer, conf map[string]any) *Server {
	t.Helper()

	dir := t.TempDir()
	if conf == nil {
		conf = map[string]any{}
	}
	if _, ok := conf["dev"]; !ok {
		conf["dev"] = map[string]any{"hotReload": false}
	}
	data, err := json.Marshal(conf)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "velo.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"src/routes", "static"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	s := NewServer(ServerOptions{
		Config:   cfg,
		Loader:   loader,
		Renderer: renderer,
	})
	s.cell.Set(&manifest.Manifest{})
	return s
}

func writeStatic(t *testing.T, s *Server, name, content string) {
	t.Helper()
	p := filepath.Join(s.config.StaticPath(), filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDispatchServesAsset(t *testing.T) {
	s := newTestServer(t, newTestLoader(), notFoundRenderer(), nil)
	writeStatic(t, s, "logo.png", "png-bytes")

	req := httptest.NewRequest(http.MethodGet, "/assets/logo.png", nil)
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "png-bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
}

func TestDispatchServesStylesheetContentType(t *testing.T) {
	s := newTestServer(t, newTestLoader(), notFoundRenderer(), nil)
	writeStatic(t, s, "app.css", "body{margin:0}")

	// Browsers refuse stylesheets without a CSS type; the responder must
	// answer from the manifest MIME table.
	req := httptest.NewRequest(http.MethodGet, "/assets/app.css", nil)
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/css") {
		t.Errorf("Content-Type = %q, want text/css", ct)
	}
}

func TestDispatchAssetCaseMismatchFallsThrough(t *testing.T) {
	s := newTestServer(t, newTestLoader(), notFoundRenderer(), nil)
	writeStatic(t, s, "Logo.png", "x")

	// Wrong case must not be served even where the OS would find the
	// file; the request proceeds to not-found handling instead.
	req := httptest.NewRequest(http.MethodGet, "/assets/logo.png", nil)
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if rec.Body.String() == "x" {
		t.Error("wrong-case asset must not be served")
	}
}

func TestDispatchOutsideBase(t *testing.T) {
	s := newTestServer(t, newTestLoader(), notFoundRenderer(), map[string]any{
		"paths": map[string]any{"base": "/app"},
	})

	req := httptest.NewRequest(http.MethodGet, "/about", nil)
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/app/about") {
		t.Errorf("404 body should name the base-prefixed URL, got %q", rec.Body.String())
	}
}

func TestDispatchRendersResponse(t *testing.T) {
	renderer := renderFunc(func(ctx context.Context, req *http.Request, opts *RenderOptions) (*hooks.Response, error) {
		if opts.Manifest == nil {
			t.Error("renderer should receive a manifest snapshot")
		}
		if opts.Hooks == nil {
			t.Error("renderer should receive defaulted hooks")
		}
		resp := hooks.NewResponse(http.StatusOK)
		resp.Header.Set("Content-Type", "text/html")
		resp.Body = "<html><body>hi</body></html>"
		return resp, nil
	})

	s := newTestServer(t, newTestLoader(), renderer, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hi") {
		t.Errorf("body = %q", rec.Body.String())
	}
	if cl := rec.Header().Get("Content-Length"); cl != fmt.Sprintf("%d", rec.Body.Len()) {
		t.Errorf("Content-Length = %q for a %d byte body", cl, rec.Body.Len())
	}
}

func TestDispatchInjectsClientScript(t *testing.T) {
	renderer := renderFunc(func(ctx context.Context, req *http.Request, opts *RenderOptions) (*hooks.Response, error) {
		resp := hooks.NewResponse(http.StatusOK)
		resp.Header.Set("Content-Type", "text/html")
		resp.Body = "<html><body>page</body></html>"
		return resp, nil
	})

	s := newTestServer(t, newTestLoader(), renderer, map[string]any{
		"dev": map[string]any{"hotReload": true},
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "/_velo/reload") {
		t.Error("HTML pages should carry the reload client script")
	}
	if strings.Index(body, "/_velo/reload") > strings.Index(body, "</body>") {
		t.Error("script should be injected before </body>")
	}
}

func TestDispatchStaticFallbackOn404(t *testing.T) {
	s := newTestServer(t, newTestLoader(), notFoundRenderer(), nil)
	writeStatic(t, s, "robots.txt", "User-agent: *")

	// robots.txt lives outside the assets prefix, so it only surfaces
	// through the post-render fallback.
	req := httptest.NewRequest(http.MethodGet, "/robots.txt", nil)
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "User-agent: *" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestDispatch404BodyWhenFallbackMisses(t *testing.T) {
	s := newTestServer(t, newTestLoader(), notFoundRenderer(), nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "render: not found") {
		t.Errorf("renderer's 404 body should be emitted, got %q", rec.Body.String())
	}
}

func TestDispatchRenderError(t *testing.T) {
	renderer := renderFunc(func(ctx context.Context, req *http.Request, opts *RenderOptions) (*hooks.Response, error) {
		return nil, fmt.Errorf("boom")
	})

	s := newTestServer(t, newTestLoader(), renderer, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "boom") {
		t.Errorf("500 body should name the error, got %q", body)
	}
	if !strings.Contains(body, "rewritten:") {
		t.Error("stack should be rewritten through the loader")
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	renderer := renderFunc(func(ctx context.Context, req *http.Request, opts *RenderOptions) (*hooks.Response, error) {
		panic("render exploded")
	})

	s := newTestServer(t, newTestLoader(), renderer, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "render exploded") {
		t.Errorf("500 body should carry the panic value, got %q", rec.Body.String())
	}
}

func TestDispatchInjectsEnvBeforeRender(t *testing.T) {
	loader := newTestLoader()

	renderer := renderFunc(func(ctx context.Context, req *http.Request, opts *RenderOptions) (*hooks.Response, error) {
		if !loader.hasDefined(env.PublicModuleID) || !loader.hasDefined(env.PrivateModuleID) {
			t.Error("environment modules must be defined before the renderer runs")
		}
		return hooks.NewResponse(http.StatusOK), nil
	})

	s := newTestServer(t, loader, renderer, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDispatchLegacyHookFailsFast(t *testing.T) {
	loader := newTestLoader()
	s := newTestServer(t, loader, notFoundRenderer(), nil)

	hooksPath := filepath.Join(filepath.Dir(s.config.RoutesPath()), hooksFileName)
	if err := os.WriteFile(hooksPath, []byte("handle"), 0o644); err != nil {
		t.Fatal(err)
	}
	loader.modules[hooksPath] = graph.Module{
		"getContext": func() {},
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "E203") {
		t.Errorf("legacy hook name must fail with the migration error, got %q", body)
	}
	if !strings.Contains(body, "getSession") {
		t.Errorf("migration error should name the replacement hook, got %q", body)
	}
}

func TestDispatchFaultReachesErrorHook(t *testing.T) {
	loader := newTestLoader()

	var mu sync.Mutex
	var observed error
	renderer := renderFunc(func(ctx context.Context, req *http.Request, opts *RenderOptions) (*hooks.Response, error) {
		return nil, fmt.Errorf("db unreachable")
	})

	s := newTestServer(t, loader, renderer, nil)
	hooksPath := filepath.Join(filepath.Dir(s.config.RoutesPath()), hooksFileName)
	if err := os.WriteFile(hooksPath, []byte("handleError"), 0o644); err != nil {
		t.Fatal(err)
	}
	loader.modules[hooksPath] = graph.Module{
		"handleError": hooks.HandleErrorFunc(func(ctx context.Context, req *http.Request, err error) {
			mu.Lock()
			observed = err
			mu.Unlock()
		}),
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	mu.Lock()
	defer mu.Unlock()
	if observed == nil || !strings.Contains(observed.Error(), "db unreachable") {
		t.Errorf("error hook observed %v, want the render fault", observed)
	}
}

// executableLoader narrows route discovery via the optional capability
// interface.
type executableLoader struct {
	*testLoader
}

func (l executableLoader) Executable(file string) bool {
	return !strings.HasSuffix(file, ".go")
}

func TestNewServerNarrowsDiscoveryToLoader(t *testing.T) {
	s := newTestServer(t, newTestLoader(), notFoundRenderer(), nil)
	src := s.builder.Source.(manifest.FSRouteSource)
	if src.Supports != nil {
		t.Error("a loader without the capability interface discovers everything")
	}

	dir := t.TempDir()
	data, _ := json.Marshal(map[string]any{"dev": map[string]any{"hotReload": false}})
	if err := os.WriteFile(filepath.Join(dir, "velo.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	s2 := NewServer(ServerOptions{
		Config:   cfg,
		Loader:   executableLoader{newTestLoader()},
		Renderer: notFoundRenderer(),
	})
	src2 := s2.builder.Source.(manifest.FSRouteSource)
	if src2.Supports == nil {
		t.Fatal("loader capability should narrow discovery")
	}
	if src2.Supports("params/integer.go") || !src2.Supports("routes/+page.velo") {
		t.Error("discovery filter should delegate to the loader")
	}
}

func TestDispatchNoManifest(t *testing.T) {
	s := newTestServer(t, newTestLoader(), notFoundRenderer(), nil)
	s.cell.Set(nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.dispatch(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 before the first successful build", rec.Code)
	}
}

func TestWithinBase(t *testing.T) {
	tests := []struct {
		path, base string
		want       bool
	}{
		{"/app", "/app", true},
		{"/app/about", "/app", true},
		{"/application", "/app", false},
		{"/other", "/app", false},
	}
	for _, tt := range tests {
		if got := withinBase(tt.path, tt.base); got != tt.want {
			t.Errorf("withinBase(%q, %q) = %v, want %v", tt.path, tt.base, got, tt.want)
		}
	}
}

func TestStripBase(t *testing.T) {
	tests := []struct {
		path, base, want string
	}{
		{"/app/about", "/app", "/about"},
		{"/app", "/app", "/"},
		{"/about", "", "/about"},
	}
	for _, tt := range tests {
		if got := stripBase(tt.path, tt.base); got != tt.want {
			t.Errorf("stripBase(%q, %q) = %q, want %q", tt.path, tt.base, got, tt.want)
		}
	}
}
