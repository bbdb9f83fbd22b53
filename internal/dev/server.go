package dev

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/velo-dev/velo/internal/config"
	"github.com/velo-dev/velo/internal/errors"
	"github.com/velo-dev/velo/pkg/assets"
	"github.com/velo-dev/velo/pkg/env"
	"github.com/velo-dev/velo/pkg/graph"
	"github.com/velo-dev/velo/pkg/hooks"
	"github.com/velo-dev/velo/pkg/manifest"
	"github.com/velo-dev/velo/pkg/middleware"
)

// clientEntry is the module id browsers load to boot the client runtime.
const clientEntry = "/@velo/client"

// hooksFileName is the optional server hooks module next to the routes
// directory.
const hooksFileName = "hooks.velo"

// Renderer produces the response for a request that reached the render
// stage. It is the sole authority on producing a page or a 404.
type Renderer interface {
	Respond(ctx context.Context, req *http.Request, opts *RenderOptions) (*hooks.Response, error)
}

// RenderOptions carries everything a Renderer needs for one request.
type RenderOptions struct {
	// Manifest is the snapshot taken at dispatch time. It stays
	// consistent for the whole request even if a rebuild lands
	// mid-flight.
	Manifest *manifest.Manifest

	// Hooks are the app's server hooks, fully defaulted.
	Hooks *hooks.Hooks

	// Base is the configured base path, "" when serving from the root.
	Base string
}

// ServerOptions configures the development server.
type ServerOptions struct {
	// Config is the project configuration.
	Config *config.Config

	// Loader is the module-graph loader collaborator.
	Loader graph.Loader

	// Renderer renders matched routes.
	Renderer Renderer

	// Mode selects the .env.<mode> overlay. Defaults to "development".
	Mode string

	// Logger receives server logs. Defaults to a stderr logger.
	Logger *log.Logger

	// OnRebuild is called after each successful manifest rebuild.
	OnRebuild func(*manifest.Manifest)

	// OnReload is called after browsers are told to reload.
	OnReload func(clients int)
}

// Server is the development server: it owns the manifest cell, the
// file watcher, the reload channel and the request dispatcher.
type Server struct {
	config   *config.Config
	options  ServerOptions
	loader   graph.Loader
	renderer Renderer
	builder  *manifest.Builder
	cell     manifest.Cell
	injector *env.Injector
	assets   *assets.Responder
	fallback *assets.Responder
	watcher  *Watcher
	reload   *ReloadServer
	logger   *log.Logger
	mode     string

	httpServer *http.Server

	mu      sync.Mutex
	running bool

	envMu    sync.Mutex
	envReady bool
}

// NewServer wires a development server from options.
func NewServer(options ServerOptions) *Server {
	cfg := options.Config

	mode := options.Mode
	if mode == "" {
		mode = "development"
	}

	logger := options.Logger
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			Prefix:          "velo",
		})
	}

	source := manifest.FSRouteSource{
		Root:      cfg.RoutesPath(),
		ParamsDir: cfg.ParamsPath(),
	}
	// Loaders that cannot execute every module kind (the built-in
	// .velo loader cannot run Go files without registered exports)
	// narrow discovery so Build never loads what must fail.
	if exec, ok := options.Loader.(interface{ Executable(file string) bool }); ok {
		source.Supports = exec.Executable
	}

	builder := &manifest.Builder{
		Loader:     options.Loader,
		Source:     source,
		Forbidden:  graph.NewForbidden(env.PrivateModuleID),
		OutputDir:  cfg.OutputPath(),
		Extensions: cfg.Extensions,
		Entry:      clientEntry,
		AssetsDir:  cfg.StaticPath(),
	}

	injector := &env.Injector{
		Source:       env.FileSource{Dir: cfg.EnvDir()},
		PublicPrefix: cfg.Env.PublicPrefix,
	}

	watchPaths := append([]string{cfg.RoutesPath(), cfg.ParamsPath(), cfg.EnvDir()}, cfg.Dev.Watch...)
	watcher := NewWatcher(WatcherConfig{
		Paths:    watchPaths,
		Ignore:   append(append([]string{}, DefaultIgnore...), cfg.Dev.Ignore...),
		Debounce: 100 * time.Millisecond,
	})

	var reload *ReloadServer
	if cfg.HotReload() {
		reload = NewReloadServer()
	}

	return &Server{
		config:   cfg,
		options:  options,
		loader:   options.Loader,
		renderer: options.Renderer,
		builder:  builder,
		injector: injector,
		assets: &assets.Responder{
			Dir:       cfg.StaticPath(),
			Prefix:    cfg.Static.Prefix,
			MimeTypes: manifest.DefaultMimeTypes,
		},
		fallback: &assets.Responder{
			Dir:       cfg.StaticPath(),
			Prefix:    "",
			MimeTypes: manifest.DefaultMimeTypes,
		},
		watcher: watcher,
		reload:  reload,
		logger:  logger,
		mode:    mode,
	}
}

// Manifest returns the current manifest snapshot, or nil before the
// first build.
func (s *Server) Manifest() *manifest.Manifest {
	return s.cell.Get()
}

// Start builds the initial manifest, starts watching, and serves until
// the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	if err := s.rebuild(ctx); err != nil {
		// The server still comes up so the error reaches the browser
		// overlay once a fix lands.
		s.logger.Error("initial manifest build failed", "err", err)
		s.notifyError(err)
	}

	if err := s.ensureEnv(); err != nil {
		s.logger.Error("environment injection failed", "err", err)
	}

	s.watcher.OnChange(func(changes []Change) {
		s.handleChanges(ctx, changes)
	})
	go s.watcher.Start(ctx)

	r := chi.NewRouter()
	r.Use(middleware.Metrics())
	r.Use(middleware.Tracing("velo.dev"))
	if s.reloadEnabled() {
		r.HandleFunc(ReloadPath, s.reload.HandleWebSocket)
	}
	r.NotFound(s.dispatch)

	s.httpServer = &http.Server{
		Addr:    s.config.DevAddress(),
		Handler: r,
	}

	s.logger.Info("dev server running", "url", s.config.DevURL())

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.Stop()
		return nil
	case err := <-errCh:
		s.Stop()
		return err
	}
}

// Stop shuts the server down.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false

	s.watcher.Stop()
	if s.reload != nil {
		s.reload.Close()
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}
}

// =============================================================================
// Request Dispatch
// =============================================================================

// dispatch is the request state machine: asset check, base check,
// environment injection, hooks load, render, static fallback. All
// faults, panics included, are answered here and nowhere else.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			s.respondFault(w, r, err, string(debug.Stack()))
		}
	}()

	if s.assets.Has(r.URL.Path) {
		s.assets.ServeHTTP(w, r)
		return
	}

	base := s.config.Paths.Base
	if base != "" && !withinBase(r.URL.Path, base) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "Not found: %s\nThe app is served under %s. Did you mean %s?\n",
			r.URL.Path, base, base+r.URL.Path)
		return
	}

	resp, err := s.render(r)
	if err != nil {
		s.respondFault(w, r, err, "")
		return
	}

	if resp.IsNotFound() && s.fallback.Has(stripBase(r.URL.Path, base)) {
		req := r
		if base != "" {
			req = r.Clone(r.Context())
			req.URL.Path = stripBase(r.URL.Path, base)
		}
		s.fallback.ServeHTTP(w, req)
		return
	}

	s.writeResponse(w, resp)
}

// render runs the environment, hooks and render stages for a request.
func (s *Server) render(r *http.Request) (*hooks.Response, error) {
	mf := s.cell.Get()
	if mf == nil {
		return nil, errors.Newf(errors.CategoryRender, "no manifest: the route tree has not built successfully yet")
	}

	if err := s.ensureEnv(); err != nil {
		return nil, err
	}

	h, err := s.loadHooks(r.Context())
	if err != nil {
		return nil, err
	}

	resp, err := s.renderer.Respond(r.Context(), r, &RenderOptions{
		Manifest: mf,
		Hooks:    h,
		Base:     s.config.Paths.Base,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.Newf(errors.CategoryRender, "renderer returned no response for %s", r.URL.Path)
	}
	return resp, nil
}

// ensureEnv injects the $env modules once. Edits to .env files reset
// the guard so the next request sees fresh values.
func (s *Server) ensureEnv() error {
	s.envMu.Lock()
	defer s.envMu.Unlock()
	if s.envReady {
		return nil
	}
	if err := s.injector.Inject(s.loader, s.mode); err != nil {
		return err
	}
	s.envReady = true
	return nil
}

func (s *Server) resetEnv() {
	s.envMu.Lock()
	s.envReady = false
	s.envMu.Unlock()
}

// loadHooks loads the app's hooks module, or returns defaults when the
// file does not exist.
func (s *Server) loadHooks(ctx context.Context) (*hooks.Hooks, error) {
	file := filepath.Join(filepath.Dir(s.config.RoutesPath()), hooksFileName)
	if _, err := os.Stat(file); err != nil {
		if os.IsNotExist(err) {
			return hooks.Defaults(), nil
		}
		return nil, err
	}

	mod, err := s.loader.Load(ctx, s.loader.Resolve(file))
	if err != nil {
		return nil, err
	}
	return hooks.FromModule(mod, file)
}

// respondFault answers a request-time fault with a 500 whose body is
// the rewritten stack. This is the only layer converting faults into
// responses.
func (s *Server) respondFault(w http.ResponseWriter, r *http.Request, err error, stack string) {
	if stack == "" {
		stack = string(debug.Stack())
	}
	fixed := s.loader.FixStack(stack)

	if errors.IsCode(err, "E201") {
		middleware.RecordBoundaryViolation()
	}
	s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)

	// The app's error hook observes every fault. Skipped when the hooks
	// module itself is what failed to load.
	if h, herr := s.loadHooks(r.Context()); herr == nil {
		h.HandleError(r.Context(), r, err)
	}

	body := err.Error()
	if ve, ok := err.(*errors.Error); ok {
		body = ve.FormatCompact()
		if ve.Detail != "" {
			body += "\n" + ve.Detail
		}
		if ve.Suggestion != "" {
			body += "\nhint: " + ve.Suggestion
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprintf(w, "%s\n\n%s\n", body, fixed)
}

// writeResponse copies a hooks.Response onto the wire, injecting the
// live-reload client into HTML pages.
func (s *Server) writeResponse(w http.ResponseWriter, resp *hooks.Response) {
	body := resp.Body
	contentType := resp.Header.Get("Content-Type")

	if s.reloadEnabled() && strings.Contains(contentType, "text/html") {
		body = injectClientScript(body)
	}

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
	w.WriteHeader(resp.Status)
	io.WriteString(w, body)
}

// injectClientScript places the reload script before </body>, falling
// back to </html> or plain append.
func injectClientScript(body string) string {
	if idx := strings.LastIndex(body, "</body>"); idx != -1 {
		return body[:idx] + ClientScript + body[idx:]
	}
	if idx := strings.LastIndex(body, "</html>"); idx != -1 {
		return body[:idx] + ClientScript + body[idx:]
	}
	return body + ClientScript
}

// =============================================================================
// Change Handling
// =============================================================================

// handleChanges reacts to one debounced batch of file changes.
func (s *Server) handleChanges(ctx context.Context, changes []Change) {
	var needRebuild, needEnv, fullReload bool
	var stylePath string

	invalidator, _ := s.loader.(interface{ Invalidate(url string) })

	for _, c := range changes {
		s.logger.Debug("changed", "path", c.Path)
		if invalidator != nil {
			invalidator.Invalidate(s.loader.Resolve(c.Path))
		}
		switch c.Type {
		case ChangeEnv:
			needEnv = true
		case ChangeRoutes:
			if c.Structural {
				needRebuild = true
			}
			fullReload = true
		case ChangeStyle:
			if stylePath == "" {
				stylePath = c.Path
			}
		case ChangeCode:
			fullReload = true
		}
	}

	if needEnv {
		s.resetEnv()
		fullReload = true
	}

	if needRebuild {
		if err := s.rebuild(ctx); err != nil {
			s.logger.Error("manifest rebuild failed", "err", err)
			s.notifyError(err)
			return
		}
		s.clearError()
	}

	switch {
	case fullReload:
		s.notifyReload()
	case stylePath != "":
		s.notifyCSS(stylePath)
	}
}

// rebuild builds a fresh manifest and publishes it atomically.
func (s *Server) rebuild(ctx context.Context) error {
	started := time.Now()
	mf, err := s.builder.Build(ctx)
	if err != nil {
		return err
	}
	s.cell.Set(mf)
	middleware.RecordRebuild(time.Since(started))
	s.logger.Info("manifest built",
		"routes", len(mf.Routes),
		"nodes", len(mf.Nodes),
		"took", time.Since(started).Round(time.Millisecond))
	if s.options.OnRebuild != nil {
		s.options.OnRebuild(mf)
	}
	return nil
}

func (s *Server) reloadEnabled() bool {
	return s.reload != nil
}

func (s *Server) notifyReload() {
	if !s.reloadEnabled() {
		return
	}
	s.reload.NotifyReload()
	middleware.SetReloadClients(s.reload.ClientCount())
	if s.options.OnReload != nil {
		s.options.OnReload(s.reload.ClientCount())
	}
	s.logger.Info("reloaded browsers", "clients", s.reload.ClientCount())
}

func (s *Server) notifyCSS(path string) {
	if !s.reloadEnabled() {
		return
	}
	s.reload.NotifyCSS(path)
	s.logger.Info("reloaded styles", "file", path)
}

func (s *Server) notifyError(err error) {
	if !s.reloadEnabled() {
		return
	}
	msg := err.Error()
	if ve, ok := err.(*errors.Error); ok {
		msg = ve.FormatCompact()
	}
	s.reload.NotifyError(msg)
}

func (s *Server) clearError() {
	if !s.reloadEnabled() {
		return
	}
	s.reload.ClearError()
}

// withinBase reports whether a request path falls under the base path.
func withinBase(path, base string) bool {
	return path == base || strings.HasPrefix(path, base+"/")
}

// stripBase removes the base prefix from a path.
func stripBase(path, base string) string {
	if base == "" {
		return path
	}
	rest := strings.TrimPrefix(path, base)
	if rest == "" {
		return "/"
	}
	return rest
}
