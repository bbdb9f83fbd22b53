package runtime

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/velo-dev/velo/internal/dev"
	"github.com/velo-dev/velo/internal/errors"
	"github.com/velo-dev/velo/pkg/hooks"
	"github.com/velo-dev/velo/pkg/manifest"
	"github.com/velo-dev/velo/pkg/routepat"
)

// slotMarker is where a layout places its child content.
const slotMarker = "@slot"

// EndpointFunc is the handler export of a +server.go endpoint module.
type EndpointFunc func(e *hooks.Event) (*hooks.Response, error)

// Renderer is the built-in page renderer: it matches the request
// against the manifest, loads the layout and page nodes, and composes
// an HTML document with inline styles.
type Renderer struct{}

// Respond implements dev.Renderer. The request runs through the app's
// handle hook, with resolution as the default.
func (rd *Renderer) Respond(ctx context.Context, req *http.Request, opts *dev.RenderOptions) (*hooks.Response, error) {
	resolve := func(ctx context.Context, req *http.Request) (*hooks.Response, error) {
		return rd.resolve(ctx, req, opts)
	}
	return opts.Hooks.Handle(ctx, req, resolve)
}

func (rd *Renderer) resolve(ctx context.Context, req *http.Request, opts *dev.RenderOptions) (*hooks.Response, error) {
	pathname := req.URL.Path
	if opts.Base != "" {
		pathname = strings.TrimPrefix(pathname, opts.Base)
		if pathname == "" {
			pathname = "/"
		}
	}

	route, params, ok := opts.Manifest.Match(pathname)
	if !ok {
		resp := hooks.NewResponse(http.StatusNotFound)
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		resp.Body = notFoundPage(pathname)
		return resp, nil
	}

	switch rt := route.(type) {
	case *manifest.EndpointRoute:
		return rd.serveEndpoint(ctx, req, rt, params, opts.Hooks)
	case *manifest.PageRoute:
		return rd.renderPage(ctx, opts.Manifest, rt)
	default:
		return nil, errors.Newf(errors.CategoryRender, "unknown route kind for %s", route.RouteID())
	}
}

func (rd *Renderer) serveEndpoint(ctx context.Context, req *http.Request, route *manifest.EndpointRoute, params routepat.Params, h *hooks.Hooks) (*hooks.Response, error) {
	loaded, err := route.Loader.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	handler, ok := loaded.Module["handler"].(EndpointFunc)
	if !ok {
		return nil, errors.Newf(errors.CategoryLoader,
			"endpoint %s does not export a handler", route.ID).
			WithFile(route.ID)
	}

	session, err := h.GetSession(ctx, req)
	if err != nil {
		return nil, err
	}
	return handler(&hooks.Event{
		Request: req,
		Params:  params,
		Session: session,
		Fetch:   h.ExternalFetch,
	})
}

func (rd *Renderer) renderPage(ctx context.Context, mf *manifest.Manifest, route *manifest.PageRoute) (*hooks.Response, error) {
	page, err := mf.Nodes[route.Page].Loader.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	raw, _ := page.Module.Default()
	content, _ := raw.(string)
	styles := map[string]string{}
	if nodeStyles, err := page.InlineStyles(ctx); err == nil {
		for url, css := range nodeStyles {
			styles[url] = css
		}
	}

	// Layouts wrap from innermost out, so walk them leaf-first.
	for i := len(route.Layouts) - 1; i >= 0; i-- {
		layout, err := mf.Nodes[route.Layouts[i]].Loader.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		rawShell, _ := layout.Module.Default()
		shell, _ := rawShell.(string)
		if strings.Contains(shell, slotMarker) {
			content = strings.Replace(shell, slotMarker, content, 1)
		}
		if layoutStyles, err := layout.InlineStyles(ctx); err == nil {
			for url, css := range layoutStyles {
				styles[url] = css
			}
		}
	}

	resp := hooks.NewResponse(http.StatusOK)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	resp.Body = document(content, styles, mf.Entry)
	return resp, nil
}

// document wraps rendered content in an HTML shell with inline styles.
// Styles are emitted in URL order so output is deterministic.
func document(content string, styles map[string]string, entry string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")

	urls := make([]string, 0, len(styles))
	for url := range styles {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	for _, url := range urls {
		fmt.Fprintf(&b, "<style data-velo-href=%q>\n%s\n</style>\n", url, styles[url])
	}

	b.WriteString("</head>\n<body>\n")
	b.WriteString(stripDirectives(content))
	if entry != "" {
		fmt.Fprintf(&b, "\n<script type=\"module\" src=%q></script>", entry)
	}
	b.WriteString("\n</body>\n</html>\n")
	return b.String()
}

// stripDirectives removes @import and @defer lines from rendered
// output; they are loader instructions, not content.
func stripDirectives(content string) string {
	lines := strings.Split(content, "\n")
	out := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "@import ") || strings.HasPrefix(trimmed, "@defer ") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func notFoundPage(pathname string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>404</title></head>
<body style="font-family: system-ui; padding: 40px;">
<h1>404</h1>
<p>No route matches <code>%s</code>.</p>
</body>
</html>
`, pathname)
}
