// Package hooks models the user-supplied server hooks module.
//
// A project may provide a hooks module exporting any of "handle",
// "getSession", "handleError" and "externalFetch". Missing hooks fall
// back to pass-through implementations. Exports using removed hook
// names fail fast with a migration error instead of being silently
// ignored.
package hooks

import (
	"context"
	"net/http"

	"github.com/velo-dev/velo/internal/errors"
	"github.com/velo-dev/velo/pkg/graph"
	"github.com/velo-dev/velo/pkg/routepat"
)

// Response is the rendered outcome of a request.
type Response struct {
	Status int
	Header http.Header
	Body   string
}

// NewResponse creates a Response with an initialized header map.
func NewResponse(status int) *Response {
	return &Response{Status: status, Header: make(http.Header)}
}

// IsNotFound reports whether the response is a not-found outcome.
// Not-found is a first-class result, not an error.
func (r *Response) IsNotFound() bool {
	return r.Status == http.StatusNotFound
}

// Resolve renders the matched route for a request.
type Resolve func(ctx context.Context, req *http.Request) (*Response, error)

// HandleFunc intercepts every request before rendering.
type HandleFunc func(ctx context.Context, req *http.Request, resolve Resolve) (*Response, error)

// GetSessionFunc derives the session passed to route modules.
type GetSessionFunc func(ctx context.Context, req *http.Request) (map[string]any, error)

// HandleErrorFunc observes request-time faults.
type HandleErrorFunc func(ctx context.Context, req *http.Request, err error)

// FetchFunc performs outgoing requests made during server rendering.
type FetchFunc func(req *http.Request) (*http.Response, error)

// Event is the per-request context handed to endpoint handlers. Session
// is the value produced by the getSession hook; Fetch is the app's
// externalFetch hook.
type Event struct {
	Request *http.Request
	Params  routepat.Params
	Session map[string]any
	Fetch   FetchFunc
}

// Hooks is the validated set of server hooks for a project.
type Hooks struct {
	Handle        HandleFunc
	GetSession    GetSessionFunc
	HandleError   HandleErrorFunc
	ExternalFetch FetchFunc
}

// legacyNames maps removed hook exports to their replacements.
var legacyNames = map[string]string{
	"getContext":  "getSession",
	"serverFetch": "externalFetch",
}

// Defaults returns pass-through hooks.
func Defaults() *Hooks {
	return &Hooks{
		Handle: func(ctx context.Context, req *http.Request, resolve Resolve) (*Response, error) {
			return resolve(ctx, req)
		},
		GetSession: func(ctx context.Context, req *http.Request) (map[string]any, error) {
			return map[string]any{}, nil
		},
		HandleError: func(ctx context.Context, req *http.Request, err error) {},
		ExternalFetch: func(req *http.Request) (*http.Response, error) {
			return http.DefaultClient.Do(req)
		},
	}
}

// FromModule validates a loaded hooks module and merges its exports
// over the defaults. file names the module in error messages. A nil
// module yields pure defaults.
func FromModule(mod graph.Module, file string) (*Hooks, error) {
	h := Defaults()
	if mod == nil {
		return h, nil
	}

	for legacy, replacement := range legacyNames {
		if _, ok := mod[legacy]; ok {
			return nil, errors.New("E203").
				WithFile(file).
				WithDetailf("The %q hook has been renamed to %q. Update the export in %s.", legacy, replacement, file).
				WithSuggestion("Rename the export to " + replacement)
		}
	}

	if v, ok := mod["handle"]; ok {
		fn, ok := v.(HandleFunc)
		if !ok {
			return nil, badExport(file, "handle")
		}
		h.Handle = fn
	}
	if v, ok := mod["getSession"]; ok {
		fn, ok := v.(GetSessionFunc)
		if !ok {
			return nil, badExport(file, "getSession")
		}
		h.GetSession = fn
	}
	if v, ok := mod["handleError"]; ok {
		fn, ok := v.(HandleErrorFunc)
		if !ok {
			return nil, badExport(file, "handleError")
		}
		h.HandleError = fn
	}
	if v, ok := mod["externalFetch"]; ok {
		fn, ok := v.(FetchFunc)
		if !ok {
			return nil, badExport(file, "externalFetch")
		}
		h.ExternalFetch = fn
	}

	return h, nil
}

func badExport(file, name string) error {
	return errors.Newf(errors.CategoryLoader, "hook %q in %s has the wrong signature", name, file).
		WithFile(file)
}
