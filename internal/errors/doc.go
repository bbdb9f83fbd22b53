// Package errors provides structured, actionable error messages for Velo.
//
// Each error has a unique code (e.g., "E201") that maps to a short
// message, a detailed explanation, and a documentation URL. Errors can
// additionally name the file or module they concern and carry a fix
// suggestion.
//
// # Error Categories
//
// Errors are organized into categories:
//   - config: project configuration problems (missing or invalid velo.json)
//   - route: route scanning and pattern compilation failures
//   - boundary: illegal imports of server-only modules from client code
//   - loader: missing collaborator exports (matchers, hooks)
//   - render: render function failures
//
// # Usage
//
//	err := errors.New("E202").
//	    WithFile("app/params/integer.go").
//	    WithSuggestion("Export a function named \"match\"")
//
//	fmt.Println(err.Format())
package errors
