package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Config Errors (E100-E119)
	// ============================================

	"E101": {
		Category: CategoryConfig,
		Message:  "Project configuration not found",
		Detail:   "velo.json was not found in this directory or any parent directory.",
		DocURL:   "https://velo.dev/docs/errors/E101",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Invalid project configuration",
		Detail:   "velo.json could not be parsed or contains invalid values.",
		DocURL:   "https://velo.dev/docs/errors/E102",
	},

	// ============================================
	// Route Errors (E110-E199)
	// ============================================

	"E110": {
		Category: CategoryRoute,
		Message:  "Route scan failed",
		Detail:   "The routes directory could not be read while rebuilding the manifest.",
		DocURL:   "https://velo.dev/docs/errors/E110",
	},
	"E111": {
		Category: CategoryRoute,
		Message:  "Invalid route id",
		Detail:   "A route directory name could not be compiled into a URL pattern.",
		DocURL:   "https://velo.dev/docs/errors/E111",
	},

	// ============================================
	// Boundary and Loader Errors (E200-E299)
	// ============================================

	"E201": {
		Category: CategoryBoundary,
		Message:  "Cannot import private module from client-reachable code",
		Detail:   "A module in the forbidden set is transitively imported by code that runs in the browser. Private environment variables and other server-only state must never be shipped to the client.",
		DocURL:   "https://velo.dev/docs/errors/E201",
	},
	"E202": {
		Category: CategoryLoader,
		Message:  "Matcher module does not export a match function",
		Detail:   "Every module in the params directory must export a function named \"match\" taking the parameter value and returning a boolean.",
		DocURL:   "https://velo.dev/docs/errors/E202",
	},
	"E203": {
		Category: CategoryLoader,
		Message:  "Hooks module uses a removed hook name",
		Detail:   "The hooks module exports a hook that has been renamed or removed. Rename it rather than relying on it being silently ignored.",
		DocURL:   "https://velo.dev/docs/errors/E203",
	},

	// ============================================
	// Render Errors (E210-E299)
	// ============================================

	"E210": {
		Category: CategoryRender,
		Message:  "Render failed",
		Detail:   "The render function returned an error while producing a response.",
		DocURL:   "https://velo.dev/docs/errors/E210",
	},
}
