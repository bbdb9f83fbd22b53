// Package runtime is the built-in module loader and page renderer used
// by the velo binary. Projects embedding velo as a library can supply
// their own graph.Loader and dev.Renderer instead; this package is the
// batteries-included default for plain .velo template projects.
package runtime
