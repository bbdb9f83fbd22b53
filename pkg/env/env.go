// Package env loads environment variables for a mode and injects them
// into the module graph as the $env virtual modules.
//
// Variables are partitioned by a public prefix: keys starting with the
// prefix are exposed to client-reachable code through
// $env/static/public, everything else only through $env/static/private.
// The private module is a member of the import-boundary forbidden set.
package env

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/velo-dev/velo/pkg/graph"
)

// Virtual module ids the injector defines.
const (
	PublicModuleID  = "$env/static/public"
	PrivateModuleID = "$env/static/private"
)

// Source provides all process- and file-based key-value pairs for a
// given mode.
type Source interface {
	Values(mode string) (map[string]string, error)
}

// FileSource merges the process environment with .env and .env.<mode>
// files from a directory. Later sources win: .env overrides the
// process, .env.<mode> overrides .env.
type FileSource struct {
	// Dir is the directory searched for .env files.
	Dir string
}

// Values implements Source.
func (s FileSource) Values(mode string) (map[string]string, error) {
	values := make(map[string]string)

	for _, kv := range os.Environ() {
		if idx := strings.IndexByte(kv, '='); idx != -1 {
			values[kv[:idx]] = kv[idx+1:]
		}
	}

	files := []string{".env"}
	if mode != "" {
		files = append(files, ".env."+mode)
	}
	for _, name := range files {
		if err := readEnvFile(filepath.Join(s.Dir, name), values); err != nil {
			return nil, err
		}
	}

	return values, nil
}

// readEnvFile parses KEY=VALUE lines into values. A missing file is not
// an error.
func readEnvFile(path string, values map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		text = strings.TrimPrefix(text, "export ")

		idx := strings.IndexByte(text, '=')
		if idx == -1 {
			return fmt.Errorf("%s:%d: expected KEY=VALUE", path, line)
		}

		key := strings.TrimSpace(text[:idx])
		value := strings.TrimSpace(text[idx+1:])
		value = unquote(value)
		values[key] = value
	}
	return scanner.Err()
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// Vars is one partition of the environment.
type Vars map[string]string

// Injector partitions environment values and defines the $env virtual
// modules through the module-graph loader.
type Injector struct {
	// Source provides the raw key-value pairs.
	Source Source

	// PublicPrefix marks keys exposed to client code.
	PublicPrefix string
}

// Load returns the public and private partitions for a mode.
func (i *Injector) Load(mode string) (public, private Vars, err error) {
	values, err := i.Source.Values(mode)
	if err != nil {
		return nil, nil, err
	}

	public = make(Vars)
	private = make(Vars)
	for k, v := range values {
		if strings.HasPrefix(k, i.PublicPrefix) {
			public[k] = v
		} else {
			private[k] = v
		}
	}
	return public, private, nil
}

// Inject loads both partitions and defines the $env virtual modules.
// Both modules are fully materialized before either is defined, so user
// code never observes a partially-initialized environment. Inject must
// run before any route or hook module executes.
func (i *Injector) Inject(loader graph.Loader, mode string) error {
	public, private, err := i.Load(mode)
	if err != nil {
		return err
	}

	loader.Define(PublicModuleID, moduleOf(public))
	loader.Define(PrivateModuleID, moduleOf(private))
	return nil
}

func moduleOf(vars Vars) graph.Module {
	mod := make(graph.Module, len(vars))
	for k, v := range vars {
		mod[k] = v
	}
	return mod
}
