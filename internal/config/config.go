package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/velo-dev/velo/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "velo.json"

	// DefaultPort is the default development server port.
	DefaultPort = 5173

	// DefaultHost is the default development server host.
	DefaultHost = "localhost"

	// DefaultOutput is the default build output directory.
	DefaultOutput = ".velo"

	// DefaultPublicPrefix is the prefix separating public environment
	// variables from private ones.
	DefaultPublicPrefix = "VELO_PUBLIC_"
)

// Config represents the complete velo.json configuration.
type Config struct {
	// Name is the project name.
	Name string `json:"name,omitempty"`

	// Paths contains path configuration for various directories.
	Paths PathsConfig `json:"paths,omitempty"`

	// Static contains static file serving configuration.
	Static StaticConfig `json:"static,omitempty"`

	// Dev contains development server configuration.
	Dev DevConfig `json:"dev,omitempty"`

	// Env contains environment variable configuration.
	Env EnvConfig `json:"env,omitempty"`

	// Extensions are additional module extensions the import checker
	// treats as code when walking the development graph.
	Extensions []string `json:"extensions,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// PathsConfig contains path configuration for project directories.
type PathsConfig struct {
	// Routes is the path to the routes directory.
	Routes string `json:"routes,omitempty"`

	// Params is the path to the parameter matcher directory.
	Params string `json:"params,omitempty"`

	// Output is the build output directory. Generated artifacts live
	// under its generated/ and runtime/ subtrees.
	Output string `json:"output,omitempty"`

	// Base is the base path the app is served under (e.g. "/docs").
	Base string `json:"base,omitempty"`
}

// StaticConfig contains static file serving configuration.
type StaticConfig struct {
	// Dir is the directory containing static assets.
	Dir string `json:"dir,omitempty"`

	// Prefix is the URL prefix for static assets (default: "/assets").
	Prefix string `json:"prefix,omitempty"`
}

// DevConfig contains development server settings.
type DevConfig struct {
	// Port is the port to run the dev server on.
	Port int `json:"port,omitempty"`

	// Host is the host to bind to.
	Host string `json:"host,omitempty"`

	// Watch contains extra paths to watch for changes.
	Watch []string `json:"watch,omitempty"`

	// Ignore contains patterns to ignore during watch.
	Ignore []string `json:"ignore,omitempty"`

	// HotReload enables browser reload on manifest rebuild.
	HotReload *bool `json:"hotReload,omitempty"`
}

// EnvConfig contains environment variable settings.
type EnvConfig struct {
	// PublicPrefix marks environment variables safe to expose to
	// client code. Everything else is private.
	PublicPrefix string `json:"publicPrefix,omitempty"`

	// Dir is the directory containing .env files (default: project root).
	Dir string `json:"dir,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	hot := true
	return &Config{
		Paths: PathsConfig{
			Routes: "src/routes",
			Params: "src/params",
			Output: DefaultOutput,
			Base:   "",
		},
		Static: StaticConfig{
			Dir:    "static",
			Prefix: "/assets",
		},
		Dev: DevConfig{
			Port:      DefaultPort,
			Host:      DefaultHost,
			HotReload: &hot,
		},
		Env: EnvConfig{
			PublicPrefix: DefaultPublicPrefix,
		},
	}
}

// Load reads configuration from the specified directory.
// It looks for velo.json in the directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E101").
				WithDetail("No velo.json found in " + filepath.Dir(path)).
				WithSuggestion("Create velo.json in the project root")
		}
		return nil, errors.New("E102").Wrap(err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E102").
			WithDetail("Failed to parse velo.json: " + err.Error()).
			WithSuggestion("Check that velo.json is valid JSON")
	}

	cfg.configPath = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Paths.Routes == "" {
		c.Paths.Routes = "src/routes"
	}
	if c.Paths.Params == "" {
		c.Paths.Params = "src/params"
	}
	if c.Paths.Output == "" {
		c.Paths.Output = DefaultOutput
	}
	c.Paths.Base = normalizeBase(c.Paths.Base)

	if c.Static.Dir == "" {
		c.Static.Dir = "static"
	}
	if c.Static.Prefix == "" {
		c.Static.Prefix = "/assets"
	}

	if c.Dev.Port == 0 {
		c.Dev.Port = DefaultPort
	}
	if c.Dev.Host == "" {
		c.Dev.Host = DefaultHost
	}
	if c.Dev.HotReload == nil {
		hot := true
		c.Dev.HotReload = &hot
	}

	if c.Env.PublicPrefix == "" {
		c.Env.PublicPrefix = DefaultPublicPrefix
	}
}

// normalizeBase forces the base path into "" or "/prefix" form.
func normalizeBase(base string) string {
	base = strings.TrimSuffix(base, "/")
	if base == "" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return base
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Dev.Port < 0 || c.Dev.Port > 65535 {
		return errors.New("E102").
			WithDetail("Port must be between 0 and 65535, got " + strconv.Itoa(c.Dev.Port))
	}
	if c.Paths.Base != "" && !strings.HasPrefix(c.Paths.Base, "/") {
		return errors.New("E102").
			WithDetail("Base path must start with /")
	}
	return nil
}

// DevAddress returns the address string for the dev server.
func (c *Config) DevAddress() string {
	return c.Dev.Host + ":" + strconv.Itoa(c.Dev.Port)
}

// DevURL returns the full URL for the dev server.
func (c *Config) DevURL() string {
	return "http://" + c.DevAddress() + c.Paths.Base
}

// HotReload returns whether browser reload is enabled.
func (c *Config) HotReload() bool {
	return c.Dev.HotReload == nil || *c.Dev.HotReload
}

// RoutesPath returns the absolute path to the routes directory.
func (c *Config) RoutesPath() string {
	return c.resolve(c.Paths.Routes)
}

// ParamsPath returns the absolute path to the matcher directory.
func (c *Config) ParamsPath() string {
	return c.resolve(c.Paths.Params)
}

// OutputPath returns the absolute path to the build output directory.
func (c *Config) OutputPath() string {
	return c.resolve(c.Paths.Output)
}

// GeneratedPath returns the generated-artifacts subtree of the output
// directory.
func (c *Config) GeneratedPath() string {
	return filepath.Join(c.OutputPath(), "generated")
}

// RuntimePath returns the runtime subtree of the output directory.
func (c *Config) RuntimePath() string {
	return filepath.Join(c.OutputPath(), "runtime")
}

// StaticPath returns the absolute path to the static assets directory.
func (c *Config) StaticPath() string {
	return c.resolve(c.Static.Dir)
}

// EnvDir returns the directory searched for .env files.
func (c *Config) EnvDir() string {
	if c.Env.Dir == "" {
		return c.Dir()
	}
	return c.resolve(c.Env.Dir)
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Dir(), path)
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// FindProjectRoot walks up directories to find the project root.
// Returns the directory containing velo.json, or an error if not found.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("E101").
				WithDetail("No velo.json found in " + startDir + " or any parent directory")
		}
		dir = parent
	}
}

// LoadFromWorkingDir loads configuration from the current working directory.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root, err := FindProjectRoot(wd)
	if err != nil {
		return nil, err
	}

	return Load(root)
}
