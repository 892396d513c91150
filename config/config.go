// Package config loads orchestrate settings: built-in defaults, then a YAML
// file, then ORCHESTRATE_* environment variables. Command-line flags are
// applied last by the cli package.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/petal-labs/orchestrate/workflow"
)

const (
	projectConfigName = "orchestrate.yaml"
	homeConfigName    = "config.yaml"
	homeConfigDir     = ".orchestrate"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ORCHESTRATE_"
)

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the full runtime configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir" env:"DATA_DIR"`
	Store     StoreConfig     `yaml:"store" envPrefix:"STORE_"`
	Runner    RunnerConfig    `yaml:"runner" envPrefix:"RUNNER_"`
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`

	// Tools and Workflows are declarations seeded into the stores on serve.
	Tools     map[string]ToolDeclaration     `yaml:"tools"`
	Workflows map[string]WorkflowDeclaration `yaml:"workflows"`
}

// StoreConfig selects and locates the registry and workflow stores.
type StoreConfig struct {
	Backend       string `yaml:"backend" env:"BACKEND"`
	ToolsFile     string `yaml:"tools_file" env:"TOOLS_FILE"`
	WorkflowsFile string `yaml:"workflows_file" env:"WORKFLOWS_FILE"`
	SQLiteDSN     string `yaml:"sqlite_dsn" env:"SQLITE_DSN"`
	RedisURL      string `yaml:"redis_url" env:"REDIS_URL"`
	RedisPrefix   string `yaml:"redis_prefix" env:"REDIS_PREFIX"`
}

// RunnerConfig bounds tool processes and locates managed tools.
type RunnerConfig struct {
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
	ToolsDir string        `yaml:"tools_dir" env:"TOOLS_DIR"`
	Catalog  string        `yaml:"catalog" env:"CATALOG"`
}

// ServerConfig configures the HTTP front-end.
type ServerConfig struct {
	Host       string  `yaml:"host" env:"HOST"`
	Port       int     `yaml:"port" env:"PORT"`
	CORSOrigin string  `yaml:"cors_origin" env:"CORS_ORIGIN"`
	MaxBody    int64   `yaml:"max_body" env:"MAX_BODY"`
	RateLimit  float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst  int     `yaml:"rate_burst" env:"RATE_BURST"`
}

// LogConfig configures the root slog logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// TelemetryConfig configures OpenTelemetry exporters.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	OTLPInsecure bool   `yaml:"otlp_insecure" env:"OTLP_INSECURE"`
	Prometheus   bool   `yaml:"prometheus" env:"PROMETHEUS"`
}

// ToolDeclaration registers one tool at startup.
type ToolDeclaration struct {
	Path        string            `yaml:"path"`
	Interpreter string            `yaml:"interpreter,omitempty"`
	Secrets     map[string]string `yaml:"secrets,omitempty"`
}

// WorkflowDeclaration adds one workflow at startup.
type WorkflowDeclaration struct {
	Description string          `yaml:"description,omitempty"`
	Steps       []workflow.Step `yaml:"steps"`
}

// Default returns the built-in configuration rooted at ~/.orchestrate.
func Default() Config {
	dataDir := homeConfigDir
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, homeConfigDir)
	}
	return Config{
		DataDir: dataDir,
		Store: StoreConfig{
			Backend:     BackendFile,
			RedisPrefix: "orchestrate",
		},
		Runner: RunnerConfig{
			Timeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Host:       "127.0.0.1",
			Port:       8080,
			CORSOrigin: "*",
			MaxBody:    1 << 20,
			RateLimit:  0,
			RateBurst:  10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the discovered config file and
// the process environment. It returns the file path used, if any.
func Load(explicitPath string) (Config, string, error) {
	path, found, err := Discover(explicitPath)
	if err != nil {
		return Config{}, "", err
	}
	cfg := Default()
	if found {
		if err := MergeFile(&cfg, path); err != nil {
			return Config{}, "", err
		}
	}
	if err := ApplyEnv(&cfg, nil); err != nil {
		return Config{}, "", err
	}
	cfg.Finalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, "", err
	}
	return cfg, path, nil
}

// Discover resolves the config file with first-match semantics: the explicit
// path, ./orchestrate.yaml, then ~/.orchestrate/config.yaml.
func Discover(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("config: resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("config: resolve user home: %w", err)
	}
	return DiscoverFrom(explicitPath, cwd, homeDir)
}

// DiscoverFrom is a testable variant of Discover.
func DiscoverFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	explicit := strings.TrimSpace(explicitPath)
	if explicit != "" {
		candidates = append(candidates, filepath.Clean(explicit))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if i == 0 && explicit != "" {
				return "", false, fmt.Errorf("config: file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("config: checking %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// MergeFile overlays the YAML file at path onto cfg. Relative tool paths in
// declarations resolve against the file's directory.
func MergeFile(cfg *Config, path string) error {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parsing %q: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	for id, decl := range cfg.Tools {
		decl.Path = strings.TrimSpace(os.ExpandEnv(decl.Path))
		if decl.Path != "" {
			decl.Path = resolveRelative(baseDir, expandHome(decl.Path))
		}
		cfg.Tools[id] = decl
	}
	return nil
}

// ApplyEnv overlays ORCHESTRATE_* variables onto cfg. A nil environment reads
// the process environment.
func ApplyEnv(cfg *Config, environment map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Finalize expands ~ and $VARS in paths and derives unset file locations from
// DataDir.
func (c *Config) Finalize() {
	c.DataDir = expandPath(c.DataDir)
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Store.ToolsFile = defaultPath(c.Store.ToolsFile, c.DataDir, "tools.json")
	c.Store.WorkflowsFile = defaultPath(c.Store.WorkflowsFile, c.DataDir, "workflows.json")
	c.Store.SQLiteDSN = defaultPath(c.Store.SQLiteDSN, c.DataDir, "orchestrate.db")
	c.Runner.ToolsDir = defaultPath(c.Runner.ToolsDir, c.DataDir, "tools")
	c.Runner.Catalog = defaultPath(c.Runner.Catalog, c.DataDir, "catalog.yaml")
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendFile, BackendSQLite:
	case BackendRedis:
		if strings.TrimSpace(c.Store.RedisURL) == "" {
			errs = append(errs, errors.New("store.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of file, sqlite, redis", c.Store.Backend))
	}
	if c.Runner.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("runner.timeout must be positive, got %s", c.Runner.Timeout))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		errs = append(errs, errors.New("server.rate_burst must be positive when rate_limit is set"))
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	for id, decl := range c.Tools {
		if strings.TrimSpace(decl.Path) == "" {
			errs = append(errs, fmt.Errorf("tools.%s: path is required", id))
		}
	}
	for name, decl := range c.Workflows {
		def := workflow.Definition{Name: name, Description: decl.Description, Steps: decl.Steps}
		if err := def.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("workflows.%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLogLevel maps debug|info|warn|error to a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", level)
	}
}

func defaultPath(value, dataDir, name string) string {
	if strings.TrimSpace(value) == "" {
		return filepath.Join(dataDir, name)
	}
	return expandPath(value)
}

func expandPath(p string) string {
	return expandHome(os.ExpandEnv(strings.TrimSpace(p)))
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func resolveRelative(baseDir, p string) string {
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean
	}
	return filepath.Join(baseDir, clean)
}
