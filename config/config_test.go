package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/petal-labs/orchestrate/tool"
	"github.com/petal-labs/orchestrate/workflow"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll(%s) error = %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}

func TestDiscoverFrom_FirstMatchWins(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()

	projectConfig := filepath.Join(cwd, "orchestrate.yaml")
	writeFile(t, projectConfig, "log: {level: debug}")
	writeFile(t, filepath.Join(home, ".orchestrate", "config.yaml"), "log: {level: warn}")

	got, found, err := DiscoverFrom("", cwd, home)
	if err != nil {
		t.Fatalf("DiscoverFrom() error = %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if got != projectConfig {
		t.Fatalf("path = %q, want %q", got, projectConfig)
	}
}

func TestDiscoverFrom_FallsBackToHome(t *testing.T) {
	home := t.TempDir()
	homeConfig := filepath.Join(home, ".orchestrate", "config.yaml")
	writeFile(t, homeConfig, "{}")

	got, found, err := DiscoverFrom("", t.TempDir(), home)
	if err != nil {
		t.Fatalf("DiscoverFrom() error = %v", err)
	}
	if !found || got != homeConfig {
		t.Fatalf("DiscoverFrom() = %q, %v; want %q, true", got, found, homeConfig)
	}
}

func TestDiscoverFrom_NothingFound(t *testing.T) {
	_, found, err := DiscoverFrom("", t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("DiscoverFrom() error = %v", err)
	}
	if found {
		t.Fatal("found = true, want false")
	}
}

func TestDiscoverFrom_ExplicitNotFound(t *testing.T) {
	_, found, err := DiscoverFrom(filepath.Join(t.TempDir(), "missing.yaml"), t.TempDir(), t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
	if found {
		t.Fatal("found = true, want false")
	}
}

func TestMergeFileAndFinalize(t *testing.T) {
	t.Setenv("ORCH_TEST_TOOLS", "/opt/tools")
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrate.yaml")
	writeFile(t, path, `
data_dir: `+filepath.Join(dir, "data")+`
store:
  backend: SQLite
runner:
  timeout: 5s
server:
  port: 9090
  rate_limit: 2.5
tools:
  echo_tool:
    path: ./bin/echo.py
    interpreter: python3
  abs_tool:
    path: ${ORCH_TEST_TOOLS}/abs
workflows:
  shout:
    description: echo then upper
    steps:
      - tool: echo_tool
        action: echo
        params: {text: "{input}"}
      - tool_id: upper_tool
        action: upper
        params: {text: "{previous_output}"}
`)

	cfg := Default()
	if err := MergeFile(&cfg, path); err != nil {
		t.Fatalf("MergeFile() error = %v", err)
	}
	cfg.Finalize()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Store.Backend != BackendSQLite {
		t.Fatalf("backend = %q, want sqlite", cfg.Store.Backend)
	}
	if cfg.Runner.Timeout != 5*time.Second {
		t.Fatalf("timeout = %s, want 5s", cfg.Runner.Timeout)
	}
	if cfg.Server.Port != 9090 || cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if want := filepath.Join(dir, "data", "orchestrate.db"); cfg.Store.SQLiteDSN != want {
		t.Fatalf("sqlite dsn = %q, want %q", cfg.Store.SQLiteDSN, want)
	}
	if want := filepath.Join(dir, "bin", "echo.py"); cfg.Tools["echo_tool"].Path != want {
		t.Fatalf("echo_tool path = %q, want %q", cfg.Tools["echo_tool"].Path, want)
	}
	if cfg.Tools["abs_tool"].Path != "/opt/tools/abs" {
		t.Fatalf("abs_tool path = %q", cfg.Tools["abs_tool"].Path)
	}
	steps := cfg.Workflows["shout"].Steps
	if len(steps) != 2 || steps[1].Tool != "upper_tool" {
		t.Fatalf("steps = %+v", steps)
	}
}

func TestApplyEnvOverridesFile(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 9090
	err := ApplyEnv(&cfg, map[string]string{
		"ORCHESTRATE_SERVER_PORT":             "7000",
		"ORCHESTRATE_STORE_BACKEND":           "redis",
		"ORCHESTRATE_STORE_REDIS_URL":         "redis://localhost:6379/0",
		"ORCHESTRATE_RUNNER_TIMEOUT":          "90s",
		"ORCHESTRATE_LOG_FORMAT":              "json",
		"ORCHESTRATE_TELEMETRY_PROMETHEUS":    "true",
		"ORCHESTRATE_TELEMETRY_OTLP_ENDPOINT": "localhost:4318",
	})
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	cfg.Finalize()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Fatalf("port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Store.Backend != BackendRedis || cfg.Store.RedisURL == "" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Runner.Timeout != 90*time.Second {
		t.Fatalf("timeout = %s", cfg.Runner.Timeout)
	}
	if !cfg.Telemetry.Prometheus || cfg.Telemetry.OTLPEndpoint != "localhost:4318" {
		t.Fatalf("telemetry = %+v", cfg.Telemetry)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("log format = %q", cfg.Log.Format)
	}
}

func TestApplyEnvKeepsUnsetFields(t *testing.T) {
	cfg := Default()
	cfg.Server.CORSOrigin = "https://example.test"
	if err := ApplyEnv(&cfg, map[string]string{}); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.Server.CORSOrigin != "https://example.test" {
		t.Fatalf("cors origin = %q", cfg.Server.CORSOrigin)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, "data_dir: "+dir+"\nlog:\n  level: debug\n")
	t.Setenv("ORCHESTRATE_SERVER_PORT", "8181")

	cfg, used, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if used != path {
		t.Fatalf("used = %q, want %q", used, path)
	}
	if cfg.Log.Level != "debug" || cfg.Server.Port != 8181 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Store.ToolsFile != filepath.Join(dir, "tools.json") {
		t.Fatalf("tools file = %q", cfg.Store.ToolsFile)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "etcd"
	cfg.Runner.Timeout = 0
	cfg.Server.Port = 70000
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"
	cfg.Tools = map[string]ToolDeclaration{"empty": {}}
	cfg.Workflows = map[string]WorkflowDeclaration{"bad": {}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil, want error")
	}
	for _, want := range []string{"store.backend", "runner.timeout", "server.port", "log.level", "log.format", "tools.empty", "workflows.bad"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Validate() error = %q, missing %q", err, want)
		}
	}
}

func TestValidateRedisRequiresURL(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = BackendRedis
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "redis_url") {
		t.Fatalf("Validate() error = %v, want redis_url error", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "", "warn", "warning", "error"} {
		if _, err := ParseLogLevel(level); err != nil {
			t.Fatalf("ParseLogLevel(%q) error = %v", level, err)
		}
	}
	if _, err := ParseLogLevel("trace"); err == nil {
		t.Fatal("ParseLogLevel(trace) error = nil")
	}
}

func TestSeedToolsSkipsExisting(t *testing.T) {
	ctx := context.Background()
	t.Setenv("ORCH_TEST_SECRET_VAR", "IDEOGRAM_API_KEY")
	registry := tool.NewRegistry(tool.NewMemoryStore())
	if err := registry.Register(ctx, tool.Entry{ID: "echo_tool", Path: "/original/echo"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	added, err := SeedTools(ctx, registry, map[string]ToolDeclaration{
		"echo_tool":  {Path: "/declared/echo"},
		"image_tool": {Path: "/declared/image", Interpreter: "python3", Secrets: map[string]string{"api_key": "$ORCH_TEST_SECRET_VAR"}},
	}, nil)
	if err != nil {
		t.Fatalf("SeedTools() error = %v", err)
	}
	if len(added) != 1 || added[0] != "image_tool" {
		t.Fatalf("added = %v, want [image_tool]", added)
	}

	echo, err := registry.Resolve(ctx, "echo_tool")
	if err != nil {
		t.Fatalf("Resolve(echo_tool) error = %v", err)
	}
	if echo.Path != "/original/echo" {
		t.Fatalf("echo path = %q, want original", echo.Path)
	}
	image, err := registry.Resolve(ctx, "image_tool")
	if err != nil {
		t.Fatalf("Resolve(image_tool) error = %v", err)
	}
	if image.Interpreter != "python3" || image.Secrets["api_key"] != "IDEOGRAM_API_KEY" {
		t.Fatalf("image entry = %+v", image)
	}
}

func TestSeedWorkflowsSkipsExisting(t *testing.T) {
	ctx := context.Background()
	library := workflow.NewLibrary(workflow.NewMemoryStore())
	existing := workflow.Definition{Name: "shout", Steps: []workflow.Step{{Tool: "echo_tool", Action: "echo"}}}
	if _, err := library.Add(ctx, existing); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	added, err := SeedWorkflows(ctx, library, map[string]WorkflowDeclaration{
		"shout":   {Steps: []workflow.Step{{Tool: "upper_tool", Action: "upper"}}},
		"whisper": {Description: "lower", Steps: []workflow.Step{{Tool: "lower_tool", Action: "lower"}}},
	}, nil)
	if err != nil {
		t.Fatalf("SeedWorkflows() error = %v", err)
	}
	if len(added) != 1 || added[0] != "whisper" {
		t.Fatalf("added = %v, want [whisper]", added)
	}
	got, err := library.Get(ctx, "shout")
	if err != nil {
		t.Fatalf("Get(shout) error = %v", err)
	}
	if got.Steps[0].Tool != "echo_tool" {
		t.Fatalf("shout was overwritten: %+v", got.Steps)
	}
}

func TestOpenStoresBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mr := miniredis.RunT(t)

	cases := []StoreConfig{
		{Backend: BackendFile, ToolsFile: filepath.Join(dir, "tools.json"), WorkflowsFile: filepath.Join(dir, "workflows.json")},
		{Backend: BackendSQLite, SQLiteDSN: filepath.Join(dir, "orchestrate.db")},
		{Backend: BackendRedis, RedisURL: "redis://" + mr.Addr(), RedisPrefix: "cfgtest"},
	}
	for _, sc := range cases {
		t.Run(sc.Backend, func(t *testing.T) {
			stores, err := OpenStores(sc)
			if err != nil {
				t.Fatalf("OpenStores() error = %v", err)
			}
			defer func() {
				if err := stores.Close(); err != nil {
					t.Fatalf("Close() error = %v", err)
				}
			}()

			registry := tool.NewRegistry(stores.Tools)
			if err := registry.Register(ctx, tool.Entry{ID: "echo_tool", Path: "/bin/echo"}); err != nil {
				t.Fatalf("Register() error = %v", err)
			}
			library := workflow.NewLibrary(stores.Workflows)
			def := workflow.Definition{Name: "w", Steps: []workflow.Step{{Tool: "echo_tool", Action: "echo"}}}
			if _, err := library.Add(ctx, def); err != nil {
				t.Fatalf("Add() error = %v", err)
			}
			if _, err := library.Get(ctx, "w"); err != nil {
				t.Fatalf("Get() error = %v", err)
			}
		})
	}
}

func TestOpenStoresUnknownBackend(t *testing.T) {
	if _, err := OpenStores(StoreConfig{Backend: "etcd"}); err == nil {
		t.Fatal("OpenStores(etcd) error = nil")
	}
}

func TestOpenStoresSQLiteUnderMissingDir(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "missing", "orchestrate.db")
	stores, err := OpenStores(StoreConfig{Backend: BackendSQLite, SQLiteDSN: dsn})
	if err != nil {
		t.Fatalf("OpenStores() error = %v", err)
	}
	defer stores.Close()

	registry := tool.NewRegistry(stores.Tools)
	if err := registry.Register(context.Background(), tool.Entry{ID: "echo_tool", Path: "/bin/echo"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := os.Stat(dsn); err != nil {
		t.Fatalf("database file missing: %v", err)
	}
}
