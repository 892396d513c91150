package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/orchestrate/config"
	"github.com/petal-labs/orchestrate/dispatch"
	"github.com/petal-labs/orchestrate/tool"
	"github.com/petal-labs/orchestrate/workflow"
)

// app is the wiring every subcommand shares: configuration, stores and the
// components built over them.
type app struct {
	cfg        config.Config
	configPath string
	logger     *slog.Logger
	stores     *config.Stores
	registry   *tool.Registry
	dispatcher *dispatch.Dispatcher
	library    *workflow.Library
	engine     *workflow.Engine
}

func loadApp(cmd *cobra.Command) (*app, error) {
	explicitConfig, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")

	cfg, configPath, err := config.Load(explicitConfig)
	if err != nil {
		return nil, exitError(exitValidation, "%v", err)
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log, verbose, quiet)
	if err != nil {
		return nil, exitError(exitValidation, "%v", err)
	}
	if configPath != "" {
		logger.Debug("loaded config", "path", configPath)
	}

	stores, err := config.OpenStores(cfg.Store)
	if err != nil {
		return nil, exitError(exitRuntime, "opening %s stores: %v", cfg.Store.Backend, err)
	}

	registry := tool.NewRegistry(stores.Tools)
	dispatcher, err := dispatch.New(dispatch.Config{
		Registry: registry,
		Timeout:  cfg.Runner.Timeout,
		Logger:   logger,
	})
	if err != nil {
		_ = stores.Close()
		return nil, exitError(exitRuntime, "creating dispatcher: %v", err)
	}
	library := workflow.NewLibrary(stores.Workflows)
	engine, err := workflow.NewEngine(workflow.EngineConfig{
		Library:    library,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		_ = stores.Close()
		return nil, exitError(exitRuntime, "creating workflow engine: %v", err)
	}

	return &app{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		stores:     stores,
		registry:   registry,
		dispatcher: dispatcher,
		library:    library,
		engine:     engine,
	}, nil
}

func (a *app) Close() error {
	return a.stores.Close()
}

func (a *app) installer() (*tool.Installer, error) {
	catalog, err := tool.LoadCatalog(a.cfg.Runner.Catalog)
	if err != nil {
		return nil, exitError(exitValidation, "%v", err)
	}
	installer, err := tool.NewInstaller(tool.InstallerConfig{
		Registry: a.registry,
		Catalog:  catalog,
		ToolsDir: a.cfg.Runner.ToolsDir,
		Logger:   a.logger,
	})
	if err != nil {
		return nil, exitError(exitRuntime, "%v", err)
	}
	return installer, nil
}

// withApp loads the app for the duration of fn.
func withApp(cmd *cobra.Command, fn func(*app) error) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			a.logger.Warn("closing stores", "error", cerr)
		}
	}()
	return fn(a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return exitError(exitRuntime, "encoding output: %v", err)
	}
	return nil
}

func parseJSONValue(raw string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return v, nil
}
