package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/orchestrate/config"
	orchotel "github.com/petal-labs/orchestrate/otel"
	"github.com/petal-labs/orchestrate/server"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "127.0.0.1", "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().Float64("rate-limit", 0, "Execution requests per second (0 disables)")
	cmd.Flags().Int("rate-burst", 10, "Execution request burst size")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 0, "HTTP write timeout (0 derives it from the tool timeout)")
	cmd.Flags().Bool("prometheus", false, "Serve Prometheus metrics on /metrics")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP trace endpoint (host:port or URL)")

	return cmd
}

// applyServeFlags overlays explicitly set flags onto the loaded config.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-body") {
		cfg.Server.MaxBody, _ = flags.GetInt64("max-body")
	}
	if flags.Changed("rate-limit") {
		cfg.Server.RateLimit, _ = flags.GetFloat64("rate-limit")
	}
	if flags.Changed("rate-burst") {
		cfg.Server.RateBurst, _ = flags.GetInt("rate-burst")
	}
	if flags.Changed("prometheus") {
		cfg.Telemetry.Prometheus, _ = flags.GetBool("prometheus")
	}
	if flags.Changed("otlp-endpoint") {
		cfg.Telemetry.OTLPEndpoint, _ = flags.GetString("otlp-endpoint")
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")

	return withApp(cmd, func(a *app) error {
		applyServeFlags(cmd, &a.cfg)
		if err := a.cfg.Validate(); err != nil {
			return exitError(exitValidation, "%v", err)
		}
		if writeTimeout <= 0 {
			writeTimeout = 10*a.cfg.Runner.Timeout + 30*time.Second
		}

		telemetry, err := orchotel.Setup(cmd.Context(), orchotel.Config{
			ServiceName:    "orchestrate",
			ServiceVersion: cmd.Root().Version,
			OTLPEndpoint:   a.cfg.Telemetry.OTLPEndpoint,
			OTLPInsecure:   a.cfg.Telemetry.OTLPInsecure,
			Prometheus:     a.cfg.Telemetry.Prometheus,
		})
		if err != nil {
			return exitError(exitRuntime, "initializing telemetry: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := telemetry.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("telemetry shutdown", "error", err)
			}
		}()
		if err := telemetry.Install(); err != nil {
			return exitError(exitRuntime, "installing telemetry: %v", err)
		}

		seededTools, err := config.SeedTools(cmd.Context(), a.registry, a.cfg.Tools, a.logger)
		if err != nil {
			return exitError(exitRuntime, "loading startup tool declarations: %v", err)
		}
		seededWorkflows, err := config.SeedWorkflows(cmd.Context(), a.library, a.cfg.Workflows, a.logger)
		if err != nil {
			return exitError(exitRuntime, "loading startup workflow declarations: %v", err)
		}
		if a.configPath != "" {
			a.logger.Info("loaded declarations", "path", a.configPath, "tools", len(seededTools), "workflows", len(seededWorkflows))
		}

		api, err := server.NewServer(server.ServerConfig{
			Dispatcher: a.dispatcher,
			Library:    a.library,
			Engine:     a.engine,
			Metrics:    telemetry.MetricsHandler(),
			CORSOrigin: a.cfg.Server.CORSOrigin,
			MaxBody:    a.cfg.Server.MaxBody,
			RateLimit:  a.cfg.Server.RateLimit,
			RateBurst:  a.cfg.Server.RateBurst,
			Logger:     a.logger,
		})
		if err != nil {
			return exitError(exitRuntime, "creating server: %v", err)
		}

		addr := net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port))
		httpServer := &http.Server{
			Addr:         addr,
			Handler:      api.Handler(),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("orchestrate listening", "addr", addr, "store", a.cfg.Store.Backend)
			fmt.Fprintf(cmd.OutOrStdout(), "orchestrate listening on %s\n", addr)
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return exitError(exitRuntime, "shutdown error: %v", err)
			}
			return nil
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return exitError(exitRuntime, "server error: %v", err)
			}
			return nil
		}
	})
}
