package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/orchestrate/dispatch"
	"github.com/petal-labs/orchestrate/tool"
)

// NewToolsCmd creates the "tools" command group.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Manage the tool registry",
	}

	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsRegisterCmd())
	cmd.AddCommand(newToolsUnregisterCmd())
	cmd.AddCommand(newToolsActionsCmd())
	cmd.AddCommand(newToolsInstallCmd())
	cmd.AddCommand(newToolsUninstallCmd())
	cmd.AddCommand(newToolsTestCmd())

	return cmd
}

func newToolsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app) error {
				entries, err := a.registry.Entries(cmd.Context())
				if err != nil {
					return exitError(exitRuntime, "listing tools: %v", err)
				}
				writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
				fmt.Fprintln(writer, "ID\tPATH\tINTERPRETER\tMANAGED")
				for _, entry := range entries {
					interpreter := entry.Interpreter
					if interpreter == "" {
						interpreter = "-"
					}
					fmt.Fprintf(writer, "%s\t%s\t%s\t%t\n", entry.ID, entry.Path, interpreter, entry.Managed)
				}
				return writer.Flush()
			})
		},
	}
}

func newToolsRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <tool_id> <path>",
		Short: "Register a tool executable under an id",
		Args:  cobra.ExactArgs(2),
		RunE:  runToolsRegister,
	}
	cmd.Flags().String("interpreter", "", "Interpreter to run the tool with (e.g. python3)")
	cmd.Flags().StringArray("secret", nil, "Pass a parameter through the environment: PARAM=ENV_VAR (repeatable)")
	return cmd
}

func runToolsRegister(cmd *cobra.Command, args []string) error {
	id := strings.TrimSpace(args[0])
	interpreter, _ := cmd.Flags().GetString("interpreter")
	secretFlags, _ := cmd.Flags().GetStringArray("secret")

	secrets, err := parseSecretFlags(secretFlags)
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}
	path, err := filepath.Abs(strings.TrimSpace(args[1]))
	if err != nil {
		return exitError(exitValidation, "resolving path: %v", err)
	}

	return withApp(cmd, func(a *app) error {
		entry := tool.Entry{ID: id, Path: path, Interpreter: strings.TrimSpace(interpreter), Secrets: secrets}
		if err := a.registry.Register(cmd.Context(), entry); err != nil {
			if errors.Is(err, tool.ErrToolExists) {
				return exitError(exitValidation, "tool %q is already registered", id)
			}
			return exitError(exitRuntime, "registering tool: %v", err)
		}
		if err := tool.CheckExecutable(entry); err != nil {
			a.logger.Warn("registered tool is not executable yet", "tool", id, "error", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered tool: %s -> %s\n", id, path)
		return nil
	})
}

func parseSecretFlags(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	secrets := make(map[string]string, len(values))
	for _, raw := range values {
		param, envName, ok := strings.Cut(raw, "=")
		param = strings.TrimSpace(param)
		envName = strings.TrimSpace(envName)
		if !ok || param == "" || envName == "" {
			return nil, fmt.Errorf("invalid --secret %q: want PARAM=ENV_VAR", raw)
		}
		secrets[param] = envName
	}
	return secrets, nil
}

func newToolsUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <tool_id>",
		Short: "Remove a tool from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return withApp(cmd, func(a *app) error {
				if _, err := a.registry.Unregister(cmd.Context(), id); err != nil {
					return registryExitError(id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unregistered tool: %s\n", id)
				return nil
			})
		},
	}
}

func newToolsActionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions <tool_id>",
		Short: "Introspect a tool and print its supported actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				schema, err := a.dispatcher.Actions(cmd.Context(), args[0])
				if err != nil {
					if derr, ok := dispatch.AsError(err); ok {
						return dispatchExitError(derr)
					}
					return exitError(exitRuntime, "%v", err)
				}
				return printJSON(cmd, schema)
			})
		},
	}
}

func newToolsInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <name>",
		Short: "Install a tool from the catalog and register it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			return withApp(cmd, func(a *app) error {
				installer, err := a.installer()
				if err != nil {
					return err
				}
				entry, err := installer.Install(cmd.Context(), name)
				if err != nil {
					switch {
					case errors.Is(err, tool.ErrNotInCatalog):
						return exitError(exitNotFound, "%v", err)
					case errors.Is(err, tool.ErrToolExists):
						return exitError(exitValidation, "tool %q is already registered", name)
					default:
						return exitError(exitRuntime, "installing %s: %v", name, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Installed tool: %s -> %s\n", entry.ID, entry.Path)
				return nil
			})
		},
	}
}

func newToolsUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <tool_id>",
		Short: "Unregister a tool and delete it if it was installed from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return withApp(cmd, func(a *app) error {
				installer, err := a.installer()
				if err != nil {
					return err
				}
				entry, err := installer.Uninstall(cmd.Context(), id)
				if err != nil {
					return registryExitError(id, err)
				}
				if entry.Managed {
					fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled tool: %s (removed %s)\n", id, entry.Path)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled tool: %s\n", id)
				}
				return nil
			})
		},
	}
}

func newToolsTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <tool_id>",
		Short: "Call every action of a tool with placeholder parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return withApp(cmd, func(a *app) error {
				results, err := a.dispatcher.SelfTest(cmd.Context(), id)
				if err != nil {
					if derr, ok := dispatch.AsError(err); ok {
						return dispatchExitError(derr)
					}
					return exitError(exitRuntime, "%v", err)
				}

				failed := 0
				writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
				fmt.Fprintln(writer, "ACTION\tSTATUS\tDURATION_MS\tDETAIL")
				for _, outcome := range results {
					detail := "-"
					if !outcome.Result.OK() {
						failed++
						detail = outcome.Result.ErrorMessage
					}
					fmt.Fprintf(writer, "%s\t%s\t%d\t%s\n", outcome.Action, outcome.Result.Status, outcome.Result.DurationMS, detail)
				}
				if err := writer.Flush(); err != nil {
					return err
				}
				if failed > 0 {
					return exitError(exitToolFailure, "%d of %d action(s) failed", failed, len(results))
				}
				return nil
			})
		},
	}
}

func registryExitError(id string, err error) error {
	if errors.Is(err, tool.ErrToolNotFound) {
		return exitError(exitNotFound, "tool %q not found", id)
	}
	return exitError(exitRuntime, "%v", err)
}
