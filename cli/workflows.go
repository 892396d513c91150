package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/petal-labs/orchestrate/dispatch"
	"github.com/petal-labs/orchestrate/workflow"
)

// NewWorkflowsCmd creates the "workflows" command group.
func NewWorkflowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflows",
		Aliases: []string{"workflow"},
		Short:   "Manage and run stored workflows",
	}

	cmd.AddCommand(newWorkflowsListCmd())
	cmd.AddCommand(newWorkflowsShowCmd())
	cmd.AddCommand(newWorkflowsAddCmd())
	cmd.AddCommand(newWorkflowsModifyCmd())
	cmd.AddCommand(newWorkflowsRemoveCmd())
	cmd.AddCommand(newWorkflowsSearchCmd())
	cmd.AddCommand(newWorkflowsRunCmd())
	cmd.AddCommand(newWorkflowsValidateCmd())

	return cmd
}

func newWorkflowsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app) error {
				defs, err := a.library.List(cmd.Context())
				if err != nil {
					return exitError(exitRuntime, "listing workflows: %v", err)
				}
				return writeWorkflowTable(cmd, defs)
			})
		},
	}
}

func newWorkflowsSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find workflows whose name contains query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				defs, err := a.library.Search(cmd.Context(), args[0])
				if err != nil {
					return exitError(exitRuntime, "searching workflows: %v", err)
				}
				return writeWorkflowTable(cmd, defs)
			})
		},
	}
}

func writeWorkflowTable(cmd *cobra.Command, defs []workflow.Definition) error {
	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tSTEPS\tDESCRIPTION")
	for _, def := range defs {
		description := def.Description
		if description == "" {
			description = "-"
		}
		fmt.Fprintf(writer, "%s\t%d\t%s\n", def.Name, len(def.Steps), description)
	}
	return writer.Flush()
}

func newWorkflowsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				def, err := a.library.Get(cmd.Context(), args[0])
				if err != nil {
					return libraryExitError(args[0], err)
				}
				return printJSON(cmd, def)
			})
		},
	}
}

func newWorkflowsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [name] --file <definition.yaml>",
		Short: "Store a new workflow from a YAML or JSON definition",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWorkflowsAdd,
	}
	cmd.Flags().StringP("file", "f", "", "Definition file (YAML or JSON)")
	cmd.Flags().String("description", "", "Override the definition's description")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runWorkflowsAdd(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	def, err := loadDefinitionFile(file)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		def.Name = args[0]
	}
	if cmd.Flags().Changed("description") {
		def.Description, _ = cmd.Flags().GetString("description")
	}

	return withApp(cmd, func(a *app) error {
		added, err := a.library.Add(cmd.Context(), def)
		if err != nil {
			return libraryExitError(def.Name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added workflow: %s (%d steps)\n", added.Name, len(added.Steps))
		return nil
	})
}

func newWorkflowsModifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modify <name> --file <steps.yaml>",
		Short: "Append steps to a workflow, or replace them with --replace",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflowsModify,
	}
	cmd.Flags().StringP("file", "f", "", "Steps file: a list of steps or a definition (YAML or JSON)")
	cmd.Flags().Bool("replace", false, "Replace the existing steps instead of appending")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runWorkflowsModify(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	replace, _ := cmd.Flags().GetBool("replace")
	steps, err := loadStepsFile(file)
	if err != nil {
		return err
	}

	return withApp(cmd, func(a *app) error {
		def, err := a.library.Modify(cmd.Context(), args[0], steps, replace)
		if err != nil {
			return libraryExitError(args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Modified workflow: %s (%d steps)\n", def.Name, len(def.Steps))
		return nil
	})
}

func newWorkflowsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a stored workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				if _, err := a.library.Remove(cmd.Context(), args[0]); err != nil {
					return libraryExitError(args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed workflow: %s\n", args[0])
				return nil
			})
		},
	}
}

func newWorkflowsRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Run a stored workflow and print its result",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflowsRun,
	}
	cmd.Flags().String("input", "", "Initial input, substituted for {input} and the first {previous_output}")
	cmd.Flags().Bool("input-json", false, "Parse --input as JSON instead of a plain string")
	cmd.Flags().Bool("trace", false, "Include per-step records in the output")
	return cmd
}

type runOutput struct {
	Status       dispatch.Status       `json:"status"`
	Payload      any                   `json:"payload"`
	ErrorMessage string                `json:"error_message,omitempty"`
	Error        *dispatch.Error       `json:"error,omitempty"`
	RunID        string                `json:"run_id,omitempty"`
	Steps        []workflow.StepRecord `json:"steps,omitempty"`
}

func runWorkflowsRun(cmd *cobra.Command, args []string) error {
	rawInput, _ := cmd.Flags().GetString("input")
	inputJSON, _ := cmd.Flags().GetBool("input-json")
	trace, _ := cmd.Flags().GetBool("trace")

	var input any = rawInput
	if inputJSON {
		parsed, err := parseJSONValue(rawInput)
		if err != nil {
			return exitError(exitValidation, "--input: %v", err)
		}
		input = parsed
	}

	return withApp(cmd, func(a *app) error {
		run, err := a.engine.Run(cmd.Context(), args[0], input)
		out := runOutput{Status: dispatch.StatusSuccess}
		if run != nil {
			out.RunID = run.ID
			out.Payload = run.Output
			if trace {
				out.Steps = run.Steps
			}
		}
		if err == nil {
			return printJSON(cmd, out)
		}

		var derr *dispatch.Error
		var stepErr *workflow.StepError
		if errors.As(err, &stepErr) {
			derr = stepErr.DispatchError()
		} else if found, ok := dispatch.AsError(err); ok {
			derr = found
		} else {
			return exitError(exitRuntime, "running workflow: %v", err)
		}
		out.Status = dispatch.StatusError
		out.Payload = nil
		out.Error = derr
		out.ErrorMessage = derr.Error()
		if printErr := printJSON(cmd, out); printErr != nil {
			return printErr
		}
		return dispatchExitError(derr)
	})
}

func loadDefinitionFile(file string) (workflow.Definition, error) {
	data, err := readInputFile(file)
	if err != nil {
		return workflow.Definition{}, err
	}
	var def workflow.Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return workflow.Definition{}, exitError(exitValidation, "parsing %s: %v", file, err)
	}
	return def, nil
}

// loadStepsFile accepts either a bare list of steps or a definition document.
func loadStepsFile(file string) ([]workflow.Step, error) {
	data, err := readInputFile(file)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, exitError(exitValidation, "parsing %s: %v", file, err)
	}
	if len(doc.Content) == 0 {
		return nil, exitError(exitValidation, "%s is empty", file)
	}
	root := doc.Content[0]
	if root.Kind == yaml.SequenceNode {
		var steps []workflow.Step
		if err := root.Decode(&steps); err != nil {
			return nil, exitError(exitValidation, "parsing %s: %v", file, err)
		}
		return steps, nil
	}
	var def workflow.Definition
	if err := root.Decode(&def); err != nil {
		return nil, exitError(exitValidation, "parsing %s: %v", file, err)
	}
	return def.Steps, nil
}

func readInputFile(file string) ([]byte, error) {
	file = strings.TrimSpace(file)
	if file == "" {
		return nil, exitError(exitValidation, "--file is required")
	}
	// #nosec G304 -- path supplied by the operator on the command line.
	data, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(exitNotFound, "file not found: %s", file)
		}
		return nil, exitError(exitRuntime, "reading %s: %v", file, err)
	}
	return data, nil
}

func libraryExitError(name string, err error) error {
	switch {
	case errors.Is(err, workflow.ErrWorkflowNotFound):
		return exitError(exitNotFound, "workflow %q not found", name)
	case errors.Is(err, workflow.ErrWorkflowExists):
		return exitError(exitValidation, "workflow %q already exists", name)
	case errors.Is(err, workflow.ErrInvalidWorkflow):
		return exitError(exitValidation, "%v", err)
	default:
		return exitError(exitRuntime, "%v", err)
	}
}
