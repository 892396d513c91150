package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/petal-labs/orchestrate/dispatch"
	"github.com/petal-labs/orchestrate/tool"
	"github.com/petal-labs/orchestrate/workflow"
)

const (
	severityError   = "error"
	severityWarning = "warning"
)

// diagnostic is one finding about a workflow definition file.
type diagnostic struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Path     string `json:"path,omitempty"`
}

func newWorkflowsValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a workflow definition file without storing or running it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")
	cmd.Flags().Bool("check-actions", false, "Introspect each tool and check actions and parameter names")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	checkActions, _ := cmd.Flags().GetBool("check-actions")

	data, err := readInputFile(filePath)
	if err != nil {
		return err
	}

	var def workflow.Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		diags := []diagnostic{{
			Code:     "WF-000",
			Severity: severityError,
			Message:  fmt.Sprintf("Failed to parse file: %v", err),
		}}
		printValidateDiagnostics(cmd.OutOrStdout(), diags, format)
		return exitError(exitValidation, "validation failed")
	}

	diags := validateDefinition(def)
	if !hasErrors(diags) {
		err := withApp(cmd, func(a *app) error {
			toolDiags, err := validateStepTools(cmd, a, def, checkActions)
			diags = append(diags, toolDiags...)
			return err
		})
		if err != nil {
			return err
		}
	}

	printValidateDiagnostics(cmd.OutOrStdout(), diags, format)

	if hasErrors(diags) || (strict && len(warnings(diags)) > 0) {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

// validateDefinition checks the document shape without touching any store.
func validateDefinition(def workflow.Definition) []diagnostic {
	var diags []diagnostic
	if strings.TrimSpace(def.Name) == "" {
		diags = append(diags, diagnostic{Code: "WF-001", Severity: severityError, Message: "name is required", Path: "name"})
	}
	if len(def.Steps) == 0 {
		diags = append(diags, diagnostic{Code: "WF-002", Severity: severityError, Message: "workflow has no steps", Path: "steps"})
	}
	for i, step := range def.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		switch {
		case strings.TrimSpace(step.Tool) == "":
			diags = append(diags, diagnostic{Code: "WF-003", Severity: severityError, Message: "tool is required", Path: path})
		case step.Skipped():
			if len(step.Params) > 0 {
				diags = append(diags, diagnostic{Code: "WF-004", Severity: severityWarning, Message: "params on a no_tool_required step are ignored", Path: path})
			}
		case strings.TrimSpace(step.Action) == "":
			diags = append(diags, diagnostic{Code: "WF-005", Severity: severityError, Message: fmt.Sprintf("action is required for tool %q", step.Tool), Path: path})
		}
	}
	return diags
}

// validateStepTools checks steps against the registry and, optionally, against
// each tool's introspected schema.
func validateStepTools(cmd *cobra.Command, a *app, def workflow.Definition, checkActions bool) ([]diagnostic, error) {
	var diags []diagnostic
	schemas := map[string]tool.ActionSchema{}
	for i, step := range def.Steps {
		if step.Skipped() {
			continue
		}
		path := fmt.Sprintf("steps[%d]", i)
		if _, err := a.registry.Resolve(cmd.Context(), step.Tool); err != nil {
			if !errors.Is(err, tool.ErrToolNotFound) {
				return nil, exitError(exitRuntime, "%v", err)
			}
			diags = append(diags, diagnostic{Code: "WF-010", Severity: severityWarning, Message: fmt.Sprintf("tool %q is not registered", step.Tool), Path: path})
			continue
		}
		if !checkActions {
			continue
		}

		schema, ok := schemas[step.Tool]
		if !ok {
			resolved, err := a.dispatcher.Actions(cmd.Context(), step.Tool)
			if err != nil {
				diags = append(diags, diagnostic{Code: "WF-011", Severity: severityError, Message: err.Error(), Path: path})
				continue
			}
			schema = resolved
			schemas[step.Tool] = schema
		}
		if derr := dispatch.Validate(schema, step.Action, step.Params); derr != nil {
			diags = append(diags, diagnostic{Code: "WF-012", Severity: severityError, Message: derr.Error(), Path: path})
		}
	}
	return diags, nil
}

func hasErrors(diags []diagnostic) bool {
	for _, d := range diags {
		if d.Severity == severityError {
			return true
		}
	}
	return false
}

func warnings(diags []diagnostic) []diagnostic {
	var out []diagnostic
	for _, d := range diags {
		if d.Severity == severityWarning {
			out = append(out, d)
		}
	}
	return out
}

// printValidateDiagnostics writes diagnostics to the writer in the requested
// format, followed by a summary line (for text format).
func printValidateDiagnostics(w io.Writer, diags []diagnostic, format string) {
	if format == "json" {
		printDiagnosticsJSON(w, diags)
		return
	}
	printDiagnosticsText(w, diags)
}

func printDiagnosticsText(w io.Writer, diags []diagnostic) {
	for _, d := range diags {
		sev := strings.ToUpper(d.Severity)
		if d.Path != "" {
			fmt.Fprintf(w, "%s [%s]: %s (at %s)\n", sev, d.Code, d.Message, d.Path)
		} else {
			fmt.Fprintf(w, "%s [%s]: %s\n", sev, d.Code, d.Message)
		}
	}

	errCount := len(diags) - len(warnings(diags))
	warnCount := len(warnings(diags))

	switch {
	case errCount == 0 && warnCount == 0:
		fmt.Fprintln(w, "Valid!")
	case errCount == 0:
		fmt.Fprintf(w, "\nValid! (%d %s)\n", warnCount, pluralize("warning", warnCount))
	default:
		fmt.Fprintf(w, "\n%d %s, %d %s\n",
			errCount, pluralize("error", errCount),
			warnCount, pluralize("warning", warnCount))
	}
}

func printDiagnosticsJSON(w io.Writer, diags []diagnostic) {
	// Output an empty array rather than null when there are no diagnostics.
	if diags == nil {
		diags = []diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(diags)
}

// pluralize returns the singular or plural form of a word based on count.
func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
