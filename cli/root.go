// Package cli implements the orchestrate command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the orchestrate command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "orchestrate",
		Short: "Tool dispatch and workflow execution engine",
		Long:  "orchestrate registers command-line tools, validates and dispatches calls to them, and runs stored multi-step workflows.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "Path to orchestrate.yaml (default: ./orchestrate.yaml, then ~/.orchestrate/config.yaml)")
	root.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
	root.PersistentFlags().Bool("quiet", false, "Suppress all output except errors")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("orchestrate version %s\n", version))

	root.AddCommand(NewServeCmd())
	root.AddCommand(NewToolsCmd())
	root.AddCommand(NewDispatchCmd())
	root.AddCommand(NewWorkflowsCmd())
	return root
}
