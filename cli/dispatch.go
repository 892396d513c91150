package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/orchestrate/dispatch"
)

var errInvalidParams = errors.New("--params must be a JSON object")

// NewDispatchCmd creates the "dispatch" subcommand.
func NewDispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch <tool_id> <action>",
		Short: "Validate and execute a single tool call",
		Args:  cobra.ExactArgs(2),
		RunE:  runDispatch,
	}
	cmd.Flags().String("params", "", "Parameters as a JSON object")
	return cmd
}

func runDispatch(cmd *cobra.Command, args []string) error {
	rawParams, _ := cmd.Flags().GetString("params")
	params, err := parseParams(rawParams)
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	return withApp(cmd, func(a *app) error {
		res := a.dispatcher.Dispatch(cmd.Context(), dispatch.Request{
			ToolID: strings.TrimSpace(args[0]),
			Action: strings.TrimSpace(args[1]),
			Params: params,
		})
		if err := printJSON(cmd, res); err != nil {
			return err
		}
		if !res.OK() {
			return dispatchExitError(res.Error)
		}
		return nil
	})
}

func parseParams(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	value, err := parseJSONValue(raw)
	if err != nil {
		return nil, err
	}
	params, ok := value.(map[string]any)
	if !ok {
		return nil, errInvalidParams
	}
	return params, nil
}
