package dispatch

import "context"

// SelfTestValue fills every declared parameter during a self-test.
const SelfTestValue = "test_value"

// SelfTestResult is the outcome of exercising one action.
type SelfTestResult struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
	Result Result         `json:"result"`
}

// SelfTest introspects a tool and dispatches every action once, with each
// declared parameter set to SelfTestValue. Actions run in sorted order through a
// single session, so the tool is introspected once.
func (d *Dispatcher) SelfTest(ctx context.Context, toolID string) ([]SelfTestResult, error) {
	session := d.NewSession()
	entry, derr := session.resolveEntry(ctx, toolID)
	if derr != nil {
		return nil, derr
	}
	schema, derr := session.resolveSchema(ctx, entry)
	if derr != nil {
		return nil, derr
	}

	results := make([]SelfTestResult, 0, len(schema))
	for _, action := range schema.Actions() {
		declared, _ := schema.Params(action)
		params := make(map[string]any, len(declared))
		for _, name := range declared {
			params[name] = SelfTestValue
		}
		results = append(results, SelfTestResult{
			Action: action,
			Params: params,
			Result: session.Dispatch(ctx, Request{ToolID: entry.ID, Action: action, Params: params}),
		})
		if ctx.Err() != nil {
			break
		}
	}
	return results, nil
}
