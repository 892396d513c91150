package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NoToolRequired marks a step the engine skips, forwarding previous_output.
const NoToolRequired = "no_tool_required"

// Step is one tool call inside a workflow.
type Step struct {
	Tool   string         `json:"tool" yaml:"tool"`
	Action string         `json:"action,omitempty" yaml:"action,omitempty"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// stepAlias accepts "tool_id" as a synonym for "tool".
type stepAlias struct {
	Tool   string         `json:"tool" yaml:"tool"`
	ToolID string         `json:"tool_id" yaml:"tool_id"`
	Action string         `json:"action" yaml:"action"`
	Params map[string]any `json:"params" yaml:"params"`
}

func (a stepAlias) step() Step {
	id := a.Tool
	if strings.TrimSpace(id) == "" {
		id = a.ToolID
	}
	return Step{Tool: id, Action: a.Action, Params: a.Params}
}

// UnmarshalJSON decodes a step, accepting tool_id in place of tool.
func (s *Step) UnmarshalJSON(data []byte) error {
	var alias stepAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*s = alias.step()
	return nil
}

// UnmarshalYAML decodes a step, accepting tool_id in place of tool.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	var alias stepAlias
	if err := node.Decode(&alias); err != nil {
		return err
	}
	*s = alias.step()
	return nil
}

// Skipped reports whether the step is a no-op placeholder.
func (s Step) Skipped() bool {
	return strings.TrimSpace(s.Tool) == NoToolRequired
}

// Definition is a named, ordered list of steps.
type Definition struct {
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step    `json:"steps" yaml:"steps"`
	CreatedAt   time.Time `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// Validate checks that the definition can be stored and run.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("workflow: name is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow: %q has no steps", d.Name)
	}
	return validateSteps(d.Steps)
}

func validateSteps(steps []Step) error {
	var problems []error
	for i, step := range steps {
		if strings.TrimSpace(step.Tool) == "" {
			problems = append(problems, fmt.Errorf("step %d: tool is required", i+1))
			continue
		}
		if !step.Skipped() && strings.TrimSpace(step.Action) == "" {
			problems = append(problems, fmt.Errorf("step %d (%s): action is required", i+1, step.Tool))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("workflow: invalid steps: %w", errors.Join(problems...))
	}
	return nil
}

func (d Definition) clone() Definition {
	out := d
	out.Steps = make([]Step, len(d.Steps))
	for i, step := range d.Steps {
		out.Steps[i] = Step{Tool: step.Tool, Action: step.Action, Params: deepCopyMap(step.Params)}
	}
	return out
}
