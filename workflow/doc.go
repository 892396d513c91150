// Package workflow stores named sequences of tool calls and runs them.
//
// A run threads one value through its steps: the caller's input becomes
// previous_output, each step's params may reference it through the {input} or
// {previous_output} tokens, and a successful step's payload replaces it. The
// first failing step aborts the run.
package workflow
