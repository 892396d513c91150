// Package dispatch validates and routes a single tool call.
//
// A call resolves the tool through the registry, introspects its action schema,
// checks the action and parameter names against it, and only then spawns the
// tool process. Every outcome comes back as one Result; failures carry a
// structured *Error with a Code that callers match on.
package dispatch
