// Package tool owns the boundary between the orchestrator and external tool
// executables.
//
// The package is split by concern:
//   - registry: tool id -> executable entries and the Store backends behind them
//   - runner: one bounded process invocation per call
//   - schema: action introspection through the get_supported_actions entry point
//   - install: catalog-driven install/uninstall of managed executables
//
// Nothing here validates or routes calls; that is the dispatch package's job.
package tool
