// Package build runs one-shot production builds.
//
// The Orchestrator drives a single blocking compile for a ResolvedConfig,
// classifies the outcome, writes the emitted files and prints the asset
// table. The process exit code is a pure function of the resulting Status.
package build
