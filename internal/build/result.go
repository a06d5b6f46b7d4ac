package build

import (
	"time"

	"git.home.luguber.info/inful/frontbuild/internal/diag"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

// Status represents the outcome of a build.
type Status string

const (
	StatusSuccess             Status = "success"
	StatusSuccessWithWarnings Status = "success-with-warnings"
	StatusFailed              Status = "failed"
)

// IsSuccess reports whether the build produced usable output.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess || s == StatusSuccessWithWarnings
}

// AssetInfo describes one written file.
type AssetInfo struct {
	// Path is relative to the output directory.
	Path string
	Size int64
	// Gzip is the compressed size of scripts and styles; zero otherwise.
	Gzip int64
	Kind string
}

// Result is the outcome of one Orchestrator run. It is not modified after Run returns.
type Result struct {
	Status      Status
	Diagnostics diag.List
	Assets      []AssetInfo
	OutputDir   string
	Hash        string
	Duration    time.Duration
	// Err is the fatal configuration or resource error, if any.
	Err error
}

// ExitCode maps the status to the process exit code.
func (r *Result) ExitCode() int {
	if r.Status.IsSuccess() {
		return 0
	}
	return 1
}

// Failure describes a build that failed on its diagnostics. It is nil for
// successful builds and for builds aborted by Err.
func (r *Result) Failure() error {
	if r.Status.IsSuccess() || r.Err != nil {
		return nil
	}
	b := ferrors.CompileError("failed to compile").
		WithContext("errors", len(r.Diagnostics.Errors())).
		WithContext("warnings", len(r.Diagnostics.Warnings()))
	if !r.Diagnostics.HasErrors() {
		b.WithContext("strict", true)
	}
	return b.Build()
}

// classify derives the status from diagnostics and the strict flag.
func classify(ds diag.List, strict bool) Status {
	switch {
	case ds.HasErrors():
		return StatusFailed
	case len(ds.Warnings()) > 0 && strict:
		return StatusFailed
	case len(ds.Warnings()) > 0:
		return StatusSuccessWithWarnings
	default:
		return StatusSuccess
	}
}
