package lint

import (
	"path/filepath"
	"slices"
)

// Severity indicates the importance level of a linting issue.
type Severity int

const (
	// SeverityWarning indicates issues that should be fixed but don't block builds.
	SeverityWarning Severity = iota + 1
	// SeverityError indicates issues that fail the build when failOnError is set.
	SeverityError
)

// String returns the human-readable severity name.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Issue represents a single linting problem found in a file.
type Issue struct {
	FilePath string   // Path as given to the linter
	Severity Severity // Issue severity level
	Rule     string   // Rule identifier (e.g., "no-debugger")
	Message  string
	Line     int // 1-based; 0 for file-level issues
	Column   int
}

// Result contains all issues found during linting.
type Result struct {
	Issues     []Issue
	FilesTotal int
}

// HasErrors returns true if any error-level issues exist.
func (r *Result) HasErrors() bool {
	return r.ErrorCount() > 0
}

// ErrorCount returns the number of error-level issues.
func (r *Result) ErrorCount() int {
	count := 0
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			count++
		}
	}
	return count
}

// WarningCount returns the number of warning-level issues.
func (r *Result) WarningCount() int {
	return len(r.Issues) - r.ErrorCount()
}

// Rule defines a linting rule applied to source text.
type Rule interface {
	// Name returns the unique identifier for this rule.
	Name() string

	// Check inspects a file's masked source and returns any issues found.
	Check(file *Source) []Issue
}

// Config contains configuration for the linter.
type Config struct {
	// Extensions limits linting to files with these extensions.
	Extensions []string

	// EmitWarning and EmitError select which severities are reported.
	EmitWarning bool
	EmitError   bool

	// FailOnError reports errors as errors; otherwise they are downgraded to warnings.
	FailOnError bool

	// Exclude skips paths matching this predicate (node_modules by default).
	Exclude func(path string) bool
}

// DefaultExtensions are the script sources the build lints.
var DefaultExtensions = []string{".js", ".jsx", ".ts", ".tsx"}

// AppliesTo reports whether path is linted under cfg.
func (c *Config) AppliesTo(path string) bool {
	if c.Exclude != nil && c.Exclude(path) {
		return false
	}
	exts := c.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	return slices.Contains(exts, filepath.Ext(path))
}
