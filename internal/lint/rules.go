package lint

import (
	"regexp"
	"strings"
)

var (
	debuggerPattern = regexp.MustCompile(`\bdebugger\b`)
	consolePattern  = regexp.MustCompile(`\bconsole\.(log|info|debug|trace)\s*\(`)
	importPattern   = regexp.MustCompile(`(?m)^[ \t]*import\b(?:[^;'"]*?\bfrom)?\s*(["'])`)
	markerPattern   = regexp.MustCompile(`(?m)^(<{7} |={7}$|>{7} )`)
)

// DebuggerRule reports debugger statements.
type DebuggerRule struct{}

func (r *DebuggerRule) Name() string { return "no-debugger" }

func (r *DebuggerRule) Check(file *Source) []Issue {
	return matchAll(file, file.Masked, debuggerPattern, r.Name(), SeverityError, "Unexpected 'debugger' statement")
}

// ConflictMarkerRule reports leftover merge conflict markers.
type ConflictMarkerRule struct{}

func (r *ConflictMarkerRule) Name() string { return "no-conflict-marker" }

func (r *ConflictMarkerRule) Check(file *Source) []Issue {
	return matchAll(file, file.Raw, markerPattern, r.Name(), SeverityError, "Merge conflict marker")
}

// ConsoleRule warns about console logging left in sources.
type ConsoleRule struct{}

func (r *ConsoleRule) Name() string { return "no-console" }

func (r *ConsoleRule) Check(file *Source) []Issue {
	return matchAll(file, file.Masked, consolePattern, r.Name(), SeverityWarning, "Unexpected console statement")
}

// DuplicateImportRule warns when one module is imported by several statements.
type DuplicateImportRule struct{}

func (r *DuplicateImportRule) Name() string { return "no-duplicate-imports" }

func (r *DuplicateImportRule) Check(file *Source) []Issue {
	seen := make(map[string]bool)
	var issues []Issue
	for _, loc := range importPattern.FindAllStringSubmatchIndex(file.Masked, -1) {
		open := loc[2]
		quote := file.Raw[open]
		end := strings.IndexByte(file.Raw[open+1:], quote)
		if end < 0 {
			continue
		}
		specifier := file.Raw[open+1 : open+1+end]
		if seen[specifier] {
			line, col := file.Position(loc[0] + leadingSpace(file.Masked[loc[0]:]))
			issues = append(issues, Issue{
				FilePath: file.Path,
				Severity: SeverityWarning,
				Rule:     r.Name(),
				Message:  "'" + specifier + "' import is duplicated",
				Line:     line,
				Column:   col,
			})
		}
		seen[specifier] = true
	}
	return issues
}

func matchAll(file *Source, text string, re *regexp.Regexp, rule string, sev Severity, msg string) []Issue {
	var issues []Issue
	for _, loc := range re.FindAllStringIndex(text, -1) {
		line, col := file.Position(loc[0])
		issues = append(issues, Issue{
			FilePath: file.Path,
			Severity: sev,
			Rule:     rule,
			Message:  msg,
			Line:     line,
			Column:   col,
		})
	}
	return issues
}

func leadingSpace(s string) int {
	return len(s) - len(strings.TrimLeft(s, " \t"))
}
