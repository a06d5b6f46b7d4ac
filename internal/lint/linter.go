// Package lint checks script sources while they are compiled. Rules run on
// a masked copy of each file in which comments and string literals are
// blanked, so patterns only match real code.
package lint

import (
	"strings"

	"git.home.luguber.info/inful/frontbuild/internal/diag"
)

// Origin tags diagnostics reported by the linter.
const Origin = "lint"

// Linter performs linting operations on script files.
type Linter struct {
	cfg   *Config
	rules []Rule
}

// NewLinter creates a new linter with the given configuration.
func NewLinter(cfg *Config) *Linter {
	if cfg == nil {
		cfg = &Config{EmitWarning: true, EmitError: true}
	}

	return &Linter{
		cfg: cfg,
		rules: []Rule{
			&DebuggerRule{},
			&ConflictMarkerRule{},
			&ConsoleRule{},
			&DuplicateImportRule{},
		},
	}
}

// AppliesTo reports whether the linter inspects path.
func (l *Linter) AppliesTo(path string) bool {
	return l.cfg.AppliesTo(path)
}

// LintSource applies all rules to one file.
func (l *Linter) LintSource(path string, src []byte) []Issue {
	file := newSource(path, src)
	var issues []Issue
	for _, rule := range l.rules {
		for _, issue := range rule.Check(file) {
			switch issue.Severity {
			case SeverityWarning:
				if !l.cfg.EmitWarning {
					continue
				}
			case SeverityError:
				if !l.cfg.EmitError {
					continue
				}
			}
			issues = append(issues, issue)
		}
	}
	return issues
}

// LintFiles lints a set of in-memory sources keyed by path.
func (l *Linter) LintFiles(files map[string][]byte) *Result {
	result := &Result{Issues: []Issue{}}
	for path, src := range files {
		if !l.AppliesTo(path) {
			continue
		}
		result.FilesTotal++
		result.Issues = append(result.Issues, l.LintSource(path, src)...)
	}
	return result
}

// Diagnostics converts issues into compiler diagnostics. Without failOnError
// errors are reported as warnings so they never fail the build.
func (l *Linter) Diagnostics(issues []Issue, rel func(string) string) diag.List {
	out := make(diag.List, 0, len(issues))
	for _, issue := range issues {
		sev := diag.SeverityWarning
		if issue.Severity == SeverityError && l.cfg.FailOnError {
			sev = diag.SeverityError
		}
		file := issue.FilePath
		if rel != nil {
			file = rel(file)
		}
		out = append(out, diag.Diagnostic{
			Severity: sev,
			Message:  issue.Message + " (" + issue.Rule + ")",
			File:     file,
			Line:     issue.Line,
			Column:   issue.Column,
			Origin:   Origin,
		})
	}
	return out
}

// Source is a file prepared for rule checks.
type Source struct {
	Path string
	// Raw is the original text; Masked has comments and strings replaced by spaces.
	Raw    string
	Masked string
	lines  []int
}

func newSource(path string, src []byte) *Source {
	s := &Source{Path: path, Raw: string(src), Masked: mask(string(src))}
	s.lines = append(s.lines, 0)
	for i := 0; i < len(s.Raw); i++ {
		if s.Raw[i] == '\n' {
			s.lines = append(s.lines, i+1)
		}
	}
	return s
}

// Position converts a byte offset to a 1-based line and column.
func (s *Source) Position(offset int) (int, int) {
	line := 0
	for line+1 < len(s.lines) && s.lines[line+1] <= offset {
		line++
	}
	return line + 1, offset - s.lines[line] + 1
}

// mask blanks comments and quoted strings while keeping offsets and newlines.
// Template literal substitutions are blanked with the literal.
func mask(src string) string {
	b := []byte(src)
	blank := func(from, to int) {
		for k := from; k < to && k < len(b); k++ {
			if b[k] != '\n' {
				b[k] = ' '
			}
		}
	}
	for i := 0; i < len(src); i++ {
		switch {
		case strings.HasPrefix(src[i:], "//"):
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				end = len(src) - i
			}
			blank(i, i+end)
			i += end - 1
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			stop := len(src)
			if end >= 0 {
				stop = i + 2 + end + 2
			}
			blank(i, stop)
			i = stop - 1
		case src[i] == '"' || src[i] == '\'' || src[i] == '`':
			quote := src[i]
			j := i + 1
			for j < len(src) && src[j] != quote {
				if src[j] == '\\' {
					j++
				} else if src[j] == '\n' && quote != '`' {
					break
				}
				j++
			}
			// Keep the quotes so string positions stay recognizable.
			blank(i+1, j)
			i = j
		}
	}
	return string(b)
}
