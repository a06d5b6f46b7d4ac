// Package diag holds compiler diagnostics shared by the transform pipeline,
// the compiler and the orchestrators.
package diag

import (
	"fmt"
	"slices"
	"strings"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one compiler message with an optional source location.
type Diagnostic struct {
	Severity Severity `json:"severity" cbor:"1,keyasint"`
	Message  string   `json:"message" cbor:"2,keyasint"`
	File     string   `json:"file,omitempty" cbor:"3,keyasint,omitempty"`
	Line     int      `json:"line,omitempty" cbor:"4,keyasint,omitempty"`
	Column   int      `json:"column,omitempty" cbor:"5,keyasint,omitempty"`
	// Origin names the processor, plugin or phase that reported the message.
	Origin string `json:"origin,omitempty" cbor:"6,keyasint,omitempty"`
}

func Errorf(origin, file, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityError, Origin: origin, File: file, Message: fmt.Sprintf(format, args...)}
}

func Warnf(origin, file, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityWarning, Origin: origin, File: file, Message: fmt.Sprintf(format, args...)}
}

// Location renders file:line:column, omitting unknown parts.
func (d Diagnostic) Location() string {
	if d.File == "" {
		return ""
	}
	switch {
	case d.Line > 0 && d.Column > 0:
		return fmt.Sprintf("%s:%d:%d", d.File, d.Line, d.Column)
	case d.Line > 0:
		return fmt.Sprintf("%s:%d", d.File, d.Line)
	default:
		return d.File
	}
}

func (d Diagnostic) String() string {
	var b strings.Builder
	if loc := d.Location(); loc != "" {
		b.WriteString(loc)
		b.WriteString(": ")
	}
	b.WriteString(d.Message)
	if d.Origin != "" {
		b.WriteString(" [")
		b.WriteString(d.Origin)
		b.WriteString("]")
	}
	return b.String()
}

// List is an ordered collection of diagnostics.
type List []Diagnostic

func (l List) Errors() List   { return l.filter(SeverityError) }
func (l List) Warnings() List { return l.filter(SeverityWarning) }

func (l List) HasErrors() bool {
	return slices.ContainsFunc(l, func(d Diagnostic) bool { return d.Severity == SeverityError })
}

func (l List) filter(s Severity) List {
	var out List
	for _, d := range l {
		if d.Severity == s {
			out = append(out, d)
		}
	}
	return out
}

// Sorted returns a deterministic copy: errors before warnings, then by
// location and message. Exact duplicates are dropped.
func (l List) Sorted() List {
	out := slices.Clone(l)
	slices.SortStableFunc(out, func(a, b Diagnostic) int {
		if a.Severity != b.Severity {
			if a.Severity == SeverityError {
				return -1
			}
			return 1
		}
		if c := strings.Compare(a.File, b.File); c != 0 {
			return c
		}
		if a.Line != b.Line {
			return a.Line - b.Line
		}
		if a.Column != b.Column {
			return a.Column - b.Column
		}
		return strings.Compare(a.Message, b.Message)
	})
	return slices.Compact(out)
}
