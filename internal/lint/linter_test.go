package lint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/frontbuild/internal/diag"
)

const source = `import React from "react";
import { useState } from 'react';
// debugger in a comment is fine
const label = "debugger; console.log(x)";
export function App() {
  debugger;
  console.log(label);
  console.error("kept");
  return null;
}
`

func rules(issues []Issue) []string {
	out := make([]string, len(issues))
	for i, issue := range issues {
		out[i] = issue.Rule
	}
	return out
}

func TestLintSourceFindsRealCodeOnly(t *testing.T) {
	l := NewLinter(nil)
	issues := l.LintSource("src/App.tsx", []byte(source))

	assert.Equal(t, []string{"no-debugger", "no-console", "no-duplicate-imports"}, rules(issues))
	assert.Equal(t, 6, issues[0].Line)
	assert.Equal(t, 3, issues[0].Column)
	assert.Equal(t, SeverityError, issues[0].Severity)
	assert.Equal(t, 7, issues[1].Line)
	assert.Equal(t, 2, issues[2].Line)
	assert.Contains(t, issues[2].Message, "'react'")
}

func TestConflictMarkers(t *testing.T) {
	src := "const a = 1;\n<<<<<<< HEAD\nconst b = 2;\n=======\nconst b = 3;\n>>>>>>> feature\n"
	issues := NewLinter(nil).LintSource("src/a.ts", []byte(src))
	require.Len(t, issues, 3)
	for _, issue := range issues {
		assert.Equal(t, "no-conflict-marker", issue.Rule)
	}
	assert.Equal(t, 2, issues[0].Line)
}

func TestEmitFlagsFilterSeverities(t *testing.T) {
	l := NewLinter(&Config{EmitError: true})
	issues := l.LintSource("src/App.tsx", []byte(source))
	assert.Equal(t, []string{"no-debugger"}, rules(issues))
}

func TestDiagnosticsHonorFailOnError(t *testing.T) {
	issues := []Issue{{FilePath: "/app/src/a.ts", Severity: SeverityError, Rule: "no-debugger", Message: "Unexpected 'debugger' statement", Line: 3, Column: 1}}
	rel := func(p string) string { return strings.TrimPrefix(p, "/app/") }

	lenient := NewLinter(&Config{EmitError: true}).Diagnostics(issues, rel)
	require.Len(t, lenient, 1)
	assert.Equal(t, diag.SeverityWarning, lenient[0].Severity)

	strict := NewLinter(&Config{EmitError: true, FailOnError: true}).Diagnostics(issues, rel)
	assert.Equal(t, diag.SeverityError, strict[0].Severity)
	assert.Equal(t, "src/a.ts", strict[0].File)
	assert.Equal(t, Origin, strict[0].Origin)
}

func TestLintFilesRespectsExtensionsAndExclude(t *testing.T) {
	l := NewLinter(&Config{
		EmitError:   true,
		EmitWarning: true,
		Exclude:     func(p string) bool { return strings.Contains(p, "node_modules") },
	})
	res := l.LintFiles(map[string][]byte{
		"src/a.ts":                []byte("debugger;"),
		"src/a.css":               []byte("debugger;"),
		"node_modules/x/index.js": []byte("debugger;"),
	})
	assert.Equal(t, 1, res.FilesTotal)
	assert.Equal(t, 1, res.ErrorCount())
	assert.True(t, res.HasErrors())
	assert.Zero(t, res.WarningCount())
}
