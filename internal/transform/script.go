package transform

import (
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/diag"
)

// script transpiles TypeScript, JSX and modern JavaScript to CommonJS.
func (p *Pipeline) script(m *Module, u *unit, _ map[string]any) bool {
	if u.lang != langScript {
		return p.wrongInput(m, u, config.ProcScript, langScript)
	}

	opts := api.TransformOptions{
		Loader:     loaderFor(u.path),
		Format:     api.FormatCommonJS,
		Target:     api.ES2017,
		Sourcefile: p.rel(u.path),
		Define:     p.defines,
		Charset:    api.CharsetUTF8,
		LogLevel:   api.LogLevelSilent,
	}
	if p.tsconfig.Raw != "" {
		opts.TsconfigRaw = p.tsconfig.Raw
	}
	if opts.Loader == api.LoaderJSX || opts.Loader == api.LoaderTSX {
		opts.JSX = api.JSXAutomatic
		if p.tsconfig.JSX == "react" {
			opts.JSX = api.JSXTransform
		}
		opts.JSXImportSource = p.tsconfig.JSXImportSource
		opts.JSXDev = p.cfg.Mode == config.ModeDevelopment && opts.JSX == api.JSXAutomatic
	}
	if p.cfg.Devtool == config.DevtoolEvalSourceMap && !strings.Contains(filepath.ToSlash(u.path), "/node_modules/") {
		opts.Sourcemap = api.SourceMapInline
		opts.SourcesContent = api.SourcesContentInclude
	}

	result := api.Transform(string(u.text), opts)
	m.Diagnostics = append(m.Diagnostics, fromMessages(diag.SeverityWarning, config.ProcScript, result.Warnings)...)
	if len(result.Errors) > 0 {
		m.Diagnostics = append(m.Diagnostics, fromMessages(diag.SeverityError, config.ProcScript, result.Errors)...)
		return false
	}
	u.text = result.Code
	u.lang = langJS
	return true
}

func loaderFor(path string) api.Loader {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	default:
		return api.LoaderJS
	}
}

func fromMessages(sev diag.Severity, origin string, msgs []api.Message) diag.List {
	out := make(diag.List, 0, len(msgs))
	for _, msg := range msgs {
		d := diag.Diagnostic{Severity: sev, Origin: origin, Message: msg.Text}
		if loc := msg.Location; loc != nil {
			d.File = loc.File
			d.Line = loc.Line
			d.Column = loc.Column + 1
		}
		out = append(out, d)
	}
	return out
}
