package compiler

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/evanw/esbuild/pkg/api"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/diag"
	"git.home.luguber.info/inful/frontbuild/internal/naming"
)

// EmitAsset adds a to the output. Emitting different content under a name
// that is already taken is reported as an error; identical content is merged.
func (comp *Compilation) EmitAsset(a *Asset) {
	existing, ok := comp.assets[a.Name]
	if !ok {
		comp.assets[a.Name] = a
		return
	}
	if !bytes.Equal(existing.Content, a.Content) {
		comp.Report(diag.Errorf("emit", "", "Conflict: multiple assets emit different content to the same filename %s", a.Name))
		return
	}
	for _, ch := range a.Chunks {
		if !slices.Contains(existing.Chunks, ch) {
			existing.Chunks = append(existing.Chunks, ch)
		}
	}
	existing.Initial = existing.Initial || a.Initial
}

// Assets returns the emitted files sorted by name.
func (comp *Compilation) Assets() []*Asset {
	out := make([]*Asset, 0, len(comp.assets))
	for _, a := range comp.assets {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b *Asset) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Entrypoints returns, per entry, the emitted files in load order.
func (comp *Compilation) Entrypoints() map[string][]string { return comp.entrypoints }

// EntryNames returns the names of entries that were resolved.
func (comp *Compilation) EntryNames() []string {
	out := make([]string, len(comp.entries))
	for i, e := range comp.entries {
		out[i] = e.Name
	}
	return out
}

func minifyScript(code []byte, file string, m config.Minimizer, sourceMap bool) ([]byte, []byte, diag.List) {
	opts := api.TransformOptions{
		Loader:            api.LoaderJS,
		Target:            api.ES2017,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		Charset:           api.CharsetUTF8,
		LegalComments:     api.LegalCommentsNone,
		Sourcefile:        file,
		LogLevel:          api.LogLevelSilent,
	}
	if m.Comments {
		opts.LegalComments = api.LegalCommentsInline
	}
	if m.DropConsole {
		opts.Drop |= api.DropConsole
	}
	if m.DropDebugger {
		opts.Drop |= api.DropDebugger
	}
	if sourceMap {
		opts.Sourcemap = api.SourceMapExternal
		opts.SourcesContent = api.SourcesContentInclude
	}
	result := api.Transform(string(code), opts)
	if len(result.Errors) > 0 {
		return nil, nil, minifyDiagnostics(file, result.Errors)
	}
	return result.Code, result.Map, nil
}

func minifyStyle(code []byte, file string, m config.Minimizer, sourceMap bool) ([]byte, []byte, diag.List) {
	opts := api.TransformOptions{
		Loader:           api.LoaderCSS,
		MinifyWhitespace: true,
		MinifySyntax:     true,
		LegalComments:    api.LegalCommentsNone,
		Sourcefile:       file,
		LogLevel:         api.LogLevelSilent,
	}
	if m.Comments {
		opts.LegalComments = api.LegalCommentsInline
	}
	if sourceMap {
		opts.Sourcemap = api.SourceMapExternal
	}
	result := api.Transform(string(code), opts)
	if len(result.Errors) > 0 {
		return nil, nil, minifyDiagnostics(file, result.Errors)
	}
	return result.Code, result.Map, nil
}

func minifyDiagnostics(file string, msgs []api.Message) diag.List {
	out := make(diag.List, 0, len(msgs))
	for _, msg := range msgs {
		d := diag.Errorf("minify", file, "%s", msg.Text)
		if msg.Location != nil {
			d.Line = msg.Location.Line
			d.Column = msg.Location.Column + 1
		}
		out = append(out, d)
	}
	return out
}

// minifyInline minifies HTML-embedded code with the same engine.
func minifyInline(lang, src string) (string, error) {
	opts := api.TransformOptions{
		Loader:           api.LoaderJS,
		MinifyWhitespace: true,
		MinifySyntax:     true,
		LogLevel:         api.LogLevelSilent,
	}
	if lang == "css" {
		opts.Loader = api.LoaderCSS
	}
	result := api.Transform(src, opts)
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("%s", result.Errors[0].Text)
	}
	return string(bytes.TrimRight(result.Code, "\n")), nil
}

// performanceHints reports assets and entrypoints over the configured budgets.
func (comp *Compilation) performanceHints() {
	perf := comp.cfg.Performance
	if perf.Hints == "" {
		return
	}
	report := func(format string, args ...any) {
		d := diag.Warnf("performance", "", format, args...)
		if perf.Hints == "error" {
			d.Severity = diag.SeverityError
		}
		comp.Report(d)
	}

	if perf.MaxAssetSize > 0 {
		for _, a := range comp.Assets() {
			if (a.Kind == AssetScript || a.Kind == AssetStyle) && a.Size() > perf.MaxAssetSize {
				report("asset size limit: %s (%s) exceeds the recommended limit (%s)",
					a.Name, humanize.IBytes(uint64(a.Size())), humanize.IBytes(uint64(perf.MaxAssetSize)))
			}
		}
	}
	if perf.MaxEntrypointSize > 0 {
		for _, name := range comp.EntryNames() {
			var total int64
			for _, f := range comp.entrypoints[name] {
				total += comp.assets[f].Size()
			}
			if total > perf.MaxEntrypointSize {
				report("entrypoint size limit: %s (%s) exceeds the recommended limit (%s)",
					name, humanize.IBytes(uint64(total)), humanize.IBytes(uint64(perf.MaxEntrypointSize)))
			}
		}
	}
}

// stats assembles the run summary and the hot update.
func (comp *Compilation) stats() *Stats {
	s := &Stats{
		BuildID:     comp.buildID,
		Mode:        comp.cfg.Mode,
		Assets:      comp.Assets(),
		Entrypoints: comp.entrypoints,
		Diagnostics: comp.diagnostics.Sorted(),
	}

	var digest bytes.Buffer
	for _, a := range s.Assets {
		digest.WriteString(a.Name)
		digest.WriteByte(0)
		digest.Write(a.Content)
	}
	s.Hash = naming.Hash(digest.Bytes(), naming.DefaultHashLength)

	if comp.plan != nil {
		for _, ch := range comp.plan.Chunks {
			cs := ChunkStats{
				Name:    ch.Name,
				Kind:    string(ch.Kind),
				Files:   comp.chunkFiles[ch.Name],
				Modules: ch.Modules,
				Size:    ch.Size,
				Entries: ch.Entries,
			}
			s.Chunks = append(s.Chunks, cs)
		}
	}
	chunksOf := make(map[string][]string)
	for _, cs := range s.Chunks {
		for _, id := range cs.Modules {
			chunksOf[id] = append(chunksOf[id], cs.Name)
		}
	}
	for _, path := range comp.order {
		rec := comp.records[path]
		s.Modules = append(s.Modules, ModuleStats{ID: rec.id, Path: comp.rel(path), Size: rec.mod.Size, Chunks: chunksOf[rec.id]})
	}
	slices.SortFunc(s.Modules, func(a, b ModuleStats) int { return cmp.Compare(a.Path, b.Path) })

	if comp.c.hot && comp.plan != nil && !s.HasErrors() {
		s.Hot = comp.hotUpdate(s.Hash)
	}
	return s
}
