package compiler

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strings"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/diag"
	"git.home.luguber.info/inful/frontbuild/internal/naming"
	"git.home.luguber.info/inful/frontbuild/internal/splitchunks"
	"git.home.luguber.info/inful/frontbuild/internal/transform"
)

//go:embed assets/runtime.js
var runtimeSource string

// runtime returns the module registry bootstrap for this configuration.
func (c *Compiler) runtime() string {
	env, _ := json.Marshal(stringValues(c.processEnv))
	publicPath, _ := json.Marshal(c.cfg.Output.PublicPath)
	hot := "false"
	if c.hot {
		hot = "true"
	}
	return strings.NewReplacer(
		"__FB_HOT__", hot,
		"__FB_ENV__", string(env),
		"__FB_PUBLIC_PATH__", string(publicPath),
	).Replace(runtimeSource)
}

func stringValues(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// moduleCode links a module's requires to module IDs and fills asset URLs.
func (comp *Compilation) moduleCode(rec *record) []byte {
	code := transform.RewriteRequires(rec.mod.Code, func(request string) string {
		if rec.ignored[request] {
			return ignoredPrefix + request
		}
		if dep, ok := rec.deps[request]; ok {
			return comp.records[dep].id
		}
		return ""
	})
	return comp.substituteURLs(rec, code)
}

// substituteURLs replaces url() placeholders with the public URL of the asset.
func (comp *Compilation) substituteURLs(rec *record, text []byte) []byte {
	for _, ref := range rec.mod.URLRefs {
		url := ""
		if dep, ok := rec.deps[ref.Request]; ok {
			url = comp.records[dep].mod.PublicURL(comp.cfg.Output.PublicPath)
		}
		if url == "" {
			url = ref.Request
		}
		text = bytes.ReplaceAll(text, []byte(ref.Placeholder), []byte(url))
	}
	return text
}

// factory wraps module code in its registry function.
func (comp *Compilation) factory(rec *record) string {
	code := comp.moduleCode(rec)
	var b strings.Builder
	b.WriteString("function(module, exports, require) {\n")
	if comp.evalDevtool() {
		src := string(code) + "\n//# sourceURL=frontbuild:///" + comp.rel(rec.path) + "\n"
		lit, _ := json.Marshal(src)
		b.WriteString("eval(")
		b.Write(lit)
		b.WriteString(");")
	} else {
		b.Write(code)
	}
	b.WriteString("\n}")
	return b.String()
}

func (comp *Compilation) evalDevtool() bool {
	return strings.HasPrefix(string(comp.cfg.Devtool), "eval")
}

// chunkSource renders the script of one chunk.
func (comp *Compilation) chunkSource(ch *splitchunks.Chunk, byID map[string]*record) []byte {
	var b bytes.Buffer
	if ch.Kind == splitchunks.KindRuntime || ch.Runtime {
		b.WriteString(comp.c.runtime())
		b.WriteByte('\n')
	}

	name, _ := json.Marshal(ch.Name)
	b.WriteString("(self.__fb_chunks__ = self.__fb_chunks__ || []).push([[")
	b.Write(name)
	b.WriteString("], {\n")
	for i, id := range ch.Modules {
		if i > 0 {
			b.WriteString(",\n")
		}
		key, _ := json.Marshal(id)
		b.Write(key)
		b.WriteString(": ")
		b.WriteString(comp.factory(byID[id]))
	}
	b.WriteString("\n}")
	if ch.Kind == splitchunks.KindEntry {
		root := ""
		for _, e := range comp.entries {
			if e.Name == ch.Entry {
				root = comp.records[e.Root].id
			}
		}
		load := comp.plan.Load[ch.Entry]
		deps, _ := json.Marshal(load[:len(load)-1])
		entry, _ := json.Marshal(root)
		b.WriteString(", ")
		b.Write(entry)
		b.WriteString(", ")
		b.Write(deps)
	}
	b.WriteString("]);\n")
	return b.Bytes()
}

// chunkStyles concatenates extracted CSS of a chunk's modules in module order.
func (comp *Compilation) chunkStyles(ch *splitchunks.Chunk, byID map[string]*record) []byte {
	var b bytes.Buffer
	for _, id := range ch.Modules {
		rec := byID[id]
		if len(rec.mod.CSS) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.Write(comp.substituteURLs(rec, rec.mod.CSS))
	}
	return b.Bytes()
}

type renderedChunk struct {
	chunk  *splitchunks.Chunk
	script []byte
	style  []byte
	// maps hold source maps produced by minification.
	scriptMap []byte
	styleMap  []byte
}

// renderChunks renders, minifies, names and emits every chunk.
func (comp *Compilation) renderChunks(ctx context.Context) error {
	byID := comp.byID()
	rendered := make([]*renderedChunk, len(comp.plan.Chunks))
	for i, ch := range comp.plan.Chunks {
		comp.phase("rendering chunks", i, len(comp.plan.Chunks))
		rendered[i] = &renderedChunk{
			chunk:  ch,
			script: comp.chunkSource(ch, byID),
			style:  comp.chunkStyles(ch, byID),
		}
	}

	if comp.cfg.Optimization.Minimize {
		if err := comp.minifyChunks(ctx, rendered); err != nil {
			return err
		}
	}

	for _, r := range rendered {
		comp.emitChunk(r)
	}
	for _, e := range comp.entries {
		var files []string
		for _, name := range comp.plan.Load[e.Name] {
			files = append(files, comp.chunkFiles[name]...)
		}
		comp.entrypoints[e.Name] = files
	}
	return nil
}

func (comp *Compilation) minifyChunks(ctx context.Context, rendered []*renderedChunk) error {
	scriptMin, hasScript := comp.minimizer("script")
	styleMin, hasStyle := comp.minimizer("style")
	maps := comp.cfg.Devtool == config.DevtoolHiddenSourceMap || comp.cfg.Devtool == config.DevtoolSourceMap

	g, gctx := errgroup.WithContext(ctx)
	limit := 1
	if scriptMin.Parallel || styleMin.Parallel {
		limit = comp.c.workers
	}
	g.SetLimit(limit)
	results := make([]diag.List, len(rendered))
	for i, r := range rendered {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if hasScript {
				code, sourceMap, ds := minifyScript(r.script, r.chunk.Name+".js", scriptMin, maps)
				results[i] = append(results[i], ds...)
				if !ds.HasErrors() {
					r.script, r.scriptMap = code, sourceMap
				}
			}
			if hasStyle && len(r.style) > 0 {
				code, sourceMap, ds := minifyStyle(r.style, r.chunk.Name+".css", styleMin, maps)
				results[i] = append(results[i], ds...)
				if !ds.HasErrors() {
					r.style, r.styleMap = code, sourceMap
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, ds := range results {
		comp.Report(ds...)
	}
	return nil
}

func (comp *Compilation) minimizer(name string) (config.Minimizer, bool) {
	for _, m := range comp.cfg.Optimization.Minimizers {
		if m.Name == name {
			return m, true
		}
	}
	return config.Minimizer{}, false
}

// chunkID returns the [id] value of a chunk.
func (comp *Compilation) chunkID(name string) string {
	if comp.cfg.Optimization.ModuleIDs == "deterministic" {
		return naming.Hash([]byte(name), 8)
	}
	return name
}

func (comp *Compilation) emitChunk(r *renderedChunk) {
	ch := r.chunk
	template := comp.cfg.Output.Filename
	if ch.Kind == splitchunks.KindShared {
		template = comp.cfg.Output.ChunkFilename
	}

	scriptName := naming.Render(template, naming.Vars{Name: ch.Name, ID: comp.chunkID(ch.Name), Content: r.script})
	script := r.script
	if r.scriptMap != nil {
		script = comp.attachMap(script, scriptName, r.scriptMap, "//# sourceMappingURL=%s\n")
	}
	comp.EmitAsset(&Asset{Name: scriptName, Content: script, Kind: AssetScript, Chunks: []string{ch.Name}, Initial: true})
	comp.chunkFiles[ch.Name] = append(comp.chunkFiles[ch.Name], scriptName)

	if len(r.style) == 0 {
		return
	}
	styleName := naming.Render(comp.cfg.Output.StyleFilename, naming.Vars{Name: ch.Name, ID: comp.chunkID(ch.Name), Content: r.style})
	style := r.style
	if r.styleMap != nil {
		style = comp.attachMap(style, styleName, r.styleMap, "/*# sourceMappingURL=%s */\n")
	}
	comp.EmitAsset(&Asset{Name: styleName, Content: style, Kind: AssetStyle, Chunks: []string{ch.Name}, Initial: true})
	comp.chunkFiles[ch.Name] = append(comp.chunkFiles[ch.Name], styleName)
}

// attachMap emits name.map and, for visible source maps, links it from content.
func (comp *Compilation) attachMap(content []byte, name string, sourceMap []byte, comment string) []byte {
	mapName := name + ".map"
	comp.EmitAsset(&Asset{Name: mapName, Content: sourceMap, Kind: AssetSourceMap})
	if comp.cfg.Devtool != config.DevtoolSourceMap {
		return content
	}
	base := mapName[strings.LastIndex(mapName, "/")+1:]
	return append(append([]byte{}, content...), []byte(strings.Replace(comment, "%s", base, 1))...)
}

// emitModuleAssets emits files produced by asset modules.
func (comp *Compilation) emitModuleAssets() {
	for _, path := range comp.order {
		rec := comp.records[path]
		if rec.mod.Emit == nil {
			continue
		}
		comp.EmitAsset(&Asset{
			Name:    rec.mod.Emit.Name,
			Content: rec.mod.Emit.Content,
			Kind:    kindOf(rec.mod.Emit.Name),
			Chunks:  []string{comp.plan.Home[rec.id]},
		})
	}
}
