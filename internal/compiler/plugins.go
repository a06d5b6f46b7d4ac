package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/diag"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/htmldoc"
	"git.home.luguber.info/inful/frontbuild/internal/lint"
	"git.home.luguber.info/inful/frontbuild/internal/report"
	"git.home.luguber.info/inful/frontbuild/internal/transform"
	"git.home.luguber.info/inful/frontbuild/internal/version"
)

// plugin is a resolved build hook. A plugin takes part in a phase by
// implementing the matching hook interface.
type plugin interface {
	name() string
}

type moduleHook interface {
	afterModule(comp *Compilation, path string, m *transform.Module) diag.List
}

type resolveHook interface {
	ignore(request, dir string) bool
}

type emitHook interface {
	emit(ctx context.Context, comp *Compilation) error
}

type progressHook interface {
	phase(name string, done, total int)
}

type doneHook interface {
	done(stats *Stats)
}

type pluginFactory func(c *Compiler, opts pluginOptions) (plugin, error)

var registry = map[string]pluginFactory{
	config.PluginDefine:      func(*Compiler, pluginOptions) (plugin, error) { return namedPlugin(config.PluginDefine), nil },
	config.PluginHMR:         func(*Compiler, pluginOptions) (plugin, error) { return namedPlugin(config.PluginHMR), nil },
	config.PluginHTML:        newHTMLPlugin,
	config.PluginLint:        newLintPlugin,
	config.PluginProgress:    newProgressPlugin,
	config.PluginIgnore:      newIgnorePlugin,
	config.PluginCompression: newCompressionPlugin,
	config.PluginAnalyzer:    newAnalyzerPlugin,
}

// resolvePlugins instantiates the configured plugins in declaration order.
func resolvePlugins(c *Compiler, descriptors []config.Plugin) ([]plugin, error) {
	out := make([]plugin, 0, len(descriptors))
	for _, d := range descriptors {
		factory, ok := registry[d.Name]
		if !ok {
			return nil, ferrors.ConfigError(fmt.Sprintf("unknown plugin %q", d.Name)).
				WithContext("plugin", d.Name).
				Build()
		}
		p, err := factory(c, pluginOptions(d.Options))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// namedPlugin is a plugin whose effect is applied when the compiler is built.
type namedPlugin string

func (p namedPlugin) name() string { return string(p) }

// pluginOptions reads typed plugin options; YAML and JSON decoders produce
// different numeric types for the same literal.
type pluginOptions map[string]any

func (o pluginOptions) str(key, fallback string) string {
	if s, ok := o[key].(string); ok {
		return s
	}
	return fallback
}

func (o pluginOptions) flag(key string, fallback bool) bool {
	if b, ok := o[key].(bool); ok {
		return b
	}
	return fallback
}

func (o pluginOptions) num(key string, fallback float64) float64 {
	switch v := o[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case float64:
		return v
	case float32:
		return float64(v)
	}
	return fallback
}

func (o pluginOptions) size(key string, fallback int64) int64 {
	return int64(o.num(key, float64(fallback)))
}

func (o pluginOptions) list(key string) []string {
	switch v := o[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (o pluginOptions) pattern(owner, key string) (*regexp.Regexp, error) {
	expr := o.str(key, "")
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid plugin pattern").
			WithContext("plugin", owner).
			WithContext("option", key).
			Build()
	}
	return re, nil
}

// htmlPlugin renders the entry document around the emitted files.
type htmlPlugin struct {
	template string
	favicon  string
	filename string
	inject   bool
	minify   bool
}

func newHTMLPlugin(_ *Compiler, o pluginOptions) (plugin, error) {
	_, minify := o["minify"]
	return &htmlPlugin{
		template: o.str("template", ""),
		favicon:  o.str("favicon", ""),
		filename: o.str("filename", "index.html"),
		inject:   o.flag("inject", true),
		minify:   minify,
	}, nil
}

func (p *htmlPlugin) name() string { return config.PluginHTML }

func (p *htmlPlugin) emit(_ context.Context, comp *Compilation) error {
	if p.template == "" {
		return ferrors.ConfigError("html plugin requires a template").
			WithContext("plugin", config.PluginHTML).
			Build()
	}
	var scripts, styles []string
	for _, entry := range comp.EntryNames() {
		for _, f := range comp.entrypoints[entry] {
			switch kindOf(f) {
			case AssetScript:
				if !slices.Contains(scripts, f) {
					scripts = append(scripts, f)
				}
			case AssetStyle:
				if !slices.Contains(styles, f) {
					styles = append(styles, f)
				}
			}
		}
	}

	opts := htmldoc.Options{
		Template:   p.template,
		Favicon:    p.favicon,
		PublicPath: comp.cfg.Output.PublicPath,
		Scripts:    scripts,
		Styles:     styles,
		Inject:     p.inject,
		Minify:     p.minify,
	}
	if p.minify {
		opts.MinifyInline = minifyInline
	}
	doc, err := htmldoc.Render(opts)
	if err != nil {
		return err
	}
	comp.EmitAsset(&Asset{Name: p.filename, Content: doc.HTML, Kind: AssetHTML})
	if doc.Favicon != nil {
		comp.EmitAsset(&Asset{Name: doc.Favicon.Name, Content: doc.Favicon.Content, Kind: AssetImage})
	}
	return nil
}

var nodeModules = regexp.MustCompile(`[\\/]node_modules[\\/]`)

// lintPlugin checks project sources as they enter the graph.
type lintPlugin struct {
	linter *lint.Linter
}

func newLintPlugin(_ *Compiler, o pluginOptions) (plugin, error) {
	return &lintPlugin{linter: lint.NewLinter(&lint.Config{
		Extensions:  o.list("extensions"),
		EmitWarning: o.flag("emitWarning", true),
		EmitError:   o.flag("emitError", true),
		FailOnError: o.flag("failOnError", false),
		Exclude:     nodeModules.MatchString,
	})}, nil
}

func (p *lintPlugin) name() string { return config.PluginLint }

func (p *lintPlugin) afterModule(comp *Compilation, path string, _ *transform.Module) diag.List {
	if !p.linter.AppliesTo(path) {
		return nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return diag.List{diag.Warnf(lint.Origin, comp.rel(path), "lint skipped: %v", err)}
	}
	return p.linter.Diagnostics(p.linter.LintSource(path, src), comp.rel)
}

// ignorePlugin leaves matching requests out of the graph.
type ignorePlugin struct {
	resource *regexp.Regexp
	context  *regexp.Regexp
}

func newIgnorePlugin(_ *Compiler, o pluginOptions) (plugin, error) {
	resource, err := o.pattern(config.PluginIgnore, "resourceRegExp")
	if err != nil {
		return nil, err
	}
	if resource == nil {
		return nil, ferrors.ConfigError("ignore plugin requires resourceRegExp").
			WithContext("plugin", config.PluginIgnore).
			Build()
	}
	ctxRe, err := o.pattern(config.PluginIgnore, "contextRegExp")
	if err != nil {
		return nil, err
	}
	return &ignorePlugin{resource: resource, context: ctxRe}, nil
}

func (p *ignorePlugin) name() string { return config.PluginIgnore }

func (p *ignorePlugin) ignore(request, dir string) bool {
	if !p.resource.MatchString(request) {
		return false
	}
	return p.context == nil || p.context.MatchString(dir)
}

// compressionPlugin emits gzip siblings of compressible assets.
type compressionPlugin struct {
	test      *regexp.Regexp
	threshold int64
	minRatio  float64
}

func newCompressionPlugin(_ *Compiler, o pluginOptions) (plugin, error) {
	if algo := o.str("algorithm", "gzip"); algo != "gzip" {
		return nil, ferrors.ConfigError(fmt.Sprintf("unsupported compression algorithm %q", algo)).
			WithContext("plugin", config.PluginCompression).
			Build()
	}
	test, err := o.pattern(config.PluginCompression, "test")
	if err != nil {
		return nil, err
	}
	return &compressionPlugin{
		test:      test,
		threshold: o.size("threshold", 0),
		minRatio:  o.num("minRatio", 0.8),
	}, nil
}

func (p *compressionPlugin) name() string { return config.PluginCompression }

func (p *compressionPlugin) emit(ctx context.Context, comp *Compilation) error {
	for _, a := range comp.Assets() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if a.Kind == AssetCompressed || a.Size() < p.threshold || a.Size() == 0 {
			continue
		}
		if p.test != nil && !p.test.MatchString(a.Name) {
			continue
		}
		gz, err := report.Gzip(a.Content)
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryInternal, "gzip asset").
				WithContext("asset", a.Name).
				Build()
		}
		if float64(len(gz))/float64(a.Size()) >= p.minRatio {
			continue
		}
		comp.EmitAsset(&Asset{Name: a.Name + ".gz", Content: gz, Kind: AssetCompressed, Chunks: a.Chunks})
	}
	return nil
}

// analyzerPlugin writes the static bundle report and machine-readable stats.
type analyzerPlugin struct {
	reportFilename string
	statsFilename  string
}

func newAnalyzerPlugin(_ *Compiler, o pluginOptions) (plugin, error) {
	return &analyzerPlugin{
		reportFilename: o.str("reportFilename", "bundle-report.html"),
		statsFilename:  o.str("statsFilename", "stats.json"),
	}, nil
}

func (p *analyzerPlugin) name() string { return config.PluginAnalyzer }

type statsFile struct {
	BuildID     string              `json:"buildId"`
	Mode        config.Mode         `json:"mode"`
	Version     string              `json:"version"`
	Assets      []statsAsset        `json:"assets"`
	Chunks      []ChunkStats        `json:"chunks"`
	Entrypoints map[string][]string `json:"entrypoints"`
	Modules     []ModuleStats       `json:"modules"`
}

type statsAsset struct {
	Name   string   `json:"name"`
	Size   int64    `json:"size"`
	Chunks []string `json:"chunks,omitempty"`
}

func (p *analyzerPlugin) emit(_ context.Context, comp *Compilation) error {
	byID := comp.byID()
	bundle := report.Bundle{
		Mode:      string(comp.cfg.Mode),
		Hash:      comp.buildID,
		Version:   version.Version,
		Generated: time.Now(),
	}
	if rev, err := version.ProjectRevision(comp.cfg.Context); err == nil {
		bundle.Revision = rev
	}

	sf := statsFile{
		BuildID:     comp.buildID,
		Mode:        comp.cfg.Mode,
		Version:     version.Version,
		Entrypoints: comp.entrypoints,
	}
	for _, a := range comp.Assets() {
		sf.Assets = append(sf.Assets, statsAsset{Name: a.Name, Size: a.Size(), Chunks: a.Chunks})
	}

	for _, ch := range comp.plan.Chunks {
		info := report.ChunkInfo{Name: ch.Name, Kind: string(ch.Kind), Files: comp.chunkFiles[ch.Name]}
		var content []byte
		for _, f := range info.Files {
			if a := comp.assets[f]; a != nil {
				content = append(content, a.Content...)
			}
		}
		info.Size = int64(len(content))
		info.Gzip = report.GzipSize(content)
		for _, id := range ch.Modules {
			rec := byID[id]
			info.Modules = append(info.Modules, report.ModuleInfo{Path: comp.rel(rec.path), Size: rec.mod.Size})
		}
		bundle.Chunks = append(bundle.Chunks, info)
		sf.Chunks = append(sf.Chunks, ChunkStats{
			Name: ch.Name, Kind: string(ch.Kind), Files: info.Files, Modules: ch.Modules, Size: ch.Size, Entries: ch.Entries,
		})
	}
	for _, path := range comp.order {
		rec := comp.records[path]
		sf.Modules = append(sf.Modules, ModuleStats{ID: rec.id, Path: comp.rel(path), Size: rec.mod.Size, Chunks: []string{comp.plan.Home[rec.id]}})
	}

	page, err := report.AnalyzerHTML(bundle)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "render bundle report").Build()
	}
	stats, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "encode stats").Build()
	}
	comp.EmitAsset(&Asset{Name: p.reportFilename, Content: page, Kind: AssetReport})
	comp.EmitAsset(&Asset{Name: p.statsFilename, Content: stats, Kind: AssetReport})
	return nil
}
