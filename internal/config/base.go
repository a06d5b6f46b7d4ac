package config

import (
	"path/filepath"

	"git.home.luguber.info/inful/frontbuild/internal/env"
)

const (
	// NodeModulesPattern matches resources that live in any node_modules directory.
	NodeModulesPattern = `[\\/]node_modules[\\/]`

	scriptTest = `\.(js|jsx|ts|tsx)$`
	cssTest    = `\.css$`
	lessTest   = `\.less$`
	fontTest   = `(?i)\.(woff2?|eot|ttf|otf)$`
	imageTest  = `(?i)\.(png|jpe?g|gif|svg|webp)$`

	localIdentName = "[name]__[local]--[hash:base64:5]"
)

// Rule names double as merge keys in the overlays.
const (
	RuleScripts = "scripts"
	RuleCSS     = "css"
	RuleLess    = "less"
	RuleFonts   = "fonts"
	RuleImages  = "images"
)

// Processor names understood by the transform pipeline.
const (
	ProcScript    = "script"
	ProcHotReload = "hot-reload"
	ProcLess      = "less"
	ProcPostCSS   = "postcss"
	ProcCSS       = "css"
	ProcStyle     = "style"
	ProcExtract   = "extract"
)

// Plugin names resolved by the compiler's registry.
const (
	PluginDefine      = "define"
	PluginHTML        = "html"
	PluginLint        = "lint"
	PluginProgress    = "progress"
	PluginIgnore      = "ignore"
	PluginHMR         = "hot-module-replacement"
	PluginCompression = "compression"
	PluginAnalyzer    = "analyzer"
)

// Base builds the configuration shared by every environment. It is pure:
// the same project and environment always produce an equal configuration.
func Base(project *Project, e *env.Environment) *ResolvedConfig {
	src := project.Path(project.SrcDir)

	alias := map[string]string{"@": src}
	for _, name := range project.Aliases {
		alias["@"+name] = filepath.Join(src, name)
	}

	return &ResolvedConfig{
		Mode:    ModeDevelopment,
		Context: project.Root,
		Devtool: DevtoolNone,
		Entry:   map[string]string{"app": project.Entry},
		Output: Output{
			Dir:           project.Path(project.OutDir),
			Filename:      "js/[name].js",
			ChunkFilename: "js/[name].chunk.js",
			StyleFilename: "css/[name].css",
			PublicPath:    project.PublicPath,
			HashFunction:  "blake3",
			Clean:         true,
		},
		Resolve: Resolution{
			Alias:      alias,
			Extensions: []string{".js", ".jsx", ".ts", ".tsx", ".json"},
			Roots:      []string{src, "node_modules"},
		},
		Rules:   baseRules(),
		Plugins: basePlugins(project, e),
		Optimization: Optimization{
			ModuleIDs:    "named",
			RuntimeChunk: RuntimeChunk{Mode: "single", Name: "runtime"},
			SplitChunks: SplitChunks{
				Chunks:             "all",
				MinChunks:          1,
				MaxAsyncRequests:   30,
				MaxInitialRequests: 30,
				CacheGroups: []CacheGroup{
					{Key: "vendors", Name: "vendors", Test: NodeModulesPattern, Priority: 10, Chunks: "initial"},
					{Key: "commons", Name: "commons", MinChunks: 2, Priority: 5, Chunks: "initial", ReuseExistingChunk: true},
				},
			},
		},
		Cache: Cache{
			Type:              "filesystem",
			Directory:         project.Path(project.Cache.Dir),
			Name:              e.Name(),
			Version:           project.Cache.Version,
			BuildDependencies: project.BuildDependencies(),
			MaxAge:            project.Cache.MaxAge,
		},
		Stats: Stats{},
	}
}

func baseRules() []Rule {
	return []Rule{
		{
			Name:    RuleScripts,
			Test:    scriptTest,
			Exclude: "node_modules",
			Use:     []Step{{Processor: ProcScript, Options: map[string]any{"cacheDirectory": true}}},
		},
		{
			Name: RuleCSS,
			Test: cssTest,
			Use:  []Step{{Processor: ProcPostCSS}, {Processor: ProcCSS}, {Processor: ProcStyle}},
		},
		{
			Name: RuleLess,
			Test: lessTest,
			Use:  lessPipeline(ProcStyle),
		},
		{
			Name:      RuleFonts,
			Test:      fontTest,
			Type:      AssetTypeResource,
			Generator: &Generator{Filename: "fonts/[name].[hash:8][ext]"},
		},
	}
}

// lessPipeline returns the less steps ending in sink (style injection or extraction).
func lessPipeline(sink string) []Step {
	return []Step{
		{Processor: ProcLess, Options: map[string]any{"javascriptEnabled": true}},
		{Processor: ProcPostCSS},
		{Processor: ProcCSS, Options: map[string]any{
			"importLoaders": 2,
			"modules": map[string]any{
				"auto":           ".module.less",
				"localIdentName": localIdentName,
			},
		}},
		{Processor: sink},
	}
}

func basePlugins(project *Project, e *env.Environment) []Plugin {
	return []Plugin{
		{Name: PluginDefine, Options: map[string]any{"process.env": settingsMap(e)}},
		{Name: PluginHTML, Options: map[string]any{
			"template": project.Path(project.Template),
			"favicon":  project.Path(project.Favicon),
			"filename": "index.html",
			"inject":   true,
		}},
		{Name: PluginLint, Options: map[string]any{
			"extensions":  []any{".js", ".jsx", ".ts", ".tsx"},
			"emitWarning": true,
			"emitError":   true,
		}},
		{Name: PluginProgress, Options: map[string]any{"clear": false}},
		{Name: PluginIgnore, Options: map[string]any{
			"resourceRegExp": `^\./locale$`,
			"contextRegExp":  `moment$`,
		}},
	}
}

// settingsMap exposes the resolved settings as the process.env replacement.
func settingsMap(e *env.Environment) map[string]any {
	values := e.Values()
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
