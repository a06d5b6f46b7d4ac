package config

import (
	"fmt"
	"regexp"
	"strings"

	"git.home.luguber.info/inful/frontbuild/internal/env"
)

// ProdInlineLimit is the production image data-URL threshold in bytes.
const ProdInlineLimit = 4 * 1024

// ProdAssetBudget is the entrypoint and asset size hint limit in bytes.
const ProdAssetBudget = 512000

// Prod returns the production overlay for e using the split policy of project.
func Prod(project *Project, e *env.Environment) *Overlay {
	s := e.Settings()

	plugins := []Entry[Plugin]{
		MergeInto(Plugin{Name: PluginHTML, Options: map[string]any{
			"minify": map[string]any{
				"removeComments":                true,
				"collapseWhitespace":            true,
				"removeRedundantAttributes":     true,
				"useShortDoctype":               true,
				"removeEmptyAttributes":         true,
				"removeStyleLinkTypeAttributes": true,
				"keepClosingSlash":              true,
				"minifyJS":                      true,
				"minifyCSS":                     true,
				"minifyURLs":                    true,
			},
		}}),
		MergeInto(Plugin{Name: PluginLint, Options: map[string]any{"failOnError": true}}),
		Upsert(Plugin{Name: PluginCompression, Options: map[string]any{
			"algorithm": "gzip",
			"test":      `\.(js|css|html|svg)$`,
			"threshold": 10240,
			"minRatio":  0.8,
		}}),
	}
	if s.Analyze {
		plugins = append(plugins, Upsert(Plugin{Name: PluginAnalyzer, Options: map[string]any{
			"reportFilename": "bundle-report.html",
			"statsFilename":  "stats.json",
		}}))
	}

	return &Overlay{
		Name:    env.Production,
		Mode:    Ptr(ModeProduction),
		Devtool: Ptr(DevtoolHiddenSourceMap),
		Output: OutputPatch{
			Filename:      Ptr("js/[name].[contenthash:8].js"),
			ChunkFilename: Ptr("js/[name].[contenthash:8].chunk.js"),
			StyleFilename: Ptr("css/[name].[contenthash:8].css"),
		},
		Rules: []Entry[Rule]{
			Replace(Rule{
				Name: RuleCSS,
				Test: cssTest,
				Use:  []Step{{Processor: ProcPostCSS}, {Processor: ProcCSS}, {Processor: ProcExtract}},
			}),
			Replace(Rule{
				Name: RuleLess,
				Test: lessTest,
				Use:  lessPipeline(ProcExtract),
			}),
			Upsert(imageRule(ProdInlineLimit)),
		},
		Plugins: plugins,
		Optimization: OptimizationPatch{
			Minimize: Ptr(true),
			Minimizers: []Entry[Minimizer]{
				Upsert(Minimizer{Name: "script", Parallel: true, DropConsole: true, DropDebugger: true}),
				Upsert(Minimizer{Name: "style", Parallel: true}),
			},
			SplitChunks:  prodSplitChunks(project),
			RuntimeChunk: &RuntimeChunk{Mode: "multiple", Name: "runtime-[entry]"},
			ModuleIDs:    Ptr("deterministic"),
		},
		Performance: &Performance{
			Hints:             "warning",
			MaxEntrypointSize: ProdAssetBudget,
			MaxAssetSize:      ProdAssetBudget,
		},
		Strict: Ptr(s.Strict),
	}
}

func prodSplitChunks(project *Project) SplitChunksPatch {
	groups := []Entry[CacheGroup]{
		Remove[CacheGroup]("vendors"),
		Upsert(CacheGroup{
			Key:                "defaultVendors",
			Name:               "vendors",
			Test:               NodeModulesPattern,
			Priority:           -10,
			ReuseExistingChunk: true,
		}),
	}
	for _, g := range project.VendorGroups {
		groups = append(groups, Upsert(CacheGroup{
			Key:                g.Name,
			Name:               g.Name,
			Test:               PackagePattern(g.Packages...),
			Priority:           g.Priority,
			ReuseExistingChunk: true,
		}))
	}
	groups = append(groups, Upsert(CacheGroup{
		Key:                "commons",
		Name:               "commons",
		MinChunks:          2,
		Priority:           -20,
		ReuseExistingChunk: true,
	}))

	return SplitChunksPatch{
		Chunks:               Ptr("all"),
		MinSize:              Ptr(project.Split.MinSize),
		MinChunks:            Ptr(1),
		MaxAsyncRequests:     Ptr(project.Split.MaxAsyncRequests),
		MaxInitialRequests:   Ptr(project.Split.MaxInitialRequests),
		EnforceSizeThreshold: Ptr(project.Split.EnforceSizeThreshold),
		CacheGroups:          groups,
	}
}

// PackagePattern matches resources inside any of the named node_modules packages.
func PackagePattern(packages ...string) string {
	quoted := make([]string, len(packages))
	for i, p := range packages {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return fmt.Sprintf(`[\\/]node_modules[\\/](%s)[\\/]`, strings.Join(quoted, "|"))
}
