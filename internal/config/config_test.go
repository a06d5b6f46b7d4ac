package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/frontbuild/internal/env"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

func resolveEnv(t *testing.T, dir, name string, ambient map[string]string) *env.Environment {
	t.Helper()
	loader := &env.Loader{
		Dir: dir,
		LookupEnv: func(k string) (string, bool) {
			v, ok := ambient[k]
			return v, ok
		},
		Setenv: func(string, string) error { return nil },
	}
	e, err := loader.Resolve(name)
	require.NoError(t, err)
	return e
}

func testProject(t *testing.T) (*Project, string) {
	t.Helper()
	dir := t.TempDir()
	p, err := LoadProject(dir)
	require.NoError(t, err)
	return p, dir
}

func findRule(t *testing.T, cfg *ResolvedConfig, name string) Rule {
	t.Helper()
	for _, r := range cfg.Rules {
		if r.Key() == name {
			return r
		}
	}
	t.Fatalf("rule %q not found", name)
	return Rule{}
}

func processors(r Rule) []string {
	out := make([]string, len(r.Use))
	for i, s := range r.Use {
		out[i] = s.Processor
	}
	return out
}

func TestLoadProjectDefaults(t *testing.T) {
	p, dir := testProject(t)
	assert.Equal(t, dir, p.Root)
	assert.Empty(t, p.File)
	assert.Equal(t, "./src/index.tsx", p.Entry)
	assert.Equal(t, int64(20000), p.Split.MinSize)
	assert.Equal(t, 24*time.Hour, p.Cache.MaxAge)
	require.Len(t, p.VendorGroups, 2)
	assert.Contains(t, p.BuildDependencies(), "tsconfig")
	assert.NotContains(t, p.BuildDependencies(), "config")
}

func TestLoadProjectFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := "out_dir: build\nsplit:\n  min_size: 10000\ncache:\n  max_age: 2h\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFile), []byte(content), 0o600))

	p, err := LoadProject(dir)
	require.NoError(t, err)
	assert.Equal(t, "build", p.OutDir)
	assert.Equal(t, int64(10000), p.Split.MinSize)
	assert.Equal(t, 30, p.Split.MaxInitialRequests)
	assert.Equal(t, 2*time.Hour, p.Cache.MaxAge)
	assert.Equal(t, "src", p.SrcDir)
	assert.Equal(t, filepath.Join(dir, ProjectFile), p.File)
}

func TestLoadProjectKeepsExplicitZeroValues(t *testing.T) {
	dir := t.TempDir()
	content := "vendor_groups: []\nsplit:\n  min_size: 0\ncache:\n  max_age: 0s\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFile), []byte(content), 0o600))

	p, err := LoadProject(dir)
	require.NoError(t, err)
	assert.Empty(t, p.VendorGroups)
	assert.Zero(t, p.Split.MinSize)
	assert.Zero(t, p.Cache.MaxAge)
	assert.Equal(t, 30, p.Split.MaxInitialRequests)
	assert.Equal(t, "dist", p.OutDir)
}

func TestLoadProjectRejectsEmptyRequiredPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFile), []byte("out_dir: \"\"\n"), 0o600))

	_, err := LoadProject(dir)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestLoadProjectRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFile), []byte("split: [unterminated"), 0o600))

	_, err := LoadProject(dir)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestBaseConfiguration(t *testing.T) {
	p, dir := testProject(t)
	e := resolveEnv(t, dir, "development", nil)
	cfg := Base(p, e)

	assert.Equal(t, map[string]string{"app": "./src/index.tsx"}, cfg.Entry)
	assert.Equal(t, "js/[name].js", cfg.Output.Filename)
	assert.Equal(t, "css/[name].css", cfg.Output.StyleFilename)
	assert.Equal(t, filepath.Join(dir, "src", "components"), cfg.Resolve.Alias["@components"])
	assert.Equal(t, []string{".js", ".jsx", ".ts", ".tsx", ".json"}, cfg.Resolve.Extensions)
	assert.Equal(t, []string{"postcss", "css", "style"}, processors(findRule(t, cfg, RuleCSS)))
	assert.Equal(t, []string{"less", "postcss", "css", "style"}, processors(findRule(t, cfg, RuleLess)))
	assert.Nil(t, cfg.DevServer)

	define, ok := cfg.Plugin(PluginDefine)
	require.True(t, ok)
	procEnv, ok := define.Options["process.env"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "development", procEnv["NODE_ENV"])
}

func TestComposeDevelopment(t *testing.T) {
	p, dir := testProject(t)
	e := resolveEnv(t, dir, "development", map[string]string{"API_URL": "http://backend:9000", "BROWSER": "none"})

	cfg, err := Compose(p, e, ModeDevelopment)
	require.NoError(t, err)

	assert.Equal(t, DevtoolEvalSourceMap, cfg.Devtool)
	assert.Equal(t, "[name].js", cfg.Output.Filename)
	require.NotNil(t, cfg.DevServer)
	assert.Equal(t, "localhost", cfg.DevServer.Host)
	assert.Equal(t, 3000, cfg.DevServer.Port)
	assert.False(t, cfg.DevServer.Open)
	assert.True(t, cfg.DevServer.Overlay.Errors)
	assert.False(t, cfg.DevServer.Overlay.Warnings)
	assert.Equal(t, DefaultWatchDebounce, cfg.DevServer.WatchDebounce)
	require.Len(t, cfg.DevServer.Proxy, 1)
	assert.Equal(t, "http://backend:9000", cfg.DevServer.Proxy[0].Target)
	assert.Equal(t, map[string]string{"^/api": ""}, cfg.DevServer.Proxy[0].PathRewrite)

	scripts := findRule(t, cfg, RuleScripts)
	assert.Equal(t, []string{"script", "hot-reload"}, processors(scripts))
	step, ok := scripts.Step(ProcScript)
	require.True(t, ok)
	assert.Equal(t, true, step.Options["cacheDirectory"])

	images := findRule(t, cfg, RuleImages)
	assert.Equal(t, int64(DevInlineLimit), images.Parser.InlineMaxSize)
	_, ok = cfg.Plugin(PluginHMR)
	assert.True(t, ok)
}

// Every base rule survives the overlays unless the overlay names it.
func TestComposePreservesBaseRules(t *testing.T) {
	p, dir := testProject(t)
	for _, mode := range []Mode{ModeDevelopment, ModeProduction} {
		e := resolveEnv(t, dir, string(mode), nil)
		cfg, err := Compose(p, e, mode)
		require.NoError(t, err)
		for _, base := range baseRules() {
			findRule(t, cfg, base.Key())
		}
		assert.Equal(t, RuleScripts, cfg.Rules[0].Key(), "base order is kept")
	}
}

func TestComposeProductionHasNoDevServer(t *testing.T) {
	p, dir := testProject(t)
	e := resolveEnv(t, dir, "production", map[string]string{"PORT": "4000", "API_URL": "http://api"})

	cfg, err := Compose(p, e, ModeProduction)
	require.NoError(t, err)

	assert.Nil(t, cfg.DevServer)
	assert.Equal(t, DevtoolHiddenSourceMap, cfg.Devtool)
	assert.Equal(t, "js/[name].[contenthash:8].js", cfg.Output.Filename)
	assert.Equal(t, []string{"postcss", "css", "extract"}, processors(findRule(t, cfg, RuleCSS)))
	assert.Equal(t, []string{"less", "postcss", "css", "extract"}, processors(findRule(t, cfg, RuleLess)))
	assert.Equal(t, int64(ProdInlineLimit), findRule(t, cfg, RuleImages).Parser.InlineMaxSize)
	assert.Equal(t, "multiple", cfg.Optimization.RuntimeChunk.Mode)
	assert.Equal(t, "deterministic", cfg.Optimization.ModuleIDs)

	keys := make([]string, 0)
	for _, g := range cfg.Optimization.SplitChunks.CacheGroups {
		keys = append(keys, g.Key)
	}
	assert.Equal(t, []string{"commons", "defaultVendors", "antd", "react"}, keys)

	html, ok := cfg.Plugin(PluginHTML)
	require.True(t, ok)
	assert.Contains(t, html.Options, "template", "merge keeps base options")
	assert.Contains(t, html.Options, "minify")

	_, ok = cfg.Plugin(PluginAnalyzer)
	assert.False(t, ok)
	_, ok = cfg.Plugin(PluginHMR)
	assert.False(t, ok)
}

func TestComposeProductionAnalyzerAndStrict(t *testing.T) {
	p, dir := testProject(t)
	e := resolveEnv(t, dir, "production", map[string]string{"ANALYZE": "true", "BUILD_STRICT": "true"})

	cfg, err := Compose(p, e, ModeProduction)
	require.NoError(t, err)
	_, ok := cfg.Plugin(PluginAnalyzer)
	assert.True(t, ok)
	assert.True(t, cfg.Strict)
}

func TestMergeDoesNotMutateBase(t *testing.T) {
	p, dir := testProject(t)
	e := resolveEnv(t, dir, "development", nil)
	base := Base(p, e)
	before := base.Clone()

	_, err := Merge(base, Dev(e))
	require.NoError(t, err)
	assert.Equal(t, before, base)
}

func TestMergeDirectiveErrors(t *testing.T) {
	p, dir := testProject(t)
	e := resolveEnv(t, dir, "development", nil)
	base := Base(p, e)

	tests := []struct {
		name    string
		overlay *Overlay
	}{
		{"replace missing", &Overlay{Rules: []Entry[Rule]{Replace(Rule{Name: "sass", Test: `\.scss$`})}}},
		{"merge missing", &Overlay{Plugins: []Entry[Plugin]{MergeInto(Plugin{Name: "nope"})}}},
		{"remove missing", &Overlay{Plugins: []Entry[Plugin]{Remove[Plugin]("nope")}}},
		{"duplicate key", &Overlay{Plugins: []Entry[Plugin]{Upsert(Plugin{Name: "x"}), Upsert(Plugin{Name: "x"})}}},
		{"empty key", &Overlay{Plugins: []Entry[Plugin]{Upsert(Plugin{})}}},
		{"unknown directive", &Overlay{Plugins: []Entry[Plugin]{{Directive: "patch", Value: Plugin{Name: "lint"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(base, tt.overlay)
			require.Error(t, err)
			assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
		})
	}
}

func TestMergeKeyedDirectives(t *testing.T) {
	base := []Plugin{{Name: "a"}, {Name: "b", Options: map[string]any{"x": 1, "nested": map[string]any{"k": "v"}}}, {Name: "c"}}

	out, err := mergeKeyed("plugins", base, []Entry[Plugin]{
		Remove[Plugin]("a"),
		MergeInto(Plugin{Name: "b", Options: map[string]any{"y": 2, "nested": map[string]any{"j": "w"}}}),
		Upsert(Plugin{Name: "d"}),
		Upsert(Plugin{Name: "c", Options: map[string]any{"z": true}}),
	}, Plugin.Key, mergePlugin)
	require.NoError(t, err)

	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].Name)
	assert.Equal(t, map[string]any{"x": 1, "y": 2, "nested": map[string]any{"k": "v", "j": "w"}}, out[0].Options)
	assert.Equal(t, Plugin{Name: "c", Options: map[string]any{"z": true}}, out[1])
	assert.Equal(t, "d", out[2].Name)
	assert.Len(t, base, 3, "base slice untouched")
}

func TestMergePatchCanClearFields(t *testing.T) {
	p, dir := testProject(t)
	e := resolveEnv(t, dir, "production", nil)
	cfg, err := Compose(p, e, ModeProduction)
	require.NoError(t, err)

	out, err := Merge(cfg, &Overlay{
		Optimization: OptimizationPatch{
			Minimizers: []Entry[Minimizer]{
				MergePatch[Minimizer]("script", MinimizerPatch{Parallel: Ptr(false), DropConsole: Ptr(false)}),
			},
			SplitChunks: SplitChunksPatch{
				CacheGroups: []Entry[CacheGroup]{
					MergePatch[CacheGroup]("defaultVendors", CacheGroupPatch{Priority: Ptr(0), ReuseExistingChunk: Ptr(false)}),
				},
			},
		},
	})
	require.NoError(t, err)

	var script Minimizer
	for _, m := range out.Optimization.Minimizers {
		if m.Name == "script" {
			script = m
		}
	}
	assert.Equal(t, Minimizer{Name: "script", DropDebugger: true}, script)

	var vendors CacheGroup
	for _, g := range out.Optimization.SplitChunks.CacheGroups {
		if g.Key == "defaultVendors" {
			vendors = g
		}
	}
	assert.Equal(t, "vendors", vendors.Name)
	assert.Zero(t, vendors.Priority)
	assert.False(t, vendors.ReuseExistingChunk)
	assert.Equal(t, NodeModulesPattern, vendors.Test)

	_, err = Merge(cfg, &Overlay{Optimization: OptimizationPatch{
		Minimizers: []Entry[Minimizer]{MergePatch[Minimizer]("sass", MinimizerPatch{Comments: Ptr(true)})},
	}})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestValidateRejectsCollidingTemplates(t *testing.T) {
	p, dir := testProject(t)
	e := resolveEnv(t, dir, "production", nil)
	cfg, err := Compose(p, e, ModeProduction)
	require.NoError(t, err)

	cfg.Entry["admin"] = "./src/admin.tsx"
	cfg.Output.Filename = "js/main.js"
	err = Validate(cfg)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestFingerprintTracksBuildDependencies(t *testing.T) {
	p, dir := testProject(t)
	e := resolveEnv(t, dir, "production", nil)
	cfg, err := Compose(p, e, ModeProduction)
	require.NoError(t, err)

	first, err := Fingerprint(cfg)
	require.NoError(t, err)
	again, err := Fingerprint(cfg)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "tsconfig.json"), []byte(`{"compilerOptions":{}}`), 0o600))
	changed, err := Fingerprint(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)

	cfg.Cache.Version = "2.0.0"
	bumped, err := Fingerprint(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, changed, bumped)
}

func TestPackagePattern(t *testing.T) {
	re, err := Pattern(PackagePattern("react", "react-dom"))
	require.NoError(t, err)
	assert.True(t, re.MatchString("/p/node_modules/react-dom/index.js"))
	assert.True(t, re.MatchString("/p/node_modules/react/index.js"))
	assert.False(t, re.MatchString("/p/node_modules/react-redux/index.js"))
}
