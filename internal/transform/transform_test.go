package transform

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/env"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/resolve"
)

type memCache struct {
	entries map[string]*Module
	puts    int
}

func (c *memCache) Get(key string) (*Module, bool) {
	m, ok := c.entries[key]
	return m, ok
}

func (c *memCache) Put(key string, m *Module) error {
	c.entries[key] = m
	c.puts++
	return nil
}

func write(t *testing.T, root, rel string, content []byte) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, content, 0o600))
	return p
}

func newPipeline(t *testing.T, mode config.Mode) (*Pipeline, string, *memCache) {
	t.Helper()
	root := t.TempDir()
	project, err := config.LoadProject(root)
	require.NoError(t, err)
	loader := &env.Loader{
		Dir:       root,
		LookupEnv: func(string) (string, bool) { return "", false },
		Setenv:    func(string, string) error { return nil },
	}
	e, err := loader.Resolve(string(mode))
	require.NoError(t, err)
	cfg, err := config.Compose(project, e, mode)
	require.NoError(t, err)

	define, _ := cfg.Plugin(config.PluginDefine)
	processEnv, _ := define.Options["process.env"].(map[string]any)
	cache := &memCache{entries: map[string]*Module{}}
	p, err := New(Options{
		Config:   cfg,
		Resolver: resolve.New(cfg.Resolve),
		Defines:  Defines(processEnv),
		Cache:    cache,
	})
	require.NoError(t, err)
	return p, root, cache
}

func TestScriptTranspilesToCommonJS(t *testing.T) {
	p, root, _ := newPipeline(t, config.ModeProduction)
	path := write(t, root, "src/App.tsx", []byte(`
import { useState } from "react";
import Button from "@components/Button";
export default function App(props: { title: string }) {
  const [n] = useState<number>(0);
  if (process.env.NODE_ENV === "production") { console.log(n); }
  return <Button label={props.title} />;
}
`))

	m, err := p.Transform(path)
	require.NoError(t, err)
	require.False(t, m.Failed(), "%v", m.Diagnostics)
	assert.Equal(t, KindScript, m.Kind)
	assert.Equal(t, config.RuleScripts, m.Rule)
	assert.Equal(t, []string{"react", "@components/Button", "react/jsx-runtime"}, sortedLike(m.Requests, []string{"react", "@components/Button", "react/jsx-runtime"}))
	assert.NotContains(t, string(m.Code), "process.env.NODE_ENV")
	assert.False(t, m.Hot)
}

// sortedLike returns want when got holds exactly the same elements.
func sortedLike(got, want []string) []string {
	if len(got) != len(want) {
		return got
	}
	for _, w := range want {
		found := false
		for _, g := range got {
			found = found || g == w
		}
		if !found {
			return got
		}
	}
	return want
}

func TestDevScriptIsHotAndMapped(t *testing.T) {
	p, root, _ := newPipeline(t, config.ModeDevelopment)
	path := write(t, root, "src/index.tsx", []byte(`export const x: number = 1;`))

	m, err := p.Transform(path)
	require.NoError(t, err)
	require.False(t, m.Failed())
	assert.True(t, m.Hot)
	assert.Contains(t, string(m.Code), "module.hot.accept()")
	assert.Contains(t, string(m.Code), "sourceMappingURL=data:")
}

func TestScriptSyntaxErrorBecomesDiagnostic(t *testing.T) {
	p, root, cache := newPipeline(t, config.ModeProduction)
	path := write(t, root, "src/broken.ts", []byte("const = ;"))

	m, err := p.Transform(path)
	require.NoError(t, err)
	require.True(t, m.Failed())
	d := m.Diagnostics.Errors()[0]
	assert.Equal(t, "src/broken.ts", d.File)
	assert.Equal(t, 1, d.Line)
	assert.Zero(t, cache.puts, "failed results are not cached")
}

func TestAssetThresholdBoundary(t *testing.T) {
	p, root, _ := newPipeline(t, config.ModeProduction)

	atLimit := write(t, root, "src/assets/at.png", bytes.Repeat([]byte{1}, config.ProdInlineLimit))
	over := write(t, root, "src/assets/over.png", bytes.Repeat([]byte{2}, config.ProdInlineLimit+1))

	m, err := p.Transform(atLimit)
	require.NoError(t, err)
	assert.Nil(t, m.Emit)
	assert.True(t, strings.HasPrefix(m.InlineURL, "data:image/png;base64,"))

	m, err = p.Transform(over)
	require.NoError(t, err)
	require.NotNil(t, m.Emit)
	assert.Regexp(t, `^images/over\.[0-9a-f]{8}\.png$`, m.Emit.Name)
	assert.Equal(t, "/"+m.Emit.Name, m.PublicURL("/"))
	assert.Contains(t, string(m.Code), "require.p")
}

func TestShouldInline(t *testing.T) {
	rule := config.Rule{Type: config.AssetTypeAsset, Parser: &config.Parser{InlineMaxSize: 10}}
	assert.True(t, ShouldInline(rule, 10))
	assert.False(t, ShouldInline(rule, 11))
	assert.True(t, ShouldInline(config.Rule{Type: config.AssetTypeAsset}, DefaultInlineLimit))
	assert.False(t, ShouldInline(config.Rule{Type: config.AssetTypeResource}, 0))
	assert.True(t, ShouldInline(config.Rule{Type: config.AssetTypeInline}, 1<<20))
}

func TestFontsAreEmitted(t *testing.T) {
	p, root, _ := newPipeline(t, config.ModeDevelopment)
	path := write(t, root, "src/assets/Inter.woff2", []byte("font"))

	m, err := p.Transform(path)
	require.NoError(t, err)
	require.NotNil(t, m.Emit)
	assert.Regexp(t, `^fonts/Inter\.[0-9a-f]{8}\.woff2$`, m.Emit.Name)
}

func TestLessModuleIsScopedAndExtracted(t *testing.T) {
	p, root, _ := newPipeline(t, config.ModeProduction)
	write(t, root, "src/styles/vars.less", []byte("@primary: #1DA57A;\n@gap: 8px;\n"))
	write(t, root, "src/assets/bg.png", bytes.Repeat([]byte{3}, 10000))
	path := write(t, root, "src/components/Card.module.less", []byte(`@import "../styles/vars";
// card styles
.card {
  color: @primary;
  padding: @gap;
  background: url(../assets/bg.png);
  .title { font-weight: 600; }
}
:global(.ant-btn) { margin: 0; }
`))

	m, err := p.Transform(path)
	require.NoError(t, err)
	require.False(t, m.Failed(), "%v", m.Diagnostics)
	assert.Equal(t, KindStyle, m.Kind)

	css := string(m.CSS)
	assert.Contains(t, strings.ToLower(css), "#1da57a")
	assert.NotContains(t, css, "@primary")
	assert.NotContains(t, css, "card styles")
	assert.Contains(t, css, ".ant-btn")
	assert.Regexp(t, `\.Card-module__card--[A-Za-z0-9_-]{5}`, css)

	require.Len(t, m.URLRefs, 1)
	assert.Equal(t, "../assets/bg.png", m.URLRefs[0].Request)
	assert.Contains(t, css, m.URLRefs[0].Placeholder)
	assert.Contains(t, m.Requests, "../assets/bg.png")
	assert.Contains(t, string(m.Code), `"card":"Card-module__card--`)
	assert.Contains(t, string(m.Code), `"title":`)
}

func TestPlainCSSIsInjectedInDevelopment(t *testing.T) {
	p, root, _ := newPipeline(t, config.ModeDevelopment)
	write(t, root, "src/base.css", []byte("html { margin: 0 }"))
	path := write(t, root, "src/global.css", []byte("@import './base.css';\n.btn { color: red }\n"))

	m, err := p.Transform(path)
	require.NoError(t, err)
	require.False(t, m.Failed(), "%v", m.Diagnostics)
	assert.Nil(t, m.CSS)
	assert.True(t, m.Hot)
	code := string(m.Code)
	assert.Contains(t, code, `require("./base.css")`)
	assert.Contains(t, code, "document.createElement(\"style\")")
	assert.Contains(t, code, ".btn", "global stylesheet is not scoped")
	assert.NotContains(t, code, "Card-module")
}

func TestUnmatchedFileIsAnError(t *testing.T) {
	p, root, _ := newPipeline(t, config.ModeProduction)
	path := write(t, root, "src/notes.txt", []byte("hello"))

	m, err := p.Transform(path)
	require.NoError(t, err)
	assert.True(t, m.Failed())
}

func TestNodeModulesScriptAndJSON(t *testing.T) {
	p, root, _ := newPipeline(t, config.ModeDevelopment)
	js := write(t, root, "node_modules/lib/index.js", []byte(`module.exports = require('./data.json');`))
	data := write(t, root, "node_modules/lib/data.json", []byte(`{"a": 1}`))

	m, err := p.Transform(js)
	require.NoError(t, err)
	require.False(t, m.Failed(), "%v", m.Diagnostics)
	assert.Equal(t, []string{"./data.json"}, m.Requests)
	assert.False(t, m.Hot)

	m, err = p.Transform(data)
	require.NoError(t, err)
	assert.Equal(t, KindJSON, m.Kind)
	assert.Equal(t, `module.exports = {"a": 1};`, string(m.Code))
}

func TestTransformUsesCache(t *testing.T) {
	p, root, cache := newPipeline(t, config.ModeProduction)
	path := write(t, root, "src/a.ts", []byte("export const a = 1;"))

	first, err := p.Transform(path)
	require.NoError(t, err)
	second, err := p.Transform(path)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, cache.puts)
}

func TestLessImportChangeBypassesCache(t *testing.T) {
	p, root, cache := newPipeline(t, config.ModeProduction)
	vars := write(t, root, "src/styles/vars.less", []byte("@brand: red;\n"))
	path := write(t, root, "src/theme.less", []byte("@import \"./styles/vars\";\n.brand { color: @brand; }\n"))

	first, err := p.Transform(path)
	require.NoError(t, err)
	require.False(t, first.Failed(), "%v", first.Diagnostics)
	assert.Contains(t, string(first.CSS), "red")
	require.Len(t, first.Inputs, 1)
	assert.Equal(t, vars, first.Inputs[0].Path)

	again, err := p.Transform(path)
	require.NoError(t, err)
	assert.Same(t, first, again)

	require.NoError(t, os.WriteFile(vars, []byte("@brand: blue;\n"), 0o600))
	second, err := p.Transform(path)
	require.NoError(t, err)
	require.False(t, second.Failed(), "%v", second.Diagnostics)
	assert.Contains(t, string(second.CSS), "blue")
	assert.NotContains(t, string(second.CSS), "red")
	assert.Equal(t, 2, cache.puts)
}

func TestNewRejectsUnknownProcessor(t *testing.T) {
	cfg := &config.ResolvedConfig{Rules: []config.Rule{{Name: "x", Test: `\.x$`, Use: []config.Step{{Processor: "babel"}}}}}
	_, err := New(Options{Config: cfg})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestScanRequires(t *testing.T) {
	code := []byte(`var a = require("a"); var b = require('b'); require("a"); x.require2("c");`)
	assert.Equal(t, []string{"a", "b"}, scanRequires(code))
}

func TestScopeSelectorSkipsAttributesAndGlobals(t *testing.T) {
	rename := func(s string) string { return "x_" + s }
	out := scopeCSS(`.a[href$=".pdf"] > .b:hover, :global(.c) .d { background: url("x.png"); width: .5em }`, rename)
	assert.Equal(t, `.x_a[href$=".pdf"] > .x_b:hover, .c .x_d { background: url("x.png"); width: .5em }`, out)
}

func TestLoadTsconfigAcceptsComments(t *testing.T) {
	root := t.TempDir()
	write(t, root, "tsconfig.json", []byte(`{
  // editor settings
  "compilerOptions": { "jsx": "react-jsx", "strict": true, "jsxImportSource": "@emotion/react", },
}`))
	tc, err := LoadTsconfig(root)
	require.NoError(t, err)
	assert.Equal(t, "react-jsx", tc.JSX)
	assert.Equal(t, "@emotion/react", tc.JSXImportSource)
	assert.NotContains(t, tc.Raw, "strict")

	empty, err := LoadTsconfig(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, empty.Raw)
}

func TestRewriteRequires(t *testing.T) {
	code := []byte(`var a = require("./a"); var b = require( 'lodash' ); var c = require("left");`)
	out := RewriteRequires(code, func(req string) string {
		switch req {
		case "./a":
			return "./src/a.ts"
		case "lodash":
			return "./node_modules/lodash/lodash.js"
		}
		return ""
	})
	assert.Equal(t, `var a = require("./src/a.ts"); var b = require("./node_modules/lodash/lodash.js"); var c = require("left");`, string(out))
}
