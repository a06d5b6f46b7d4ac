package htmldoc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

const template = `<!doctype html>
<html lang="en">
  <head>
    <!-- page title -->
    <meta charset="utf-8">
    <title>Console</title>
    <style type="text/css">
      body { margin: 0 }
    </style>
  </head>
  <body>
    <div id="root" class=""></div>
    <pre>  keep
  this </pre>
  </body>
</html>
`

func writeTemplate(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	tpl := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(tpl, []byte(template), 0o600))
	icon := filepath.Join(dir, "favicon.ico")
	require.NoError(t, os.WriteFile(icon, []byte{0, 0, 1, 0}, 0o600))
	return tpl, icon
}

func TestRenderInjectsTagsInOrder(t *testing.T) {
	tpl, icon := writeTemplate(t)
	doc, err := Render(Options{
		Template:   tpl,
		Favicon:    icon,
		PublicPath: "/",
		Scripts:    []string{"js/runtime-app.js", "js/vendors.js", "js/app.js"},
		Styles:     []string{"css/app.css"},
		Inject:     true,
	})
	require.NoError(t, err)

	out := string(doc.HTML)
	require.NotNil(t, doc.Favicon)
	assert.Equal(t, "favicon.ico", doc.Favicon.Name)
	assert.Contains(t, out, `<link rel="icon" href="/favicon.ico"/>`)
	assert.Contains(t, out, `<link href="/css/app.css" rel="stylesheet"/>`)

	runtime := strings.Index(out, `src="/js/runtime-app.js"`)
	vendors := strings.Index(out, `src="/js/vendors.js"`)
	app := strings.Index(out, `src="/js/app.js"`)
	require.True(t, runtime > 0 && vendors > runtime && app > vendors, out)
	assert.Less(t, app, strings.Index(out, "</head>"))
	assert.Contains(t, out, "<!-- page title -->")
}

func TestRenderMinifies(t *testing.T) {
	tpl, _ := writeTemplate(t)
	doc, err := Render(Options{
		Template: tpl,
		Inject:   true,
		Scripts:  []string{"js/app.js"},
		Minify:   true,
		MinifyInline: func(lang, src string) (string, error) {
			assert.Equal(t, "css", lang)
			return strings.Join(strings.Fields(src), ""), nil
		},
	})
	require.NoError(t, err)

	out := string(doc.HTML)
	assert.NotContains(t, out, "page title")
	assert.NotContains(t, out, `type="text/css"`)
	assert.NotContains(t, out, `class=""`)
	assert.Contains(t, out, "<style>body{margin:0}</style>")
	assert.Contains(t, out, "<pre>  keep\n  this </pre>")
	assert.NotContains(t, out, "\n    ")
	assert.Nil(t, doc.Favicon)
}

func TestMissingTemplateIsResourceError(t *testing.T) {
	_, err := Render(Options{Template: filepath.Join(t.TempDir(), "nope.html")})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryResource))
}

func TestMissingFaviconIsSkipped(t *testing.T) {
	tpl, _ := writeTemplate(t)
	doc, err := Render(Options{Template: tpl, Favicon: filepath.Join(t.TempDir(), "none.ico"), Inject: true})
	require.NoError(t, err)
	assert.Nil(t, doc.Favicon)
	assert.NotContains(t, string(doc.HTML), `rel="icon"`)
}

func TestInjectScriptAppendsToBody(t *testing.T) {
	out, err := InjectScript([]byte(`<html><head></head><body><div id="root"></div></body></html>`), "/__frontbuild/client.js")
	require.NoError(t, err)
	assert.Contains(t, string(out), `<div id="root"></div><script src="/__frontbuild/client.js"></script></body>`)
}
