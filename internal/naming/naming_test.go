package naming

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	v := Vars{Name: "app", ID: "7", Ext: ".png", Local: "title", Content: []byte("body")}

	out := Render("js/[name].[contenthash:8].js", v)
	assert.Regexp(t, regexp.MustCompile(`^js/app\.[0-9a-f]{8}\.js$`), out)
	assert.Equal(t, out, Render("js/[name].[contenthash:8].js", v), "stable for equal content")

	assert.Equal(t, "images/app."+Hash([]byte("body"), 8)+".png", Render("images/[name].[hash:8][ext]", v))
	assert.Equal(t, "7.js", Render("[id].js", v))
	assert.Regexp(t, regexp.MustCompile(`^app__title--[A-Za-z0-9_-]{5}$`), Render("[name]__[local]--[hash:base64:5]", v))

	other := v
	other.Content = []byte("changed")
	assert.NotEqual(t, out, Render("js/[name].[contenthash:8].js", other))
}

func TestHasContentHash(t *testing.T) {
	assert.True(t, HasContentHash("js/[name].[contenthash:8].js"))
	assert.True(t, HasContentHash("fonts/[name].[hash:8][ext]"))
	assert.False(t, HasContentHash("js/[name].js"))
}

func TestSplitExt(t *testing.T) {
	name, ext := SplitExt("/a/b/Button.module.less")
	assert.Equal(t, "Button.module", name)
	assert.Equal(t, ".less", ext)
}
