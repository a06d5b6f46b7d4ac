package transform

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/naming"
)

// DefaultInlineLimit applies to "asset" rules without a parser threshold.
const DefaultInlineLimit = 8 * 1024

const defaultAssetFilename = "[hash][ext]"

// ShouldInline reports whether an asset of size bytes becomes a data URL.
// A file of exactly the threshold size is inlined.
func ShouldInline(rule config.Rule, size int64) bool {
	switch rule.Type {
	case config.AssetTypeInline:
		return true
	case config.AssetTypeResource:
		return false
	}
	limit := int64(DefaultInlineLimit)
	if rule.Parser != nil {
		limit = rule.Parser.InlineMaxSize
	}
	return size <= limit
}

func (p *Pipeline) asset(m *Module, content []byte, rule config.Rule) {
	m.Kind = KindAsset
	if ShouldInline(rule, int64(len(content))) {
		m.InlineURL = dataURL(m.Path, content)
		lit, _ := json.Marshal(m.InlineURL)
		m.Code = []byte(fmt.Sprintf("module.exports = %s;", lit))
		return
	}

	template := defaultAssetFilename
	if rule.Generator != nil && rule.Generator.Filename != "" {
		template = rule.Generator.Filename
	}
	name, ext := naming.SplitExt(m.Path)
	m.Emit = &EmittedFile{
		Name:    naming.Render(template, naming.Vars{Name: name, Ext: ext, Content: content}),
		Content: content,
	}
	lit, _ := json.Marshal(m.Emit.Name)
	m.Code = []byte(fmt.Sprintf("module.exports = require.p + %s;", lit))
}

func dataURL(path string, content []byte) string {
	_, ext := naming.SplitExt(path)
	return "data:" + mimeType(ext) + ";base64," + base64.StdEncoding.EncodeToString(content)
}

func mimeType(ext string) string {
	switch strings.ToLower(ext) {
	case ".svg":
		return "image/svg+xml"
	case ".woff2":
		return "font/woff2"
	case ".woff":
		return "font/woff"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return "application/octet-stream"
}

// PublicURL returns the URL at which an asset module is reachable.
func (m *Module) PublicURL(publicPath string) string {
	if m.InlineURL != "" {
		return m.InlineURL
	}
	if m.Emit != nil {
		return publicPath + m.Emit.Name
	}
	return ""
}
