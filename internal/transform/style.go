package transform

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/diag"
	"git.home.luguber.info/inful/frontbuild/internal/naming"
	"git.home.luguber.info/inful/frontbuild/internal/resolve"
)

// styleEngines are the browsers stylesheets are lowered for.
var styleEngines = []api.Engine{
	{Name: api.EngineChrome, Version: "87"},
	{Name: api.EngineEdge, Version: "88"},
	{Name: api.EngineFirefox, Version: "78"},
	{Name: api.EngineSafari, Version: "14"},
}

var (
	lessLineComment = regexp.MustCompile(`(?m)(^|[^:"'])//[^\n]*`)
	lessImport      = regexp.MustCompile(`@import\s*(?:\([^)]*\)\s*)?["']([^"']+)["']\s*;`)
	lessVarDecl     = regexp.MustCompile(`(?m)^[ \t]*@([A-Za-z_][\w-]*)\s*:\s*([^;{}]+);[ \t]*\n?`)
	lessVarUse      = regexp.MustCompile(`@([A-Za-z_][\w-]*)`)
)

// less expands the subset of Less the project stylesheets use: line
// comments, file imports and variables. Nesting is left for postcss to lower.
func (p *Pipeline) less(m *Module, u *unit) bool {
	if u.lang != langCSS {
		return p.wrongInput(m, u, config.ProcLess, langCSS)
	}
	text, err := p.inlineLessImports(m, u.path, string(u.text), map[string]bool{u.path: true})
	if err != nil {
		m.Diagnostics = append(m.Diagnostics, diag.Errorf(config.ProcLess, p.rel(u.path), "%v", err))
		return false
	}
	text = lessLineComment.ReplaceAllString(text, "$1")

	vars := make(map[string]string)
	for _, decl := range lessVarDecl.FindAllStringSubmatch(text, -1) {
		vars[decl[1]] = strings.TrimSpace(decl[2])
	}
	text = lessVarDecl.ReplaceAllString(text, "")

	// Variables may reference each other; bound the expansion depth.
	for range 8 {
		changed := false
		for name, value := range vars {
			expanded := substituteVars(value, vars)
			if expanded != value {
				vars[name] = expanded
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	var undefinedVars []string
	text = lessVarUse.ReplaceAllStringFunc(text, func(ref string) string {
		name := ref[1:]
		if v, ok := vars[name]; ok {
			return v
		}
		if !cssAtRules[name] {
			undefinedVars = append(undefinedVars, ref)
		}
		return ref
	})
	for _, ref := range undefinedVars {
		m.Diagnostics = append(m.Diagnostics, diag.Errorf(config.ProcLess, p.rel(u.path), "variable %s is undefined", ref))
	}
	if len(undefinedVars) > 0 {
		return false
	}
	u.text = []byte(text)
	return true
}

var cssAtRules = map[string]bool{
	"media": true, "import": true, "font-face": true, "keyframes": true, "supports": true,
	"charset": true, "namespace": true, "page": true, "layer": true, "container": true,
	"-webkit-keyframes": true, "document": true, "property": true,
}

func substituteVars(value string, vars map[string]string) string {
	return lessVarUse.ReplaceAllStringFunc(value, func(ref string) string {
		if v, ok := vars[ref[1:]]; ok {
			return v
		}
		return ref
	})
}

// inlineLessImports replaces imports of .less files with their contents and
// records each inlined file on m. Plain .css imports are kept for the css processor.
func (p *Pipeline) inlineLessImports(m *Module, path, text string, seen map[string]bool) (string, error) {
	var firstErr error
	out := lessImport.ReplaceAllStringFunc(text, func(stmt string) string {
		if firstErr != nil {
			return stmt
		}
		req := lessImport.FindStringSubmatch(stmt)[1]
		if strings.HasSuffix(req, ".css") || strings.HasPrefix(req, "http") {
			return stmt
		}
		target, err := p.resolveStyleRequest(req, filepath.Dir(path), ".less")
		if err != nil {
			firstErr = fmt.Errorf("cannot resolve import %q: %w", req, err)
			return stmt
		}
		if seen[target] {
			return ""
		}
		seen[target] = true
		data, err := os.ReadFile(target)
		if err != nil {
			firstErr = fmt.Errorf("read import %q: %w", req, err)
			return stmt
		}
		m.Inputs = append(m.Inputs, Input{Path: target, Digest: contentDigest(data)})
		nested, err := p.inlineLessImports(m, target, string(data), seen)
		if err != nil {
			firstErr = err
			return stmt
		}
		return nested
	})
	return out, firstErr
}

// resolveStyleRequest resolves stylesheet-relative requests; "~pkg" names a package.
func (p *Pipeline) resolveStyleRequest(req, dir, defaultExt string) (string, error) {
	if strings.HasPrefix(req, "~") {
		if p.resolver == nil {
			return "", fmt.Errorf("no resolver for package import")
		}
		return p.resolver.Resolve(req[1:], dir)
	}
	candidates := []string{filepath.Join(dir, filepath.FromSlash(req))}
	if filepath.Ext(req) == "" {
		candidates = append(candidates, candidates[0]+defaultExt)
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
			return c, nil
		}
	}
	if p.resolver != nil && resolve.IsPackageRequest(req) {
		return p.resolver.Resolve(req, dir)
	}
	return "", fmt.Errorf("file not found")
}

// postcss lowers modern CSS (nesting, new color syntax) for the target browsers.
func (p *Pipeline) postcss(m *Module, u *unit) bool {
	if u.lang != langCSS {
		return p.wrongInput(m, u, config.ProcPostCSS, langCSS)
	}
	result := api.Transform(scopeMarkers.Replace(string(u.text)), api.TransformOptions{
		Loader:     api.LoaderCSS,
		Engines:    styleEngines,
		Sourcefile: p.rel(u.path),
		LogLevel:   api.LogLevelSilent,
	})
	m.Diagnostics = append(m.Diagnostics, fromMessages(diag.SeverityWarning, config.ProcPostCSS, result.Warnings)...)
	if len(result.Errors) > 0 {
		m.Diagnostics = append(m.Diagnostics, fromMessages(diag.SeverityError, config.ProcPostCSS, result.Errors)...)
		return false
	}
	u.text = []byte(scopeMarkersBack.Replace(string(result.Code)))
	return true
}

// The lowering pass would resolve :global/:local itself; hide them from it so
// the css processor sees the author's scoping.
var (
	scopeMarkers     = strings.NewReplacer(":global(", ":-fb-global(", ":local(", ":-fb-local(")
	scopeMarkersBack = strings.NewReplacer(":-fb-global(", ":global(", ":-fb-local(", ":local(")
)

var (
	cssURL    = regexp.MustCompile(`url\(\s*(?:"([^"]*)"|'([^']*)'|([^'")\s]+))\s*\)`)
	cssImport = regexp.MustCompile(`@import\s+(?:url\(\s*)?["']?([^"')\s;]+)["']?\s*\)?\s*([^;]*);`)
)

// css resolves url() and @import references into module requests and scopes
// class names for CSS Modules.
func (p *Pipeline) css(m *Module, u *unit, opts map[string]any) bool {
	if u.lang != langCSS {
		return p.wrongInput(m, u, config.ProcCSS, langCSS)
	}
	text := string(u.text)

	text = cssImport.ReplaceAllStringFunc(text, func(stmt string) string {
		parts := cssImport.FindStringSubmatch(stmt)
		req := parts[1]
		if isExternalURL(req) || strings.TrimSpace(parts[2]) != "" {
			return stmt
		}
		u.requests = appendUnique(u.requests, styleRequest(req))
		return ""
	})

	text = cssURL.ReplaceAllStringFunc(text, func(ref string) string {
		parts := cssURL.FindStringSubmatch(ref)
		raw := parts[1] + parts[2] + parts[3]
		if raw == "" || isExternalURL(raw) {
			return ref
		}
		target, suffix := raw, ""
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			target, suffix = raw[:i], raw[i:]
		}
		req := styleRequest(target)
		token := fmt.Sprintf("__FB_URL_%d_%s__", len(u.urlRefs), naming.Hash([]byte(req), 8))
		u.urlRefs = append(u.urlRefs, URLRef{Placeholder: token, Request: req})
		u.requests = appendUnique(u.requests, req)
		return "url(" + token + suffix + ")"
	})

	if modulesEnabled(u.path, opts) {
		ident := localIdentTemplate(opts)
		name, _ := naming.SplitExt(u.path)
		relPath := p.rel(u.path)
		u.locals = make(map[string]string)
		text = scopeCSS(text, func(local string) string {
			if scoped, ok := u.locals[local]; ok {
				return scoped
			}
			scoped := sanitizeIdent(naming.Render(ident, naming.Vars{
				Name:    name,
				Local:   local,
				Content: []byte(relPath + "\x00" + local),
			}))
			u.locals[local] = scoped
			return scoped
		})
	}
	u.text = []byte(text)
	return true
}

func isExternalURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "http:") ||
		strings.HasPrefix(lower, "https:") || strings.HasPrefix(s, "//") ||
		strings.HasPrefix(s, "#") || strings.HasPrefix(s, "/") || strings.HasPrefix(s, "__FB_URL_")
}

// styleRequest converts a stylesheet reference into a module request.
func styleRequest(ref string) string {
	switch {
	case strings.HasPrefix(ref, "~"):
		return ref[1:]
	case strings.HasPrefix(ref, "./"), strings.HasPrefix(ref, "../"):
		return ref
	default:
		return "./" + ref
	}
}

func modulesEnabled(path string, opts map[string]any) bool {
	switch v := opts["modules"].(type) {
	case bool:
		return v
	case map[string]any:
		switch auto := v["auto"].(type) {
		case string:
			return strings.HasSuffix(path, auto)
		case bool:
			return auto
		case nil:
			return true
		}
	}
	return false
}

func localIdentTemplate(opts map[string]any) string {
	if mods, ok := opts["modules"].(map[string]any); ok {
		if s, ok := mods["localIdentName"].(string); ok && s != "" {
			return s
		}
	}
	return "[hash:base64]"
}

var invalidIdentChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func sanitizeIdent(s string) string {
	s = invalidIdentChars.ReplaceAllString(s, "-")
	if s != "" && (s[0] >= '0' && s[0] <= '9') {
		s = "_" + s
	}
	return s
}

// style wraps the stylesheet in a module that injects it into the document.
func (p *Pipeline) style(m *Module, u *unit) bool {
	if u.lang != langCSS {
		return p.wrongInput(m, u, config.ProcStyle, langCSS)
	}
	cssLiteral, _ := json.Marshal(string(u.text))
	var b strings.Builder
	writeImports(&b, u.requests, u.urlRefs)
	fmt.Fprintf(&b, "var css = %s;\n", cssLiteral)
	b.WriteString(styleInjection)
	fmt.Fprintf(&b, "module.exports = %s;\n", localsLiteral(u.locals))
	u.text = []byte(b.String())
	u.lang = langJS
	m.Kind = KindStyle
	m.Hot = true
	return true
}

const styleInjection = `var style = document.createElement("style");
style.setAttribute("data-module", module.id);
style.appendChild(document.createTextNode(css));
document.head.appendChild(style);
if (module.hot) {
  module.hot.accept();
  module.hot.dispose(function () { if (style.parentNode) { style.parentNode.removeChild(style); } });
}
`

// extract keeps the stylesheet for the chunk's CSS file and exports only the class map.
func (p *Pipeline) extract(m *Module, u *unit) bool {
	if u.lang != langCSS {
		return p.wrongInput(m, u, config.ProcExtract, langCSS)
	}
	m.CSS = u.text
	var b strings.Builder
	writeImports(&b, u.requests, u.urlRefs)
	fmt.Fprintf(&b, "module.exports = %s;\n", localsLiteral(u.locals))
	u.text = []byte(b.String())
	u.lang = langJS
	m.Kind = KindStyle
	return true
}

// writeImports requires imported stylesheets so they load before this one.
func writeImports(b *strings.Builder, requests []string, refs []URLRef) {
	asset := make(map[string]bool, len(refs))
	for _, r := range refs {
		asset[r.Request] = true
	}
	for _, req := range requests {
		if asset[req] {
			continue
		}
		lit, _ := json.Marshal(req)
		fmt.Fprintf(b, "require(%s);\n", lit)
	}
}

func localsLiteral(locals map[string]string) string {
	if len(locals) == 0 {
		return "{}"
	}
	data, _ := json.Marshal(locals)
	return string(data)
}
