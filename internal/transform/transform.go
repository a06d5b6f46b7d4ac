// Package transform turns source files into CommonJS modules by running them
// through the processing pipeline of the first matching rule.
//
// Processors: script (TypeScript/JSX transpilation), hot-reload, less,
// postcss, css (url() rewriting and CSS-Modules scoping), style (runtime
// injection) and extract (collected into chunk stylesheets). Rules with an
// asset type bypass processors and produce asset modules.
package transform

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zeebo/blake3"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/diag"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
	"git.home.luguber.info/inful/frontbuild/internal/resolve"
)

// Cache stores transform results between runs.
type Cache interface {
	Get(key string) (*Module, bool)
	Put(key string, m *Module) error
}

// Options configure a Pipeline.
type Options struct {
	Config   *config.ResolvedConfig
	Resolver *resolve.Resolver
	// Defines are global expression substitutions (process.env.X -> JSON literal).
	Defines  map[string]string
	Tsconfig Tsconfig
	Cache    Cache
	Logger   *slog.Logger
}

// Pipeline transforms files according to a configuration's rules.
type Pipeline struct {
	cfg      *config.ResolvedConfig
	resolver *resolve.Resolver
	defines  map[string]string
	tsconfig Tsconfig
	cache    Cache
	logger   *slog.Logger
}

var knownProcessors = map[string]struct{}{
	config.ProcScript:    {},
	config.ProcHotReload: {},
	config.ProcLess:      {},
	config.ProcPostCSS:   {},
	config.ProcCSS:       {},
	config.ProcStyle:     {},
	config.ProcExtract:   {},
}

// New validates rule processors and returns a Pipeline.
func New(opts Options) (*Pipeline, error) {
	for _, r := range opts.Config.Rules {
		for _, s := range r.Use {
			if _, ok := knownProcessors[s.Processor]; !ok {
				return nil, ferrors.ConfigError("unknown processor").
					WithContext("rule", r.Key()).
					WithContext("processor", s.Processor).
					Fatal().
					Build()
			}
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:      opts.Config,
		resolver: opts.Resolver,
		defines:  opts.Defines,
		tsconfig: opts.Tsconfig,
		cache:    opts.Cache,
		logger:   logger,
	}, nil
}

// Defines flattens the define plugin's process.env map into per-key substitutions.
func Defines(processEnv map[string]any) map[string]string {
	out := make(map[string]string, len(processEnv))
	for k, v := range processEnv {
		if !identifier.MatchString(k) {
			continue
		}
		encoded, err := json.Marshal(fmt.Sprint(v))
		if err != nil {
			continue
		}
		out["process.env."+k] = string(encoded)
	}
	return out
}

var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Transform reads path and runs it through its rule. Problems in the source
// are reported as diagnostics on the module; the error is reserved for I/O.
func (p *Pipeline) Transform(path string) (*Module, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "read module").
			WithContext("path", path).
			Build()
	}

	rule, matched := p.match(path)
	ruleKey := ""
	if matched {
		ruleKey = rule.Key()
	}
	key := cacheKey(path, ruleKey, content)
	if p.cache != nil {
		if m, ok := p.cache.Get(key); ok && inputsUnchanged(m) {
			return m, nil
		}
	}

	m := p.run(path, content, rule, matched)
	if p.cache != nil && !m.Failed() {
		if err := p.cache.Put(key, m); err != nil {
			p.logger.Warn("Failed to store transform result", logfields.Path(path), logfields.Error(err))
		}
	}
	return m, nil
}

func (p *Pipeline) match(path string) (config.Rule, bool) {
	slashed := filepath.ToSlash(path)
	for _, r := range p.cfg.Rules {
		if r.Matches(slashed) {
			return r, true
		}
	}
	return config.Rule{}, false
}

func cacheKey(path, rule string, content []byte) string {
	h := blake3.New()
	_, _ = h.Write([]byte(path))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(rule))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func contentDigest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// inputsUnchanged reports whether every inlined file still has the content
// the cached module was built from.
func inputsUnchanged(m *Module) bool {
	for _, in := range m.Inputs {
		data, err := os.ReadFile(in.Path)
		if err != nil || contentDigest(data) != in.Digest {
			return false
		}
	}
	return true
}

func (p *Pipeline) run(path string, content []byte, rule config.Rule, matched bool) *Module {
	m := &Module{Path: path, Size: int64(len(content))}
	if !matched {
		p.builtin(m, content)
		return m
	}
	m.Rule = rule.Key()
	if rule.Type != config.AssetTypeAuto {
		p.asset(m, content, rule)
		return m
	}

	u := &unit{path: path, text: content, lang: langOf(path)}
	for _, step := range rule.Use {
		if !p.apply(m, u, step) {
			return m
		}
	}
	if u.lang == langCSS {
		m.Diagnostics = append(m.Diagnostics, diag.Errorf("pipeline", p.rel(path),
			"rule %q leaves a stylesheet without a style or extract step", rule.Key()))
		return m
	}
	m.Code = u.text
	if m.Kind == "" {
		m.Kind = KindScript
	}
	m.Requests = appendUnique(u.requests, scanRequires(u.text)...)
	m.URLRefs = u.urlRefs
	return m
}

// builtin handles files no rule claims: JSON and plain JavaScript (typically from node_modules).
func (p *Pipeline) builtin(m *Module, content []byte) {
	switch strings.ToLower(filepath.Ext(m.Path)) {
	case ".json":
		m.Kind = KindJSON
		if !json.Valid(content) {
			m.Diagnostics = append(m.Diagnostics, diag.Errorf("json", p.rel(m.Path), "invalid JSON"))
			return
		}
		m.Code = []byte("module.exports = " + strings.TrimSpace(string(content)) + ";")
	case ".js", ".mjs", ".cjs":
		u := &unit{path: m.Path, text: content, lang: langScript}
		if !p.script(m, u, nil) {
			return
		}
		m.Kind = KindScript
		m.Code = u.text
		m.Requests = scanRequires(u.text)
	default:
		m.Diagnostics = append(m.Diagnostics, diag.Errorf("pipeline", p.rel(m.Path),
			"no rule matches this file type; add a rule for %q", filepath.Ext(m.Path)))
	}
}

const (
	langScript = "script"
	langCSS    = "css"
	langJS     = "js"
)

// unit is the in-flight state of one file moving through a pipeline.
type unit struct {
	path     string
	text     []byte
	lang     string
	locals   map[string]string
	requests []string
	urlRefs  []URLRef
}

func langOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".css", ".less":
		return langCSS
	default:
		return langScript
	}
}

func (p *Pipeline) apply(m *Module, u *unit, step config.Step) bool {
	switch step.Processor {
	case config.ProcScript:
		return p.script(m, u, step.Options)
	case config.ProcHotReload:
		return p.hotReload(m, u)
	case config.ProcLess:
		return p.less(m, u)
	case config.ProcPostCSS:
		return p.postcss(m, u)
	case config.ProcCSS:
		return p.css(m, u, step.Options)
	case config.ProcStyle:
		return p.style(m, u)
	case config.ProcExtract:
		return p.extract(m, u)
	}
	return false
}

func (p *Pipeline) wrongInput(m *Module, u *unit, processor, want string) bool {
	m.Diagnostics = append(m.Diagnostics, diag.Errorf(processor, p.rel(u.path),
		"processor expects %s input, got %s", want, u.lang))
	return false
}

func (p *Pipeline) hotReload(m *Module, u *unit) bool {
	if u.lang != langJS {
		return p.wrongInput(m, u, config.ProcHotReload, langJS)
	}
	if strings.Contains(filepath.ToSlash(u.path), "/node_modules/") {
		return true
	}
	u.text = append(u.text, []byte(hotAcceptFooter)...)
	m.Hot = true
	return true
}

const hotAcceptFooter = "\nif (module.hot) { module.hot.accept(); }\n"

func (p *Pipeline) rel(path string) string {
	if p.cfg.Context == "" {
		return filepath.ToSlash(path)
	}
	if r, err := filepath.Rel(p.cfg.Context, path); err == nil && !strings.HasPrefix(r, "..") {
		return filepath.ToSlash(r)
	}
	return filepath.ToSlash(path)
}

var requireCall = regexp.MustCompile(`\brequire\(\s*(?:"((?:[^"\\\n]|\\.)*)"|'((?:[^'\\\n]|\\.)*)')\s*\)`)

// scanRequires returns literal require() specifiers in order of appearance.
func scanRequires(code []byte) []string {
	var out []string
	for _, m := range requireCall.FindAllSubmatch(code, -1) {
		specifier := string(m[1])
		if specifier == "" {
			specifier = string(m[2])
		}
		if specifier != "" {
			out = appendUnique(out, specifier)
		}
	}
	return out
}

// RewriteRequires replaces each literal require() specifier with the JSON
// string returned by mapping. Specifiers mapped to "" are left untouched.
func RewriteRequires(code []byte, mapping func(request string) string) []byte {
	return requireCall.ReplaceAllFunc(code, func(call []byte) []byte {
		m := requireCall.FindSubmatch(call)
		specifier := string(m[1])
		if specifier == "" {
			specifier = string(m[2])
		}
		target := mapping(specifier)
		if target == "" {
			return call
		}
		lit, _ := json.Marshal(target)
		return append(append([]byte("require("), lit...), ')')
	})
}

func appendUnique(list []string, items ...string) []string {
	for _, it := range items {
		dup := false
		for _, existing := range list {
			if existing == it {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, it)
		}
	}
	return list
}
