package config

import (
	"fmt"
	"net/url"
	"strings"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

// Validate checks a resolved configuration before it is handed to the compiler.
func Validate(c *ResolvedConfig) error {
	v := &validator{cfg: c}
	v.mode()
	v.entries()
	v.output()
	v.rules()
	v.plugins()
	v.splitChunks()
	v.devServer()
	if len(v.problems) == 0 {
		return nil
	}
	b := ferrors.ConfigError("invalid configuration: " + strings.Join(v.problems, "; ")).Fatal()
	for i, p := range v.problems {
		b = b.WithContext(fmt.Sprintf("problem_%d", i+1), p)
	}
	return b.Build()
}

type validator struct {
	cfg      *ResolvedConfig
	problems []string
}

func (v *validator) addf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) mode() {
	switch v.cfg.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		v.addf("unknown mode %q", v.cfg.Mode)
	}
	switch v.cfg.Devtool {
	case DevtoolNone, DevtoolEvalSourceMap, DevtoolHiddenSourceMap, DevtoolSourceMap:
	default:
		v.addf("unknown devtool %q", v.cfg.Devtool)
	}
}

func (v *validator) entries() {
	if len(v.cfg.Entry) == 0 {
		v.addf("at least one entry is required")
	}
	for _, name := range v.cfg.EntryNames() {
		if strings.TrimSpace(name) == "" {
			v.addf("entry name must not be empty")
		}
		if v.cfg.Entry[name] == "" {
			v.addf("entry %q has no module", name)
		}
	}
}

// output ensures the filename templates cannot map two chunks onto one path.
func (v *validator) output() {
	o := v.cfg.Output
	if o.Dir == "" {
		v.addf("output directory is required")
	}
	if len(v.cfg.Entry) > 1 && !distinguishes(o.Filename) {
		v.addf("output filename %q must contain [name], [id] or [contenthash] with several entries", o.Filename)
	}
	if !distinguishes(o.ChunkFilename) {
		v.addf("chunk filename %q must contain [name], [id] or [contenthash]", o.ChunkFilename)
	}
	if !distinguishes(o.StyleFilename) {
		v.addf("style filename %q must contain [name], [id] or [contenthash]", o.StyleFilename)
	}
}

func distinguishes(template string) bool {
	return strings.Contains(template, "[name]") ||
		strings.Contains(template, "[id]") ||
		strings.Contains(template, "[contenthash")
}

func (v *validator) rules() {
	seen := make(map[string]struct{}, len(v.cfg.Rules))
	for _, r := range v.cfg.Rules {
		if _, dup := seen[r.Key()]; dup {
			v.addf("duplicate rule %q", r.Key())
		}
		seen[r.Key()] = struct{}{}
		if r.Test == "" {
			v.addf("rule %q has no test pattern", r.Key())
		} else if _, err := compilePattern(r.Test); err != nil {
			v.addf("rule %q: invalid test pattern: %v", r.Key(), err)
		}
		if r.Exclude != "" {
			if _, err := compilePattern(r.Exclude); err != nil {
				v.addf("rule %q: invalid exclude pattern: %v", r.Key(), err)
			}
		}
		switch r.Type {
		case AssetTypeAuto:
			if len(r.Use) == 0 {
				v.addf("rule %q has neither an asset type nor processing steps", r.Key())
			}
		case AssetTypeResource, AssetTypeInline, AssetTypeAsset:
		default:
			v.addf("rule %q: unknown asset type %q", r.Key(), r.Type)
		}
		if r.Parser != nil && r.Parser.InlineMaxSize < 0 {
			v.addf("rule %q: inline threshold must not be negative", r.Key())
		}
	}
}

func (v *validator) plugins() {
	seen := make(map[string]struct{}, len(v.cfg.Plugins))
	for _, p := range v.cfg.Plugins {
		if p.Name == "" {
			v.addf("plugin without a name")
			continue
		}
		if _, dup := seen[p.Name]; dup {
			v.addf("duplicate plugin %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
}

func (v *validator) splitChunks() {
	sc := v.cfg.Optimization.SplitChunks
	seen := make(map[string]struct{}, len(sc.CacheGroups))
	for _, g := range sc.CacheGroups {
		if g.Key == "" {
			v.addf("cache group without a key")
			continue
		}
		if _, dup := seen[g.Key]; dup {
			v.addf("duplicate cache group %q", g.Key)
		}
		seen[g.Key] = struct{}{}
		if g.Test != "" {
			if _, err := compilePattern(g.Test); err != nil {
				v.addf("cache group %q: invalid test pattern: %v", g.Key, err)
			}
		}
	}
	if sc.MaxInitialRequests < 0 || sc.MaxAsyncRequests < 0 || sc.MinSize < 0 {
		v.addf("split chunk limits must not be negative")
	}
	switch v.cfg.Optimization.RuntimeChunk.Mode {
	case "single", "multiple", "none", "":
	default:
		v.addf("unknown runtime chunk mode %q", v.cfg.Optimization.RuntimeChunk.Mode)
	}
}

func (v *validator) devServer() {
	ds := v.cfg.DevServer
	if ds == nil {
		return
	}
	if v.cfg.Mode == ModeProduction {
		v.addf("dev server settings are not allowed in production mode")
	}
	if ds.Port < 0 || ds.Port > 65535 {
		v.addf("dev server port %d out of range", ds.Port)
	}
	for _, p := range ds.Proxy {
		u, err := url.Parse(p.Target)
		if err != nil || u.Scheme == "" || u.Host == "" {
			v.addf("proxy %q: target %q is not an absolute URL", p.Name, p.Target)
		}
		if len(p.Context) == 0 {
			v.addf("proxy %q has no path context", p.Name)
		}
		for expr := range p.PathRewrite {
			if _, err := compilePattern(expr); err != nil {
				v.addf("proxy %q: invalid path rewrite %q: %v", p.Name, expr, err)
			}
		}
	}
}
