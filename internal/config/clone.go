package config

import (
	"maps"
	"slices"
)

// Clone returns a deep copy of c.
func (c *ResolvedConfig) Clone() *ResolvedConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Entry = maps.Clone(c.Entry)
	out.Resolve = Resolution{
		Alias:      maps.Clone(c.Resolve.Alias),
		Extensions: slices.Clone(c.Resolve.Extensions),
		Roots:      slices.Clone(c.Resolve.Roots),
	}
	out.Rules = make([]Rule, len(c.Rules))
	for i, r := range c.Rules {
		out.Rules[i] = r.clone()
	}
	out.Plugins = make([]Plugin, len(c.Plugins))
	for i, p := range c.Plugins {
		out.Plugins[i] = Plugin{Name: p.Name, Options: cloneOptions(p.Options)}
	}
	out.Optimization.Minimizers = slices.Clone(c.Optimization.Minimizers)
	out.Optimization.SplitChunks.CacheGroups = slices.Clone(c.Optimization.SplitChunks.CacheGroups)
	if c.Cache.BuildDependencies != nil {
		out.Cache.BuildDependencies = make(map[string][]string, len(c.Cache.BuildDependencies))
		for k, v := range c.Cache.BuildDependencies {
			out.Cache.BuildDependencies[k] = slices.Clone(v)
		}
	}
	if c.DevServer != nil {
		ds := *c.DevServer
		ds.Proxy = make([]ProxyRule, len(c.DevServer.Proxy))
		for i, p := range c.DevServer.Proxy {
			ds.Proxy[i] = p.clone()
		}
		out.DevServer = &ds
	}
	return &out
}

func (r Rule) clone() Rule {
	out := r
	if r.Use != nil {
		out.Use = make([]Step, len(r.Use))
		for i, s := range r.Use {
			out.Use[i] = Step{Processor: s.Processor, Options: cloneOptions(s.Options)}
		}
	}
	if r.Parser != nil {
		p := *r.Parser
		out.Parser = &p
	}
	if r.Generator != nil {
		g := *r.Generator
		out.Generator = &g
	}
	return out
}

func (p ProxyRule) clone() ProxyRule {
	out := p
	out.Context = slices.Clone(p.Context)
	out.PathRewrite = maps.Clone(p.PathRewrite)
	return out
}

// cloneOptions deep-copies nested option maps and lists.
func cloneOptions(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneOptions(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

// mergeOptions merges src into dst recursively; nested maps merge per key,
// everything else is replaced by a copy of the src value.
func mergeOptions(dst, src map[string]any) map[string]any {
	if dst == nil && src == nil {
		return nil
	}
	out := cloneOptions(dst)
	if out == nil {
		out = make(map[string]any, len(src))
	}
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := out[k].(map[string]any); ok {
				out[k] = mergeOptions(existing, sub)
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}
