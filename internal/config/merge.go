package config

import (
	"maps"
	"slices"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

// Merge applies overlay to a deep copy of base and returns the result.
// base is never modified. Contradictory overlays yield a configuration error.
func Merge(base *ResolvedConfig, overlay *Overlay) (*ResolvedConfig, error) {
	if base == nil {
		return nil, ferrors.InternalError("merge: nil base configuration").Build()
	}
	out := base.Clone()
	if overlay == nil {
		return out, nil
	}

	setIf(&out.Mode, overlay.Mode)
	setIf(&out.Devtool, overlay.Devtool)
	setIf(&out.Strict, overlay.Strict)
	if len(overlay.Entry) > 0 {
		if out.Entry == nil {
			out.Entry = make(map[string]string, len(overlay.Entry))
		}
		maps.Copy(out.Entry, overlay.Entry)
	}

	mergeOutput(&out.Output, overlay.Output)
	mergeResolution(&out.Resolve, overlay.Resolve)

	var err error
	if out.Rules, err = mergeKeyed("rules", out.Rules, overlay.Rules, Rule.Key, mergeRule); err != nil {
		return nil, err
	}
	if out.Plugins, err = mergeKeyed("plugins", out.Plugins, overlay.Plugins, Plugin.Key, mergePlugin); err != nil {
		return nil, err
	}
	if err = mergeOptimization(&out.Optimization, overlay.Optimization); err != nil {
		return nil, err
	}
	mergeCache(&out.Cache, overlay.Cache)
	if overlay.Stats != nil {
		out.Stats = *overlay.Stats
	}
	if overlay.Performance != nil {
		out.Performance = *overlay.Performance
	}
	if overlay.DevServer != nil {
		if out.DevServer == nil {
			out.DevServer = &DevServer{}
		}
		if err = mergeDevServer(out.DevServer, overlay.DevServer); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func mergeOutput(dst *Output, p OutputPatch) {
	setIf(&dst.Dir, p.Dir)
	setIf(&dst.Filename, p.Filename)
	setIf(&dst.ChunkFilename, p.ChunkFilename)
	setIf(&dst.StyleFilename, p.StyleFilename)
	setIf(&dst.PublicPath, p.PublicPath)
	setIf(&dst.HashFunction, p.HashFunction)
	setIf(&dst.Clean, p.Clean)
}

func mergeResolution(dst *Resolution, p ResolutionPatch) {
	if len(p.Alias) > 0 {
		if dst.Alias == nil {
			dst.Alias = make(map[string]string, len(p.Alias))
		}
		maps.Copy(dst.Alias, p.Alias)
	}
	if p.Extensions != nil {
		dst.Extensions = slices.Clone(p.Extensions)
	}
	if p.Roots != nil {
		dst.Roots = slices.Clone(p.Roots)
	}
}

func mergeOptimization(dst *Optimization, p OptimizationPatch) error {
	setIf(&dst.Minimize, p.Minimize)
	setIf(&dst.RuntimeChunk, p.RuntimeChunk)
	setIf(&dst.ModuleIDs, p.ModuleIDs)

	var err error
	if dst.Minimizers, err = mergeKeyed("optimization.minimizers", dst.Minimizers, p.Minimizers, Minimizer.Key, mergeMinimizer); err != nil {
		return err
	}

	sc := &dst.SplitChunks
	setIf(&sc.Chunks, p.SplitChunks.Chunks)
	setIf(&sc.MinSize, p.SplitChunks.MinSize)
	setIf(&sc.MinChunks, p.SplitChunks.MinChunks)
	setIf(&sc.MaxAsyncRequests, p.SplitChunks.MaxAsyncRequests)
	setIf(&sc.MaxInitialRequests, p.SplitChunks.MaxInitialRequests)
	setIf(&sc.EnforceSizeThreshold, p.SplitChunks.EnforceSizeThreshold)
	sc.CacheGroups, err = mergeKeyed("optimization.splitChunks.cacheGroups", sc.CacheGroups, p.SplitChunks.CacheGroups, CacheGroup.ident, mergeCacheGroup)
	return err
}

func mergeCache(dst *Cache, p CachePatch) {
	setIf(&dst.Type, p.Type)
	setIf(&dst.Directory, p.Directory)
	setIf(&dst.Name, p.Name)
	setIf(&dst.Version, p.Version)
	setIf(&dst.MaxAge, p.MaxAge)
	for label, files := range p.BuildDependencies {
		if dst.BuildDependencies == nil {
			dst.BuildDependencies = make(map[string][]string)
		}
		dst.BuildDependencies[label] = slices.Clone(files)
	}
}

func mergeDevServer(dst *DevServer, p *DevServerPatch) error {
	setIf(&dst.Host, p.Host)
	setIf(&dst.Port, p.Port)
	setIf(&dst.Hot, p.Hot)
	setIf(&dst.Compress, p.Compress)
	setIf(&dst.HistoryAPIFallback, p.HistoryAPIFallback)
	setIf(&dst.Open, p.Open)
	setIf(&dst.Overlay, p.Overlay)
	setIf(&dst.Progress, p.Progress)
	setIf(&dst.WatchDebounce, p.WatchDebounce)

	var err error
	dst.Proxy, err = mergeKeyed("devServer.proxy", dst.Proxy, p.Proxy, ProxyRule.Key, mergeProxy)
	return err
}

// mergeKeyed applies keyed entries to base. Base order is preserved; upserted
// items that are new are appended in overlay order.
func mergeKeyed[T any](list string, base []T, entries []Entry[T], key func(T) string, merge func(T, T) T) ([]T, error) {
	if len(entries) == 0 {
		return base, nil
	}

	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		k := entryKey(e, key)
		if k == "" {
			return nil, directiveError(list, k, e.Directive, "entry has no key")
		}
		if _, dup := seen[k]; dup {
			return nil, directiveError(list, k, e.Directive, "key appears more than once in one overlay")
		}
		seen[k] = struct{}{}
	}

	out := slices.Clone(base)
	index := make(map[string]int, len(out))
	for i, item := range out {
		if _, ok := index[key(item)]; !ok {
			index[key(item)] = i
		}
	}
	removed := make(map[int]struct{})

	for _, e := range entries {
		k := entryKey(e, key)
		pos, exists := index[k]
		directive := e.Directive
		if directive == "" {
			directive = DirectiveUpsert
		}
		switch directive {
		case DirectiveUpsert:
			if exists {
				out[pos] = e.Value
			} else {
				index[k] = len(out)
				out = append(out, e.Value)
			}
		case DirectiveReplace:
			if !exists {
				return nil, directiveError(list, k, directive, "cannot replace a key that does not exist")
			}
			out[pos] = e.Value
		case DirectiveMerge:
			if !exists {
				return nil, directiveError(list, k, directive, "cannot merge into a key that does not exist")
			}
			if e.Patch != nil {
				out[pos] = e.Patch.Apply(out[pos])
				continue
			}
			out[pos] = merge(out[pos], e.Value)
		case DirectiveRemove:
			if !exists {
				return nil, directiveError(list, k, directive, "cannot remove a key that does not exist")
			}
			removed[pos] = struct{}{}
		default:
			return nil, directiveError(list, k, directive, "unknown directive")
		}
	}

	if len(removed) == 0 {
		return out, nil
	}
	kept := out[:0:0]
	for i, item := range out {
		if _, gone := removed[i]; !gone {
			kept = append(kept, item)
		}
	}
	return kept, nil
}

func entryKey[T any](e Entry[T], key func(T) string) string {
	if e.Key != "" {
		return e.Key
	}
	if e.Directive == DirectiveRemove {
		return ""
	}
	return key(e.Value)
}

func directiveError(list, key string, d Directive, msg string) error {
	return ferrors.ConfigError(msg).
		WithContext("list", list).
		WithContext("key", key).
		WithContext("directive", string(d)).
		Fatal().
		Build()
}

// mergeRule overlays non-zero fields of patch onto base. Pipeline steps are
// keyed by processor: existing steps merge their options, new ones are appended.
func mergeRule(base, patch Rule) Rule {
	out := base.clone()
	if patch.Test != "" {
		out.Test = patch.Test
	}
	if patch.Exclude != "" {
		out.Exclude = patch.Exclude
	}
	if patch.Type != AssetTypeAuto {
		out.Type = patch.Type
	}
	if patch.Parser != nil {
		p := *patch.Parser
		out.Parser = &p
	}
	if patch.Generator != nil {
		g := *patch.Generator
		out.Generator = &g
	}
	for _, step := range patch.Use {
		idx := slices.IndexFunc(out.Use, func(s Step) bool { return s.Processor == step.Processor })
		if idx < 0 {
			out.Use = append(out.Use, Step{Processor: step.Processor, Options: cloneOptions(step.Options)})
			continue
		}
		out.Use[idx].Options = mergeOptions(out.Use[idx].Options, step.Options)
	}
	return out
}

func mergePlugin(base, patch Plugin) Plugin {
	return Plugin{Name: base.Name, Options: mergeOptions(base.Options, patch.Options)}
}

// mergeMinimizer and mergeCacheGroup overlay the non-zero fields of a merged
// Value; a MinimizerPatch or CacheGroupPatch is needed to clear a field.
func mergeMinimizer(base, patch Minimizer) Minimizer {
	out := base
	out.Parallel = out.Parallel || patch.Parallel
	out.DropConsole = out.DropConsole || patch.DropConsole
	out.DropDebugger = out.DropDebugger || patch.DropDebugger
	out.Comments = out.Comments || patch.Comments
	return out
}

func mergeCacheGroup(base, patch CacheGroup) CacheGroup {
	out := base
	if patch.Name != "" {
		out.Name = patch.Name
	}
	if patch.Test != "" {
		out.Test = patch.Test
	}
	if patch.Priority != 0 {
		out.Priority = patch.Priority
	}
	if patch.MinChunks != 0 {
		out.MinChunks = patch.MinChunks
	}
	if patch.Chunks != "" {
		out.Chunks = patch.Chunks
	}
	out.ReuseExistingChunk = out.ReuseExistingChunk || patch.ReuseExistingChunk
	out.Enforce = out.Enforce || patch.Enforce
	return out
}

func mergeProxy(base, patch ProxyRule) ProxyRule {
	out := base.clone()
	if len(patch.Context) > 0 {
		out.Context = slices.Clone(patch.Context)
	}
	if patch.Target != "" {
		out.Target = patch.Target
	}
	out.ChangeOrigin = out.ChangeOrigin || patch.ChangeOrigin
	if len(patch.PathRewrite) > 0 {
		if out.PathRewrite == nil {
			out.PathRewrite = make(map[string]string, len(patch.PathRewrite))
		}
		maps.Copy(out.PathRewrite, patch.PathRewrite)
	}
	return out
}
