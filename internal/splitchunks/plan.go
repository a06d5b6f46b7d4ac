// Package splitchunks decides which modules go into which chunk.
//
// Every module reachable from an entry is offered to the cache groups in
// priority order (ties keep declaration order). The first group whose test
// and minChunks accept the module claims it. Groups that share a name build
// one chunk. A chunk smaller than minSize is dissolved unless one of its
// groups enforces splitting or it reaches enforceSizeThreshold; its modules
// are offered to the next group. Finally each entry's initial request count
// is capped by inlining its lowest-priority shared chunks.
package splitchunks

import (
	"cmp"
	"path/filepath"
	"slices"
	"strings"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

// Module is one node of the dependency graph.
type Module struct {
	ID   string
	Path string
	Size int64
	// Deps are the IDs of statically required modules in source order.
	Deps []string
}

// Entry names an entry point and its root module.
type Entry struct {
	Name string
	Root string
}

// Graph is the input to Plan.
type Graph struct {
	Modules map[string]*Module
	Entries []Entry
}

type ChunkKind string

const (
	KindEntry   ChunkKind = "entry"
	KindShared  ChunkKind = "shared"
	KindRuntime ChunkKind = "runtime"
)

// Chunk is one output script (plus its extracted stylesheet).
type Chunk struct {
	Name     string
	Kind     ChunkKind
	Modules  []string
	Size     int64
	Priority int
	// Entry is set for entry chunks.
	Entry string
	// Runtime marks entry chunks that embed the module runtime.
	Runtime bool
	// Entries lists the entry points that load this chunk.
	Entries []string
}

// Result is the outcome of planning.
type Result struct {
	Chunks []*Chunk
	// Load gives, per entry, the chunk names in load order; the entry chunk is last.
	Load map[string][]string
	// Home maps a module ID to the chunk that primarily owns it.
	Home map[string]string
	// Order is the global dependency-first module order.
	Order []string
}

// Chunk returns the chunk with the given name.
func (r *Result) Chunk(name string) *Chunk {
	for _, c := range r.Chunks {
		if c.Name == name {
			return c
		}
	}
	return nil
}

type group struct {
	config.CacheGroup
	index     int
	name      string
	minChunks int
	test      func(string) bool
}

type bucket struct {
	name     string
	groups   []*group
	modules  []string
	size     int64
	priority int
	enforce  bool
}

// Plan assigns every reachable module to chunks according to policy and runtime.
func Plan(g *Graph, policy config.SplitChunks, runtime config.RuntimeChunk) (*Result, error) {
	if len(g.Entries) == 0 {
		return nil, ferrors.ConfigError("no entries to plan").Build()
	}
	for _, e := range g.Entries {
		if _, ok := g.Modules[e.Root]; !ok {
			return nil, ferrors.InternalError("entry root missing from graph").WithContext("entry", e.Name).Build()
		}
	}

	order := postOrder(g)
	reach := reachability(g)
	roots := make(map[string]bool, len(g.Entries))
	for _, e := range g.Entries {
		roots[e.Root] = true
	}

	groups, err := compileGroups(policy)
	if err != nil {
		return nil, err
	}

	candidates := make([]string, 0, len(order))
	for _, id := range order {
		if !roots[id] {
			candidates = append(candidates, id)
		}
	}

	buckets := assign(g, policy, groups, candidates, reach)

	res := &Result{Load: make(map[string][]string), Home: make(map[string]string), Order: order}
	entryNames := make(map[string]bool, len(g.Entries))
	for _, e := range g.Entries {
		entryNames[e.Name] = true
	}
	for _, b := range buckets {
		if entryNames[b.name] {
			return nil, ferrors.ConfigError("cache group name collides with an entry name").
				WithContext("name", b.name).
				Build()
		}
	}

	shared := make(map[string]*Chunk, len(buckets))
	for _, b := range buckets {
		c := &Chunk{Name: b.name, Kind: KindShared, Modules: b.modules, Size: b.size, Priority: b.priority}
		shared[b.name] = c
		for _, id := range b.modules {
			res.Home[id] = c.Name
		}
	}

	maxInitial := policy.MaxInitialRequests
	var entryChunks []*Chunk
	for _, e := range g.Entries {
		// Shared chunks this entry needs, highest priority first.
		var needed []*Chunk
		for _, c := range sortedShared(shared) {
			for _, id := range c.Modules {
				if reach[id][e.Name] {
					needed = append(needed, c)
					break
				}
			}
		}
		inlined := make(map[string]bool)
		if maxInitial > 0 {
			// The entry chunk and a separate runtime chunk count as requests too.
			fixed := 1 + len(runtimeLoad(e.Name, runtime))
			for len(needed) > 0 && len(needed)+fixed > maxInitial {
				last := needed[len(needed)-1]
				inlined[last.Name] = true
				needed = needed[:len(needed)-1]
			}
		}

		ec := &Chunk{Name: e.Name, Kind: KindEntry, Entry: e.Name}
		for _, id := range order {
			if !reach[id][e.Name] {
				continue
			}
			home, isShared := res.Home[id]
			if isShared && !inlined[home] {
				continue
			}
			ec.Modules = append(ec.Modules, id)
			ec.Size += g.Modules[id].Size
			if !isShared {
				if _, claimed := res.Home[id]; !claimed {
					res.Home[id] = ec.Name
				}
			}
		}
		for _, c := range needed {
			c.Entries = append(c.Entries, e.Name)
		}

		load := runtimeLoad(e.Name, runtime)
		for _, c := range needed {
			load = append(load, c.Name)
		}
		res.Load[e.Name] = append(load, ec.Name)
		ec.Entries = []string{e.Name}
		ec.Runtime = runtimeMode(runtime) == "none"
		entryChunks = append(entryChunks, ec)
	}

	res.Chunks = append(res.Chunks, runtimeChunks(g, runtime)...)
	for _, c := range sortedByName(shared) {
		if len(c.Entries) == 0 {
			// Every entry inlined it.
			continue
		}
		res.Chunks = append(res.Chunks, c)
	}
	slices.SortFunc(entryChunks, func(a, b *Chunk) int { return cmp.Compare(a.Name, b.Name) })
	res.Chunks = append(res.Chunks, entryChunks...)

	names := make(map[string]bool, len(res.Chunks))
	for _, c := range res.Chunks {
		if names[c.Name] {
			return nil, ferrors.ConfigError("two chunks share a name").WithContext("chunk", c.Name).Build()
		}
		names[c.Name] = true
	}
	return res, nil
}

func compileGroups(policy config.SplitChunks) ([]*group, error) {
	groups := make([]*group, 0, len(policy.CacheGroups))
	for i, cg := range policy.CacheGroups {
		scope := cg.Chunks
		if scope == "" {
			scope = policy.Chunks
		}
		if scope == "async" {
			// Dynamic imports are bundled statically, so async-only groups never apply.
			continue
		}
		g := &group{CacheGroup: cg, index: i, name: cg.Name, minChunks: cg.MinChunks}
		if g.name == "" {
			g.name = cg.Key
		}
		if g.minChunks == 0 {
			g.minChunks = max(policy.MinChunks, 1)
		}
		if cg.Test == "" {
			g.test = func(string) bool { return true }
		} else {
			re, err := config.Pattern(cg.Test)
			if err != nil {
				return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid cache group test").
					WithContext("group", cg.Key).
					Build()
			}
			g.test = re.MatchString
		}
		groups = append(groups, g)
	}
	slices.SortStableFunc(groups, func(a, b *group) int {
		if a.Priority != b.Priority {
			return cmp.Compare(b.Priority, a.Priority)
		}
		return cmp.Compare(a.index, b.index)
	})
	return groups, nil
}

// assign offers candidates to groups until every resulting chunk satisfies minSize.
func assign(g *Graph, policy config.SplitChunks, groups []*group, candidates []string, reach map[string]map[string]bool) []*bucket {
	dissolved := make(map[*group]bool)
	for {
		byName := make(map[string]*bucket)
		var ordered []*bucket
		for _, id := range candidates {
			m := g.Modules[id]
			path := filepath.ToSlash(m.Path)
			for _, gr := range groups {
				if dissolved[gr] || len(reach[id]) < gr.minChunks || !gr.test(path) {
					continue
				}
				b, ok := byName[gr.name]
				if !ok {
					b = &bucket{name: gr.name, priority: gr.Priority}
					byName[gr.name] = b
					ordered = append(ordered, b)
				}
				if !slices.Contains(b.groups, gr) {
					b.groups = append(b.groups, gr)
					b.priority = max(b.priority, gr.Priority)
				}
				b.enforce = b.enforce || gr.Enforce
				b.modules = append(b.modules, id)
				b.size += m.Size
				break
			}
		}

		// Dissolve one chunk per pass, highest priority first: its modules may
		// lift a lower-priority chunk over minSize.
		var victim *bucket
		for _, b := range ordered {
			if !undersized(b, policy) {
				continue
			}
			if victim == nil || b.priority > victim.priority {
				victim = b
			}
		}
		if victim == nil {
			return ordered
		}
		for _, gr := range victim.groups {
			dissolved[gr] = true
		}
	}
}

func undersized(b *bucket, policy config.SplitChunks) bool {
	if b.size >= policy.MinSize || b.enforce {
		return false
	}
	return policy.EnforceSizeThreshold <= 0 || b.size < policy.EnforceSizeThreshold
}

func reachability(g *Graph) map[string]map[string]bool {
	reach := make(map[string]map[string]bool, len(g.Modules))
	for _, e := range g.Entries {
		stack := []string{e.Root}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if reach[id] == nil {
				reach[id] = make(map[string]bool)
			}
			if reach[id][e.Name] {
				continue
			}
			reach[id][e.Name] = true
			if m := g.Modules[id]; m != nil {
				for _, dep := range m.Deps {
					if _, ok := g.Modules[dep]; ok {
						stack = append(stack, dep)
					}
				}
			}
		}
	}
	return reach
}

// postOrder lists modules dependencies-first, visiting entries in order.
func postOrder(g *Graph) []string {
	visited := make(map[string]bool, len(g.Modules))
	var out []string
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		m, ok := g.Modules[id]
		if !ok {
			return
		}
		for _, dep := range m.Deps {
			visit(dep)
		}
		out = append(out, id)
	}
	for _, e := range g.Entries {
		visit(e.Root)
	}
	return out
}

func runtimeMode(rc config.RuntimeChunk) string {
	if rc.Mode == "" {
		return "none"
	}
	return rc.Mode
}

// RuntimeName returns the runtime chunk name used by entry, or "" when inlined.
func RuntimeName(entry string, rc config.RuntimeChunk) string {
	switch runtimeMode(rc) {
	case "single":
		if rc.Name == "" {
			return "runtime"
		}
		return strings.ReplaceAll(rc.Name, "[entry]", entry)
	case "multiple":
		name := rc.Name
		if name == "" {
			name = "runtime-[entry]"
		}
		return strings.ReplaceAll(name, "[entry]", entry)
	}
	return ""
}

func runtimeLoad(entry string, rc config.RuntimeChunk) []string {
	if name := RuntimeName(entry, rc); name != "" {
		return []string{name}
	}
	return nil
}

func runtimeChunks(g *Graph, rc config.RuntimeChunk) []*Chunk {
	byName := make(map[string]*Chunk)
	for _, e := range g.Entries {
		name := RuntimeName(e.Name, rc)
		if name == "" {
			continue
		}
		c, ok := byName[name]
		if !ok {
			c = &Chunk{Name: name, Kind: KindRuntime}
			byName[name] = c
		}
		c.Entries = append(c.Entries, e.Name)
	}
	return sortedByName(byName)
}

func sortedShared(m map[string]*Chunk) []*Chunk {
	out := sortedByName(m)
	slices.SortStableFunc(out, func(a, b *Chunk) int { return cmp.Compare(b.Priority, a.Priority) })
	return out
}

func sortedByName(m map[string]*Chunk) []*Chunk {
	out := make([]*Chunk, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Chunk) int { return cmp.Compare(a.Name, b.Name) })
	return out
}
