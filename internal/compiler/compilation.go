package compiler

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/diag"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
	"git.home.luguber.info/inful/frontbuild/internal/naming"
	"git.home.luguber.info/inful/frontbuild/internal/splitchunks"
	"git.home.luguber.info/inful/frontbuild/internal/transform"
)

// ignoredPrefix marks module IDs that deliberately have no factory.
const ignoredPrefix = "ignored:"

// record is one module of the current compilation.
type record struct {
	path string
	id   string
	mod  *transform.Module
	// deps maps each request to its resolved path; ignored requests map to "".
	deps    map[string]string
	ignored map[string]bool
}

// Compilation is the state of a single run.
type Compilation struct {
	c       *Compiler
	cfg     *config.ResolvedConfig
	buildID string

	records map[string]*record
	order   []string
	entries []splitchunks.Entry
	plan    *splitchunks.Result

	assets      map[string]*Asset
	entrypoints map[string][]string
	chunkFiles  map[string][]string
	diagnostics diag.List
}

func newCompilation(c *Compiler) *Compilation {
	return &Compilation{
		c:           c,
		cfg:         c.cfg,
		buildID:     uuid.NewString(),
		records:     make(map[string]*record),
		assets:      make(map[string]*Asset),
		entrypoints: make(map[string][]string),
		chunkFiles:  make(map[string][]string),
	}
}

// Config returns the configuration being compiled.
func (comp *Compilation) Config() *config.ResolvedConfig { return comp.cfg }

// Report adds diagnostics to the run.
func (comp *Compilation) Report(ds ...diag.Diagnostic) {
	comp.diagnostics = append(comp.diagnostics, ds...)
}

func (comp *Compilation) phase(name string, done, total int) {
	for _, p := range comp.c.plugins {
		if h, ok := p.(progressHook); ok {
			h.phase(name, done, total)
		}
	}
}

func (comp *Compilation) run(ctx context.Context) (*Stats, error) {
	log := comp.c.logger.With(logfields.BuildID(comp.buildID))
	log.Debug("Compile started", logfields.Mode(string(comp.cfg.Mode)))

	comp.phase("resolving entries", 0, 1)
	if err := comp.walk(ctx); err != nil {
		return nil, err
	}
	comp.assignIDs()

	if !comp.diagnostics.HasErrors() {
		if err := comp.seal(ctx); err != nil {
			return nil, err
		}
	}

	stats := comp.stats()
	comp.phase("done", 1, 1)
	log.Debug("Compile finished",
		"assets", len(stats.Assets),
		"errors", len(stats.Diagnostics.Errors()),
		"warnings", len(stats.Diagnostics.Warnings()))
	return stats, nil
}

// seal plans, renders and emits once the graph is complete and error free.
func (comp *Compilation) seal(ctx context.Context) error {
	comp.phase("planning chunks", 0, 1)
	plan, err := splitchunks.Plan(comp.graph(), comp.cfg.Optimization.SplitChunks, comp.cfg.Optimization.RuntimeChunk)
	if err != nil {
		return err
	}
	comp.plan = plan

	comp.emitModuleAssets()
	if err := comp.renderChunks(ctx); err != nil {
		return err
	}
	comp.performanceHints()

	for i, p := range comp.c.plugins {
		h, ok := p.(emitHook)
		if !ok {
			continue
		}
		comp.phase("emitting "+p.name(), i, len(comp.c.plugins))
		if err := h.emit(ctx, comp); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// walk transforms every module reachable from the entries, one level at a time.
func (comp *Compilation) walk(ctx context.Context) error {
	var frontier []string
	for _, name := range comp.cfg.EntryNames() {
		request := comp.cfg.Entry[name]
		path, err := comp.c.resolver.Resolve(request, comp.cfg.Context)
		if err != nil {
			comp.Report(diag.Errorf("entry", "", "Entry module not found: Can't resolve '%s' for entry %q", request, name))
			continue
		}
		comp.entries = append(comp.entries, splitchunks.Entry{Name: name, Root: path})
		if _, seen := comp.records[path]; !seen {
			comp.records[path] = &record{path: path}
			frontier = append(frontier, path)
		}
	}

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		comp.phase("building modules", len(comp.order), len(comp.records))

		mods := make([]*transform.Module, len(frontier))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(comp.c.workers)
		for i, path := range frontier {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				m, err := comp.c.pipeline.Transform(path)
				mods[i] = m
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		var next []string
		for i, path := range frontier {
			rec := comp.records[path]
			rec.mod = mods[i]
			comp.order = append(comp.order, path)
			comp.Report(rec.mod.Diagnostics...)
			for _, p := range comp.c.plugins {
				if h, ok := p.(moduleHook); ok {
					comp.Report(h.afterModule(comp, path, rec.mod)...)
				}
			}
			next = append(next, comp.resolveDeps(rec)...)
		}
		frontier = next
	}
	return nil
}

// resolveDeps resolves the requests of rec and returns newly discovered paths.
func (comp *Compilation) resolveDeps(rec *record) []string {
	rec.deps = make(map[string]string, len(rec.mod.Requests))
	rec.ignored = make(map[string]bool)
	dir := filepath.Dir(rec.path)
	var found []string
	for _, request := range rec.mod.Requests {
		if comp.ignores(request, dir) {
			rec.ignored[request] = true
			continue
		}
		path, err := comp.c.resolver.Resolve(request, dir)
		if err != nil {
			comp.Report(diag.Errorf("resolve", comp.rel(rec.path), "Module not found: Can't resolve '%s'", request))
			continue
		}
		rec.deps[request] = path
		if _, seen := comp.records[path]; !seen {
			comp.records[path] = &record{path: path}
			found = append(found, path)
		}
	}
	return found
}

func (comp *Compilation) ignores(request, dir string) bool {
	for _, p := range comp.c.plugins {
		if h, ok := p.(resolveHook); ok && h.ignore(request, dir) {
			return true
		}
	}
	return false
}

// assignIDs gives every module its runtime identifier.
func (comp *Compilation) assignIDs() {
	rels := make([]string, 0, len(comp.order))
	byRel := make(map[string]*record, len(comp.order))
	for _, path := range comp.order {
		rel := "./" + comp.rel(path)
		rels = append(rels, rel)
		byRel[rel] = comp.records[path]
	}
	slices.Sort(rels)

	if comp.cfg.Optimization.ModuleIDs != "deterministic" {
		for _, rel := range rels {
			byRel[rel].id = rel
		}
		return
	}
	used := make(map[string]bool, len(rels))
	for _, rel := range rels {
		for n := 4; ; n++ {
			id := naming.Hash([]byte(rel), n)
			if !used[id] {
				used[id] = true
				byRel[rel].id = id
				break
			}
		}
	}
}

// graph converts the records into the planner's input.
func (comp *Compilation) graph() *splitchunks.Graph {
	g := &splitchunks.Graph{Modules: make(map[string]*splitchunks.Module, len(comp.records))}
	for _, path := range comp.order {
		rec := comp.records[path]
		m := &splitchunks.Module{ID: rec.id, Path: rec.path, Size: rec.mod.Size}
		for _, req := range rec.mod.Requests {
			if dep, ok := rec.deps[req]; ok {
				m.Deps = append(m.Deps, comp.records[dep].id)
			}
		}
		g.Modules[rec.id] = m
	}
	for _, e := range comp.entries {
		g.Entries = append(g.Entries, splitchunks.Entry{Name: e.Name, Root: comp.records[e.Root].id})
	}
	return g
}

func (comp *Compilation) byID() map[string]*record {
	out := make(map[string]*record, len(comp.records))
	for _, rec := range comp.records {
		out[rec.id] = rec
	}
	return out
}

func (comp *Compilation) rel(path string) string {
	if r, err := filepath.Rel(comp.cfg.Context, path); err == nil && !strings.HasPrefix(r, "..") {
		return filepath.ToSlash(r)
	}
	return filepath.ToSlash(path)
}
