package config

import "time"

// Directive says how an overlay list entry combines with the base list.
type Directive string

const (
	// DirectiveUpsert replaces the keyed item in place, or appends it when absent.
	DirectiveUpsert Directive = "upsert"
	// DirectiveReplace substitutes the keyed item; the key must exist.
	DirectiveReplace Directive = "replace"
	// DirectiveMerge deep-merges into the keyed item; the key must exist.
	DirectiveMerge Directive = "merge"
	// DirectiveRemove drops the keyed item; the key must exist.
	DirectiveRemove Directive = "remove"
)

// Entry is one keyed patch against an ordered base list.
type Entry[T any] struct {
	Directive Directive `yaml:"directive,omitempty"`
	// Key overrides the identity derived from Value.
	Key   string `yaml:"key,omitempty"`
	Value T      `yaml:"value,omitempty"`
	// Patch, when set on a merge entry, is applied instead of merging Value.
	Patch Patcher[T] `yaml:"-"`
}

// Patcher is a partial update of one list item. Unlike a merged Value it
// can set fields back to their zero value.
type Patcher[T any] interface {
	Apply(T) T
}

// Upsert builds an upsert entry.
func Upsert[T any](v T) Entry[T] { return Entry[T]{Directive: DirectiveUpsert, Value: v} }

// Replace builds a replace entry.
func Replace[T any](v T) Entry[T] { return Entry[T]{Directive: DirectiveReplace, Value: v} }

// MergeInto builds a merge entry.
func MergeInto[T any](v T) Entry[T] { return Entry[T]{Directive: DirectiveMerge, Value: v} }

// MergePatch builds a merge entry that applies p to the item named key.
func MergePatch[T any](key string, p Patcher[T]) Entry[T] {
	return Entry[T]{Directive: DirectiveMerge, Key: key, Patch: p}
}

// Remove builds a remove entry for key.
func Remove[T any](key string) Entry[T] { return Entry[T]{Directive: DirectiveRemove, Key: key} }

// Overlay is an environment-specific patch over the base configuration.
// Nil pointers, nil maps and empty entry lists leave the base untouched.
type Overlay struct {
	Name string

	Mode    *Mode
	Devtool *Devtool
	Entry   map[string]string

	Output       OutputPatch
	Resolve      ResolutionPatch
	Rules        []Entry[Rule]
	Plugins      []Entry[Plugin]
	Optimization OptimizationPatch
	Cache        CachePatch
	Stats        *Stats
	Performance  *Performance
	Strict       *bool
	DevServer    *DevServerPatch
}

type OutputPatch struct {
	Dir           *string
	Filename      *string
	ChunkFilename *string
	StyleFilename *string
	PublicPath    *string
	HashFunction  *string
	Clean         *bool
}

type ResolutionPatch struct {
	Alias map[string]string
	// Extensions and Roots replace the base lists when non-nil.
	Extensions []string
	Roots      []string
}

type OptimizationPatch struct {
	Minimize     *bool
	Minimizers   []Entry[Minimizer]
	SplitChunks  SplitChunksPatch
	RuntimeChunk *RuntimeChunk
	ModuleIDs    *string
}

type SplitChunksPatch struct {
	Chunks               *string
	MinSize              *int64
	MinChunks            *int
	MaxAsyncRequests     *int
	MaxInitialRequests   *int
	EnforceSizeThreshold *int64
	CacheGroups          []Entry[CacheGroup]
}

type CachePatch struct {
	Type              *string
	Directory         *string
	Name              *string
	Version           *string
	BuildDependencies map[string][]string
	MaxAge            *time.Duration
}

// DevServerPatch creates the dev server section when the base has none.
type DevServerPatch struct {
	Host               *string
	Port               *int
	Hot                *bool
	Compress           *bool
	HistoryAPIFallback *bool
	Open               *bool
	Overlay            *ClientOverlay
	Progress           *bool
	Proxy              []Entry[ProxyRule]
	WatchDebounce      *time.Duration
}

// MinimizerPatch updates the set fields of a minimizer.
type MinimizerPatch struct {
	Parallel     *bool
	DropConsole  *bool
	DropDebugger *bool
	Comments     *bool
}

// Apply implements Patcher.
func (p MinimizerPatch) Apply(m Minimizer) Minimizer {
	setIf(&m.Parallel, p.Parallel)
	setIf(&m.DropConsole, p.DropConsole)
	setIf(&m.DropDebugger, p.DropDebugger)
	setIf(&m.Comments, p.Comments)
	return m
}

// CacheGroupPatch updates the set fields of a cache group.
type CacheGroupPatch struct {
	Name               *string
	Test               *string
	Priority           *int
	MinChunks          *int
	Chunks             *string
	ReuseExistingChunk *bool
	Enforce            *bool
}

// Apply implements Patcher.
func (p CacheGroupPatch) Apply(g CacheGroup) CacheGroup {
	setIf(&g.Name, p.Name)
	setIf(&g.Test, p.Test)
	setIf(&g.Priority, p.Priority)
	setIf(&g.MinChunks, p.MinChunks)
	setIf(&g.Chunks, p.Chunks)
	setIf(&g.ReuseExistingChunk, p.ReuseExistingChunk)
	setIf(&g.Enforce, p.Enforce)
	return g
}

// Ptr returns a pointer to v; overlays use it for scalar patches.
func Ptr[T any](v T) *T { return &v }
