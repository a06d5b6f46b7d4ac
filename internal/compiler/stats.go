package compiler

import (
	"path"
	"slices"
	"strings"
	"time"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/diag"
)

// AssetKind classifies emitted files for reporting.
type AssetKind string

const (
	AssetScript     AssetKind = "js"
	AssetStyle      AssetKind = "css"
	AssetHTML       AssetKind = "html"
	AssetImage      AssetKind = "image"
	AssetFont       AssetKind = "font"
	AssetSourceMap  AssetKind = "map"
	AssetCompressed AssetKind = "gzip"
	AssetReport     AssetKind = "report"
	AssetOther      AssetKind = "other"
)

// Asset is one emitted file held in memory.
type Asset struct {
	Name    string
	Content []byte
	Kind    AssetKind
	// Chunks names the chunks the asset belongs to.
	Chunks []string
	// Initial marks files loaded by an entry point on page load.
	Initial bool
}

// Size returns the content length in bytes.
func (a *Asset) Size() int64 { return int64(len(a.Content)) }

// ChunkStats summarizes one planned chunk.
type ChunkStats struct {
	Name    string
	Kind    string
	Files   []string
	Modules []string
	Size    int64
	Entries []string
}

// ModuleStats summarizes one module in the graph.
type ModuleStats struct {
	ID     string
	Path   string
	Size   int64
	Chunks []string
}

// HotUpdate carries modules that changed since the previous run.
type HotUpdate struct {
	Hash    string
	Modules []string
	Removed []string
	// Script applies the update in a running page.
	Script []byte
	// Reload is set when the change cannot be applied in place.
	Reload bool
}

// Stats is the outcome of one compile.
type Stats struct {
	BuildID  string
	Hash     string
	Mode     config.Mode
	Started  time.Time
	Duration time.Duration

	Assets      []*Asset
	Chunks      []ChunkStats
	Modules     []ModuleStats
	Entrypoints map[string][]string
	Diagnostics diag.List

	// Hot is set on rebuilds of a hot-enabled compiler.
	Hot *HotUpdate
}

// HasErrors reports whether the compile produced error diagnostics.
func (s *Stats) HasErrors() bool { return s.Diagnostics.HasErrors() }

// Asset returns the emitted file with the given name.
func (s *Stats) Asset(name string) *Asset {
	i, found := slices.BinarySearchFunc(s.Assets, name, func(a *Asset, n string) int {
		return strings.Compare(a.Name, n)
	})
	if !found {
		return nil
	}
	return s.Assets[i]
}

// Files returns emitted file names in order.
func (s *Stats) Files() []string {
	out := make([]string, len(s.Assets))
	for i, a := range s.Assets {
		out[i] = a.Name
	}
	return out
}

func kindOf(name string) AssetKind {
	switch strings.ToLower(path.Ext(name)) {
	case ".js", ".mjs":
		return AssetScript
	case ".css":
		return AssetStyle
	case ".html":
		return AssetHTML
	case ".map":
		return AssetSourceMap
	case ".gz":
		return AssetCompressed
	case ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico", ".avif":
		return AssetImage
	case ".woff", ".woff2", ".eot", ".ttf", ".otf":
		return AssetFont
	case ".json":
		return AssetReport
	}
	return AssetOther
}
