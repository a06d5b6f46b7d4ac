package config

import (
	"regexp"
	"sort"
	"time"
)

// Mode selects mode-dependent compiler defaults.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// Devtool selects how source maps are produced.
type Devtool string

const (
	DevtoolNone            Devtool = "none"
	DevtoolEvalSourceMap   Devtool = "eval-source-map"
	DevtoolHiddenSourceMap Devtool = "hidden-source-map"
	DevtoolSourceMap       Devtool = "source-map"
)

// AssetType controls how a rule's matched files become modules.
type AssetType string

const (
	// AssetTypeAuto runs the rule's processing pipeline (script or stylesheet modules).
	AssetTypeAuto     AssetType = ""
	AssetTypeResource AssetType = "asset/resource"
	AssetTypeInline   AssetType = "asset/inline"
	// AssetTypeAsset inlines files up to the parser threshold and emits larger ones.
	AssetTypeAsset AssetType = "asset"
)

// ResolvedConfig is the single configuration object consumed by the compiler.
// It is produced by Merge and must not be mutated once handed to an orchestrator.
type ResolvedConfig struct {
	Mode    Mode    `json:"mode" yaml:"mode"`
	Context string  `json:"context" yaml:"context"`
	Devtool Devtool `json:"devtool" yaml:"devtool"`

	// Entry maps entry names to module requests relative to Context.
	Entry map[string]string `json:"entry" yaml:"entry"`

	Output       Output       `json:"output" yaml:"output"`
	Resolve      Resolution   `json:"resolve" yaml:"resolve"`
	Rules        []Rule       `json:"rules" yaml:"rules"`
	Plugins      []Plugin     `json:"plugins" yaml:"plugins"`
	Optimization Optimization `json:"optimization" yaml:"optimization"`
	Cache        Cache        `json:"cache" yaml:"cache"`
	Stats        Stats        `json:"stats" yaml:"stats"`
	Performance  Performance  `json:"performance" yaml:"performance"`

	// Strict turns compile warnings into a failed build.
	Strict bool `json:"strict" yaml:"strict"`

	// DevServer is only present in development configurations.
	DevServer *DevServer `json:"devServer,omitempty" yaml:"dev_server,omitempty"`
}

// EntryNames returns entry names in deterministic order.
func (c *ResolvedConfig) EntryNames() []string {
	names := make([]string, 0, len(c.Entry))
	for name := range c.Entry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Plugin returns the plugin descriptor with the given name.
func (c *ResolvedConfig) Plugin(name string) (Plugin, bool) {
	for _, p := range c.Plugins {
		if p.Name == name {
			return p, true
		}
	}
	return Plugin{}, false
}

// Output describes where and how emitted files are named.
type Output struct {
	Dir           string `json:"dir" yaml:"dir"`
	Filename      string `json:"filename" yaml:"filename"`
	ChunkFilename string `json:"chunkFilename" yaml:"chunk_filename"`
	StyleFilename string `json:"styleFilename" yaml:"style_filename"`
	PublicPath    string `json:"publicPath" yaml:"public_path"`
	// HashFunction names the digest behind [contenthash] and [hash].
	HashFunction string `json:"hashFunction" yaml:"hash_function"`
	Clean        bool   `json:"clean" yaml:"clean"`
}

// Resolution holds module-resolution rules.
type Resolution struct {
	Alias      map[string]string `json:"alias" yaml:"alias"`
	Extensions []string          `json:"extensions" yaml:"extensions"`
	// Roots are module search roots. Absolute roots are searched directly,
	// relative names (node_modules) hierarchically from the importer upward.
	Roots []string `json:"roots" yaml:"roots"`
}

// Rule is a per-file-type transform rule.
type Rule struct {
	// Name is the merge key; when empty the Test pattern is the key.
	Name    string    `json:"name,omitempty" yaml:"name,omitempty"`
	Test    string    `json:"test" yaml:"test"`
	Exclude string    `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	Type    AssetType `json:"type,omitempty" yaml:"type,omitempty"`
	// Use is the processing pipeline in execution order.
	Use       []Step     `json:"use,omitempty" yaml:"use,omitempty"`
	Parser    *Parser    `json:"parser,omitempty" yaml:"parser,omitempty"`
	Generator *Generator `json:"generator,omitempty" yaml:"generator,omitempty"`
}

// Key returns the identity used when merging rule lists.
func (r Rule) Key() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Test
}

// Matches reports whether the rule applies to path.
func (r Rule) Matches(path string) bool {
	test, err := compilePattern(r.Test)
	if err != nil || test == nil || !test.MatchString(path) {
		return false
	}
	if r.Exclude != "" {
		if exclude, err := compilePattern(r.Exclude); err == nil && exclude.MatchString(path) {
			return false
		}
	}
	return true
}

// Step returns the pipeline step for processor, if any.
func (r Rule) Step(processor string) (Step, bool) {
	for _, s := range r.Use {
		if s.Processor == processor {
			return s, true
		}
	}
	return Step{}, false
}

// Step is one processor in a rule's pipeline.
type Step struct {
	Processor string         `json:"processor" yaml:"processor"`
	Options   map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// Key returns the merge identity of a step.
func (s Step) Key() string { return s.Processor }

// Parser configures asset classification.
type Parser struct {
	// InlineMaxSize is the data-URL threshold in bytes; files of exactly this size are inlined.
	InlineMaxSize int64 `json:"inlineMaxSize" yaml:"inline_max_size"`
}

// Generator configures emitted asset names.
type Generator struct {
	Filename string `json:"filename" yaml:"filename"`
}

// Plugin is a declarative build-time hook resolved by name in the compiler.
type Plugin struct {
	Name    string         `json:"name" yaml:"name"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// Key returns the merge identity of a plugin.
func (p Plugin) Key() string { return p.Name }

// Optimization configures minification and code splitting.
type Optimization struct {
	Minimize     bool         `json:"minimize" yaml:"minimize"`
	Minimizers   []Minimizer  `json:"minimizers,omitempty" yaml:"minimizers,omitempty"`
	SplitChunks  SplitChunks  `json:"splitChunks" yaml:"split_chunks"`
	RuntimeChunk RuntimeChunk `json:"runtimeChunk" yaml:"runtime_chunk"`
	// ModuleIDs is "named" (readable paths) or "deterministic" (short hashes).
	ModuleIDs string `json:"moduleIds" yaml:"module_ids"`
}

// Minimizer configures one minification pass.
type Minimizer struct {
	// Name is "script" or "style".
	Name     string `json:"name" yaml:"name"`
	Parallel bool   `json:"parallel" yaml:"parallel"`
	// DropConsole and DropDebugger strip diagnostic calls and breakpoints.
	DropConsole  bool `json:"dropConsole,omitempty" yaml:"drop_console,omitempty"`
	DropDebugger bool `json:"dropDebugger,omitempty" yaml:"drop_debugger,omitempty"`
	Comments     bool `json:"comments" yaml:"comments"`
}

// Key returns the merge identity of a minimizer.
func (m Minimizer) Key() string { return m.Name }

// SplitChunks is the chunk-splitting policy.
type SplitChunks struct {
	Chunks               string       `json:"chunks" yaml:"chunks"`
	MinSize              int64        `json:"minSize" yaml:"min_size"`
	MinChunks            int          `json:"minChunks" yaml:"min_chunks"`
	MaxAsyncRequests     int          `json:"maxAsyncRequests" yaml:"max_async_requests"`
	MaxInitialRequests   int          `json:"maxInitialRequests" yaml:"max_initial_requests"`
	EnforceSizeThreshold int64        `json:"enforceSizeThreshold" yaml:"enforce_size_threshold"`
	CacheGroups          []CacheGroup `json:"cacheGroups" yaml:"cache_groups"`
}

// CacheGroup routes matching modules into a named shared chunk.
type CacheGroup struct {
	Key  string `json:"key" yaml:"key"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Test matches module resource paths; empty matches every module.
	Test      string `json:"test,omitempty" yaml:"test,omitempty"`
	Priority  int    `json:"priority" yaml:"priority"`
	MinChunks int    `json:"minChunks,omitempty" yaml:"min_chunks,omitempty"`
	// Chunks is "initial", "async" or "all"; empty inherits the policy value.
	Chunks             string `json:"chunks,omitempty" yaml:"chunks,omitempty"`
	ReuseExistingChunk bool   `json:"reuseExistingChunk,omitempty" yaml:"reuse_existing_chunk,omitempty"`
	Enforce            bool   `json:"enforce,omitempty" yaml:"enforce,omitempty"`
}

// ident returns the merge identity of a cache group.
func (g CacheGroup) ident() string { return g.Key }

// RuntimeChunk controls extraction of the module-loading runtime.
type RuntimeChunk struct {
	// Mode is "single" (one shared runtime), "multiple" (one per entry) or "none" (inlined).
	Mode string `json:"mode" yaml:"mode"`
	// Name is the chunk name template; "[entry]" is replaced by the entry name.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Cache configures the on-disk transform cache.
type Cache struct {
	// Type is "filesystem", "memory" or "none".
	Type      string `json:"type" yaml:"type"`
	Directory string `json:"directory,omitempty" yaml:"directory,omitempty"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	Version   string `json:"version,omitempty" yaml:"version,omitempty"`
	// BuildDependencies lists files whose contents invalidate the cache, grouped by label.
	BuildDependencies map[string][]string `json:"buildDependencies,omitempty" yaml:"build_dependencies,omitempty"`
	MaxAge            time.Duration       `json:"maxAge,omitempty" yaml:"max_age,omitempty"`
}

// Stats controls build report verbosity.
type Stats struct {
	Modules      bool `json:"modules" yaml:"modules"`
	Children     bool `json:"children" yaml:"children"`
	Chunks       bool `json:"chunks" yaml:"chunks"`
	ChunkModules bool `json:"chunkModules" yaml:"chunk_modules"`
	ErrorDetails bool `json:"errorDetails" yaml:"error_details"`
}

// Performance configures size hints.
type Performance struct {
	// Hints is "", "warning" or "error".
	Hints             string `json:"hints" yaml:"hints"`
	MaxEntrypointSize int64  `json:"maxEntrypointSize,omitempty" yaml:"max_entrypoint_size,omitempty"`
	MaxAssetSize      int64  `json:"maxAssetSize,omitempty" yaml:"max_asset_size,omitempty"`
}

// DevServer configures the development HTTP server.
type DevServer struct {
	Host               string        `json:"host" yaml:"host"`
	Port               int           `json:"port" yaml:"port"`
	Hot                bool          `json:"hot" yaml:"hot"`
	Compress           bool          `json:"compress" yaml:"compress"`
	HistoryAPIFallback bool          `json:"historyApiFallback" yaml:"history_api_fallback"`
	Open               bool          `json:"open" yaml:"open"`
	Overlay            ClientOverlay `json:"overlay" yaml:"overlay"`
	Progress           bool          `json:"progress" yaml:"progress"`
	Proxy              []ProxyRule   `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	WatchDebounce      time.Duration `json:"watchDebounce" yaml:"watch_debounce"`
}

// ClientOverlay selects which diagnostics the browser overlay shows.
type ClientOverlay struct {
	Errors   bool `json:"errors" yaml:"errors"`
	Warnings bool `json:"warnings" yaml:"warnings"`
}

// ProxyRule forwards matching requests to an upstream origin.
type ProxyRule struct {
	Name         string   `json:"name" yaml:"name"`
	Context      []string `json:"context" yaml:"context"`
	Target       string   `json:"target" yaml:"target"`
	ChangeOrigin bool     `json:"changeOrigin" yaml:"change_origin"`
	// PathRewrite maps regular expressions to replacements applied to the request path.
	PathRewrite map[string]string `json:"pathRewrite,omitempty" yaml:"path_rewrite,omitempty"`
}

// Key returns the merge identity of a proxy rule.
func (p ProxyRule) Key() string { return p.Name }

var patternCache = newPatternCache()

// compilePattern compiles and memoizes rule patterns.
func compilePattern(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	return patternCache.get(expr)
}
