// Package compiler turns a ResolvedConfig into emitted bundles.
//
// A run walks the module graph from the entries, transforming each level of
// newly discovered files in parallel, plans chunks, renders them around a
// small module registry runtime, extracts stylesheets, minifies, names every
// file from the output templates and lets plugins add the HTML document,
// compressed copies and reports. All output stays in memory; orchestrators
// decide where it goes.
package compiler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/frontbuild/internal/cache"
	"git.home.luguber.info/inful/frontbuild/internal/config"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
	"git.home.luguber.info/inful/frontbuild/internal/resolve"
	"git.home.luguber.info/inful/frontbuild/internal/transform"
)

var (
	// ErrAlreadyRunning is returned when Run is called while another run is active.
	ErrAlreadyRunning = errors.New("compiler: a run is already in progress")
	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("compiler: closed")
)

// Option configures a Compiler.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	cache    transform.Cache
	noCache  bool
	workers  int
	progress io.Writer
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCache supplies the transform cache instead of opening the configured one.
func WithCache(c transform.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithoutCache disables transform caching.
func WithoutCache() Option {
	return func(o *options) { o.noCache = true }
}

// WithWorkers bounds parallel transforms and minification.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithProgressOutput redirects the progress plugin (stderr by default).
func WithProgressOutput(w io.Writer) Option {
	return func(o *options) { o.progress = w }
}

// Compiler compiles one ResolvedConfig, repeatedly if needed.
type Compiler struct {
	cfg      *config.ResolvedConfig
	resolver *resolve.Resolver
	pipeline *transform.Pipeline
	plugins  []plugin
	logger   *slog.Logger
	cache    transform.Cache
	store    *cache.Store
	workers  int
	progress io.Writer

	// processEnv is the define plugin's process.env object.
	processEnv map[string]any
	hot        bool

	running atomic.Bool
	closed  atomic.Bool

	mu       sync.Mutex
	previous *snapshot
}

// New validates cfg and prepares a compiler. Configuration problems
// (unknown plugins or processors, unreadable tsconfig) are returned here.
func New(cfg *config.ResolvedConfig, opts ...Option) (*Compiler, error) {
	o := options{progress: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.workers <= 0 {
		o.workers = runtime.GOMAXPROCS(0)
	}

	c := &Compiler{
		cfg:      cfg,
		resolver: resolve.New(cfg.Resolve),
		logger:   o.logger,
		workers:  o.workers,
		progress: o.progress,
	}

	if define, ok := cfg.Plugin(config.PluginDefine); ok {
		c.processEnv, _ = define.Options["process.env"].(map[string]any)
	}
	_, c.hot = cfg.Plugin(config.PluginHMR)

	plugins, err := resolvePlugins(c, cfg.Plugins)
	if err != nil {
		return nil, err
	}
	c.plugins = plugins

	tsconfig, err := transform.LoadTsconfig(cfg.Context)
	if err != nil {
		return nil, err
	}

	switch {
	case o.cache != nil:
		c.cache = o.cache
	case o.noCache:
	default:
		if err := c.openCache(); err != nil {
			return nil, err
		}
	}

	pipeline, err := transform.New(transform.Options{
		Config:   cfg,
		Resolver: c.resolver,
		Defines:  transform.Defines(c.processEnv),
		Tsconfig: tsconfig,
		Cache:    c.cache,
		Logger:   c.logger,
	})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.pipeline = pipeline
	return c, nil
}

func (c *Compiler) openCache() error {
	switch c.cfg.Cache.Type {
	case "filesystem":
		identity, err := config.Fingerprint(c.cfg)
		if err != nil {
			return err
		}
		store, err := cache.Open(c.cfg.Cache.Directory, c.cfg.Cache.Name, identity)
		if err != nil {
			return err
		}
		if store.Wiped() {
			c.logger.Info("Build cache invalidated", logfields.Path(store.Path()))
		}
		c.store = store
		c.cache = store
	case "memory":
		c.cache = newMemoryCache()
	}
	return nil
}

// Config returns the configuration the compiler was built with.
func (c *Compiler) Config() *config.ResolvedConfig { return c.cfg }

// Run performs one compile. Source problems are reported in Stats.Diagnostics;
// the error is reserved for configuration, resource and cancellation failures.
func (c *Compiler) Run(ctx context.Context) (*Stats, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer c.running.Store(false)

	started := time.Now()
	comp := newCompilation(c)
	stats, err := comp.run(ctx)
	if err != nil {
		return nil, err
	}
	stats.Started = started
	stats.Duration = time.Since(started)
	for _, p := range c.plugins {
		if h, ok := p.(doneHook); ok {
			h.done(stats)
		}
	}
	return stats, nil
}

// Invalidate drops cached resolution results after files were added,
// removed or renamed.
func (c *Compiler) Invalidate() {
	c.resolver.Invalidate()
}

// PruneCache removes persisted transform results unused for maxAge.
func (c *Compiler) PruneCache(ctx context.Context, maxAge time.Duration) (int64, error) {
	if c.store == nil {
		return 0, nil
	}
	return c.store.Prune(ctx, maxAge)
}

// Close releases the cache. It is safe to call more than once.
func (c *Compiler) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryResource, "close build cache").Build()
		}
	}
	return nil
}

// memoryCache keeps transform results for the compiler's lifetime.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*transform.Module
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*transform.Module)}
}

func (m *memoryCache) Get(key string) (*transform.Module, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mod, ok := m.entries[key]
	return mod, ok
}

func (m *memoryCache) Put(key string, mod *transform.Module) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = mod
	return nil
}
