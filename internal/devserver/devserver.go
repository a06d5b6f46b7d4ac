// Package devserver runs the development server: an in-memory compile served
// over HTTP, recompiled on file changes, with hot updates pushed to browsers
// over server-sent events and API requests proxied to a backend.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"git.home.luguber.info/inful/frontbuild/internal/compiler"
	"git.home.luguber.info/inful/frontbuild/internal/config"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
	"git.home.luguber.info/inful/frontbuild/internal/metrics"
)

// Compiler is the part of *compiler.Compiler the dev server drives.
type Compiler interface {
	Run(ctx context.Context) (*compiler.Stats, error)
	Invalidate()
	PruneCache(ctx context.Context, maxAge time.Duration) (int64, error)
	Close() error
}

// CompilerFactory creates the compiler for a configuration.
type CompilerFactory func(cfg *config.ResolvedConfig) (Compiler, error)

// DefaultPruneInterval is how often unused cache entries are removed.
const DefaultPruneInterval = time.Hour

type options struct {
	newCompiler    CompilerFactory
	out            io.Writer
	logger         *slog.Logger
	registry       *prometheus.Registry
	interfaceAddrs func() ([]net.Addr, error)
	openBrowser    func(url string) error
	pruneInterval  time.Duration
}

// Option configures Start.
type Option func(*options)

// WithCompilerFactory replaces the compiler constructor (used by tests).
func WithCompilerFactory(f CompilerFactory) Option {
	return func(o *options) { o.newCompiler = f }
}

// WithOutput sets where the startup banner is printed.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry sets the Prometheus registry behind the metrics endpoint.
func WithRegistry(r *prometheus.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithInterfaceAddrs replaces net.InterfaceAddrs when computing the network URL.
func WithInterfaceAddrs(f func() ([]net.Addr, error)) Option {
	return func(o *options) { o.interfaceAddrs = f }
}

// WithBrowserOpener replaces the command used to open the local URL.
func WithBrowserOpener(f func(url string) error) Option {
	return func(o *options) { o.openBrowser = f }
}

// WithPruneInterval sets how often the build cache is pruned.
func WithPruneInterval(d time.Duration) Option {
	return func(o *options) { o.pruneInterval = d }
}

// Handle controls a running dev server.
type Handle struct {
	Host       string
	Port       int
	LocalURL   string
	NetworkURL string
	Proxy      []config.ProxyRule

	hub    *Hub
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Done is closed once the server has shut down.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the error that stopped the server, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Clients returns the number of browsers connected for hot updates.
func (h *Handle) Clients() int { return h.hub.Clients() }

// Stop shuts the server down and waits until it is done or ctx expires.
func (h *Handle) Stop(ctx context.Context) error {
	h.cancel()
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err == nil {
		h.err = err
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	urlStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// Start binds the listener, compiles once and serves until ctx is cancelled
// or Stop is called. A listener that cannot be bound is a fatal resource error.
func Start(ctx context.Context, cfg *config.ResolvedConfig, opts ...Option) (*Handle, error) {
	if cfg.DevServer == nil {
		return nil, ferrors.ConfigError("configuration has no dev server section").
			WithContext("mode", string(cfg.Mode)).
			Build()
	}
	o := options{
		out:            os.Stdout,
		interfaceAddrs: net.InterfaceAddrs,
		openBrowser:    openBrowser,
		pruneInterval:  DefaultPruneInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}
	if o.newCompiler == nil {
		logger := o.logger
		o.newCompiler = func(cfg *config.ResolvedConfig) (Compiler, error) {
			return compiler.New(cfg, compiler.WithLogger(logger))
		}
	}
	ds := cfg.DevServer
	recorder := metrics.NewPrometheusRecorder(o.registry)

	addr := net.JoinHostPort(ds.Host, strconv.Itoa(ds.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryResource, "cannot bind dev server").
			WithContext("addr", addr).
			Fatal().
			Build()
	}

	proxies, err := newProxies(ds.Proxy, recorder, o.logger)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	c, err := o.newCompiler(cfg)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	hub := NewHub(recorder)
	srv := newServer(cfg, hub, proxies, o.registry, recorder, o.logger)
	rebuild := func(ctx context.Context, kind string) {
		started := time.Now()
		stats, err := c.Run(ctx)
		switch {
		case err != nil:
			outcome := metrics.OutcomeFailed
			if errors.Is(err, context.Canceled) {
				outcome = metrics.OutcomeCanceled
			} else {
				o.logger.Error("Compile failed", logfields.Error(err))
			}
			recorder.ObserveCompile(kind, time.Since(started), outcome)
		default:
			srv.apply(stats)
			recorder.ObserveCompile(kind, stats.Duration, outcomeOf(stats))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)

	debounce := ds.WatchDebounce
	if debounce <= 0 {
		debounce = config.DefaultWatchDebounce
	}
	w, err := newWatcher(cfg.Context, []string{cfg.Output.Dir, cfg.Cache.Directory}, debounce, o.logger)
	if err != nil {
		cancel()
		_ = c.Close()
		_ = ln.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryResource, "cannot watch project").
			WithContext("path", cfg.Context).
			Build()
	}
	// Edits saved while the initial compile runs queue one rebuild.
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		w.run(runCtx)
	}()
	rebuild(runCtx, "initial")

	sched, err := newPruneScheduler(c, cfg.Cache.MaxAge, o.pruneInterval, recorder, o.logger)
	if err != nil {
		cancel()
		_ = w.close()
		<-watchDone
		_ = c.Close()
		_ = ln.Close()
		return nil, err
	}

	port := ln.Addr().(*net.TCPAddr).Port
	h := &Handle{
		Host:       ds.Host,
		Port:       port,
		LocalURL:   localURL(ds.Host, port),
		NetworkURL: networkURL(o.interfaceAddrs, port),
		Proxy:      ds.Proxy,
		hub:        hub,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	httpServer := &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return runCtx },
	}

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.setErr(ferrors.WrapError(err, ferrors.CategoryNetwork, "dev server stopped").Build())
			cancel()
		}
	}()
	go func() {
		defer workers.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-w.requests:
				if w.structural.Swap(false) {
					c.Invalidate()
				}
				o.logger.Info("Change detected; recompiling")
				rebuild(runCtx, "rebuild")
			}
		}
	}()

	go func() {
		<-runCtx.Done()
		o.logger.Info("Shutting down dev server...")
		hub.Shutdown()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			o.logger.Warn("HTTP server shutdown error", logfields.Error(err))
		}
		_ = w.close()
		<-watchDone
		workers.Wait()
		if sched != nil {
			if err := sched.Shutdown(); err != nil {
				o.logger.Warn("Scheduler shutdown error", logfields.Error(err))
			}
		}
		if err := c.Close(); err != nil {
			o.logger.Warn("Failed to release compiler", logfields.Error(err))
		}
		close(h.done)
	}()

	printBanner(o.out, h)
	o.logger.Info("Dev server listening", logfields.Addr(ln.Addr().String()), "hot", ds.Hot)
	if ds.Open && o.openBrowser != nil {
		if err := o.openBrowser(h.LocalURL); err != nil {
			o.logger.Warn("Failed to open browser", logfields.Error(err))
		}
	}
	return h, nil
}

func outcomeOf(stats *compiler.Stats) metrics.Outcome {
	switch {
	case stats.HasErrors():
		return metrics.OutcomeFailed
	case len(stats.Diagnostics.Warnings()) > 0:
		return metrics.OutcomeWarning
	}
	return metrics.OutcomeSuccess
}

// newPruneScheduler removes stale cache entries periodically. It returns nil
// when cache entries never expire.
func newPruneScheduler(c Compiler, maxAge, every time.Duration, recorder metrics.Recorder, logger *slog.Logger) (gocron.Scheduler, error) {
	if maxAge <= 0 || every <= 0 {
		return nil, nil
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "create scheduler").Build()
	}
	_, err = s.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			n, err := c.PruneCache(ctx, maxAge)
			if err != nil {
				logger.Warn("Cache prune failed", logfields.Error(err))
				return
			}
			recorder.IncCachePruned(n)
			if n > 0 {
				logger.Info("Pruned build cache", "entries", n)
			}
		}),
		gocron.WithName("cache-prune"),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "schedule cache prune").Build()
	}
	s.Start()
	return s, nil
}

func printBanner(out io.Writer, h *Handle) {
	styled := false
	if f, ok := out.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	paint := func(st lipgloss.Style, s string) string {
		if styled {
			return st.Render(s)
		}
		return s
	}
	fmt.Fprintln(out, paint(titleStyle, "You can now view the app in the browser."))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  %-18s %s\n", "Local:", paint(urlStyle, h.LocalURL))
	if h.NetworkURL != "" {
		fmt.Fprintf(out, "  %-18s %s\n", "On Your Network:", paint(urlStyle, h.NetworkURL))
	}
	for _, p := range h.Proxy {
		for _, prefix := range p.Context {
			fmt.Fprintf(out, "  %-18s %s -> %s\n", "Proxy:", prefix, p.Target)
		}
	}
	fmt.Fprintln(out)
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
