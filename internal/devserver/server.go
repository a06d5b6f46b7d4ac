package devserver

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/frontbuild/internal/compiler"
	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/htmldoc"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
	"git.home.luguber.info/inful/frontbuild/internal/metrics"
)

const (
	routePrefix = "/__frontbuild/"
	eventsPath  = routePrefix + "events"
	clientPath  = routePrefix + "client.js"
	hotPrefix   = routePrefix + "hot/"
	metricsPath = routePrefix + "metrics"
)

const (
	eventOK       = "ok"
	eventProblems = "problems"
	eventUpdate   = "update"
	eventReload   = "reload"
)

//go:embed assets/client.js
var clientSource string

// pendingPage is served before the first successful compile.
var pendingPage = []byte(`<!DOCTYPE html><html><head><meta charset="utf-8"><title>frontbuild</title></head><body><script src="` + clientPath + `"></script></body></html>`)

// content is the output of the last successful compile.
type content struct {
	hash   string
	assets map[string]*compiler.Asset
	// pages hold HTML assets with the client script injected.
	pages map[string][]byte
}

type problems struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// server holds what the HTTP routes serve and applies compile results.
type server struct {
	cfg      *config.DevServer
	index    string
	hub      *Hub
	proxies  []*proxy
	registry *prometheus.Registry
	recorder metrics.Recorder
	logger   *slog.Logger
	client   []byte

	current atomic.Pointer[content]

	mu  sync.Mutex
	hot map[string][]byte
}

func newServer(cfg *config.ResolvedConfig, hub *Hub, proxies []*proxy, registry *prometheus.Registry, recorder metrics.Recorder, logger *slog.Logger) *server {
	s := &server{
		cfg:      cfg.DevServer,
		index:    indexName(cfg),
		hub:      hub,
		proxies:  proxies,
		registry: registry,
		recorder: recorder,
		logger:   logger,
		hot:      make(map[string][]byte),
	}
	events, _ := json.Marshal(eventsPath)
	s.client = []byte(strings.NewReplacer(
		"__FB_OVERLAY_WARNINGS__", strconv.FormatBool(s.cfg.Overlay.Warnings),
		"__FB_OVERLAY_ERRORS__", strconv.FormatBool(s.cfg.Overlay.Errors),
		"__FB_EVENTS_URL__", string(events),
	).Replace(clientSource))
	return s
}

// indexName is the document served for "/" and history fallback.
func indexName(cfg *config.ResolvedConfig) string {
	if p, ok := cfg.Plugin(config.PluginHTML); ok {
		if name, _ := p.Options["filename"].(string); name != "" {
			return name
		}
	}
	return "index.html"
}

// apply publishes a compile result and tells connected browsers what changed.
func (s *server) apply(stats *compiler.Stats) {
	report := problems{Errors: []string{}, Warnings: []string{}}
	for _, d := range stats.Diagnostics.Errors() {
		report.Errors = append(report.Errors, d.String())
	}
	for _, d := range stats.Diagnostics.Warnings() {
		report.Warnings = append(report.Warnings, d.String())
	}
	log := s.logger.With(logfields.BuildID(stats.BuildID))

	if stats.HasErrors() {
		log.Warn("Compiled with errors", "errors", len(report.Errors), "warnings", len(report.Warnings))
		s.hub.Broadcast(newEvent(eventProblems, report))
		return
	}

	previous := s.current.Load()
	s.current.Store(s.snapshot(stats))
	if len(report.Warnings) > 0 {
		log.Info("Compiled with warnings", "warnings", len(report.Warnings), logfields.Duration(stats.Duration))
		s.hub.Broadcast(newEvent(eventProblems, report))
	} else {
		log.Info("Compiled successfully", logfields.Duration(stats.Duration))
		s.hub.Broadcast(newEvent(eventOK, struct{}{}))
	}

	if previous == nil || previous.hash == stats.Hash {
		return
	}
	hot := stats.Hot
	switch {
	case !s.cfg.Hot || hot == nil || hot.Reload:
		s.hub.Broadcast(newEvent(eventReload, struct{}{}))
	case len(hot.Script) > 0:
		url := hotPrefix + hot.Hash + ".js"
		s.mu.Lock()
		s.hot = map[string][]byte{hot.Hash + ".js": hot.Script}
		s.mu.Unlock()
		s.hub.Broadcast(newEvent(eventUpdate, map[string]any{"url": url, "modules": hot.Modules}))
	}
}

func (s *server) snapshot(stats *compiler.Stats) *content {
	c := &content{
		hash:   stats.Hash,
		assets: make(map[string]*compiler.Asset, len(stats.Assets)),
		pages:  make(map[string][]byte),
	}
	for _, a := range stats.Assets {
		c.assets[a.Name] = a
		if a.Kind != compiler.AssetHTML {
			continue
		}
		page, err := htmldoc.InjectScript(a.Content, clientPath)
		if err != nil {
			s.logger.Warn("Client injection failed", logfields.Asset(a.Name), logfields.Error(err))
			page = a.Content
		}
		c.pages[a.Name] = page
	}
	return c
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(eventsPath, s.hub)
	mux.HandleFunc(clientPath, s.serveClient)
	mux.HandleFunc(hotPrefix, s.serveHot)
	mux.Handle(metricsPath, metrics.HTTPHandler(s.registry))

	var files http.Handler = http.HandlerFunc(s.serveContent)
	if s.cfg.Compress {
		files = gzhttp.GzipHandler(files)
	}
	mux.Handle("/", withProxies(s.proxies, files))
	return mux
}

func (s *server) serveClient(w http.ResponseWriter, r *http.Request) {
	serveBytes(w, r, "client.js", s.client)
}

func (s *server) serveHot(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, hotPrefix)
	s.mu.Lock()
	script, ok := s.hot[name]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	serveBytes(w, r, name, script)
}

func (s *server) serveContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c := s.current.Load()
	if c == nil {
		serveBytes(w, r, "index.html", pendingPage)
		return
	}

	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		name = s.index
	}
	if page, ok := c.pages[name]; ok {
		serveBytes(w, r, name, page)
		return
	}
	if a, ok := c.assets[name]; ok {
		serveBytes(w, r, name, a.Content)
		return
	}
	if s.cfg.HistoryAPIFallback && path.Ext(name) == "" {
		if page, ok := c.pages[s.index]; ok {
			serveBytes(w, r, s.index, page)
			return
		}
	}
	http.NotFound(w, r)
}

func serveBytes(w http.ResponseWriter, r *http.Request, name string, body []byte) {
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(body))
}
