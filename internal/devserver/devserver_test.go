package devserver

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/frontbuild/internal/compiler"
	"git.home.luguber.info/inful/frontbuild/internal/config"
	"git.home.luguber.info/inful/frontbuild/internal/diag"
	"git.home.luguber.info/inful/frontbuild/internal/env"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/metrics"
)

const page = `<!DOCTYPE html><html><head><title>App</title></head><body><div id="root"></div><script src="/app.js"></script></body></html>`

func compose(t *testing.T, root string, ambient map[string]string) *config.ResolvedConfig {
	t.Helper()
	project, err := config.LoadProject(root)
	require.NoError(t, err)
	loader := &env.Loader{
		Dir: root,
		LookupEnv: func(k string) (string, bool) {
			v, ok := ambient[k]
			return v, ok
		},
		Setenv: func(string, string) error { return nil },
	}
	e, err := loader.Resolve(env.Development)
	require.NoError(t, err)
	cfg, err := config.Compose(project, e, config.ModeDevelopment)
	require.NoError(t, err)
	return cfg
}

// devConfig returns a development config bound to an ephemeral loopback port.
func devConfig(t *testing.T) *config.ResolvedConfig {
	t.Helper()
	cfg := compose(t, t.TempDir(), map[string]string{"HOST": "127.0.0.1", "BROWSER": "none"})
	cfg.DevServer.Port = 0
	cfg.DevServer.WatchDebounce = 20 * time.Millisecond
	return cfg
}

type fakeCompiler struct {
	mu          sync.Mutex
	results     []*compiler.Stats
	runs        int
	invalidated atomic.Int32
	closed      atomic.Bool
	// onRun is called with the zero-based run number before it returns.
	onRun func(run int)
}

func (f *fakeCompiler) Run(context.Context) (*compiler.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := min(f.runs, len(f.results)-1)
	if f.onRun != nil {
		f.onRun(f.runs)
	}
	f.runs++
	return f.results[i], nil
}

func (f *fakeCompiler) Invalidate() { f.invalidated.Add(1) }

func (f *fakeCompiler) PruneCache(context.Context, time.Duration) (int64, error) { return 0, nil }

func (f *fakeCompiler) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeCompiler) Runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func stats(hash, script string) *compiler.Stats {
	return &compiler.Stats{
		BuildID: "build-" + hash,
		Hash:    hash,
		Assets: []*compiler.Asset{
			{Name: "app.js", Content: []byte(script), Kind: compiler.AssetScript},
			{Name: "index.html", Content: []byte(page), Kind: compiler.AssetHTML},
		},
	}
}

func start(t *testing.T, cfg *config.ResolvedConfig, fc *fakeCompiler, opts ...Option) *Handle {
	t.Helper()
	opts = append([]Option{
		WithCompilerFactory(func(*config.ResolvedConfig) (Compiler, error) { return fc, nil }),
		WithOutput(io.Discard),
		WithInterfaceAddrs(func() ([]net.Addr, error) { return nil, nil }),
		WithBrowserOpener(func(string) error {
			t.Error("browser must not be opened")
			return nil
		}),
	}, opts...)
	h, err := Start(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Stop(ctx)
	})
	return h
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestPortFallsBackAndFollowsEnvironment(t *testing.T) {
	root := t.TempDir()

	cfg := compose(t, root, nil)
	assert.Equal(t, 3000, cfg.DevServer.Port)

	cfg = compose(t, root, map[string]string{"PORT": "4000"})
	assert.Equal(t, 4000, cfg.DevServer.Port)

	addrs := func() ([]net.Addr, error) {
		return []net.Addr{
			&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)},
			&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
			&net.IPNet{IP: net.ParseIP("192.168.1.20"), Mask: net.CIDRMask(24, 32)},
		}, nil
	}
	assert.Equal(t, "http://localhost:4000", localURL(cfg.DevServer.Host, cfg.DevServer.Port))
	assert.Equal(t, "http://localhost:4000", localURL("0.0.0.0", 4000))
	assert.Equal(t, "http://192.168.1.20:4000", networkURL(addrs, cfg.DevServer.Port))
	assert.Empty(t, networkURL(func() ([]net.Addr, error) { return nil, nil }, 4000))
}

func TestStartReportsBoundURLs(t *testing.T) {
	cfg := devConfig(t)
	fc := &fakeCompiler{results: []*compiler.Stats{stats("h1", "console.log(1)")}}
	h := start(t, cfg, fc, WithInterfaceAddrs(func() ([]net.Addr, error) {
		return []net.Addr{&net.IPNet{IP: net.ParseIP("10.0.0.7"), Mask: net.CIDRMask(8, 32)}}, nil
	}))

	require.NotZero(t, h.Port)
	assert.Equal(t, "http://127.0.0.1:"+strconv.Itoa(h.Port), h.LocalURL)
	assert.Equal(t, "http://10.0.0.7:"+strconv.Itoa(h.Port), h.NetworkURL)
	assert.Equal(t, 1, fc.Runs())
}

func TestServesPagesWithClientAndHistoryFallback(t *testing.T) {
	cfg := devConfig(t)
	fc := &fakeCompiler{results: []*compiler.Stats{stats("h1", "console.log(1)")}}
	h := start(t, cfg, fc)

	code, body := get(t, h.LocalURL+"/")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `<script src="/__frontbuild/client.js"></script>`)
	assert.Contains(t, body, `<div id="root"></div>`)

	code, fallback := get(t, h.LocalURL+"/dashboard/users")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, body, fallback)

	code, script := get(t, h.LocalURL+"/app.js")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "console.log(1)", script)

	code, _ = get(t, h.LocalURL+"/missing.png")
	assert.Equal(t, http.StatusNotFound, code)

	code, client := get(t, h.LocalURL+clientPath)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, client, `new EventSource("/__frontbuild/events")`)
	assert.Contains(t, client, "var showErrors = true;")
	assert.Contains(t, client, "var showWarnings = false;")
}

func TestHistoryFallbackCanBeDisabled(t *testing.T) {
	cfg := devConfig(t)
	cfg.DevServer.HistoryAPIFallback = false
	fc := &fakeCompiler{results: []*compiler.Stats{stats("h1", "x")}}
	h := start(t, cfg, fc)

	code, _ := get(t, h.LocalURL+"/dashboard")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestProxyStripsPrefixAndChangesOrigin(t *testing.T) {
	type seen struct{ path, query, host string }
	requests := make(chan seen, 2)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- seen{r.URL.Path, r.URL.RawQuery, r.Host}
		_, _ = io.WriteString(w, "from api")
	}))
	t.Cleanup(upstream.Close)

	cfg := devConfig(t)
	cfg.DevServer.Proxy = []config.ProxyRule{
		{Name: "api", Context: []string{"/api"}, Target: upstream.URL, ChangeOrigin: true, PathRewrite: map[string]string{"^/api": ""}},
		{Name: "auth", Context: []string{"/auth"}, Target: upstream.URL + "/v1"},
	}
	fc := &fakeCompiler{results: []*compiler.Stats{stats("h1", "x")}}
	h := start(t, cfg, fc)

	code, body := get(t, h.LocalURL+"/api/users?page=2")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "from api", body)
	got := <-requests
	assert.Equal(t, "/users", got.path)
	assert.Equal(t, "page=2", got.query)
	assert.Equal(t, strings.TrimPrefix(upstream.URL, "http://"), got.host)

	code, _ = get(t, h.LocalURL+"/auth/login")
	require.Equal(t, http.StatusOK, code)
	got = <-requests
	assert.Equal(t, "/v1/auth/login", got.path)
	assert.Equal(t, strings.TrimPrefix(h.LocalURL, "http://"), got.host)
}

func TestProxyUnreachableTargetIsBadGateway(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	target := "http://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := devConfig(t)
	cfg.DevServer.Proxy = []config.ProxyRule{{Name: "api", Context: []string{"/api"}, Target: target}}
	fc := &fakeCompiler{results: []*compiler.Stats{stats("h1", "x")}}
	h := start(t, cfg, fc)

	code, _ := get(t, h.LocalURL+"/api/ping")
	assert.Equal(t, http.StatusBadGateway, code)
}

func TestInvalidProxyTargetIsConfigError(t *testing.T) {
	cfg := devConfig(t)
	cfg.DevServer.Proxy = []config.ProxyRule{{Name: "api", Context: []string{"/api"}, Target: "localhost"}}
	fc := &fakeCompiler{results: []*compiler.Stats{stats("h1", "x")}}

	_, err := Start(context.Background(), cfg,
		WithCompilerFactory(func(*config.ResolvedConfig) (Compiler, error) { return fc, nil }),
		WithOutput(io.Discard))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
	assert.Zero(t, fc.Runs())
}

func TestBindFailureIsFatalResourceError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	cfg := devConfig(t)
	cfg.DevServer.Port = ln.Addr().(*net.TCPAddr).Port
	fc := &fakeCompiler{results: []*compiler.Stats{stats("h1", "x")}}

	_, err = Start(context.Background(), cfg,
		WithCompilerFactory(func(*config.ResolvedConfig) (Compiler, error) { return fc, nil }),
		WithOutput(io.Discard))
	require.Error(t, err)
	ce, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.CategoryResource, ce.Category())
	assert.True(t, ce.IsFatal())
	assert.Zero(t, fc.Runs())
}

func TestMissingDevServerSectionIsConfigError(t *testing.T) {
	cfg := devConfig(t)
	cfg.DevServer = nil
	_, err := Start(context.Background(), cfg, WithOutput(io.Discard))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

// events reads server-sent event names from the stream.
func events(t *testing.T, url string) <-chan string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	out := make(chan string, 16)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
				out <- name
			}
		}
	}()
	return out
}

func next(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case name, ok := <-ch:
		require.True(t, ok, "event stream closed")
		return name
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return ""
	}
}

func TestFileChangeRebuildsAndPushesHotUpdate(t *testing.T) {
	cfg := devConfig(t)
	second := stats("h2", "console.log(2)")
	second.Hot = &compiler.HotUpdate{Hash: "h2", Modules: []string{"./src/index.js"}, Script: []byte("self.__fb_hot__.apply({})")}
	fc := &fakeCompiler{results: []*compiler.Stats{stats("h1", "console.log(1)"), second}}
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Context, "src"), 0o755))
	h := start(t, cfg, fc)

	stream := events(t, h.LocalURL+eventsPath)
	assert.Equal(t, eventOK, next(t, stream))
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Context, "src", "index.js"), []byte("x"), 0o600))

	assert.Equal(t, eventOK, next(t, stream))
	assert.Equal(t, eventUpdate, next(t, stream))
	assert.GreaterOrEqual(t, fc.Runs(), 2)
	assert.Positive(t, fc.invalidated.Load())

	code, script := get(t, h.LocalURL+hotPrefix+"h2.js")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "self.__fb_hot__.apply({})", script)

	code, body := get(t, h.LocalURL+"/app.js")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "console.log(2)", body)
}

func TestBurstOfChangesCoalescesIntoOneRebuild(t *testing.T) {
	cfg := devConfig(t)
	cfg.DevServer.WatchDebounce = 250 * time.Millisecond
	second := stats("h2", "console.log(2)")
	second.Hot = &compiler.HotUpdate{Hash: "h2", Modules: []string{"./src/a.js"}, Script: []byte("self.__fb_hot__.apply({})")}
	fc := &fakeCompiler{results: []*compiler.Stats{stats("h1", "console.log(1)"), second}}
	src := filepath.Join(cfg.Context, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	h := start(t, cfg, fc)

	stream := events(t, h.LocalURL+eventsPath)
	assert.Equal(t, eventOK, next(t, stream))
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	for i := range 5 {
		name := filepath.Join(src, "file"+strconv.Itoa(i)+".js")
		require.NoError(t, os.WriteFile(name, []byte("x"), 0o600))
	}

	assert.Equal(t, eventOK, next(t, stream))
	assert.Equal(t, eventUpdate, next(t, stream))
	select {
	case name := <-stream:
		t.Fatalf("unexpected event %q after the coalesced rebuild", name)
	case <-time.After(3 * cfg.DevServer.WatchDebounce):
	}
	assert.Equal(t, 2, fc.Runs())

	code, body := get(t, h.LocalURL+metricsPath)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `frontbuild_compile_outcomes_total{kind="rebuild",outcome="success"} 1`)
}

func TestChangeDuringInitialCompileTriggersRebuild(t *testing.T) {
	cfg := devConfig(t)
	src := filepath.Join(cfg.Context, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	fc := &fakeCompiler{results: []*compiler.Stats{stats("h1", "console.log(1)"), stats("h2", "console.log(2)")}}
	fc.onRun = func(run int) {
		if run == 0 {
			require.NoError(t, os.WriteFile(filepath.Join(src, "index.js"), []byte("saved during startup"), 0o600))
		}
	}
	h := start(t, cfg, fc)

	require.Eventually(t, func() bool { return fc.Runs() == 2 }, 5*time.Second, 10*time.Millisecond)
	code, body := get(t, h.LocalURL+"/app.js")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "console.log(2)", body)
}

func TestStopShutsDownAndClosesCompiler(t *testing.T) {
	cfg := devConfig(t)
	fc := &fakeCompiler{results: []*compiler.Stats{stats("h1", "x")}}
	h, err := Start(context.Background(), cfg,
		WithCompilerFactory(func(*config.ResolvedConfig) (Compiler, error) { return fc, nil }),
		WithOutput(io.Discard))
	require.NoError(t, err)

	stream := events(t, h.LocalURL+eventsPath)
	assert.Equal(t, eventOK, next(t, stream))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Stop(ctx))
	assert.True(t, fc.closed.Load())
	select {
	case <-h.Done():
	default:
		t.Fatal("handle not done after Stop")
	}
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-stream:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestErrorsKeepPreviousContent(t *testing.T) {
	cfg := devConfig(t)
	hub := NewHub(nil)
	srv := newServer(cfg, hub, nil, prometheus.NewRegistry(), metrics.NoopRecorder{}, discardLogger())
	handler := srv.routes()

	srv.apply(stats("h1", "console.log(1)"))
	broken := stats("h2", "")
	broken.Assets = nil
	broken.Diagnostics = diag.List{diag.Errorf("resolve", "src/index.js", "Module not found: Can't resolve './missing'")}
	srv.apply(broken)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	hub.mu.RLock()
	status := hub.status
	hub.mu.RUnlock()
	require.NotNil(t, status)
	assert.Equal(t, eventProblems, status.Name)
	assert.Contains(t, string(status.Data), "Module not found")
}

func TestHotDisabledReloadsOnChange(t *testing.T) {
	cfg := devConfig(t)
	cfg.DevServer.Hot = false
	hub := NewHub(nil)
	srv := newServer(cfg, hub, nil, prometheus.NewRegistry(), metrics.NoopRecorder{}, discardLogger())

	client := &hubClient{id: 1, ch: make(chan Event, 8), done: make(chan struct{})}
	hub.clients[1] = client

	srv.apply(stats("h1", "a"))
	srv.apply(stats("h2", "b"))
	var names []string
	for len(client.ch) > 0 {
		names = append(names, (<-client.ch).Name)
	}
	assert.Equal(t, []string{eventOK, eventOK, eventReload}, names)
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := devConfig(t)
	fc := &fakeCompiler{results: []*compiler.Stats{stats("h1", "x")}}
	h := start(t, cfg, fc)

	code, body := get(t, h.LocalURL+metricsPath)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `frontbuild_compile_outcomes_total{kind="initial",outcome="success"} 1`)
}

func TestShouldIgnoreEvent(t *testing.T) {
	for path, want := range map[string]bool{
		"src/index.tsx":      false,
		"src/.index.tsx.swp": true,
		"src/index.tsx~":     true,
		"src/#index.tsx#":    true,
		"src/.DS_Store":      true,
	} {
		assert.Equal(t, want, shouldIgnoreEvent(path), path)
	}
}
