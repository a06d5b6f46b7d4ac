package devserver

import (
	"log/slog"
	"maps"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"git.home.luguber.info/inful/frontbuild/internal/config"
	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
	"git.home.luguber.info/inful/frontbuild/internal/metrics"
)

// proxy forwards requests under a rule's path prefixes to its target.
type proxy struct {
	rule    config.ProxyRule
	target  *url.URL
	rewrite []pathRewrite
	handler *httputil.ReverseProxy
}

type pathRewrite struct {
	re   *regexp.Regexp
	repl string
}

func newProxies(rules []config.ProxyRule, recorder metrics.Recorder, logger *slog.Logger) ([]*proxy, error) {
	out := make([]*proxy, 0, len(rules))
	for _, rule := range rules {
		p, err := newProxy(rule, recorder, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func newProxy(rule config.ProxyRule, recorder metrics.Recorder, logger *slog.Logger) (*proxy, error) {
	target, err := url.Parse(rule.Target)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, ferrors.ConfigError("proxy target must be an absolute URL").
			WithContext("proxy", rule.Name).
			WithContext("target", rule.Target).
			Build()
	}
	p := &proxy{rule: rule, target: target}
	for _, expr := range slices.Sorted(maps.Keys(rule.PathRewrite)) {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid proxy path rewrite").
				WithContext("proxy", rule.Name).
				WithContext("pattern", expr).
				Build()
		}
		p.rewrite = append(p.rewrite, pathRewrite{re: re, repl: rule.PathRewrite[expr]})
	}

	p.handler = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = joinPath(target.Path, p.rewritePath(pr.In.URL.Path))
			pr.Out.URL.RawPath = ""
			if !rule.ChangeOrigin {
				pr.Out.Host = pr.In.Host
			}
			pr.SetXForwarded()
		},
		ModifyResponse: func(resp *http.Response) error {
			recorder.IncProxyRequest(rule.Name, resp.StatusCode)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("Proxy request failed",
				"proxy", rule.Name,
				logfields.Path(r.URL.Path),
				logfields.Error(err))
			recorder.IncProxyRequest(rule.Name, http.StatusBadGateway)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return p, nil
}

// matches reports whether path falls under one of the rule's prefixes.
func (p *proxy) matches(path string) bool {
	for _, prefix := range p.rule.Context {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (p *proxy) rewritePath(path string) string {
	for _, rw := range p.rewrite {
		path = rw.re.ReplaceAllString(path, rw.repl)
	}
	return path
}

func joinPath(base, rel string) string {
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	base = strings.TrimSuffix(base, "/")
	return base + rel
}

// withProxies routes matching requests to their proxy before next.
func withProxies(proxies []*proxy, next http.Handler) http.Handler {
	if len(proxies) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, p := range proxies {
			if p.matches(r.URL.Path) {
				p.handler.ServeHTTP(w, r)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
