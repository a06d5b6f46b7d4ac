package metrics

import (
	"strconv"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	compileDuration *prom.HistogramVec
	compileOutcome  *prom.CounterVec
	assetCount      prom.Gauge
	assetBytes      prom.Gauge
	hotUpdates      *prom.CounterVec
	hotClients      prom.Gauge
	proxyRequests   *prom.CounterVec
	cachePruned     prom.Counter
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.compileDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "frontbuild",
			Name:      "compile_duration_seconds",
			Help:      "Duration of compiles by kind",
			Buckets:   prom.DefBuckets,
		}, []string{"kind"})
		pr.compileOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "frontbuild",
			Name:      "compile_outcomes_total",
			Help:      "Compile outcomes by kind and final status",
		}, []string{"kind", "outcome"})
		pr.assetCount = prom.NewGauge(prom.GaugeOpts{
			Namespace: "frontbuild",
			Name:      "assets",
			Help:      "Number of assets emitted by the last compile",
		})
		pr.assetBytes = prom.NewGauge(prom.GaugeOpts{
			Namespace: "frontbuild",
			Name:      "asset_bytes",
			Help:      "Total size of assets emitted by the last compile",
		})
		pr.hotUpdates = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "frontbuild",
			Name:      "hot_events_total",
			Help:      "Events broadcast to connected browsers by kind",
		}, []string{"kind"})
		pr.hotClients = prom.NewGauge(prom.GaugeOpts{
			Namespace: "frontbuild",
			Name:      "hot_clients",
			Help:      "Connected hot update clients",
		})
		pr.proxyRequests = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "frontbuild",
			Name:      "proxy_requests_total",
			Help:      "Requests forwarded by the dev server proxy",
		}, []string{"rule", "code"})
		pr.cachePruned = prom.NewCounter(prom.CounterOpts{
			Namespace: "frontbuild",
			Name:      "cache_pruned_entries_total",
			Help:      "Transform cache entries removed by pruning",
		})
		reg.MustRegister(pr.compileDuration, pr.compileOutcome, pr.assetCount, pr.assetBytes,
			pr.hotUpdates, pr.hotClients, pr.proxyRequests, pr.cachePruned)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveCompile(kind string, d time.Duration, outcome Outcome) {
	if p == nil || p.compileDuration == nil {
		return
	}
	p.compileDuration.WithLabelValues(kind).Observe(d.Seconds())
	p.compileOutcome.WithLabelValues(kind, string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveAssets(count int, bytes int64) {
	if p == nil || p.assetCount == nil {
		return
	}
	p.assetCount.Set(float64(count))
	p.assetBytes.Set(float64(bytes))
}

func (p *PrometheusRecorder) IncHotUpdate(kind string) {
	if p == nil || p.hotUpdates == nil {
		return
	}
	p.hotUpdates.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) SetHotClients(n int) {
	if p == nil || p.hotClients == nil {
		return
	}
	p.hotClients.Set(float64(n))
}

func (p *PrometheusRecorder) IncProxyRequest(rule string, status int) {
	if p == nil || p.proxyRequests == nil {
		return
	}
	p.proxyRequests.WithLabelValues(rule, strconv.Itoa(status)).Inc()
}

func (p *PrometheusRecorder) IncCachePruned(n int64) {
	if p == nil || p.cachePruned == nil || n <= 0 {
		return
	}
	p.cachePruned.Add(float64(n))
}
