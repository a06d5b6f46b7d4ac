package metrics

import "time"

// Outcome labels compile results.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeWarning  Outcome = "warning"
	OutcomeFailed   Outcome = "failed"
	OutcomeCanceled Outcome = "canceled"
)

// Recorder defines observability hooks for builds and the dev server.
type Recorder interface {
	// ObserveCompile records one compile; kind is "build", "initial" or "rebuild".
	ObserveCompile(kind string, d time.Duration, outcome Outcome)
	ObserveAssets(count int, bytes int64)
	IncHotUpdate(kind string) // kind: ok|problems|update|reload
	SetHotClients(n int)
	IncProxyRequest(rule string, status int)
	IncCachePruned(n int64)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveCompile(string, time.Duration, Outcome) {}
func (NoopRecorder) ObserveAssets(int, int64)                      {}
func (NoopRecorder) IncHotUpdate(string)                           {}
func (NoopRecorder) SetHotClients(int)                             {}
func (NoopRecorder) IncProxyRequest(string, int)                   {}
func (NoopRecorder) IncCachePruned(int64)                          {}
