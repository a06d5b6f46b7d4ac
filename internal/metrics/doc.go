// Package metrics records build and dev server activity.
//
// Components receive a Recorder and default to NoopRecorder, so metrics
// never need nil checks at call sites:
//
//	recorder := metrics.NewPrometheusRecorder(registry)
//	orchestrator := build.NewOrchestrator(build.WithRecorder(recorder))
//
// The dev server exposes the Prometheus registry at /__frontbuild/metrics.
package metrics
