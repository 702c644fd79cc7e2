// Package prometheus exposes goSession metrics through client_golang.
//
// [NewPrometheusExporter] wraps an [goSession.Engine] in a
// [prometheus.Collector]. Counter names are gosession_*_total; the single
// histogram is gosession_refresh_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry; callers mount Handler
//     or register the collector themselves.
//   - Mutate engine state.
package prometheus
