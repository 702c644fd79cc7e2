// Package metrics provides lock-free counters and the refresh latency histogram.
//
// Counters live in cache-line-padded uint64 slots and are incremented with
// [sync/atomic]. The histogram uses 8 fixed buckets (≤5ms … +Inf). Export to
// Prometheus and OpenTelemetry lives in metrics/export and reads [Snapshot].
//
// # What this package must NOT do
//
//   - Perform I/O.
//   - Import goSession or any sibling package.
//   - Register global metric state.
package metrics
