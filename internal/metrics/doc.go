// Package metrics tracks collector counters and per-key sequence gap
// state, exports them as Prometheus metrics, and logs a periodic
// summary.
//
// Key metrics:
//   - Message and update rates per venue
//   - Parse errors, unknown tokens, dropped frames, transport errors
//   - Per-key venue sequence gaps and out-of-order counts
//   - Subscription count and buffered writer rows
package metrics
