// Package sinks implements concrete progress consumers: Prometheus
// collectors, structured logging, and a folded snapshot served by the
// observability API. Each sink satisfies the progress.Sink interface and is
// safe for repeated Consume/Close cycles.
package sinks
