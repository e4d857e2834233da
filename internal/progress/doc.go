// Package progress carries run telemetry from the workers to observers.
//
// A worker reports each page and artifact outcome as one Event through the
// Emitter. The Hub buffers those events, batches them on a background
// goroutine, and hands every batch to the registered sinks (log lines,
// Prometheus collectors, the API snapshot). Emit never blocks the caller:
// when the buffer is full the event is dropped and counted.
package progress
