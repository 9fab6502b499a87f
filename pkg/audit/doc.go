// Package audit provides fire-and-forget audit event emission for the
// permission resolution engine.
//
// The engine emits one DecisionEvent per permission check and one
// InvalidationEvent per cache invalidation. Emission is best-effort by
// contract: a failure to emit must never cause a check to fail or block.
// AsyncEmitter enforces this with a buffered channel and a single drain
// goroutine; under backpressure events are dropped and counted rather
// than queued indefinitely.
//
// Sinks decide where events land:
//
//	NewLogrusSink(os.Stdout)          // structured log stream
//	NewFileSink("/var/log/audit.log") // JSON lines file
//	NewMultiSink(a, b)                // fan-out
//
// Storage, retention and search of audit events are external concerns;
// this package only produces them.
package audit
