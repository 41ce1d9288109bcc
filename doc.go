// Package speedlayer is the real-time half of a Lambda-architecture crawl
// pipeline: it captures document-store mutations through a change stream,
// turns them into typed domain events, and routes them through a broker to
// pluggable consumers with retry and dead-letter semantics.
//
// The pipeline is built from four parts. The event model defines the closed
// set of typed events, their metadata, and the static topic table that both
// the listener and the processor consult for routing. The change stream
// listener tails a database (MongoDB out of the box), transforms raw changes
// into events, and persists resume tokens so a restarted process continues
// where it left off. The event processor wraps every event in a delivery
// envelope and drives an at-least-once retry loop with exponential backoff,
// parking exhausted envelopes in a dead-letter store. The realtime validator
// is an ordinary event handler that scores data events against TTL-cached
// validation profiles and emits validation events back into the pipeline.
//
// # Brokers
//
// Three broker implementations share one publish/subscribe contract:
//   - memory: in-process fan-out with deterministic per-topic ordering
//   - channel/kafka: Watermill-backed, in-memory channels or Kafka
//   - nats: core NATS subjects
//
// The in-memory broker offers no durability across a crash; recovery relies
// on CDC replay from the last persisted resume token.
//
// # Delivery semantics
//
// Delivery is at-least-once and consumers must be idempotent. A failing
// handler never blocks its siblings; its failure is surfaced through the
// handler's OnError callback and counted in the owning component's stats.
//
// A minimal setup builds a broker, a processor on top of it, registers
// handlers (the validator among them), and starts a listener pointed at the
// processor; see examples/pipeline for a runnable version.
package speedlayer
