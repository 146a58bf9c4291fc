// Package orchestrator runs the three flight software loops.
//
// The receive loop feeds the radio link into the router. The producer
// samples sensors once per period, builds a packet, queues it for
// persistence and transmits it. The consumer writes queued packets to
// storage in order. Each loop is supervised and restarted with backoff,
// and a single context cancellation stops them all; queued packets are
// drained before Run returns.
package orchestrator
