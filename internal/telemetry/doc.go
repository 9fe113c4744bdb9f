// Package telemetry implements the event hub for the m5squared
// controller.
//
// The hub fans supervisor events (state transitions, vehicle telemetry,
// faults) out to SSE clients and channel subscribers, buffering the
// last N events for reconnection support via Last-Event-ID headers.
package telemetry
