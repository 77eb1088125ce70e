// Package event defines the events a host receives from the event loop.
//
// Four sources feed one queue:
//
//	┌──────────────┐   UserInput
//	│ input poller │ ──────────────┐
//	└──────────────┘               │
//	┌──────────────┐  JobActivity  ▼
//	│ job manager  │ ──────────► ┌───────┐   Next()   ┌──────┐
//	└──────────────┘             │ queue │ ─────────► │ host │
//	┌──────────────┐   Custom /  └───────┘            └──────┘
//	│ any goroutine│ DeferredCall  ▲
//	└──────────────┘ ──────────────┘
//
// The loop itself synthesizes Idle when the host has been waiting for
// longer than its attention timeout.
//
// Events are values. Once pushed they are never mutated, and ownership of
// the payload passes to whoever pops them.
package event
