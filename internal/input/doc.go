// Package input reads host input on a background goroutine.
//
// A Poller owns one long-lived goroutine that reads from a Reader only when
// the host asks for input (arming) and only while it holds the IOGate. Each
// read is bounded by a short slice; between attempts the gate is released so
// the host can take it back when it wakes for another reason.
//
// State machine:
//
//	        Arm()              ack
//	Idle ─────────► Arming ─────────► Polling ──┐
//	 ▲                                   │      │ no data: release gate,
//	 │        input pushed / Disarm      │      │ sleep RetryDelay, retry
//	 └───────────────────────────────────┘ ◄────┘
//
// After a successful read the poller returns to Idle and must be re-armed,
// so reads never pile up while the host is busy with the previous input.
//
// Readers: TTYReader (raw fd, poll(2)), TcellReader (decoded terminal
// events) and ChanReader (programmatic).
package input
