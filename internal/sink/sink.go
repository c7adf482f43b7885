// Package sink implements the analysis consumers attached to the Event
// Bus: txt, json, afdo, gcda, speedscope, vpp, and historydb. Every sink shares the
// same consumer-loop contract (§4.G/§9): dispatch each event by kind,
// flush on stream end, write through a buffered writer.
package sink

import (
	"github.com/rvtrace/rvtrace/internal/trace"
)

// Sink is the capability set every consumer implements. Dispatch is by
// the fixed set of sinks the Orchestrator constructs, not by a type
// switch on Sink itself (§9: "a small polymorphic-pointer list owned by
// the orchestrator").
type Sink interface {
	// OnEvent handles one event from the bus. It must not block beyond
	// whatever buffered I/O it performs.
	OnEvent(e trace.Event) error
	// Flush finalizes and writes out the sink's artifact. Called exactly
	// once, after the bus channel closes (§4.G, §5).
	Flush() error
}

// Run is the free function every sink's consumer goroutine calls: drain
// ch in order, dispatching to s, then flush once the producer has closed
// the bus (§9's "default try-receive loop [...] parameterized by the
// capability"). An error from OnEvent or Flush is returned to the caller,
// which the Orchestrator propagates without signalling the producer (§5).
func Run(ch <-chan trace.Event, s Sink) error {
	for e := range ch {
		if err := s.OnEvent(e); err != nil {
			return err
		}
	}
	return s.Flush()
}
