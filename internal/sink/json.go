package sink

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/rvtrace/rvtrace/internal/trace"
)

// jsonEvent is the serialized form of a non-None Event.
type jsonEvent struct {
	Kind      string `json:"kind"`
	From      uint64 `json:"from"`
	To        uint64 `json:"to,omitempty"`
	Timestamp uint64 `json:"timestamp"`
}

// JSONSink appends one JSON object per non-None event, one per line
// (§4.G).
type JSONSink struct {
	w   *bufio.Writer
	enc *json.Encoder
}

// NewJSON wraps w in a buffered writer and JSON encoder.
func NewJSON(w io.Writer) *JSONSink {
	bw := bufio.NewWriter(w)
	return &JSONSink{w: bw, enc: json.NewEncoder(bw)}
}

func (s *JSONSink) OnEvent(e trace.Event) error {
	if e.Kind == trace.KindNone {
		return nil
	}
	return s.enc.Encode(jsonEvent{
		Kind:      e.Kind.String(),
		From:      e.Arc.From,
		To:        e.Arc.To,
		Timestamp: e.Timestamp,
	})
}

func (s *JSONSink) Flush() error {
	return s.w.Flush()
}
