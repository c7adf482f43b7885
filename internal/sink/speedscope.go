package sink

import (
	"encoding/json"
	"io"

	"github.com/rvtrace/rvtrace/internal/trace"
	"github.com/rvtrace/rvtrace/internal/unwind"
)

const speedscopeSchema = "https://www.speedscope.app/file-format-schema.json"

type speedscopeFrame struct {
	Name string `json:"name"`
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

type speedscopeEvent struct {
	Type  string `json:"type"`
	Frame int    `json:"frame"`
	At    uint64 `json:"at"`
}

type speedscopeProfile struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Unit       string            `json:"unit"`
	StartValue uint64            `json:"startValue"`
	EndValue   uint64            `json:"endValue"`
	Events     []speedscopeEvent `json:"events"`
}

type speedscopeDoc struct {
	Version string `json:"version"`
	Schema  string `json:"$schema"`
	Shared  struct {
		Frames []speedscopeFrame `json:"frames"`
	} `json:"shared"`
	Profiles []speedscopeProfile `json:"profiles"`
}

// SpeedscopeSink drives a Stack Unwinder to produce an evented profile:
// an "O" event when step_ij opens a frame, a "C" event per frame that
// step_uj closes (§4.G). It owns its own Unwinder instance (§5: two
// sinks needing unwinding keep independent instances).
type SpeedscopeSink struct {
	w io.Writer
	u *unwind.Unwinder

	events     []speedscopeEvent
	start, end uint64
	haveStart  bool
}

// NewSpeedscope builds a sink writing to w, unwinding call frames via u.
func NewSpeedscope(w io.Writer, u *unwind.Unwinder) *SpeedscopeSink {
	return &SpeedscopeSink{w: w, u: u}
}

func (s *SpeedscopeSink) OnEvent(e trace.Event) error {
	switch e.Kind {
	case trace.KindStart:
		if e.HasTS {
			s.start = e.Timestamp
			s.haveStart = true
		}
		return nil

	case trace.KindEnd:
		if e.HasTS {
			s.end = e.Timestamp
		}
		return nil

	case trace.KindInferrableJump:
		res := s.u.StepInferableJump(e)
		if res.Pushed {
			s.events = append(s.events, speedscopeEvent{Type: "O", Frame: res.Symbol.Index, At: e.Timestamp})
		}
		return nil

	case trace.KindUninferableJump:
		res := s.u.StepUninferableJump(e)
		for _, idx := range res.Popped {
			s.events = append(s.events, speedscopeEvent{Type: "C", Frame: idx, At: e.Timestamp})
		}
		return nil

	default:
		return nil
	}
}

func (s *SpeedscopeSink) Flush() error {
	for _, idx := range s.u.Flush() {
		s.events = append(s.events, speedscopeEvent{Type: "C", Frame: idx, At: s.end})
	}

	doc := speedscopeDoc{Version: "0.0.1", Schema: speedscopeSchema}
	for _, sym := range s.u.Symbols() {
		doc.Shared.Frames = append(doc.Shared.Frames, speedscopeFrame{Name: sym.Name, File: sym.File, Line: sym.Line})
	}
	doc.Profiles = []speedscopeProfile{{
		Name:       "tacit",
		Type:       "evented",
		Unit:       "none",
		StartValue: s.start,
		EndValue:   s.end,
		Events:     s.events,
	}}

	return json.NewEncoder(s.w).Encode(doc)
}
