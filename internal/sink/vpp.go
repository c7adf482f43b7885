package sink

import (
	"encoding/json"
	"io"

	"github.com/rvtrace/rvtrace/internal/trace"
	"github.com/rvtrace/rvtrace/internal/unwind"
)

type pathKey struct {
	addr uint64
	bits string
}

type openPath struct {
	addr   uint64
	symbol string
	start  uint64
	bits   []bool
}

type vppRecord struct {
	Addr      uint64   `json:"addr"`
	Symbol    string   `json:"symbol"`
	BitVector []bool   `json:"bit_vector"`
	Intervals []uint64 `json:"intervals"`
}

// VppSink uses a Stack Unwinder to histogram per-entry-path durations: a
// Path opens when a step_ij first reaches depth 1 and closes when a
// step_uj empties the stack again, keyed by (entry address, sequence of
// taken/non-taken branch polarities observed while the Path was open)
// (§4.G). It owns its own Unwinder instance, independent of any other
// sink that also needs one (§5).
type VppSink struct {
	u *unwind.Unwinder
	w io.Writer

	cur  *openPath
	hist map[pathKey]*vppRecord
}

// NewVpp builds a sink writing to w, unwinding call frames via u.
func NewVpp(w io.Writer, u *unwind.Unwinder) *VppSink {
	return &VppSink{u: u, w: w, hist: make(map[pathKey]*vppRecord)}
}

func (s *VppSink) OnEvent(e trace.Event) error {
	switch e.Kind {
	case trace.KindInferrableJump:
		res := s.u.StepInferableJump(e)
		if res.Pushed && res.Depth == 1 {
			name := ""
			if res.Symbol != nil {
				name = res.Symbol.Name
			}
			s.cur = &openPath{addr: e.Arc.To, symbol: name, start: e.Timestamp}
		}
		return nil

	case trace.KindTakenBranch, trace.KindNonTakenBranch:
		if s.cur != nil {
			s.cur.bits = append(s.cur.bits, e.Kind == trace.KindTakenBranch)
		}
		return nil

	case trace.KindUninferableJump:
		res := s.u.StepUninferableJump(e)
		if len(res.Popped) > 0 && res.Depth == 0 && s.cur != nil {
			s.closePath(e.Timestamp)
		}
		return nil

	default:
		return nil
	}
}

func (s *VppSink) closePath(end uint64) {
	p := s.cur
	s.cur = nil

	bitsStr := make([]byte, len(p.bits))
	for i, b := range p.bits {
		if b {
			bitsStr[i] = '1'
		} else {
			bitsStr[i] = '0'
		}
	}
	key := pathKey{addr: p.addr, bits: string(bitsStr)}

	rec, ok := s.hist[key]
	if !ok {
		rec = &vppRecord{Addr: p.addr, Symbol: p.symbol, BitVector: append([]bool(nil), p.bits...)}
		s.hist[key] = rec
	}
	rec.Intervals = append(rec.Intervals, end-p.start)
}

func (s *VppSink) Flush() error {
	records := make([]*vppRecord, 0, len(s.hist))
	for _, rec := range s.hist {
		records = append(records, rec)
	}
	return json.NewEncoder(s.w).Encode(records)
}
