package sink

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/rvtrace/rvtrace/internal/trace"
)

type addrPair struct {
	a, b uint64
}

// AfdoSink accumulates an AFDO-style range/branch histogram over
// TakenBranch/InferrableJump/UninferableJump events and emits it as text
// on flush (§4.G, §6). Addresses are reported relative to the ELF load
// origin.
type AfdoSink struct {
	w    *bufio.Writer
	base uint64

	rangeMap  map[addrPair]uint64
	branchMap map[addrPair]uint64
	lastDst   uint64
	started   bool
}

// NewAfdo wraps w in a buffered writer. base is the ELF .text load
// address, subtracted from every reported address.
func NewAfdo(w io.Writer, base uint64) *AfdoSink {
	return &AfdoSink{
		w:         bufio.NewWriter(w),
		base:      base,
		rangeMap:  make(map[addrPair]uint64),
		branchMap: make(map[addrPair]uint64),
	}
}

func (s *AfdoSink) OnEvent(e trace.Event) error {
	switch e.Kind {
	case trace.KindStart:
		s.lastDst = 0
		s.started = true
		return nil

	case trace.KindTakenBranch, trace.KindInferrableJump, trace.KindUninferableJump:
		s.rangeMap[addrPair{s.lastDst, e.Arc.From}]++
		s.branchMap[addrPair{e.Arc.From, e.Arc.To}]++
		s.lastDst = e.Arc.To
		return nil

	default:
		return nil
	}
}

func (s *AfdoSink) rel(addr uint64) uint64 { return addr - s.base }

func sortedPairs(m map[addrPair]uint64) []addrPair {
	out := make([]addrPair, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].a != out[j].a {
			return out[i].a < out[j].a
		}
		return out[i].b < out[j].b
	})
	return out
}

func (s *AfdoSink) Flush() error {
	ranges := sortedPairs(s.rangeMap)
	fmt.Fprintf(s.w, "%d\n", len(ranges))
	for _, p := range ranges {
		fmt.Fprintf(s.w, "%x-%x:%d\n", s.rel(p.a), s.rel(p.b), s.rangeMap[p])
	}
	fmt.Fprint(s.w, "0\n")

	branches := sortedPairs(s.branchMap)
	fmt.Fprintf(s.w, "%d\n", len(branches))
	for _, p := range branches {
		fmt.Fprintf(s.w, "%x->%x:%d\n", s.rel(p.a), s.rel(p.b), s.branchMap[p])
	}
	return s.w.Flush()
}
