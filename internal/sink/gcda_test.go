package sink

import (
	"bytes"
	"testing"

	"github.com/rvtrace/rvtrace/internal/gcov"
	"github.com/rvtrace/rvtrace/internal/trace"
)

// S5 (GCDA byte compatibility, property 8): for a GCNO-derived function
// (identifier=1, lineno_checksum=0xA, cfg_checksum=0xB) with two non-tree
// edges whose counts end at 3 and 5, the emitted GCDA body bytes are
// [tag=0x01000000, len=12, 1, 0xA, 0xB, tag=0x01a10000, len=16, 3u64, 5u64].
func TestGCDAGoldenBytes(t *testing.T) {
	fn := &gcov.FunctionCFG{Identifier: 1, LinenoChecksum: 0xA, CfgChecksum: 0xB}
	fn.ReportedEdges = []*gcov.ReportedEdge{{Counter: 3}, {Counter: 5}}
	cfg := &gcov.CFG{Functions: []*gcov.FunctionCFG{fn}}

	var buf bytes.Buffer
	s := NewGCDA(&buf, cfg, nil, nil, 0, 0)
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var want []byte
	want = appendU32(want, gcdaMagic)
	want = appendU32(want, 0) // version
	want = appendU32(want, 0) // stamp
	want = appendU32(want, 0) // checksum
	want = appendU32(want, gcdaFunctionTag)
	want = appendU32(want, 12)
	want = appendU32(want, 1)
	want = appendU32(want, 0xA)
	want = appendU32(want, 0xB)
	want = appendU32(want, gcdaCounterBaseTag)
	want = appendU32(want, 16)
	want = appendU64(want, 3)
	want = appendU64(want, 5)

	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("byte mismatch:\n want %x\n got  %x", want, buf.Bytes())
	}
}

func TestGCDAEntryCountsFoldIntoEntryEdge(t *testing.T) {
	fn := &gcov.FunctionCFG{Identifier: 1}
	entryEdge := &gcov.ReportedEdge{Entry: true, Counter: 0}
	fn.ReportedEdges = []*gcov.ReportedEdge{entryEdge}
	cfg := &gcov.CFG{Functions: []*gcov.FunctionCFG{fn}}

	var buf bytes.Buffer
	s := NewGCDA(&buf, cfg, nil, []FuncSymbol{{Name: "", Addr: 0x1000}}, 1, 2)
	fn.Name = ""

	for i := 0; i < 4; i++ {
		if err := s.OnEvent(trace.Event{Kind: trace.KindNone, Arc: trace.Arc{From: 0x1000}}); err != nil {
			t.Fatalf("on event: %v", err)
		}
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if entryEdge.Counter != 4 {
		t.Fatalf("want entry counter 4 got %d", entryEdge.Counter)
	}
}
