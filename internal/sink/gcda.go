package sink

import (
	"encoding/binary"
	"io"

	"github.com/rvtrace/rvtrace/internal/gcov"
	"github.com/rvtrace/rvtrace/internal/trace"
)

// GCDA format tags (§6).
const (
	gcdaMagic          uint32 = 0x67636461
	gcdaFunctionTag    uint32 = 0x01000000
	gcdaCounterBaseTag uint32 = 0x01a10000
)

// LineResolver maps a PC to its (file, line) source location. The gcda
// sink uses it to project control-flow arc endpoints into the same
// source-location domain ReportedEdges are keyed by.
type LineResolver interface {
	ResolveLine(pc uint64) (file string, line int, ok bool)
}

// FuncSymbol names a known function's entry address, used to attribute
// None-event instruction counts to the right GCNO function (§4.G: "count
// instruction executions at function-entry addresses").
type FuncSymbol struct {
	Name string
	Addr uint64
}

// GCDASink owns a CFG and increments its ReportedEdge counters as
// control-flow events arrive, then serializes the result as a GCDA file.
type GCDASink struct {
	w    io.Writer
	cfg  *gcov.CFG
	lr   LineResolver
	vers uint32
	stmp uint32

	entryAddrToFunc map[uint64]*gcov.FunctionCFG
	entryCounts     map[*gcov.FunctionCFG]uint64
}

// NewGCDA builds a sink writing to w, keyed against cfg's functions.
// symbols associates each known function's entry address with its name,
// used to match GCNO functions (identified by name) to the instructions
// the Disassembly Index reports.
func NewGCDA(w io.Writer, cfg *gcov.CFG, lr LineResolver, symbols []FuncSymbol, version, stamp uint32) *GCDASink {
	byName := make(map[string]*gcov.FunctionCFG, len(cfg.Functions))
	for _, fn := range cfg.Functions {
		byName[fn.Name] = fn
	}
	entryAddrToFunc := make(map[uint64]*gcov.FunctionCFG)
	for _, sym := range symbols {
		if fn, ok := byName[sym.Name]; ok {
			entryAddrToFunc[sym.Addr] = fn
		}
	}
	return &GCDASink{
		w:               w,
		cfg:             cfg,
		lr:              lr,
		vers:            version,
		stmp:            stamp,
		entryAddrToFunc: entryAddrToFunc,
		entryCounts:     make(map[*gcov.FunctionCFG]uint64),
	}
}

func (s *GCDASink) OnEvent(e trace.Event) error {
	switch e.Kind {
	case trace.KindNone:
		if fn, ok := s.entryAddrToFunc[e.Arc.From]; ok {
			s.entryCounts[fn]++
		}
		return nil

	case trace.KindTakenBranch, trace.KindInferrableJump, trace.KindUninferableJump:
		if s.lr == nil {
			return nil
		}
		fromFile, fromLine, ok := s.lr.ResolveLine(e.Arc.From)
		if !ok {
			return nil
		}
		toFile, toLine, ok := s.lr.ResolveLine(e.Arc.To)
		if !ok {
			return nil
		}
		fromLoc := gcov.SourceLocation{File: fromFile, Line: fromLine}
		toLoc := gcov.SourceLocation{File: toFile, Line: toLine}
		re := findReportedEdge(s.cfg, fromLoc, toLoc)
		if re != nil {
			re.Counter++
		}
		return nil

	default:
		return nil
	}
}

func findReportedEdge(cfg *gcov.CFG, from, to gcov.SourceLocation) *gcov.ReportedEdge {
	for _, fn := range cfg.Functions {
		for _, re := range fn.ReportedEdges {
			if containsLoc(re.FromLocs, from) && containsLoc(re.ToLocs, to) {
				return re
			}
		}
	}
	return nil
}

func containsLoc(locs []gcov.SourceLocation, want gcov.SourceLocation) bool {
	for _, l := range locs {
		if l == want {
			return true
		}
	}
	return false
}

func (s *GCDASink) Flush() error {
	for fn, count := range s.entryCounts {
		for _, re := range fn.ReportedEdges {
			if re.Entry {
				re.Counter += count
				break
			}
		}
	}
	return writeGCDA(s.w, s.cfg, s.vers, s.stmp)
}

func writeGCDA(w io.Writer, cfg *gcov.CFG, version, stamp uint32) error {
	var out []byte
	out = appendU32(out, gcdaMagic)
	out = appendU32(out, version)
	out = appendU32(out, stamp)
	out = appendU32(out, 0) // overall-file checksum: written as 0 (§9 open question 2)

	for _, fn := range cfg.Functions {
		out = appendU32(out, gcdaFunctionTag)
		out = appendU32(out, 12)
		out = appendU32(out, fn.Identifier)
		out = appendU32(out, fn.LinenoChecksum)
		out = appendU32(out, fn.CfgChecksum)

		out = appendU32(out, gcdaCounterBaseTag)
		out = appendU32(out, uint32(len(fn.ReportedEdges)*8))
		for _, re := range fn.ReportedEdges {
			out = appendU64(out, re.Counter)
		}
	}

	_, err := w.Write(out)
	return err
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}
