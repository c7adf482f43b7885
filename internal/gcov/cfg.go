// Package gcov parses GCC coverage-notes (GCNO) files and lifts them into
// a control-flow graph whose instrumented edges are the counters the GCDA
// sink increments and serializes.
package gcov

// Edge flag bits (§3).
const (
	FlagTree        = 1 << 0 // tree edge: not instrumented, carries no counter
	FlagFake        = 1 << 1
	FlagFallthrough = 1 << 2
)

// SourceLocation is a (file, line) pair.
type SourceLocation struct {
	File string
	Line int
}

// BasicBlock is a node in a FunctionCFG.
type BasicBlock struct {
	ID   uint32
	Locs []SourceLocation
}

// Edge is a control-flow edge between two BasicBlocks.
type Edge struct {
	From, To uint32
	Flags    uint8
}

// IsTree reports whether e is a tree edge (not instrumented, carries no
// counter).
func (e Edge) IsTree() bool { return e.Flags&FlagTree != 0 }

// ReportedEdge is an instrumented edge projected into the source-location
// domain, the unit GCDA counters are serialized over (§3/§4.C).
type ReportedEdge struct {
	FromLocs []SourceLocation
	ToLocs   []SourceLocation
	Counter  uint64
	Entry    bool // true iff the underlying Edge has From=0 and To=2
	FuncName string
}

// FunctionCFG is one function's lifted control-flow graph.
type FunctionCFG struct {
	Identifier     uint32
	LinenoChecksum uint32
	CfgChecksum    uint32
	Name           string
	Source         string
	StartLine      int
	StartColumn    int
	EndLine        int
	EndColumn      int

	blockOrder []uint32
	Blocks     map[uint32]*BasicBlock
	Edges      []Edge

	ReportedEdges []*ReportedEdge
}

// BlockIDs returns the function's block ids in the order they were first
// created: ARCS/LINES order, followed by any synthetic block (0 or 1)
// that no record referenced, which is added when the function is flushed.
func (fn *FunctionCFG) BlockIDs() []uint32 {
	out := make([]uint32, len(fn.blockOrder))
	copy(out, fn.blockOrder)
	return out
}

func (fn *FunctionCFG) block(id uint32) *BasicBlock {
	if b, ok := fn.Blocks[id]; ok {
		return b
	}
	b := &BasicBlock{ID: id}
	fn.Blocks[id] = b
	fn.blockOrder = append(fn.blockOrder, id)
	return b
}

// CFG is the full set of FunctionCFGs lifted from one GCNO file.
type CFG struct {
	Version   uint32
	Stamp     uint32
	Cwd       string
	Functions []*FunctionCFG
}

// newFunction allocates a FunctionCFG with an empty block map. The two
// synthetic blocks, block 0 (entry) at (source, start_line) and block 1
// (exit) at (source, end_line), are placed by synthesizeEntryExit once
// the function is flushed — invariant checked by property test 6.
func newFunction() *FunctionCFG {
	return &FunctionCFG{Blocks: make(map[uint32]*BasicBlock)}
}

func (fn *FunctionCFG) synthesizeEntryExit() {
	entry := fn.block(0)
	entry.Locs = []SourceLocation{{File: fn.Source, Line: fn.StartLine}}
	exit := fn.block(1)
	exit.Locs = []SourceLocation{{File: fn.Source, Line: fn.EndLine}}
}

// projectReportedEdges emits one ReportedEdge per non-tree Edge, in
// original edge order (§4.C).
func (fn *FunctionCFG) projectReportedEdges() {
	fn.ReportedEdges = fn.ReportedEdges[:0]
	for _, e := range fn.Edges {
		if e.IsTree() {
			continue
		}
		from := fn.block(e.From)
		to := fn.block(e.To)
		fn.ReportedEdges = append(fn.ReportedEdges, &ReportedEdge{
			FromLocs: from.Locs,
			ToLocs:   to.Locs,
			Entry:    e.From == 0 && e.To == 2,
			FuncName: fn.Name,
		})
	}
}
