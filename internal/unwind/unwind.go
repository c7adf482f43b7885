// Package unwind maintains the synthetic call-frame stack shared by the
// profile-oriented sinks (speedscope, vpp), reconstructed entirely from
// control-flow events rather than any actual hardware stack pointer.
package unwind

import (
	"debug/elf"
	"fmt"
	"log/slog"
	"sort"

	"github.com/rvtrace/rvtrace/internal/disasm"
	"github.com/rvtrace/rvtrace/internal/trace"
)

// SymbolInfo describes one function symbol known to the Unwinder.
type SymbolInfo struct {
	Name  string
	Addr  uint64
	Index int
	Line  int
	File  string
}

// LineResolver maps a PC to its (file, line) source location, typically
// backed by the binary's DWARF line table. It is an external collaborator
// reached only through this interface; Unwinder works without one (File
// and Line are left zero-valued) when line attribution isn't needed.
type LineResolver interface {
	ResolveLine(pc uint64) (file string, line int, ok bool)
}

type funcRange struct {
	start, end uint64
}

// Unwinder tracks a synthetic frame stack from InferableJump/UninferableJump
// events. It is owned exclusively by a single sink; sinks that both need
// unwinding keep independent instances (§5).
type Unwinder struct {
	log *slog.Logger
	idx *disasm.Index // for looking back at the instruction at a return site (§4.F)

	symByAddr map[uint64]SymbolInfo
	ranges    []funcRange // parallel to symbol Index, sorted by start address

	frames []int // stack of symbol indices
}

// New builds an Unwinder from the binary's ELF symbol table, filtered to
// STT_FUNC symbols whose value lies in a text (executable) section. The
// first occurrence of a given address wins; later aliases at the same
// address are dropped with a warning (§4.F). idx is the same Disassembly
// Index the Reconstructor walks, used here to look back at the
// instruction preceding an uninferable jump.
func New(f *elf.File, idx *disasm.Index, lr LineResolver, log *slog.Logger) (*Unwinder, error) {
	syms, err := f.Symbols()
	if err != nil && len(syms) == 0 {
		return nil, fmt.Errorf("unwind: read symbols: %w", err)
	}

	type entry struct {
		addr uint64
		name string
	}
	var entries []entry
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}
		if s.Value == 0 {
			continue
		}
		if int(s.Section) >= len(f.Sections) || f.Sections[s.Section].Flags&elf.SHF_EXECINSTR == 0 {
			continue
		}
		entries = append(entries, entry{addr: s.Value, name: s.Name})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].addr < entries[j].addr })

	if log == nil {
		log = slog.Default()
	}
	names := make(map[uint64]string, len(entries))
	var addrs []uint64
	for _, e := range entries {
		if prev, exists := names[e.addr]; exists {
			log.Warn("unwind: duplicate function symbol at address, keeping first", "addr", e.addr, "kept", prev, "dropped", e.name)
			continue
		}
		names[e.addr] = e.name
		addrs = append(addrs, e.addr)
	}

	return NewFromSymbols(idx, addrs, names, lr, log), nil
}

// NewFromSymbols builds an Unwinder directly from a caller-supplied set
// of function entry addresses, bypassing ELF symbol-table extraction.
// Used by tests and by callers whose function symbols come from a
// source other than an ELF file's symbol table (e.g. a DWARF-only
// binary or a hand-built fixture). addrs must already be deduplicated;
// names maps each address to its display name.
func NewFromSymbols(idx *disasm.Index, addrs []uint64, names map[uint64]string, lr LineResolver, log *slog.Logger) *Unwinder {
	if log == nil {
		log = slog.Default()
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	u := &Unwinder{log: log, idx: idx, symByAddr: make(map[uint64]SymbolInfo, len(addrs))}
	for i, addr := range addrs {
		file, line := "", 0
		if lr != nil {
			if fl, ln, ok := lr.ResolveLine(addr); ok {
				file, line = fl, ln
			}
		}
		u.symByAddr[addr] = SymbolInfo{Name: names[addr], Addr: addr, Index: i, Line: line, File: file}
		end := uint64(^uint64(0))
		if i+1 < len(addrs) {
			end = addrs[i+1]
		}
		u.ranges = append(u.ranges, funcRange{start: addr, end: end})
	}
	return u
}

// Symbols returns every known function symbol ordered by Index (i.e.
// symbol order / ascending address). Used by sinks that project a list of
// frames, e.g. the speedscope sink's shared.frames array.
func (u *Unwinder) Symbols() []SymbolInfo {
	out := make([]SymbolInfo, len(u.ranges))
	for _, info := range u.symByAddr {
		out[info.Index] = info
	}
	return out
}

// Depth reports the current synthetic call-stack depth.
func (u *Unwinder) Depth() int { return len(u.frames) }

// StepResult reports what a single unwinder step did.
type StepResult struct {
	Pushed bool
	Popped []int // indices of popped frames, in pop order
	Depth  int
	Symbol *SymbolInfo
}

// StepInferableJump opens a new frame when e's destination is a known
// function's start address. Only inferable jumps can open frames (§4.F).
func (u *Unwinder) StepInferableJump(e trace.Event) StepResult {
	info, ok := u.symByAddr[e.Arc.To]
	if !ok {
		return StepResult{Depth: len(u.frames)}
	}
	u.frames = append(u.frames, info.Index)
	s := info
	return StepResult{Pushed: true, Depth: len(u.frames), Symbol: &s}
}

// StepUninferableJump pops frames when the instruction at e.Arc.From is a
// return, until the top frame's range contains e.Arc.To. A non-return
// uninferable jump, or an empty stack, is a no-op.
func (u *Unwinder) StepUninferableJump(e trace.Event) StepResult {
	if len(u.frames) == 0 {
		return StepResult{}
	}
	rec, ok := u.idx.Lookup(e.Arc.From)
	if !ok || !trace.IsReturn(rec.Mnemonic, rec.OpStr) {
		return StepResult{Depth: len(u.frames)}
	}

	var popped []int
	for len(u.frames) > 0 {
		top := u.frames[len(u.frames)-1]
		r := u.ranges[top]
		if e.Arc.To >= r.start && e.Arc.To < r.end {
			break
		}
		u.frames = u.frames[:len(u.frames)-1]
		popped = append(popped, top)
	}
	return StepResult{Popped: popped, Depth: len(u.frames)}
}

// Flush pops every remaining frame, in pop order, and returns their
// indices. Used at end-of-stream (§4.F, property 7).
func (u *Unwinder) Flush() []int {
	popped := make([]int, len(u.frames))
	for i := range popped {
		popped[i] = u.frames[len(u.frames)-1-i]
	}
	u.frames = nil
	return popped
}
