// Package disasm builds the address→instruction mapping the Reconstructor
// walks. It defines the Disassembler interface that the rest of the
// pipeline depends on, and ships a built-in RV64GC decoder sufficient to
// drive it; a production deployment may instead wire in a fuller
// third-party disassembler behind the same interface.
package disasm

import (
	"debug/elf"
	"fmt"
	"sort"

	"github.com/rvtrace/rvtrace/internal/rverr"
)

// Record describes one decoded instruction at a fixed address. It is
// immutable once constructed.
type Record struct {
	Address  uint64
	Len      int // 2 (compressed) or 4
	Mnemonic string
	OpStr    string
	Bytes    []byte
}

// Disassembler decodes a single instruction at addr from raw, the bytes
// of a section starting at base. Implementations receive raw[addr-base:]
// and must not read past the end of raw.
type Disassembler interface {
	Decode(base uint64, raw []byte, addr uint64) (Record, error)
}

// Index is the immutable address→Record map built once at startup.
type Index struct {
	byAddr map[uint64]Record
	base   uint64
	limit  uint64
}

// Build locates the ELF file's .text section and disassembles it in full
// using d, producing an Index keyed by instruction start address.
func Build(f *elf.File, d Disassembler) (*Index, error) {
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("disasm: %w", rverr.UnsupportedArchitecture(fmt.Sprintf("expected RV64 ELF, got class=%v machine=%v", f.Class, f.Machine)))
	}

	sec := f.Section(".text")
	if sec == nil {
		return nil, fmt.Errorf("disasm: %w", rverr.UnsupportedArchitecture("no .text section"))
	}
	raw, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("disasm: read .text: %w", err)
	}

	idx := &Index{
		byAddr: make(map[uint64]Record, len(raw)/2),
		base:   sec.Addr,
		limit:  sec.Addr + uint64(len(raw)),
	}

	for off := uint64(0); off < uint64(len(raw)); {
		addr := sec.Addr + off
		rec, err := d.Decode(sec.Addr, raw, addr)
		if err != nil {
			return nil, fmt.Errorf("disasm: decode at %#x: %w", addr, err)
		}
		idx.byAddr[addr] = rec
		off += uint64(rec.Len)
	}
	return idx, nil
}

// NewIndex builds an Index directly from a set of records, keyed by their
// own Address field. Used by tests and by callers that already have a
// disassembly (e.g. from an external disassembler) rather than a raw ELF
// .text section to hand to Build.
func NewIndex(records []Record) *Index {
	idx := &Index{byAddr: make(map[uint64]Record, len(records))}
	for _, rec := range records {
		idx.byAddr[rec.Address] = rec
		end := rec.Address + uint64(rec.Len)
		if idx.limit == 0 || end > idx.limit {
			idx.limit = end
		}
		if idx.base == 0 || rec.Address < idx.base {
			idx.base = rec.Address
		}
	}
	return idx
}

// Lookup resolves addr to its InstructionRecord. The second return value is
// false when addr does not resolve, which the Reconstructor treats as a
// fatal consistency error.
func (idx *Index) Lookup(addr uint64) (Record, bool) {
	r, ok := idx.byAddr[addr]
	return r, ok
}

// Base returns the load address of the indexed .text section, used by
// sinks that report addresses relative to the ELF origin (e.g. afdo).
func (idx *Index) Base() uint64 { return idx.base }

// Contains reports whether addr falls inside the indexed .text range.
func (idx *Index) Contains(addr uint64) bool {
	return addr >= idx.base && addr < idx.limit
}

// Addresses returns every indexed instruction address in ascending order.
// Used to build the function symbol/range tables in package unwind.
func (idx *Index) Addresses() []uint64 {
	out := make([]uint64, 0, len(idx.byAddr))
	for a := range idx.byAddr {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
