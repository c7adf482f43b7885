package trace

import (
	"errors"
	"fmt"
	"io"

	"github.com/rvtrace/rvtrace/internal/disasm"
	"github.com/rvtrace/rvtrace/internal/packet"
	"github.com/rvtrace/rvtrace/internal/rverr"
)

// Sender is the minimal surface the Reconstructor needs from the Event
// Bus: broadcast one event, blocking if a consumer is behind.
type Sender interface {
	Broadcast(Event) error
}

// Reconstructor interprets a packet stream against a disassembly index,
// broadcasting one Event per step of execution. It holds pc and the
// accumulated timestamp as its only mutable state.
type Reconstructor struct {
	idx *disasm.Index
	src io.Reader
	out Sender

	pc uint64
	ts uint64
}

// New builds a Reconstructor reading packets from src against idx,
// broadcasting events to out.
func New(idx *disasm.Index, src io.Reader, out Sender) *Reconstructor {
	return &Reconstructor{idx: idx, src: src, out: out}
}

// Run drives the packet stream to completion, or until a fatal
// Consistency/Format error. A clean end-of-stream without a preceding
// FSync packet is treated as success (the caller may still treat it as
// unexpected at a higher policy layer).
func (r *Reconstructor) Run() error {
	first, err := packet.Parse(r.src)
	if err != nil {
		return fmt.Errorf("trace: read initial packet: %w", err)
	}
	if !carriesTarget(first.FHeader) {
		return fmt.Errorf("trace: %w", rverr.Consistency("initial packet did not deliver a target_address"))
	}

	r.pc = packet.RefundAddr(first.TargetAddress)
	r.ts = first.Timestamp
	if err := r.out.Broadcast(Event{Kind: KindStart, Arc: Arc{From: r.pc}, Timestamp: r.ts, HasTS: true}); err != nil {
		return fmt.Errorf("trace: broadcast start: %w", err)
	}

	for {
		p, err := packet.Parse(r.src)
		if err != nil {
			if errors.Is(err, packet.ErrEndOfStream) {
				return nil
			}
			return fmt.Errorf("trace: read packet: %w", err)
		}
		r.ts += p.Timestamp

		done, err := r.step(p)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func carriesTarget(f packet.FHeader) bool {
	return f == packet.FUj || f == packet.FSync || f == packet.FTrap
}

// advanceStraightLineToControlFlow broadcasts a None event for pc and every
// subsequent instruction until one classified as a branch or jump is
// reached, and returns that instruction's record without broadcasting it.
// The FSync/FTrap straight-line advances use advanceStraightLineTo instead.
func (r *Reconstructor) advanceStraightLineToControlFlow() (disasm.Record, error) {
	for {
		rec, ok := r.idx.Lookup(r.pc)
		if !ok {
			return disasm.Record{}, fmt.Errorf("trace: %w", rverr.Consistency(fmt.Sprintf("pc %#x does not resolve in disassembly index", r.pc)))
		}
		if err := classifyControlFlow(rec.Mnemonic); err != nil {
			return disasm.Record{}, err
		}
		if IsBranch(rec.Mnemonic) || IsInferableJump(rec.Mnemonic) || IsUninferableJump(rec.Mnemonic) {
			return rec, nil
		}
		if err := r.emitNone(rec); err != nil {
			return disasm.Record{}, err
		}
		r.pc += uint64(rec.Len)
	}
}

func (r *Reconstructor) advanceStraightLineTo(target uint64) error {
	for r.pc != target {
		rec, ok := r.idx.Lookup(r.pc)
		if !ok {
			return fmt.Errorf("trace: %w", rverr.Consistency(fmt.Sprintf("pc %#x does not resolve in disassembly index", r.pc)))
		}
		if err := r.emitNone(rec); err != nil {
			return err
		}
		r.pc += uint64(rec.Len)
	}
	return nil
}

func (r *Reconstructor) emitNone(rec disasm.Record) error {
	return r.out.Broadcast(Event{
		Kind:     KindNone,
		Arc:      Arc{From: rec.Address},
		Mnemonic: rec.Mnemonic,
		OpStr:    rec.OpStr,
		Bytes:    rec.Bytes,
		Len:      rec.Len,
	})
}

// step advances the Reconstructor by exactly one packet. It returns
// done=true when the packet was an FSync terminator.
func (r *Reconstructor) step(p packet.Packet) (done bool, err error) {
	switch p.FHeader {
	case packet.FSync:
		target := packet.RefundAddr(p.TargetAddress)
		if err := r.advanceStraightLineTo(target); err != nil {
			return false, err
		}
		if err := r.out.Broadcast(Event{Kind: KindEnd, Timestamp: r.ts, HasTS: true}); err != nil {
			return false, fmt.Errorf("trace: broadcast end: %w", err)
		}
		return true, nil

	case packet.FTrap:
		trapTo := packet.RefundAddr(p.TrapAddress)
		from := r.pc
		kind, err := trapKind(p.TrapType)
		if err != nil {
			return false, err
		}
		if err := r.out.Broadcast(Event{Kind: kind, Arc: Arc{From: from, To: trapTo}, Timestamp: r.ts, HasTS: true}); err != nil {
			return false, fmt.Errorf("trace: broadcast trap: %w", err)
		}
		if err := r.advanceStraightLineTo(trapTo); err != nil {
			return false, err
		}
		r.pc = (p.TargetAddress ^ (r.pc >> 1)) << 1
		return false, nil

	case packet.FTb, packet.FNt, packet.FIj, packet.FUj:
		rec, err := r.advanceStraightLineToControlFlow()
		if err != nil {
			return false, err
		}
		from := r.pc
		var to uint64
		var kind Kind

		switch p.FHeader {
		case packet.FTb:
			if !IsBranch(rec.Mnemonic) {
				return false, fmt.Errorf("trace: %w", rverr.Consistency(fmt.Sprintf("FTb packet landed on non-branch %q at %#x", rec.Mnemonic, from)))
			}
			off, err := parseOffset(rec.OpStr)
			if err != nil {
				return false, err
			}
			to = uint64(int64(from) + off)
			kind = KindTakenBranch

		case packet.FNt:
			if !IsBranch(rec.Mnemonic) {
				return false, fmt.Errorf("trace: %w", rverr.Consistency(fmt.Sprintf("FNt packet landed on non-branch %q at %#x", rec.Mnemonic, from)))
			}
			to = from + uint64(rec.Len)
			kind = KindNonTakenBranch

		case packet.FIj:
			if !IsInferableJump(rec.Mnemonic) {
				return false, fmt.Errorf("trace: %w", rverr.Consistency(fmt.Sprintf("FIj packet landed on non-inferable-jump %q at %#x", rec.Mnemonic, from)))
			}
			off, err := parseOffset(rec.OpStr)
			if err != nil {
				return false, err
			}
			to = uint64(int64(from) + off)
			kind = KindInferrableJump

		case packet.FUj:
			if !IsUninferableJump(rec.Mnemonic) {
				return false, fmt.Errorf("trace: %w", rverr.Consistency(fmt.Sprintf("FUj packet landed on non-uninferable-jump %q at %#x", rec.Mnemonic, from)))
			}
			to = (p.TargetAddress ^ (from >> 1)) << 1
			kind = KindUninferableJump
		}

		if err := r.out.Broadcast(Event{Kind: kind, Arc: Arc{From: from, To: to}, Timestamp: r.ts, HasTS: true}); err != nil {
			return false, fmt.Errorf("trace: broadcast control flow event: %w", err)
		}
		r.pc = to
		return false, nil

	default:
		return false, fmt.Errorf("trace: %w", rverr.Consistency(fmt.Sprintf("unexpected f_header %v mid-stream", p.FHeader)))
	}
}

func trapKind(t packet.TrapType) (Kind, error) {
	switch t {
	case packet.TrapException:
		return KindTrapException, nil
	case packet.TrapInterrupt:
		return KindTrapInterrupt, nil
	case packet.TrapReturn:
		return KindTrapReturn, nil
	default:
		return 0, fmt.Errorf("trace: %w", rverr.Consistency(fmt.Sprintf("invalid trap_type %v", t)))
	}
}
