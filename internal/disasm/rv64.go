package disasm

import (
	"encoding/binary"
	"fmt"
)

// RV64GC is the built-in Disassembler. It decodes the RV64I base integer
// set, the C (compressed) extension's control-flow forms, and falls back to
// a generic "<mnemonic> 0x<bits>" record for instruction forms the
// Reconstructor never needs to classify (loads, stores, arithmetic, the M/A/F/D
// extensions) — the pipeline only inspects mnemonic/op_str for branch and
// jump instructions (§9), so those are the ones decoded precisely.
type RV64GC struct{}

func signExtend(v uint32, bits int) int64 {
	shift := 32 - bits
	return int64(int32(v<<shift)) >> shift
}

func (RV64GC) Decode(base uint64, raw []byte, addr uint64) (Record, error) {
	off := addr - base
	if off+2 > uint64(len(raw)) {
		return Record{}, fmt.Errorf("disasm: truncated instruction at %#x", addr)
	}
	lo16 := binary.LittleEndian.Uint16(raw[off:])

	if lo16&0b11 != 0b11 {
		return decodeCompressed(addr, lo16)
	}

	if off+4 > uint64(len(raw)) {
		return Record{}, fmt.Errorf("disasm: truncated 32-bit instruction at %#x", addr)
	}
	word := binary.LittleEndian.Uint32(raw[off:])
	return decode32(addr, word), nil
}

// branch funct3 values for the 32-bit B-type encoding.
const (
	funct3Beq  = 0b000
	funct3Bne  = 0b001
	funct3Blt  = 0b100
	funct3Bge  = 0b101
	funct3Bltu = 0b110
	funct3Bgeu = 0b111
)

func decode32(addr uint64, w uint32) Record {
	opcode := w & 0x7f
	rd := (w >> 7) & 0x1f
	funct3 := (w >> 12) & 0x7
	rs1 := (w >> 15) & 0x1f
	rs2 := (w >> 20) & 0x1f
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, w)

	rec := Record{Address: addr, Len: 4, Bytes: buf}

	switch opcode {
	case 0b1100011: // BRANCH
		imm := (w>>31)&1<<12 | (w>>7)&1<<11 | (w>>25)&0x3f<<5 | (w>>8)&0xf<<1
		off := signExtend(imm, 13)
		mnem := map[uint32]string{
			funct3Beq: "beq", funct3Bne: "bne", funct3Blt: "blt",
			funct3Bge: "bge", funct3Bltu: "bltu", funct3Bgeu: "bgeu",
		}[funct3]
		if mnem == "" {
			mnem = "b?"
		}
		rec.Mnemonic = mnem
		rec.OpStr = fmt.Sprintf("x%d, x%d, %s", rs1, rs2, signedHex(off))
		return rec

	case 0b1101111: // JAL
		imm := (w>>31)&1<<20 | (w>>12)&0xff<<12 | (w>>20)&1<<11 | (w>>21)&0x3ff<<1
		off := signExtend(imm, 21)
		rec.Mnemonic = "jal"
		rec.OpStr = fmt.Sprintf("x%d, %s", rd, signedHex(off))
		return rec

	case 0b1100111: // JALR
		imm := signExtend(w>>20, 12)
		rec.Mnemonic = "jalr"
		rec.OpStr = fmt.Sprintf("x%d, x%d, %s", rd, rs1, signedHex(imm))
		return rec

	case 0b0110111:
		rec.Mnemonic = "lui"
		rec.OpStr = fmt.Sprintf("x%d, %#x", rd, w>>12)
		return rec

	case 0b0010111:
		rec.Mnemonic = "auipc"
		rec.OpStr = fmt.Sprintf("x%d, %#x", rd, w>>12)
		return rec

	default:
		rec.Mnemonic = "insn"
		rec.OpStr = fmt.Sprintf("%#08x", w)
		return rec
	}
}

func decodeCompressed(addr uint64, w uint16) (Record, error) {
	buf := []byte{byte(w), byte(w >> 8)}
	rec := Record{Address: addr, Len: 2, Bytes: buf}
	op := w & 0b11
	funct3 := (w >> 13) & 0b111

	switch {
	case op == 0b01 && funct3 == 0b110: // C.BEQZ
		rs1p := 8 + (w>>7)&0x7
		imm := cbImm(w)
		rec.Mnemonic = "c.beqz"
		rec.OpStr = fmt.Sprintf("x%d, %s", rs1p, signedHex(imm))
		return rec, nil

	case op == 0b01 && funct3 == 0b111: // C.BNEZ
		rs1p := 8 + (w>>7)&0x7
		imm := cbImm(w)
		rec.Mnemonic = "c.bnez"
		rec.OpStr = fmt.Sprintf("x%d, %s", rs1p, signedHex(imm))
		return rec, nil

	case op == 0b01 && funct3 == 0b101: // C.J
		imm := cjImm(w)
		rec.Mnemonic = "c.j"
		rec.OpStr = signedHex(imm)
		return rec, nil

	case op == 0b01 && funct3 == 0b001: // C.ADDIW (this encoding is C.JAL only on RV32)
		rd := (w >> 7) & 0x1f
		imm := signExtend(uint32((w>>12)&1<<5|(w>>2)&0x1f), 6)
		rec.Mnemonic = "c.addiw"
		rec.OpStr = fmt.Sprintf("x%d, %d", rd, imm)
		return rec, nil

	case op == 0b10 && funct3 == 0b100: // C.JR / C.JALR / C.MV / C.ADD family
		rdrs1 := (w >> 7) & 0x1f
		rs2 := (w >> 2) & 0x1f
		bit12 := (w >> 12) & 1
		switch {
		case bit12 == 0 && rs2 == 0:
			rec.Mnemonic = "c.jr"
			rec.OpStr = fmt.Sprintf("x%d", rdrs1)
			return rec, nil
		case bit12 == 1 && rs2 == 0:
			rec.Mnemonic = "c.jalr"
			rec.OpStr = fmt.Sprintf("x%d", rdrs1)
			return rec, nil
		case bit12 == 0:
			rec.Mnemonic = "c.mv"
			rec.OpStr = fmt.Sprintf("x%d, x%d", rdrs1, rs2)
			return rec, nil
		default:
			rec.Mnemonic = "c.add"
			rec.OpStr = fmt.Sprintf("x%d, x%d", rdrs1, rs2)
			return rec, nil
		}

	default:
		rec.Mnemonic = "c.insn"
		rec.OpStr = fmt.Sprintf("%#04x", w)
		return rec, nil
	}
}

// cbImm decodes the CB-format branch-offset immediate (9-bit, bit 0 implicit 0).
func cbImm(w uint16) int64 {
	b := uint32(w)
	imm := (b>>12)&1<<8 | (b>>10)&3<<3 | (b>>5)&3<<6 | (b>>3)&3<<1 | (b>>2)&1<<5
	return signExtend(imm, 9)
}

// cjImm decodes the CJ-format jump-offset immediate (12-bit, bit 0 implicit 0).
func cjImm(w uint16) int64 {
	b := uint32(w)
	imm := (b>>12)&1<<11 | (b>>11)&1<<4 | (b>>9)&3<<8 | (b>>8)&1<<10 |
		(b>>7)&1<<6 | (b>>6)&1<<7 | (b>>3)&7<<1 | (b>>2)&1<<5
	return signExtend(imm, 12)
}

func signedHex(v int64) string {
	if v < 0 {
		return fmt.Sprintf("-%#x", -v)
	}
	return fmt.Sprintf("%#x", v)
}
