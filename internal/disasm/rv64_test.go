package disasm

import "testing"

func TestDecodeBeqBranch(t *testing.T) {
	// beq x1, x2, -0x10 encoded as a B-type instruction.
	var w uint32
	offset := int32(-0x10)
	imm := uint32(offset)
	opcode := uint32(0b1100011)
	funct3 := uint32(funct3Beq)
	rs1 := uint32(1)
	rs2 := uint32(2)
	w = opcode | funct3<<12 | rs1<<15 | rs2<<20
	w |= (imm >> 12 & 1) << 31
	w |= (imm >> 11 & 1) << 7
	w |= (imm >> 5 & 0x3f) << 25
	w |= (imm >> 1 & 0xf) << 8

	buf := make([]byte, 4)
	buf[0] = byte(w)
	buf[1] = byte(w >> 8)
	buf[2] = byte(w >> 16)
	buf[3] = byte(w >> 24)

	rec := decode32(0x1000, w)
	if rec.Mnemonic != "beq" {
		t.Fatalf("want beq got %s", rec.Mnemonic)
	}
	if rec.OpStr != "x1, x2, -0x10" {
		t.Fatalf("want 'x1, x2, -0x10' got %q", rec.OpStr)
	}
	if rec.Len != 4 {
		t.Fatalf("want len 4 got %d", rec.Len)
	}
}

func TestDecodeCompressedLength(t *testing.T) {
	rec, err := decodeCompressed(0x2000, 0xa001) // c.j, some offset
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Len != 2 {
		t.Fatalf("want len 2 got %d", rec.Len)
	}
}

func TestDecodeJal(t *testing.T) {
	// jal x1, 0x20
	w := uint32(0b1101111) | uint32(1)<<7
	imm := uint32(0x20)
	w |= (imm >> 20 & 1) << 31
	w |= (imm >> 12 & 0xff) << 12
	w |= (imm >> 11 & 1) << 20
	w |= (imm >> 1 & 0x3ff) << 21

	rec := decode32(0x3000, w)
	if rec.Mnemonic != "jal" {
		t.Fatalf("want jal got %s", rec.Mnemonic)
	}
	if rec.OpStr != "x1, 0x20" {
		t.Fatalf("want 'x1, 0x20' got %q", rec.OpStr)
	}
}
