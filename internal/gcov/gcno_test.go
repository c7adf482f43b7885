package gcov

import (
	"bytes"
	"encoding/binary"
	"testing"
)

type gcnoBuilder struct {
	buf bytes.Buffer
}

func (b *gcnoBuilder) u32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
}

func (b *gcnoBuilder) str(s string) {
	b.u32(uint32(len(s)))
	padded := (len(s) + 3) &^ 3
	data := make([]byte, padded)
	copy(data, s)
	b.buf.Write(data)
}

func (b *gcnoBuilder) record(tag uint32, payload func(*gcnoBuilder)) {
	var inner gcnoBuilder
	payload(&inner)
	b.u32(tag)
	b.u32(uint32(inner.buf.Len()))
	b.buf.Write(inner.buf.Bytes())
}

func buildFixture() []byte {
	var b gcnoBuilder
	b.u32(Magic)
	b.u32(1)  // version
	b.u32(99) // stamp
	b.str("/work")

	b.record(TagFunction, func(p *gcnoBuilder) {
		p.u32(1)   // identifier
		p.u32(0xA) // lineno checksum
		p.u32(0xB) // cfg checksum
		p.str("foo")
		p.str("foo.c")
		p.u32(10) // start line
		p.u32(1)  // start col
		p.u32(20) // end line
		p.u32(1)  // end col
	})

	b.record(TagBlocks, func(p *gcnoBuilder) {
		p.u32(4) // num_blocks
	})

	b.record(TagArcs, func(p *gcnoBuilder) {
		p.u32(0) // src block 0 (entry)
		p.u32(2)
		p.u32(0) // flags: non-tree, entry edge
	})

	b.record(TagArcs, func(p *gcnoBuilder) {
		p.u32(2) // src block 2
		p.u32(3)
		p.u32(FlagTree) // tree edge, not instrumented
	})

	b.record(TagLines, func(p *gcnoBuilder) {
		p.u32(2) // block id
		p.u32(11)
		p.u32(12)
	})

	return b.buf.Bytes()
}

func TestReadGCNOAndLift(t *testing.T) {
	cfg, err := Read(bytes.NewReader(buildFixture()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(cfg.Functions) != 1 {
		t.Fatalf("want 1 function got %d", len(cfg.Functions))
	}
	fn := cfg.Functions[0]
	if fn.Identifier != 1 || fn.LinenoChecksum != 0xA || fn.CfgChecksum != 0xB {
		t.Fatalf("bad function header: %+v", fn)
	}

	// Property 6: block 1 exists; block 0/1 locations are (source, start/end line).
	b0, ok := fn.Blocks[0]
	if !ok {
		t.Fatal("want block 0")
	}
	if len(b0.Locs) != 1 || b0.Locs[0] != (SourceLocation{File: "foo.c", Line: 10}) {
		t.Fatalf("bad block 0 location: %+v", b0.Locs)
	}
	b1, ok := fn.Blocks[1]
	if !ok {
		t.Fatal("want block 1 (synthetic exit)")
	}
	if len(b1.Locs) != 1 || b1.Locs[0] != (SourceLocation{File: "foo.c", Line: 20}) {
		t.Fatalf("bad block 1 location: %+v", b1.Locs)
	}

	b2 := fn.Blocks[2]
	if len(b2.Locs) != 2 || b2.Locs[0].Line != 11 || b2.Locs[1].Line != 12 {
		t.Fatalf("bad block 2 locations: %+v", b2.Locs)
	}

	// Property 5: entry-edge detection.
	if len(fn.ReportedEdges) != 1 {
		t.Fatalf("want 1 reported edge (tree edge excluded) got %d", len(fn.ReportedEdges))
	}
	re := fn.ReportedEdges[0]
	if !re.Entry {
		t.Fatalf("want entry=true for edge 0->2, got %+v", re)
	}
	if re.FuncName != "foo" {
		t.Fatalf("want func name foo got %q", re.FuncName)
	}
}

func TestReadGCNORejectsBadMagic(t *testing.T) {
	var b gcnoBuilder
	b.u32(0xdeadbeef)
	b.u32(1)
	b.u32(1)
	b.str("/x")
	_, err := Read(bytes.NewReader(b.buf.Bytes()))
	if err == nil {
		t.Fatal("want error for bad magic")
	}
}

func TestReadGCNORejectsUnknownTag(t *testing.T) {
	var b gcnoBuilder
	b.u32(Magic)
	b.u32(1)
	b.u32(1)
	b.str("/x")
	b.record(0xdeadbeef, func(p *gcnoBuilder) {})
	_, err := Read(bytes.NewReader(b.buf.Bytes()))
	if err == nil {
		t.Fatal("want error for unknown tag")
	}
}
