package gcov

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rvtrace/rvtrace/internal/rverr"
)

// Magic is the GCNO file's fixed header value (§6).
const Magic uint32 = 0x67636e6f

// Tags of interest (§4.C). Unknown tags are a format error; OBJECT_SUMMARY
// and PROGRAM_SUMMARY are recognized and ignored.
const (
	TagFunction       uint32 = 0x01000000
	TagBlocks         uint32 = 0x01410000
	TagArcs           uint32 = 0x01430000
	TagLines          uint32 = 0x01450000
	TagObjectSummary  uint32 = 0xa1000000
	TagProgramSummary uint32 = 0xa3000000
)

// Read parses a GCNO stream into a lifted CFG.
func Read(r io.Reader) (*CFG, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcov: %w", rverr.InputIO(fmt.Sprintf("read gcno: %v", err)))
	}
	c := newCursor(raw)

	magic, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("gcov: %w", rverr.Format("truncated gcno header"))
	}
	if magic != Magic {
		return nil, fmt.Errorf("gcov: %w", rverr.Format(fmt.Sprintf("bad gcno magic %#x", magic)))
	}
	version, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("gcov: %w", rverr.Format("truncated gcno header"))
	}
	stamp, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("gcov: %w", rverr.Format("truncated gcno header"))
	}
	cwd, err := c.paddedString()
	if err != nil {
		return nil, fmt.Errorf("gcov: read cwd: %w", err)
	}

	cfg := &CFG{Version: version, Stamp: stamp, Cwd: cwd}
	var current *FunctionCFG

	flush := func() {
		if current == nil {
			return
		}
		current.synthesizeEntryExit()
		current.projectReportedEdges()
		cfg.Functions = append(cfg.Functions, current)
		current = nil
	}

	for !c.eof() {
		tag, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("gcov: %w", rverr.Format("truncated record tag"))
		}
		length, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("gcov: %w", rverr.Format("truncated record length"))
		}
		payload, err := c.bytes(int(length))
		if err != nil {
			return nil, fmt.Errorf("gcov: %w", rverr.Format(fmt.Sprintf("truncated record payload for tag %#x", tag)))
		}
		pc := newCursor(payload)

		switch tag {
		case TagFunction:
			flush()
			fn, err := readFunction(pc)
			if err != nil {
				return nil, err
			}
			current = fn

		case TagBlocks:
			if current == nil {
				return nil, fmt.Errorf("gcov: %w", rverr.Format("BLOCKS record before any FUNCTION"))
			}
			if _, err := pc.u32(); err != nil { // num_blocks: declared count, not otherwise enforced
				return nil, fmt.Errorf("gcov: %w", rverr.Format("truncated BLOCKS record"))
			}

		case TagArcs:
			if current == nil {
				return nil, fmt.Errorf("gcov: %w", rverr.Format("ARCS record before any FUNCTION"))
			}
			if err := readArcs(current, pc); err != nil {
				return nil, err
			}

		case TagLines:
			if current == nil {
				return nil, fmt.Errorf("gcov: %w", rverr.Format("LINES record before any FUNCTION"))
			}
			if err := readLines(current, pc); err != nil {
				return nil, err
			}

		case TagObjectSummary, TagProgramSummary:
			// ignored per §4.C

		default:
			return nil, fmt.Errorf("gcov: %w", rverr.Format(fmt.Sprintf("unknown record tag %#x", tag)))
		}
	}

	flush()
	return cfg, nil
}

func readFunction(pc *cursor) (*FunctionCFG, error) {
	fn := newFunction()
	var err error
	if fn.Identifier, err = pc.u32(); err != nil {
		return nil, fmt.Errorf("gcov: %w", rverr.Format("truncated FUNCTION record"))
	}
	if fn.LinenoChecksum, err = pc.u32(); err != nil {
		return nil, fmt.Errorf("gcov: %w", rverr.Format("truncated FUNCTION record"))
	}
	if fn.CfgChecksum, err = pc.u32(); err != nil {
		return nil, fmt.Errorf("gcov: %w", rverr.Format("truncated FUNCTION record"))
	}
	if fn.Name, err = pc.paddedString(); err != nil {
		return nil, fmt.Errorf("gcov: read function name: %w", err)
	}
	if fn.Source, err = pc.paddedString(); err != nil {
		return nil, fmt.Errorf("gcov: read function source: %w", err)
	}
	startLine, err := pc.u32()
	if err != nil {
		return nil, fmt.Errorf("gcov: %w", rverr.Format("truncated FUNCTION record"))
	}
	startCol, err := pc.u32()
	if err != nil {
		return nil, fmt.Errorf("gcov: %w", rverr.Format("truncated FUNCTION record"))
	}
	endLine, err := pc.u32()
	if err != nil {
		return nil, fmt.Errorf("gcov: %w", rverr.Format("truncated FUNCTION record"))
	}
	endCol, err := pc.u32()
	if err != nil {
		return nil, fmt.Errorf("gcov: %w", rverr.Format("truncated FUNCTION record"))
	}
	fn.StartLine, fn.StartColumn, fn.EndLine, fn.EndColumn = int(startLine), int(startCol), int(endLine), int(endCol)
	return fn, nil
}

func readArcs(fn *FunctionCFG, pc *cursor) error {
	src, err := pc.u32()
	if err != nil {
		return fmt.Errorf("gcov: %w", rverr.Format("truncated ARCS record"))
	}
	fn.block(src)
	for !pc.eof() {
		dst, err := pc.u32()
		if err != nil {
			return fmt.Errorf("gcov: %w", rverr.Format("truncated ARCS arc"))
		}
		flags, err := pc.u32()
		if err != nil {
			return fmt.Errorf("gcov: %w", rverr.Format("truncated ARCS arc"))
		}
		fn.block(dst)
		fn.Edges = append(fn.Edges, Edge{From: src, To: dst, Flags: uint8(flags & 0x7)})
	}
	return nil
}

func readLines(fn *FunctionCFG, pc *cursor) error {
	blockID, err := pc.u32()
	if err != nil {
		return fmt.Errorf("gcov: %w", rverr.Format("truncated LINES record"))
	}
	b := fn.block(blockID)
	currentFile := fn.Source

	for !pc.eof() {
		v, err := pc.u32()
		if err != nil {
			return fmt.Errorf("gcov: %w", rverr.Format("truncated LINES entry"))
		}
		if v == 0 {
			file, err := pc.paddedString()
			if err != nil {
				return fmt.Errorf("gcov: read LINES file sentinel: %w", err)
			}
			currentFile = file
			continue
		}
		b.Locs = append(b.Locs, SourceLocation{File: currentFile, Line: int(v)})
	}
	return nil
}

// cursor is a simple read-forward byte-slice reader used to parse a single
// record payload without further I/O.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor { return &cursor{buf: buf} }

func (c *cursor) eof() bool { return c.pos >= len(c.buf) }

func (c *cursor) u32() (uint32, error) {
	if c.pos+4 > len(c.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if c.pos+n > len(c.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	out := c.buf[c.pos : c.pos+n]
	c.pos += n
	return out, nil
}

// paddedString reads a length(u32)-prefixed string whose storage is padded
// so the total (4 + length, rounded up) is a multiple of 4, trimming to
// the first NUL (§6).
func (c *cursor) paddedString() (string, error) {
	length, err := c.u32()
	if err != nil {
		return "", fmt.Errorf("%w", rverr.Format("truncated string length"))
	}
	padded := int(length+3) &^ 3
	raw, err := c.bytes(padded)
	if err != nil {
		return "", fmt.Errorf("%w", rverr.Format("truncated string payload"))
	}
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw), nil
}
