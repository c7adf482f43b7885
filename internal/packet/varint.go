package packet

import (
	"fmt"
	"io"
)

// EncodeVarint writes v to w using the wire's inverted-LEB128 convention:
// 7 payload bits per byte, least-significant byte first, continuation bytes
// with the high bit clear and the final byte with the high bit set.
func EncodeVarint(w io.Writer, v uint64) error {
	var buf []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf = append(buf, b|0x80)
			break
		}
		buf = append(buf, b)
	}
	_, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("packet: write varint: %w", err)
	}
	return nil
}

// DecodeVarint reads bytes from r until one with the stop bit (0x80) set,
// then folds them most-significant-byte-first (the reverse of read order)
// into a u64, 7 bits per byte. Returns io.EOF if the stream ends before the
// stop byte is read; Parse reports that as a truncated-packet FormatError.
func DecodeVarint(r io.Reader) (uint64, error) {
	var bytes []byte
	var b [1]byte
	for {
		n, err := r.Read(b[:])
		if n == 0 {
			if err == io.EOF {
				if len(bytes) == 0 {
					return 0, io.EOF
				}
				return 0, fmt.Errorf("packet: %w", ErrFormat("truncated varint"))
			}
			if err != nil {
				return 0, fmt.Errorf("packet: read varint byte: %w", err)
			}
			continue
		}
		bytes = append(bytes, b[0])
		if b[0]&0x80 != 0 {
			break
		}
	}

	var v uint64
	for i := len(bytes) - 1; i >= 0; i-- {
		v = (v << 7) | uint64(bytes[i]&0x7f)
	}
	return v, nil
}
