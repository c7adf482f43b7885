// Package rverr defines the four error kinds shared across the decode
// pipeline (§7): InputIO, Format, Consistency, and UnsupportedArchitecture.
// Every package wraps its failures in one of these via fmt.Errorf's %w so
// callers can classify an error with errors.As without caring which
// package produced it.
package rverr

// InputIO marks a failure opening or reading a file the pipeline depends
// on (trace, binary, GCNO, config).
type InputIO string

func (e InputIO) Error() string { return string(e) }

// Format marks a malformed input: bad magic, unknown tag, invalid header
// bits, or misaligned payload.
type Format string

func (e Format) Error() string { return string(e) }

// Consistency marks a violated runtime invariant: a branch packet landing
// on a non-branch instruction, a pc that does not resolve in the
// disassembly index, a stack-discipline violation.
type Consistency string

func (e Consistency) Error() string { return string(e) }

// UnsupportedArchitecture marks a binary that is not RV64 with the
// compressed extension.
type UnsupportedArchitecture string

func (e UnsupportedArchitecture) Error() string { return string(e) }
