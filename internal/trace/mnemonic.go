package trace

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rvtrace/rvtrace/internal/rverr"
)

var branchMnemonics = map[string]bool{
	"beq": true, "bne": true, "blt": true, "bge": true, "bltu": true, "bgeu": true,
	"c.beqz": true, "c.bnez": true,
}

var inferableJumpMnemonics = map[string]bool{
	"jal": true, "c.j": true, "c.jal": true,
}

var uninferableJumpMnemonics = map[string]bool{
	"jalr": true, "c.jr": true, "c.jalr": true,
}

// IsBranch reports whether mnemonic is a conditional-branch instruction.
func IsBranch(mnemonic string) bool { return branchMnemonics[mnemonic] }

// IsInferableJump reports whether mnemonic is a direct jump whose target
// is derivable from the instruction's own encoding.
func IsInferableJump(mnemonic string) bool { return inferableJumpMnemonics[mnemonic] }

// IsUninferableJump reports whether mnemonic is an indirect jump whose
// target must come from the trace packet.
func IsUninferableJump(mnemonic string) bool { return uninferableJumpMnemonics[mnemonic] }

// classifyControlFlow reports a consistency error for any mnemonic that
// looks like a branch or jump (starts with b/j/c.b/c.j) but is not in
// either known set.
func classifyControlFlow(mnemonic string) error {
	if IsBranch(mnemonic) || IsInferableJump(mnemonic) || IsUninferableJump(mnemonic) {
		return nil
	}
	if looksLikeBranchOrJump(mnemonic) {
		return fmt.Errorf("trace: %w", rverr.Consistency(fmt.Sprintf("mnemonic %q looks like a branch/jump but is not classified", mnemonic)))
	}
	return nil
}

func looksLikeBranchOrJump(m string) bool {
	return strings.HasPrefix(m, "b") || strings.HasPrefix(m, "j") ||
		strings.HasPrefix(m, "c.b") || strings.HasPrefix(m, "c.j")
}

// IsReturn matches the mnemonic forms the stack unwinder treats as a
// function return: "ret", or the pair "c.jr"/"ra" (§9). jalr-encoded
// returns are only recognized if the disassembler already canonicalizes
// them to "ret".
func IsReturn(mnemonic, opStr string) bool {
	if mnemonic == "ret" {
		return true
	}
	if mnemonic == "c.jr" && strings.TrimSpace(opStr) == "ra" {
		return true
	}
	return false
}

// parseOffset extracts the signed integer offset from an operand string:
// the last comma-separated field, accepting "-0xHEX", "0xHEX", "-DEC", and
// "DEC" after trimming whitespace (§9).
func parseOffset(opStr string) (int64, error) {
	fields := strings.Split(opStr, ",")
	last := strings.TrimSpace(fields[len(fields)-1])
	if last == "" {
		return 0, fmt.Errorf("trace: %w", rverr.Format(fmt.Sprintf("empty operand string %q", opStr)))
	}

	neg := false
	if strings.HasPrefix(last, "-") {
		neg = true
		last = last[1:]
	}

	var v int64
	var err error
	if strings.HasPrefix(last, "0x") || strings.HasPrefix(last, "0X") {
		u, perr := strconv.ParseUint(last[2:], 16, 64)
		err = perr
		v = int64(u)
	} else {
		v, err = strconv.ParseInt(last, 10, 64)
	}
	if err != nil {
		return 0, fmt.Errorf("trace: %w", rverr.Format(fmt.Sprintf("cannot parse offset from operand %q: %v", opStr, err)))
	}
	if neg {
		v = -v
	}
	return v, nil
}
