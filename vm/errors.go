package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds from spec.md §7. These are sentinels: callers compare against
// them with errors.Is after the evaluator wraps them with instruction
// context via WithInstructionContext.
var (
	ErrTruncation      = errors.New("truncation: not enough bytes to decode a 32-bit value")
	ErrBadOpcode       = errors.New("bad opcode: unassigned numeric opcode")
	ErrStackUnderflow  = errors.New("stack underflow")
	ErrStackOverflow   = errors.New("stack overflow")
	ErrOutOfMemory     = errors.New("heap out of memory: no free block fits the request")
	ErrInvalidFree     = errors.New("invalid free: block would exceed heap bounds")
	ErrWriteToFreed    = errors.New("write to freed memory")
	ErrOutOfBoundsLoad = errors.New("out of bounds load")
	ErrOutOfBoundsStore = errors.New("out of bounds store")
	ErrDivideByZero    = errors.New("divide by zero")
	ErrFFIUnknown      = errors.New("unknown FFI function id")
	ErrFFIArgument     = errors.New("FFI argument error")
	ErrEndOfStream     = errors.New("end of instruction stream")
	ErrNoFrame         = errors.New("no current stack frame")
)

// WithInstructionContext wraps err with the instruction counter and, when
// available, the offending instruction, per spec.md §7: "All errors surface
// upward with the offending instruction and IC attached."
func WithInstructionContext(err error, ic int, instr *Instruction) error {
	if err == nil {
		return nil
	}
	if instr == nil {
		return errors.Wrapf(err, "at ic=%d", ic)
	}
	return errors.Wrapf(err, "at ic=%d instruction=%s", ic, instr)
}

// fmtErr is a small helper used where a dynamic message needs to be attached
// to a sentinel without losing errors.Is comparability.
func fmtErr(sentinel error, format string, args ...any) error {
	return errors.Wrap(sentinel, fmt.Sprintf(format, args...))
}
