package vm

import "fmt"

// InstructionSize is the wire size of a single Instruction record: opcode,
// operand, and offset, each a 4-byte big-endian field (spec.md §3).
const InstructionSize = 12

// Instruction is the triple (opcode, operand, offset). All three fields are
// always present; instructions that ignore a field still carry it.
type Instruction struct {
	Opcode  Opcode
	Operand int32
	Offset  uint32
}

// String renders the instruction in the assembler's textual form.
func (i Instruction) String() string {
	return fmt.Sprintf("%s %d %d", i.Opcode, i.Operand, i.Offset)
}

// Encode packs the instruction into its 12-byte big-endian wire form.
func (i Instruction) Encode() []byte {
	buf := make([]byte, 0, InstructionSize)
	buf = append(buf, EncodeUnsigned(uint32(i.Opcode))...)
	buf = append(buf, EncodeSigned(i.Operand)...)
	buf = append(buf, EncodeUnsigned(i.Offset)...)
	return buf
}

// ByteCodeParser is a sequential reader over a bytecode buffer, using a
// monotonic instruction counter (IC) with random-access seek for control
// flow (spec.md §4.4).
type ByteCodeParser struct {
	byteCode []byte
	ic       int
}

// NewByteCodeParser wraps byteCode, a flat sequence of 12-byte instruction
// records (spec.md §6). Execution begins at record 0.
func NewByteCodeParser(byteCode []byte) *ByteCodeParser {
	return &ByteCodeParser{byteCode: byteCode}
}

// IC returns the index (not byte offset) of the next instruction to fetch.
func (p *ByteCodeParser) IC() int {
	return p.ic
}

// ParseInstruction reads 12 bytes starting at IC*12, decodes them into an
// Instruction, and advances IC by one. Returns ErrEndOfStream if the read
// would exceed the buffer — the signal that the program lacks a HALT or a
// function lacks an IRET.
func (p *ByteCodeParser) ParseInstruction() (Instruction, error) {
	index := p.ic * InstructionSize
	if index+InstructionSize > len(p.byteCode) {
		return Instruction{}, ErrEndOfStream
	}

	opcodeValue, err := DecodeUnsigned(p.byteCode, index)
	if err != nil {
		return Instruction{}, ErrEndOfStream
	}
	operand, err := DecodeSigned(p.byteCode, index+4)
	if err != nil {
		return Instruction{}, ErrEndOfStream
	}
	offset, err := DecodeUnsigned(p.byteCode, index+8)
	if err != nil {
		return Instruction{}, ErrEndOfStream
	}

	opcode := Opcode(opcodeValue)
	if !opcode.Valid() {
		return Instruction{}, ErrBadOpcode
	}

	p.ic++
	return Instruction{Opcode: opcode, Operand: operand, Offset: offset}, nil
}

// GoTo sets IC to i, an instruction index (not a byte offset).
func (p *ByteCodeParser) GoTo(i int) {
	p.ic = i
}
