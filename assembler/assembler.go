package assembler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"proteusvm/vm"
)

// defaultOffset is used when a mnemonic's source omits the offset field,
// per spec.md §6: "offset (integer, defaulting to 4 when absent in the
// mnemonic source)."
const defaultOffset = 4

// FFIResolver resolves an FFI function name (the operand of an FFCALL
// mnemonic) to its registered numeric id.
type FFIResolver interface {
	LookupByName(name string) (uint32, bool)
}

// Assembler translates the textual assembly format of spec.md §6 into
// packed bytecode.
type Assembler struct {
	ffi FFIResolver
}

// New returns an Assembler. ffi may be nil, in which case FFCALL operands
// are resolved only as numbers or labels, never as FFI function names.
func New(ffi FFIResolver) *Assembler {
	return &Assembler{ffi: ffi}
}

// instructionSource is one instruction's token triple plus its source line,
// after label-only lines have been merged into the following instruction.
type instructionSource struct {
	mnemonic string
	operand  string
	offset   string
	lineNo   int
}

// Assemble translates source into a flat sequence of 12-byte instruction
// records (spec.md §6).
func (a *Assembler) Assemble(source string) ([]byte, error) {
	lines := tokenize(source)

	symbols := NewSymbolTable()
	var instrs []instructionSource

	pendingLabels := []string{}
	index := int32(0)
	for _, line := range lines {
		pendingLabels = append(pendingLabels, line.labels...)
		if len(line.tokens) == 0 {
			continue
		}

		for _, label := range pendingLabels {
			symbols.Add(label, index)
		}
		pendingLabels = nil

		src := instructionSource{mnemonic: line.tokens[0], lineNo: line.lineNo}
		if len(line.tokens) > 1 {
			src.operand = line.tokens[1]
		}
		if len(line.tokens) > 2 {
			src.offset = line.tokens[2]
		}
		instrs = append(instrs, src)
		index++
	}
	if len(pendingLabels) > 0 {
		return nil, errors.Errorf("label(s) %v at end of file do not precede an instruction", pendingLabels)
	}

	byteCode := make([]byte, 0, len(instrs)*vm.InstructionSize)
	for _, src := range instrs {
		instr, err := a.resolveInstruction(src, symbols)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", src.lineNo)
		}
		byteCode = append(byteCode, instr.Encode()...)
	}
	return byteCode, nil
}

func (a *Assembler) resolveInstruction(src instructionSource, symbols *SymbolTable) (vm.Instruction, error) {
	opcode, err := a.resolveOpcode(src.mnemonic)
	if err != nil {
		return vm.Instruction{}, err
	}

	operand := int32(0)
	if src.operand != "" {
		operand, err = a.resolveOperand(opcode, src.operand, symbols)
		if err != nil {
			return vm.Instruction{}, err
		}
	}

	offset := uint32(defaultOffset)
	if src.offset != "" {
		offsetVal, err := parseNumber(src.offset)
		if err != nil {
			return vm.Instruction{}, errors.Wrapf(err, "invalid offset %q", src.offset)
		}
		offset = uint32(offsetVal)
	}

	return vm.Instruction{Opcode: opcode, Operand: operand, Offset: offset}, nil
}

func (a *Assembler) resolveOpcode(mnemonic string) (vm.Opcode, error) {
	if op, ok := vm.OpcodeFromMnemonic(strings.ToUpper(mnemonic)); ok {
		return op, nil
	}
	if n, err := parseNumber(mnemonic); err == nil {
		op := vm.Opcode(uint32(n))
		if !op.Valid() {
			return 0, errors.Errorf("unassigned opcode %d", n)
		}
		return op, nil
	}
	return 0, errors.Errorf("unknown mnemonic %q", mnemonic)
}

// resolveOperand resolves an operand token as a number, a label (resolved
// through symbols), or — for FFCALL specifically — an FFI function name
// resolved through the evaluator's registry.
func (a *Assembler) resolveOperand(opcode vm.Opcode, token string, symbols *SymbolTable) (int32, error) {
	if n, err := parseNumber(token); err == nil {
		return n, nil
	}

	if opcode == vm.FFCALL && a.ffi != nil {
		if id, ok := a.ffi.LookupByName(token); ok {
			return int32(id), nil
		}
		return 0, errors.Errorf("unknown FFI function: %s", token)
	}

	if index, ok := symbols.Get(token); ok {
		return index, nil
	}
	return 0, errors.Errorf("unknown symbol: %s", token)
}

// parseNumber parses a decimal, 0x-hex, or 0b-binary integer literal.
func parseNumber(s string) (int32, error) {
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	var v int64
	var err error
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		v, err = strconv.ParseInt(s[2:], 16, 64)
	case strings.HasPrefix(s, "0b"), strings.HasPrefix(s, "0B"):
		v, err = strconv.ParseInt(s[2:], 2, 64)
	default:
		v, err = strconv.ParseInt(s, 10, 64)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid integer literal %q", s)
	}
	if neg {
		v = -v
	}
	return int32(v), nil
}
