package vm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func encode(instrs ...Instruction) []byte {
	var out []byte
	for _, instr := range instrs {
		out = append(out, instr.Encode()...)
	}
	return out
}

func runToCompletion(t *testing.T, byteCode []byte) (*Evaluator, string) {
	t.Helper()
	var out bytes.Buffer
	eval := NewEvaluator(byteCode, &out)
	err := eval.Run()
	require.NoError(t, err)
	return eval, out.String()
}

func runAndExpectError(t *testing.T, byteCode []byte, target error) *Evaluator {
	t.Helper()
	var out bytes.Buffer
	eval := NewEvaluator(byteCode, &out)
	err := eval.Run()
	require.Error(t, err)
	require.ErrorIs(t, err, target)
	return eval
}

func TestHaltStopsCleanly(t *testing.T) {
	eval, _ := runToCompletion(t, encode(Instruction{Opcode: HALT}))
	require.True(t, eval.Halted())
}

func TestPushPopArithmetic(t *testing.T) {
	byteCode := encode(
		Instruction{Opcode: PUSH, Operand: 3},
		Instruction{Opcode: PUSH, Operand: 4},
		Instruction{Opcode: IADD},
		Instruction{Opcode: HALT},
	)
	eval, _ := runToCompletion(t, byteCode)
	top, err := eval.Memory().Peek(4)
	require.NoError(t, err)
	v, err := DecodeSigned(top, 0)
	require.NoError(t, err)
	require.Equal(t, int32(7), v)
}

func TestISubOperandOrder(t *testing.T) {
	// push 10, push 3: top-of-stack (3) is popped first as "a", so ISUB
	// computes a-b = 3-10 = -7.
	byteCode := encode(
		Instruction{Opcode: PUSH, Operand: 10},
		Instruction{Opcode: PUSH, Operand: 3},
		Instruction{Opcode: ISUB},
		Instruction{Opcode: HALT},
	)
	eval, _ := runToCompletion(t, byteCode)
	top, err := eval.Memory().Peek(4)
	require.NoError(t, err)
	v, err := DecodeSigned(top, 0)
	require.NoError(t, err)
	require.Equal(t, int32(-7), v)
}

func TestDivideByZero(t *testing.T) {
	byteCode := encode(
		Instruction{Opcode: PUSH, Operand: 1},
		Instruction{Opcode: PUSH, Operand: 0},
		Instruction{Opcode: IDIV},
		Instruction{Opcode: HALT},
	)
	runAndExpectError(t, byteCode, ErrDivideByZero)
}

func TestJZBranchesOnZero(t *testing.T) {
	byteCode := encode(
		Instruction{Opcode: PUSH, Operand: 0},
		Instruction{Opcode: JZ, Operand: 3},
		Instruction{Opcode: PUSH, Operand: 999},
		Instruction{Opcode: HALT},
	)
	eval, _ := runToCompletion(t, byteCode)
	require.Equal(t, uint32(0), eval.SP(), "the skipped PUSH must not have executed")
}

func TestStackOverflowIsFatal(t *testing.T) {
	byteCode := encode(
		Instruction{Opcode: PUSH, Operand: 1},
		Instruction{Opcode: JMP, Operand: 0},
	)
	runAndExpectError(t, byteCode, ErrStackOverflow)
}

func TestEndOfStreamWithoutHalt(t *testing.T) {
	byteCode := encode(Instruction{Opcode: NOP})
	runAndExpectError(t, byteCode, ErrEndOfStream)
}

func TestBadOpcodeIsFatal(t *testing.T) {
	byteCode := append([]byte{}, EncodeUnsigned(0xAB)...)
	byteCode = append(byteCode, EncodeSigned(0)...)
	byteCode = append(byteCode, EncodeUnsigned(0)...)
	runAndExpectError(t, byteCode, ErrBadOpcode)
}

func TestHallocThenStoreThenLoad(t *testing.T) {
	byteCode := encode(
		Instruction{Opcode: HALLOC, Operand: 4},
		Instruction{Opcode: PUSH, Operand: 123},
		Instruction{Opcode: RSTORE, Offset: 4},
		Instruction{Opcode: RLOAD, Offset: 4},
		Instruction{Opcode: HALT},
	)
	eval, _ := runToCompletion(t, byteCode)
	top, err := eval.Memory().Peek(4)
	require.NoError(t, err)
	v, err := DecodeSigned(top, 0)
	require.NoError(t, err)
	require.Equal(t, int32(123), v)
}

func TestFreeUnderflowsWhenStackIsEmpty(t *testing.T) {
	// FREE pops the pointer to release; with nothing pushed first there is
	// nothing to pop.
	byteCode := encode(Instruction{Opcode: FREE, Operand: 4})
	runAndExpectError(t, byteCode, ErrStackUnderflow)
}

func TestHeapWriteAfterFreeFails(t *testing.T) {
	var out bytes.Buffer
	eval := NewEvaluator(nil, &out)

	addr, err := eval.Memory().AllocateHeap(4)
	require.NoError(t, err)
	require.NoError(t, eval.Memory().FreeHeap(addr, 4))

	err = eval.Memory().Store(addr, EncodeSigned(1))
	require.ErrorIs(t, err, ErrWriteToFreed)
}

func TestCallAndIRet(t *testing.T) {
	// main: PUSH 21, CALL 3, HALT
	// callee (at ic=3): push and discard an SP marker, then return the
	// 4-byte value 42; the caller's 21 stays below it on the stack.
	byteCode := encode(
		Instruction{Opcode: PUSH, Operand: 21},    // ic0: arg
		Instruction{Opcode: CALL, Operand: 3},     // ic1: call double
		Instruction{Opcode: HALT},                 // ic2
		Instruction{Opcode: PUSHSP},                // ic3 (double:) push current SP (unused marker)
		Instruction{Opcode: POP},                   // ic4: discard marker
		Instruction{Opcode: PUSH, Operand: 42},     // ic5: return value
		Instruction{Opcode: IRET, Operand: 4},      // ic6: return 4 bytes
	)
	eval, _ := runToCompletion(t, byteCode)
	top, err := eval.Memory().Peek(4)
	require.NoError(t, err)
	v, err := DecodeSigned(top, 0)
	require.NoError(t, err)
	require.Equal(t, int32(42), v)
	require.Equal(t, 1, eval.FrameDepth(), "IRET must restore the caller's frame")
}

func TestSAddConcatenatesHeapStrings(t *testing.T) {
	var out bytes.Buffer
	eval := NewEvaluator(nil, &out)

	addrA, err := eval.Memory().Heap.AllocateString("foo")
	require.NoError(t, err)
	addrB, err := eval.Memory().Heap.AllocateString("bar")
	require.NoError(t, err)

	logicalA := addrA + eval.Memory().StackSize()
	logicalB := addrB + eval.Memory().StackSize()

	require.NoError(t, eval.Memory().Push(EncodeSigned(int32(logicalB))))
	require.NoError(t, eval.Memory().Push(EncodeSigned(int32(logicalA))))

	require.NoError(t, eval.dispatch(Instruction{Opcode: SADD}))

	ptrBytes, err := eval.Memory().Peek(4)
	require.NoError(t, err)
	ptr, err := DecodeSigned(ptrBytes, 0)
	require.NoError(t, err)

	s, err := eval.Memory().GetString(uint32(ptr))
	require.NoError(t, err)
	require.Equal(t, "foobar", s)
}

func TestFFCallPrintln(t *testing.T) {
	var out bytes.Buffer
	eval := NewEvaluator(nil, &out)

	addr, err := eval.Memory().Heap.AllocateString("hello ffi")
	require.NoError(t, err)
	logical := addr + eval.Memory().StackSize()

	require.NoError(t, eval.Memory().Push(EncodeSigned(int32(logical))))
	require.NoError(t, eval.dispatch(Instruction{Opcode: FFCALL, Operand: 0}))

	require.Equal(t, "hello ffi\n", out.String())
}

func TestFFCallUnknownID(t *testing.T) {
	var out bytes.Buffer
	eval := NewEvaluator(nil, &out)
	err := eval.dispatch(Instruction{Opcode: FFCALL, Operand: 99})
	require.ErrorIs(t, err, ErrFFIUnknown)
}

// TestBuggySemanticsRejected asserts IAND computes bitwise AND (not IADD's
// sum) and ILE computes less-or-equal (not ILT's strict less-than) on inputs
// where the original implementation's aliasing bug and the documented
// semantics diverge.
func TestBuggySemanticsRejected(t *testing.T) {
	iand := encode(
		Instruction{Opcode: PUSH, Operand: 6},
		Instruction{Opcode: PUSH, Operand: 3},
		Instruction{Opcode: IAND},
		Instruction{Opcode: HALT},
	)
	eval, _ := runToCompletion(t, iand)
	top, err := eval.Memory().Peek(4)
	require.NoError(t, err)
	v, err := DecodeSigned(top, 0)
	require.NoError(t, err)
	require.Equal(t, int32(2), v, "6&3 = 2, not 6+3 = 9")

	ile := encode(
		Instruction{Opcode: PUSH, Operand: 5},
		Instruction{Opcode: PUSH, Operand: 5},
		Instruction{Opcode: ILE},
		Instruction{Opcode: HALT},
	)
	eval, _ = runToCompletion(t, ile)
	top, err = eval.Memory().Peek(4)
	require.NoError(t, err)
	v, err = DecodeSigned(top, 0)
	require.NoError(t, err)
	require.Equal(t, int32(1), v, "5<=5 is true under ILE even though 5<5 is false under ILT")
}
