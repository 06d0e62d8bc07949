package vm

import (
	"fmt"
	"io"
	"runtime/debug"
	"strconv"

	"github.com/sirupsen/logrus"
)

// returnAddressSize is the size in bytes of the return address CALL pushes
// and IRET pops.
const returnAddressSize = 4

// Evaluator is the interpreter: it decodes the current instruction,
// dispatches on opcode, maintains the call-frame stack, and mediates
// foreign calls via the FFI registry (spec.md §4.5).
type Evaluator struct {
	halted bool
	parser *ByteCodeParser
	frames []uint32
	memory *Memory
	ffi    *FFIRegistry
	log    *logrus.Logger

	lastIC    int
	lastInstr Instruction
}

// EvaluatorOption configures an Evaluator at construction time.
type EvaluatorOption func(*Evaluator)

// WithStackSize overrides the default stack capacity.
func WithStackSize(size uint32) EvaluatorOption {
	return func(e *Evaluator) { e.memory = NewMemory(size, e.memory.Heap.Size()) }
}

// WithHeapSize overrides the default heap capacity.
func WithHeapSize(size uint32) EvaluatorOption {
	return func(e *Evaluator) { e.memory = NewMemory(e.memory.StackSize(), size) }
}

// WithLogger overrides the default (silent) logger used for diagnostics.
func WithLogger(log *logrus.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.log = log }
}

// NewEvaluator constructs an Evaluator over byteCode, writing println output
// to out. The initial sentinel frame (0) is always present.
func NewEvaluator(byteCode []byte, out io.Writer, opts ...EvaluatorOption) *Evaluator {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	e := &Evaluator{
		parser: NewByteCodeParser(byteCode),
		frames: []uint32{0},
		memory: NewMemory(DefaultStackSize, DefaultHeapSize),
		log:    log,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ffi = NewFFIRegistry(func(s string) error {
		_, err := fmt.Fprintln(out, s)
		return err
	})
	return e
}

// Memory exposes the VM's address space, e.g. for debugger heap peeks.
func (e *Evaluator) Memory() *Memory { return e.memory }

// FFI exposes the registry so callers may register additional host
// functions before running the program.
func (e *Evaluator) FFI() *FFIRegistry { return e.ffi }

// Halted reports whether the VM has stopped (via HALT or a fatal error).
func (e *Evaluator) Halted() bool { return e.halted }

// IC returns the index of the next instruction to be fetched.
func (e *Evaluator) IC() int { return e.parser.IC() }

// SP returns the current stack pointer.
func (e *Evaluator) SP() uint32 { return e.memory.SP() }

// CurrentFrame returns the SP snapshot at the top of the frame registry.
func (e *Evaluator) CurrentFrame() uint32 { return e.frames[len(e.frames)-1] }

// FrameDepth returns the number of live stack frames, including the initial
// sentinel frame.
func (e *Evaluator) FrameDepth() int { return len(e.frames) }

// State renders a human-readable dump of IC, SP, current frame, the live
// stack region, and the heap free list — used by the debugger's state
// command.
func (e *Evaluator) State() string {
	return fmt.Sprintf(
		"ic=%d sp=%d frame=%d frames=%d\n%sfree list: %v\n",
		e.IC(), e.SP(), e.CurrentFrame(), e.FrameDepth(), e.memory.StackFrame(), e.memory.Heap.FreeList(),
	)
}

// Run executes instructions until the VM halts or a fatal error occurs. A
// clean HALT returns nil; ErrEndOfStream (no HALT/IRET reached) and any
// per-instruction error are wrapped with instruction context and returned.
//
// The VM's stack and heap arrays are allocated once at construction; the
// dispatch loop still makes small short-lived allocations (operand encode
// and decode buffers). The Go garbage collector is disabled for the run's
// duration, matching the teacher's RunProgram.
func (e *Evaluator) Run() error {
	old := debug.SetGCPercent(-1)
	defer debug.SetGCPercent(old)

	for !e.halted {
		if err := e.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step fetches and executes exactly one instruction. It is the primitive
// the optional debugger interface (spec.md §4.5) single-steps with.
func (e *Evaluator) Step() error {
	if e.halted {
		return nil
	}

	ic := e.parser.IC()
	instr, err := e.parser.ParseInstruction()
	if err != nil {
		e.halted = true
		e.log.WithError(err).WithField("ic", ic).Debug("failed to fetch next instruction")
		return WithInstructionContext(err, ic, nil)
	}
	e.lastIC, e.lastInstr = ic, instr
	if e.log.IsLevelEnabled(logrus.DebugLevel) {
		e.log.WithField("ic", ic).WithField("instruction", instr.String()).Debug("step")
	}

	if err := e.dispatch(instr); err != nil {
		e.halted = true
		e.log.WithError(err).WithField("ic", ic).WithField("instruction", instr.String()).Debug("instruction failed")
		return WithInstructionContext(err, ic, &instr)
	}
	return nil
}

func (e *Evaluator) dispatch(instr Instruction) error {
	switch instr.Opcode {
	case NOP:
		return nil
	case HALT:
		e.halted = true
		return nil

	case PUSH:
		return e.memory.Push(EncodeSigned(instr.Operand))
	case PUSHB:
		return e.memory.Push([]byte{byte(instr.Operand)})
	case POP:
		_, err := e.memory.Pop(wordSize)
		return err
	case PUSHSP:
		return e.memory.Push(EncodeSigned(int32(e.memory.SP()) + instr.Operand))

	case ALLOC:
		return e.opAlloc(instr)
	case FREE:
		return e.opFree(instr)
	case HALLOC:
		return e.opHalloc(uint32(instr.Operand))
	case DHALLOC:
		n, err := e.popSigned()
		if err != nil {
			return err
		}
		return e.opHalloc(uint32(n))

	case LOAD:
		return e.opLoad(instr)
	case STORE:
		return e.opStore(instr)
	case LOADA:
		return e.opLoadA(instr)
	case RLOAD:
		return e.opRLoad(instr)
	case RSTORE:
		return e.opRStore(instr)
	case STOREB:
		return e.opStoreB(instr)

	case IADD:
		return e.binaryIntOp(func(a, b int32) int32 { return a + b })
	case ISUB:
		return e.binaryIntOp(func(a, b int32) int32 { return a - b })
	case IMUL:
		return e.binaryIntOp(func(a, b int32) int32 { return a * b })
	case IDIV:
		return e.binaryIntOpErr(func(a, b int32) (int32, error) {
			if b == 0 {
				return 0, ErrDivideByZero
			}
			return a / b, nil
		})
	case IMOD:
		return e.binaryIntOpErr(func(a, b int32) (int32, error) {
			if b == 0 {
				return 0, ErrDivideByZero
			}
			return a % b, nil
		})
	case IEQ:
		return e.binaryBoolOp(func(a, b int32) bool { return a == b })
	case INE:
		return e.binaryBoolOp(func(a, b int32) bool { return a != b })
	case ILT:
		return e.binaryBoolOp(func(a, b int32) bool { return a < b })
	case ILE:
		return e.binaryBoolOp(func(a, b int32) bool { return a <= b })
	case IGT:
		return e.binaryBoolOp(func(a, b int32) bool { return a > b })
	case IGE:
		return e.binaryBoolOp(func(a, b int32) bool { return a >= b })
	case IAND:
		return e.binaryIntOp(func(a, b int32) int32 { return a & b })
	case IOR:
		return e.binaryIntOp(func(a, b int32) int32 { return a | b })
	case IXOR:
		return e.binaryIntOp(func(a, b int32) int32 { return a ^ b })
	case INOT:
		a, err := e.popSigned()
		if err != nil {
			return err
		}
		return e.memory.Push(EncodeSigned(^a))

	case JMP:
		e.parser.GoTo(int(instr.Operand))
		return nil
	case JZ:
		return e.condJump(instr, func(v int32) bool { return v == 0 })
	case JNZ:
		return e.condJump(instr, func(v int32) bool { return v != 0 })

	case CALL:
		return e.opCall(instr)
	case IRET:
		return e.opIRet(instr)

	case SADD:
		return e.opSAdd()
	case ITOA:
		return e.opItoA()

	case FFCALL:
		return e.opFFCall(instr)

	default:
		return ErrBadOpcode
	}
}

func (e *Evaluator) popSigned() (int32, error) {
	bytes, err := e.memory.Pop(wordSize)
	if err != nil {
		return 0, err
	}
	return DecodeSigned(bytes, 0)
}

func (e *Evaluator) peekSigned() (int32, error) {
	bytes, err := e.memory.Peek(wordSize)
	if err != nil {
		return 0, err
	}
	return DecodeSigned(bytes, 0)
}

// binaryIntOp implements "A := pop, B := pop" then pushes op(A, B), per
// spec.md §4.5.
func (e *Evaluator) binaryIntOp(op func(a, b int32) int32) error {
	return e.binaryIntOpErr(func(a, b int32) (int32, error) { return op(a, b), nil })
}

func (e *Evaluator) binaryIntOpErr(op func(a, b int32) (int32, error)) error {
	a, err := e.popSigned()
	if err != nil {
		return err
	}
	b, err := e.popSigned()
	if err != nil {
		return err
	}
	result, err := op(a, b)
	if err != nil {
		return err
	}
	return e.memory.Push(EncodeSigned(result))
}

func (e *Evaluator) binaryBoolOp(op func(a, b int32) bool) error {
	return e.binaryIntOp(func(a, b int32) int32 {
		if op(a, b) {
			return 1
		}
		return 0
	})
}

func (e *Evaluator) condJump(instr Instruction, test func(int32) bool) error {
	v, err := e.popSigned()
	if err != nil {
		return err
	}
	if test(v) {
		e.parser.GoTo(int(instr.Operand))
	}
	return nil
}

func (e *Evaluator) opAlloc(instr Instruction) error {
	if e.FrameDepth() == 0 {
		return ErrNoFrame
	}
	return e.memory.MoveStackPointerBy(int64(uint32(instr.Operand)))
}

func (e *Evaluator) opFree(instr Instruction) error {
	ptr, err := e.popSigned()
	if err != nil {
		return err
	}
	return e.memory.FreeHeap(uint32(ptr), uint32(instr.Operand))
}

func (e *Evaluator) opHalloc(n uint32) error {
	addr, err := e.memory.AllocateHeap(n)
	if err != nil {
		return err
	}
	return e.memory.Push(EncodeUnsigned(addr))
}

func (e *Evaluator) opLoad(instr Instruction) error {
	base := int64(e.CurrentFrame()) + int64(instr.Operand)
	data, err := e.memory.Load(uint32(base), instr.Offset)
	if err != nil {
		return err
	}
	return e.memory.Push(data)
}

func (e *Evaluator) opStore(instr Instruction) error {
	data, err := e.memory.Pop(instr.Offset)
	if err != nil {
		return err
	}
	base := int64(e.CurrentFrame()) + int64(instr.Operand)
	return e.memory.Store(uint32(base), data)
}

func (e *Evaluator) opLoadA(instr Instruction) error {
	addr := int64(e.CurrentFrame()) + int64(instr.Operand)
	return e.memory.Push(EncodeSigned(int32(addr)))
}

func (e *Evaluator) opRLoad(instr Instruction) error {
	base, err := e.popSigned()
	if err != nil {
		return err
	}
	addr := int64(base) + int64(instr.Operand)
	data, err := e.memory.Load(uint32(addr), instr.Offset)
	if err != nil {
		return err
	}
	return e.memory.Push(data)
}

func (e *Evaluator) opRStore(instr Instruction) error {
	value, err := e.memory.Pop(instr.Offset)
	if err != nil {
		return err
	}
	base, err := e.peekSigned()
	if err != nil {
		return err
	}
	addr := int64(base) + int64(instr.Operand)
	return e.memory.Store(uint32(addr), value)
}

func (e *Evaluator) opStoreB(instr Instruction) error {
	value, err := e.memory.Pop(1)
	if err != nil {
		return err
	}
	base, err := e.peekSigned()
	if err != nil {
		return err
	}
	addr := int64(base) + int64(instr.Operand)
	return e.memory.Store(uint32(addr), value)
}

func (e *Evaluator) opCall(instr Instruction) error {
	returnAddr := int32(e.parser.IC())
	if err := e.memory.Push(EncodeSigned(returnAddr)); err != nil {
		return err
	}
	e.frames = append(e.frames, e.memory.SP())
	e.parser.GoTo(int(instr.Operand))
	return nil
}

func (e *Evaluator) opIRet(instr Instruction) error {
	n := uint32(instr.Operand)
	value, err := e.memory.Pop(n)
	if err != nil {
		return err
	}

	if len(e.frames) <= 1 {
		return ErrNoFrame
	}
	frameBase := e.frames[len(e.frames)-1]
	e.frames = e.frames[:len(e.frames)-1]
	if err := e.memory.MoveStackPointerTo(int64(frameBase)); err != nil {
		return err
	}

	returnAddr, err := e.popSigned()
	if err != nil {
		return err
	}
	if err := e.memory.Push(value); err != nil {
		return err
	}
	e.parser.GoTo(int(returnAddr))
	return nil
}

func (e *Evaluator) opSAdd() error {
	ptrA, err := e.popSigned()
	if err != nil {
		return err
	}
	ptrB, err := e.popSigned()
	if err != nil {
		return err
	}
	strA, err := e.memory.GetString(uint32(ptrA))
	if err != nil {
		return err
	}
	strB, err := e.memory.GetString(uint32(ptrB))
	if err != nil {
		return err
	}
	addr, err := e.memory.Heap.AllocateString(strA + strB)
	if err != nil {
		return err
	}
	return e.memory.Push(EncodeUnsigned(addr + e.memory.StackSize()))
}

func (e *Evaluator) opItoA() error {
	v, err := e.popSigned()
	if err != nil {
		return err
	}
	addr, err := e.memory.AllocateHeap(uint32(len(strconv.Itoa(int(v))) + 1))
	if err != nil {
		return err
	}
	if err := e.memory.Store(addr, append([]byte(strconv.Itoa(int(v))), 0)); err != nil {
		return err
	}
	return e.memory.Push(EncodeUnsigned(addr))
}

func (e *Evaluator) opFFCall(instr Instruction) error {
	fn, err := e.ffi.Lookup(uint32(instr.Operand))
	if err != nil {
		return err
	}

	args := make([]FFIValue, 0, len(fn.Args))
	for _, argType := range fn.Args {
		switch argType {
		case FFII32:
			v, err := e.popSigned()
			if err != nil {
				return err
			}
			args = append(args, FFIValue{Type: FFII32, I32: v})
		case FFII64:
			hi, err := e.popSigned()
			if err != nil {
				return err
			}
			lo, err := e.popSigned()
			if err != nil {
				return err
			}
			args = append(args, FFIValue{Type: FFII64, I64: int64(hi)<<32 | int64(uint32(lo))})
		case FFIString:
			ptr, err := e.popSigned()
			if err != nil {
				return err
			}
			s, err := e.memory.GetString(uint32(ptr))
			if err != nil {
				return err
			}
			args = append(args, FFIValue{Type: FFIString, String: s})
		case FFIVoid:
			args = append(args, FFIValue{Type: FFIVoid})
		}
	}

	result, err := fn.Call(args)
	if err != nil {
		return fmtErr(ErrFFIArgument, "%s: %v", fn.Name, err)
	}
	return e.storeFFIResult(result)
}

func (e *Evaluator) storeFFIResult(v FFIValue) error {
	switch v.Type {
	case FFII32:
		return e.memory.Push(EncodeSigned(v.I32))
	case FFII64:
		hi := int32(v.I64 >> 32)
		lo := int32(v.I64 & 0xFFFFFFFF)
		if err := e.memory.Push(EncodeSigned(hi)); err != nil {
			return err
		}
		return e.memory.Push(EncodeSigned(lo))
	case FFIString:
		addr, err := e.memory.Heap.AllocateString(v.String)
		if err != nil {
			return err
		}
		return e.memory.Push(EncodeUnsigned(addr + e.memory.StackSize()))
	case FFIVoid:
		return nil
	default:
		return ErrFFIArgument
	}
}
