package vm

// Debugger is the optional, observational-only stepper contract from
// spec.md §4.5. A host may inspect SP, IC, the current frame, and heap
// contents after each instruction, and may set a next-instruction
// breakpoint. None of this alters VM semantics.
type Debugger struct {
	eval        *Evaluator
	breakpoints map[int]struct{}
}

// NewDebugger wraps eval for single-step inspection.
func NewDebugger(eval *Evaluator) *Debugger {
	return &Debugger{eval: eval, breakpoints: make(map[int]struct{})}
}

// ToggleBreakpoint sets a breakpoint at instruction index ic, or clears it
// if already set. Returns the new state (true if now set).
func (d *Debugger) ToggleBreakpoint(ic int) bool {
	if _, ok := d.breakpoints[ic]; ok {
		delete(d.breakpoints, ic)
		return false
	}
	d.breakpoints[ic] = struct{}{}
	return true
}

// AtBreakpoint reports whether the VM's next instruction is a breakpoint.
func (d *Debugger) AtBreakpoint() bool {
	_, ok := d.breakpoints[d.eval.IC()]
	return ok
}

// Step executes exactly one instruction and returns the resulting error, if
// any. The host is expected to call State/HeapPeek between calls.
func (d *Debugger) Step() error {
	return d.eval.Step()
}

// State returns the evaluator's human-readable state dump.
func (d *Debugger) State() string {
	return d.eval.State()
}

// HeapPeek reads size bytes at a heap-relative address, for the `#h addr
// [size]` style inspection command in the original implementation's
// stepper.
func (d *Debugger) HeapPeek(addr, size uint32) ([]byte, error) {
	return d.eval.memory.Heap.Load(addr, size)
}

// Halted reports whether the wrapped evaluator has stopped.
func (d *Debugger) Halted() bool {
	return d.eval.Halted()
}
