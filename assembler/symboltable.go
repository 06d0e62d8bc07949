// Package assembler implements the textual mnemonic-to-bytecode translator
// specified only by its output format in spec.md §6: it is not part of the
// VM's core contract, but the CLI's `transpile` subcommand and the test
// suite both need a human-writable program format.
package assembler

// SymbolTable maps a label name to the instruction index it resolves to.
type SymbolTable struct {
	symbols map[string]int32
}

// NewSymbolTable returns an empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{symbols: make(map[string]int32)}
}

// Add records label -> instruction index.
func (t *SymbolTable) Add(label string, index int32) {
	t.symbols[label] = index
}

// Get resolves a label to its instruction index.
func (t *SymbolTable) Get(label string) (int32, bool) {
	v, ok := t.symbols[label]
	return v, ok
}
