package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"proteusvm/vm"
)

func newRunCommand() *cobra.Command {
	var step bool

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a bytecode file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			byteCode, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrap(err, "reading bytecode file")
			}

			eval := vm.NewEvaluator(byteCode, cmd.OutOrStdout(), vm.WithLogger(log))
			if step {
				return runStepper(cmd, eval)
			}
			return eval.Run()
		},
	}
	cmd.Flags().BoolVarP(&step, "step", "s", false, "single-step with an interactive debugger")
	return cmd
}

// runStepper drives eval one instruction at a time from stdin commands,
// mirroring the original implementation's step mode: `n`/`next` executes one
// instruction, `r`/`run` finishes without further stepping, `b <ic>` toggles
// a breakpoint, `h <addr> <size>` peeks the heap, `s`/`state` dumps VM state.
func runStepper(cmd *cobra.Command, eval *vm.Evaluator) error {
	dbg := vm.NewDebugger(eval)
	scanner := bufio.NewScanner(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	running := false

	for !dbg.Halted() {
		if !running {
			fmt.Fprintf(out, "(proteusvm) ic=%d> ", eval.IC())
			if !scanner.Scan() {
				return nil
			}
			fields := strings.Fields(scanner.Text())
			if len(fields) == 0 {
				continue
			}

			switch fields[0] {
			case "n", "next":
				// fall through to step below
			case "r", "run":
				running = true
			case "b", "break":
				if len(fields) < 2 {
					fmt.Fprintln(out, "usage: break <ic>")
					continue
				}
				ic, err := strconv.Atoi(fields[1])
				if err != nil {
					fmt.Fprintln(out, "invalid instruction index:", fields[1])
					continue
				}
				set := dbg.ToggleBreakpoint(ic)
				fmt.Fprintf(out, "breakpoint at %d: %v\n", ic, set)
				continue
			case "h", "heap":
				if len(fields) < 3 {
					fmt.Fprintln(out, "usage: heap <addr> <size>")
					continue
				}
				addr, err1 := strconv.ParseUint(fields[1], 10, 32)
				size, err2 := strconv.ParseUint(fields[2], 10, 32)
				if err1 != nil || err2 != nil {
					fmt.Fprintln(out, "invalid heap peek arguments")
					continue
				}
				data, err := dbg.HeapPeek(uint32(addr), uint32(size))
				if err != nil {
					fmt.Fprintln(out, "error:", err)
					continue
				}
				fmt.Fprintf(out, "%x\n", data)
				continue
			case "s", "state":
				fmt.Fprint(out, dbg.State())
				continue
			case "q", "quit":
				return nil
			default:
				fmt.Fprintln(out, "commands: next, run, break <ic>, heap <addr> <size>, state, quit")
				continue
			}
		}

		if err := dbg.Step(); err != nil {
			return err
		}
		if running && dbg.AtBreakpoint() {
			running = false
			fmt.Fprintf(out, "stopped at breakpoint, ic=%d\n", eval.IC())
		}
	}
	return nil
}
