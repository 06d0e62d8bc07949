package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"proteusvm/assembler"
	"proteusvm/vm"
)

func newTranspileCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "transpile <file>",
		Short: "Assemble a textual program into bytecode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrap(err, "reading source file")
			}

			ffi := vm.NewFFIRegistry(func(string) error { return nil })
			byteCode, err := assembler.New(ffi).Assemble(string(source))
			if err != nil {
				return errors.Wrap(err, "assembling")
			}

			if output == "" {
				output = args[0] + ".bc"
			}
			if err := os.WriteFile(output, byteCode, 0o644); err != nil {
				return errors.Wrap(err, "writing bytecode file")
			}
			log.WithField("output", output).Info("wrote bytecode")
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output bytecode path (default: <file>.bc)")
	return cmd
}
