// Command proteusvm runs and assembles programs for the Proteus bytecode
// virtual machine. It is not part of the VM's core contract (spec.md §6
// describes it as a thin, optional surface).
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log = logrus.New()

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		log.WithError(err).Error("proteusvm failed")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:           "proteusvm",
		Short:         "Run and assemble Proteus VM bytecode",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
		},
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log single-step instruction traces")

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newTranspileCommand())
	return cmd
}
