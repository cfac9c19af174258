package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/dump"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Export or import embedders and their vectors",
}

var dumpExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write every embedder and its raw vectors to a dump file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}

			stats, err := dump.Export(cmd.Context(), f, a.manager)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(args[0])
				return err
			}
			fmt.Printf("Exported %d embedder(s), %d record(s) to %s\n", stats.Embedders, stats.Records, args[0])
			return nil
		})
	},
}

var dumpImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Apply the settings and vectors of a dump file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		return withApp(cmd.Context(), func(a *app) error {
			var stats dump.Stats
			err := a.logger.WithField("file", args[0]).LogOperation("import", func() (err error) {
				stats, err = dump.Import(cmd.Context(), f, a.manager)
				return err
			})
			if err != nil {
				return fmt.Errorf("import stopped after %d embedder(s), %d record(s): %w", stats.Embedders, stats.Records, err)
			}
			fmt.Printf("Imported %d embedder(s), %d record(s)\n", stats.Embedders, stats.Records)
			return nil
		})
	},
}

func init() {
	dumpCmd.AddCommand(dumpExportCmd)
	dumpCmd.AddCommand(dumpImportCmd)
}
