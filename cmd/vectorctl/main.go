// vectorctl manages embedders and their vector indexes on a local data
// directory.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vecerr"
)

var (
	version = "1.0.0"
	commit  = "dev"

	cfgFile  string
	dataDir  string
	logLevel string
	backend  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error [%s]: %v\n", vecerr.CodeOf(err), err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vectorctl",
	Short: "Manage embedders and their vector indexes",
	Long: `vectorctl manages embedder settings, document vectors and nearest-neighbor
search over a local data directory.

Settings changes that alter the shape of an index (dimensions, distance or
binary quantization) rebuild the index from the stored vectors. Binary
quantization can be enabled on an existing embedder but never disabled.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vectorctl %s (commit: %s)\n", version, commit)
		fmt.Printf("Go version: %s\n", runtime.Version())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config/env)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "storage backend: memory or bolt (overrides config/env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statsCmd)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
