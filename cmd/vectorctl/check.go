package main

import (
	"fmt"
	"os"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/lifecycle"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/search"
)

var checkCmd = &cobra.Command{
	Use:   "check [embedder]",
	Short: "Verify that indexes match their settings and stored vectors",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			var err error
			if len(args) == 1 {
				err = a.manager.Check(args[0])
			} else {
				err = a.manager.CheckAll()
			}
			if err != nil {
				return err
			}
			fmt.Println("All indexes are consistent")
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics for every embedder",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		showMetrics, _ := cmd.Flags().GetBool("metrics")

		return withApp(cmd.Context(), func(a *app) error {
			embedders := a.manager.Embedders()
			stats := make([]lifecycle.Stats, 0, len(embedders))
			for _, name := range sortedNames(embedders) {
				st, err := a.manager.Stats(name)
				if err != nil {
					return err
				}
				stats = append(stats, st)
			}
			out := struct {
				Embedders []lifecycle.Stats  `json:"embedders"`
				Cache     *search.CacheStats `json:"cache,omitempty"`
			}{Embedders: stats}
			if cs, ok := a.manager.CacheStats(); ok {
				out.Cache = &cs
			}
			if err := printJSON(out); err != nil {
				return err
			}

			if showMetrics {
				if a.registry == nil {
					return fmt.Errorf("metrics are disabled in the configuration")
				}
				families, err := a.registry.Gather()
				if err != nil {
					return err
				}
				for _, mf := range families {
					if _, err := expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
						return err
					}
				}
			}
			return nil
		})
	},
}

func init() {
	statsCmd.Flags().Bool("metrics", false, "also print the metrics recorded while opening the indexes")
}
