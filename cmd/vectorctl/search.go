package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/distance"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/lifecycle"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vecerr"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vectorindex"
)

var searchCmd = &cobra.Command{
	Use:   "search <embedder> <vector-json>",
	Short: "Find the documents closest to a vector",
	Long: `Find the documents closest to a query vector. On a binary quantized
embedder the query is quantized before the search.

Examples:
  vectorctl search manual '[0.1, 0.2, 0.3]' --limit 5
  vectorctl search manual '[0.1, 0.2, 0.3]' --expect-distance cosine --expect-quantized`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		expectMetric, _ := cmd.Flags().GetString("expect-distance")
		expectQuantized, _ := cmd.Flags().GetBool("expect-quantized")

		q := lifecycle.Query{Embedder: args[0], K: limit}
		if err := json.Unmarshal([]byte(args[1]), &q.Vector); err != nil {
			return vecerr.InvalidRequest(args[0], fmt.Errorf("query vector must be an array of numbers: %w", err))
		}
		if expectMetric != "" {
			metric, err := distance.ParseMetric(expectMetric)
			if err != nil {
				return vecerr.InvalidRequest(args[0], err)
			}
			d := vectorindex.DistanceFor(metric, expectQuantized)
			q.Distance = &d
		}

		return withApp(cmd.Context(), func(a *app) error {
			hits, err := a.manager.Search(q)
			if err != nil {
				return err
			}
			quantized := hits.QueryQuantized()
			return printJSON(map[string]interface{}{
				"hits":           hits.Collect(),
				"queryQuantized": quantized,
			})
		})
	},
}

func init() {
	searchCmd.Flags().IntP("limit", "l", 10, "maximum results")
	searchCmd.Flags().String("expect-distance", "", "fail unless the index uses this distance")
	searchCmd.Flags().Bool("expect-quantized", false, "with --expect-distance, expect a binary quantized index")
}
