package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/projection"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vecerr"
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage document vectors",
}

var documentsAddCmd = &cobra.Command{
	Use:   "add <id> <vectors-json|->",
	Short: "Write the vectors of a document",
	Long: `Write the _vectors object of a document. Each embedder accepts a single
vector, an array of vectors, null, or an object with "embeddings" and
"regenerate".

Examples:
  vectorctl documents add 1 '{"manual":[0.1, 0.2, 0.3]}'
  vectorctl documents add 2 '{"manual":{"embeddings":[[1,2,3],[3,2,1]],"regenerate":false}}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := parseDocumentID(args[0])
		if err != nil {
			return err
		}
		raw, err := readArg(args[1], cmd.InOrStdin())
		if err != nil {
			return err
		}
		vectors, err := projection.ParseDocument(raw)
		if err != nil {
			return vecerr.InvalidRequest("", err)
		}

		return withApp(cmd.Context(), func(a *app) error {
			if err := a.manager.AddDocument(cmd.Context(), doc, vectors); err != nil {
				return err
			}
			fmt.Printf("Indexed document %d for %d embedder(s)\n", doc, len(vectors))
			return nil
		})
	},
}

var documentsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show the vectors of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := parseDocumentID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			vectors, err := a.manager.DocumentVectors(doc)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"id": doc, "_vectors": vectors})
		})
	},
}

var documentsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a document from every embedder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := parseDocumentID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			removed, err := a.manager.RemoveDocument(doc)
			if err != nil {
				return err
			}
			if removed {
				fmt.Printf("Removed document %d\n", doc)
			} else {
				fmt.Printf("Document %d not found\n", doc)
			}
			return nil
		})
	},
}

var documentsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every document, keeping embedder settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.manager.ClearDocuments(); err != nil {
				return err
			}
			fmt.Println("Cleared all documents")
			return nil
		})
	},
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the ids of documents that have vectors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			ids, err := a.manager.DocumentIDs()
			if err != nil {
				return err
			}
			return printJSON(ids.ToArray())
		})
	},
}

func init() {
	documentsCmd.AddCommand(documentsAddCmd)
	documentsCmd.AddCommand(documentsGetCmd)
	documentsCmd.AddCommand(documentsRemoveCmd)
	documentsCmd.AddCommand(documentsClearCmd)
	documentsCmd.AddCommand(documentsListCmd)
}

func parseDocumentID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, vecerr.InvalidRequest("", fmt.Errorf("invalid document id %q", s))
	}
	return uint32(id), nil
}
