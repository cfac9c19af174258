package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/embedder"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vecerr"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage embedder settings",
}

var settingsApplyCmd = &cobra.Command{
	Use:   "apply <embedder> <settings-json|->",
	Short: "Create or update an embedder",
	Long: `Apply a settings patch to an embedder, creating it if needed. Fields left
out of the patch keep their committed value.

Examples:
  vectorctl settings apply manual '{"source":"userProvided","dimensions":3}'
  vectorctl settings apply manual '{"binaryQuantized":true}'
  cat settings.json | vectorctl settings apply manual -`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := parseSettings(args[1], cmd.InOrStdin())
		if err != nil {
			return vecerr.Settings(args[0], "", err)
		}

		return withApp(cmd.Context(), func(a *app) error {
			t, err := a.manager.ApplySettings(cmd.Context(), args[0], settings)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"embedder": t.Name,
				"action":   t.Action.String(),
				"before":   t.Before,
				"after":    t.After,
			})
		})
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [embedder]",
	Short: "Show committed settings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if len(args) == 0 {
				return printJSON(a.manager.Embedders())
			}
			cfg, ok := a.manager.Config(args[0])
			if !ok {
				return vecerr.InvalidRequest(args[0], vecerr.ErrEmbedderNotFound)
			}
			return printJSON(cfg)
		})
	},
}

var settingsDeleteCmd = &cobra.Command{
	Use:   "delete <embedder>",
	Short: "Delete an embedder with its vectors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			removed, err := a.manager.DeleteEmbedder(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return vecerr.InvalidRequest(args[0], vecerr.ErrEmbedderNotFound)
			}
			fmt.Printf("Deleted embedder %s\n", args[0])
			return nil
		})
	},
}

func init() {
	settingsCmd.AddCommand(settingsApplyCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsDeleteCmd)
}

// readArg returns arg, or all of stdin when arg is "-"
func readArg(arg string, stdin io.Reader) ([]byte, error) {
	if arg != "-" {
		return []byte(arg), nil
	}
	return io.ReadAll(stdin)
}

func parseSettings(arg string, stdin io.Reader) (embedder.Settings, error) {
	var s embedder.Settings
	raw, err := readArg(arg, stdin)
	if err != nil {
		return s, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return s, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
