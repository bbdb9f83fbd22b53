package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/velo-dev/velo/internal/config"
	"github.com/velo-dev/velo/internal/errors"
	"github.com/velo-dev/velo/pkg/env"
	"github.com/velo-dev/velo/pkg/graph"
)

func checkCmd() *cobra.Command {
	var (
		entries []string
		forbid  []string
	)

	cmd := &cobra.Command{
		Use:   "check <graph.json>",
		Short: "Check the import boundary over an exported module graph",
		Long: `Run the import boundary check against a module graph exported as
JSON by the bundler.

The graph file maps module ids to their static and dynamic imports:

  {
    "src/routes/+page.velo": {
      "id": "src/routes/+page.velo",
      "static": ["src/lib/db.go"],
      "dynamic": []
    }
  }

Every entry module is checked for a path to a forbidden module. By
default the private environment module is forbidden; add more with
--forbid.

Examples:
  velo check .velo/graph.json --entry src/routes/+page.velo
  velo check graph.json --entry a.velo --entry b.velo --forbid '$lib/server'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(args[0], entries, forbid)
		},
	}

	cmd.Flags().StringSliceVarP(&entries, "entry", "e", nil, "Entry module ids to check (default: all modules)")
	cmd.Flags().StringSliceVarP(&forbid, "forbid", "f", nil, "Additional forbidden module ids")

	return cmd
}

func runCheck(graphPath string, entries, forbid []string) error {
	data, err := os.ReadFile(graphPath)
	if err != nil {
		return errors.Newf(errors.CategoryCLI, "cannot read graph file %s", graphPath).
			WithFile(graphPath).
			Wrap(err)
	}

	var g graph.BuildGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return errors.Newf(errors.CategoryCLI, "graph file %s is not valid JSON", graphPath).
			WithFile(graphPath).
			Wrap(err)
	}

	forbidden := graph.NewForbidden(append([]string{env.PrivateModuleID}, forbid...)...)

	outputDir := ""
	if cfg, err := config.LoadFromWorkingDir(); err == nil {
		outputDir = cfg.OutputPath()
	}

	if len(entries) == 0 {
		for id := range g {
			entries = append(entries, id)
		}
	}

	violations := 0
	for _, entry := range entries {
		node, ok := g.Node(entry)
		if !ok {
			return errors.Newf(errors.CategoryCLI, "entry module %s is not in the graph", entry).
				WithFile(entry)
		}
		if err := graph.AssertBoundary(node, forbidden, outputDir); err != nil {
			violations++
			if ve, ok := err.(*errors.Error); ok {
				fmt.Fprintln(os.Stderr, ve.Format())
			} else {
				fmt.Fprintln(os.Stderr, err)
			}
		}
	}

	if violations > 0 {
		return errors.Newf(errors.CategoryBoundary, "%d boundary violation(s) found", violations)
	}

	fmt.Printf("checked %d module(s), no boundary violations\n", len(entries))
	return nil
}
