package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/algo-audinv/internal/config"
	"github.com/cwbudde/algo-audinv/tracking"
)

func newRunsCommand() *cobra.Command {
	var (
		dbPath string
		group  string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List tracked runs of a group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := tracking.Open(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.ListGroup(cmd.Context(), group)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				r, err := store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				rows = append(rows, []string{
					r.ID[:8],
					r.StartedAt.Local().Format(time.DateTime),
					r.Name,
					r.Model,
					strconv.FormatInt(r.Seed, 10),
					bestSimilarity(r.Metrics),
					strconv.Itoa(len(r.Artifacts)),
				})
			}
			headers := []string{"ID", "Started", "Name", "Model", "Seed", "Similarity", "Files"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "track-db", config.Default().Tracking.DB, "Tracking database path")
	cmd.Flags().StringVar(&group, "run-group", "", "Group to list")
	return cmd
}

// bestSimilarity reports the highest per-output similarity of a run.
func bestSimilarity(metrics map[string]float64) string {
	best, found := 0.0, false
	for k, v := range metrics {
		if strings.HasSuffix(k, ".similarity") && (!found || v > best) {
			best, found = v, true
		}
	}
	if !found {
		return "-"
	}
	return strconv.FormatFloat(best, 'f', 3, 64)
}
