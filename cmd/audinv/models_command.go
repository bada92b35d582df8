package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cwbudde/algo-audinv/model"
)

func newModelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List supported checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([][]string, 0, len(model.Catalog))
			for _, s := range model.Catalog {
				output := "mel+vocoder"
				if s.DecodesWaveform {
					output = "waveform"
				}
				where := "local"
				if s.Remote {
					where = "server"
				}
				token := ""
				if s.RequiresToken {
					token = "yes"
				}
				rows = append(rows, []string{
					s.ID, s.Family, where, output, strconv.Itoa(s.SampleRate), strconv.Itoa(s.RecommendedSteps), token,
				})
			}
			headers := []string{"ID", "Family", "Runs", "Decodes", "Rate", "Steps", "Token"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return nil
		},
	}
}
