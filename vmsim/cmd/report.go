package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chronos-systems/vmsim/datarecording"
	"github.com/chronos-systems/vmsim/tracing"
)

var reportCmd = &cobra.Command{
	Use:   "report <recording.sqlite3>",
	Short: "Summarize a recording made with --trace-db.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(args[0]); err != nil {
			return err
		}

		kind, _ := cmd.Flags().GetString("kind")
		last, _ := cmd.Flags().GetInt("last")

		reader := datarecording.NewReader(args[0])
		defer reader.Close()

		reader.MapTable(tracing.EventTable, tracing.Event{})

		events, err := loadEvents(cmd.Context(), reader, kind)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DOMAIN\tKIND\tEVENTS")

		for _, row := range summarize(events) {
			fmt.Fprintf(w, "%s\t%s\t%d\n", row.domain, row.kind, row.count)
		}

		if err := w.Flush(); err != nil {
			return err
		}

		if last > 0 {
			fmt.Println()

			for _, e := range events[max(0, len(events)-last):] {
				fmt.Printf("#%d %s\n", e.Seq, e)
			}
		}

		return nil
	},
}

func init() {
	reportCmd.Flags().String("kind", "", "only include events of this kind")
	reportCmd.Flags().Int("last", 0, "also print the last n events")
	rootCmd.AddCommand(reportCmd)
}

func loadEvents(
	ctx context.Context,
	reader datarecording.DataReader,
	kind string,
) ([]tracing.Event, error) {
	params := datarecording.QueryParams{OrderBy: "Seq"}
	if kind != "" {
		params.Where = "Kind = ?"
		params.Args = []any{kind}
	}

	rows, _, err := reader.Query(ctx, tracing.EventTable, params)
	if err != nil {
		return nil, err
	}

	events := make([]tracing.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, *r.(*tracing.Event))
	}

	return events, nil
}

type summaryRow struct {
	domain string
	kind   string
	count  int
}

func summarize(events []tracing.Event) []summaryRow {
	index := make(map[[2]string]int)

	var rows []summaryRow

	for _, e := range events {
		key := [2]string{e.Domain, e.Kind}

		i, ok := index[key]
		if !ok {
			i = len(rows)
			index[key] = i
			rows = append(rows, summaryRow{domain: e.Domain, kind: e.Kind})
		}

		rows[i].count++
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].domain != rows[j].domain {
			return rows[i].domain < rows[j].domain
		}

		return rows[i].kind < rows[j].kind
	})

	return rows
}
