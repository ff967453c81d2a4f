package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/youthfin-elt/internal/elt"
)

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent stage runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.RunLog.Recent(cmd.Context(), logLimit)
		if err != nil {
			return err
		}
		return printRunLog(os.Stdout, entries)
	},
}

func printRunLog(out io.Writer, entries []elt.RunEntry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPIPELINE\tSTAGE\tSTATUS\tSTARTED\tDURATION\tROWS\tERROR")
	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.ID, e.Pipeline, e.Stage, e.Status,
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			dur, e.Rows, truncate(e.Error, 60))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	logCmd.Flags().IntVar(&logLimit, "limit", 20, "number of runs to show")
	rootCmd.AddCommand(logCmd)
}
