package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/titan-sync/internal/model"
)

var deadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List records that could not be saved",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runID, _ := cmd.Flags().GetString("run")
		limit, _ := cmd.Flags().GetInt("limit")

		letters, err := st.ListDeadLetters(ctx, runID, limit)
		if err != nil {
			return eris.Wrap(err, "dead-letters")
		}
		if len(letters) == 0 {
			fmt.Fprintln(os.Stderr, "No dead letters found.")
			return nil
		}

		formatDeadLetters(os.Stdout, letters)
		return nil
	},
}

func formatDeadLetters(out io.Writer, letters []model.DeadLetter) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tCUSTOMER\tTYPE\tATTEMPTS\tCREATED\tERROR")

	for _, dl := range letters {
		msg := dl.Error
		if len(msg) > 80 {
			msg = msg[:77] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\t%s\n",
			truncateID(dl.RunID),
			dl.CustomerID,
			dl.ErrorType,
			dl.Attempts,
			dl.CreatedAt.Format("2006-01-02 15:04"),
			msg,
		)
	}
	_ = w.Flush()
}

func init() {
	deadLettersCmd.Flags().String("run", "", "only show dead letters from this run")
	deadLettersCmd.Flags().Int("limit", 100, "max number of dead letters to display")

	rootCmd.AddCommand(deadLettersCmd)
}
