package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var runHeaders = []string{"RUN_ID", "END_USER", "VERSION", "REASON", "VISITED", "STARTED"}

func runRow(r *RunResponse) []string {
	reason := r.Reason
	if r.IsError {
		reason += " (error)"
	}
	return []string{r.RunID, r.EndUserID, strconv.Itoa(r.FlowVersion), reason, strings.Join(r.Visited, " > "), r.StartedAt}
}

// NewRunCmd создаёт группу команд для итогов run.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect flow runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var endUser string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs of the tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(ListRunsOpts{EndUser: endUser, Limit: limit})
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i := range runs {
				rows[i] = runRow(&runs[i])
			}

			outputFn().Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&endUser, "end-user", "", "Filter by end user")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show a run summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			run, err := clientFn().GetRun(args[0])
			if err != nil {
				return err
			}

			out.Print(runHeaders, [][]string{runRow(run)}, run)
			if run.Error != "" && !out.jsonMode {
				out.Text("error: " + run.Error)
			}
			return nil
		},
	}
}
