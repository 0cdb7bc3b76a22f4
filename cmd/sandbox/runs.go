package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/redbearlabs/sandbox/internal/storage"
)

var (
	runsLanguage string
	runsLimit    int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent sandboxed executions",
	RunE:  runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().StringVarP(&runsLanguage, "language", "l", "", "Filter by runtime")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum entries to show")
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(cmd.Context(), storage.RunListOptions{
		Language: runsLanguage,
		Limit:    runsLimit,
	})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tLANGUAGE\tEXIT\tDURATION\tFLAGS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Language,
			r.ExitCode,
			r.Duration.Round(time.Millisecond),
			runFlags(r),
		)
	}
	return w.Flush()
}

func runFlags(r storage.Run) string {
	switch {
	case r.PolicyViolation:
		return "policy-violation"
	case r.TimedOut:
		return "timeout"
	default:
		return "-"
	}
}
