package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/souqnear/ranking-service/internal/jobs"
)

var rebuildAll bool

var rebuildCmd = &cobra.Command{
	Use:   "rebuild [job]",
	Short: "Run a batch rebuild job",
	Long: `Run one of the batch recompute jobs to completion:

  rankings            top offers of every reference point, product and market
  nearest-merchants   merchants ordered by distance from every reference point
  common-categories   common category offers within the radius of every point

Use --all to run the three jobs in their nightly order.`,
	Example: `  ranking-service rebuild rankings
  ranking-service rebuild --all`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
	rebuildCmd.Flags().BoolVar(&rebuildAll, "all", false, "Run every job")
}

func runRebuild(cmd *cobra.Command, args []string) error {
	var names []jobs.Name
	switch {
	case rebuildAll:
		names = jobs.Names
	case len(args) == 1:
		name, err := jobs.ParseName(args[0])
		if err != nil {
			return err
		}
		names = []jobs.Name{name}
	default:
		return fmt.Errorf("either specify a job or use --all")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var summaries []*jobs.Summary
	failed := false
	for _, name := range names {
		logger.Info().Str("job", string(name)).Msg("Starting job")
		s, err := a.Runner.Run(ctx, name)
		if err != nil {
			logger.Error().Err(err).Str("job", string(name)).Msg("Job failed")
			failed = true
		}
		if s != nil {
			summaries = append(summaries, s)
			if s.Failed > 0 {
				failed = true
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	displaySummaries(summaries)
	if failed {
		return fmt.Errorf("some jobs did not complete cleanly")
	}
	return nil
}

func displaySummaries(summaries []*jobs.Summary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATUS\tRUN ID\tTOTAL\tPROCESSED\tFAILED\tDURATION")
	fmt.Fprintln(w, "---\t------\t------\t-----\t---------\t------\t--------")

	for _, s := range summaries {
		duration := "-"
		if !s.FinishedAt.IsZero() {
			duration = s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n", s.Job, s.Status, s.RunID, s.Total, s.Processed, s.Failed, duration)
	}
	w.Flush()

	for _, s := range summaries {
		for _, e := range s.Errors {
			fmt.Fprintf(os.Stdout, "  %s: %s\n", s.Job, e)
		}
	}
}
