package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/vigia/internal/ingest"
)

var (
	batchIndex  int
	allBatches  bool
	runDeadline time.Duration
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion batch (or the whole daily cycle) now",
	Long: `Ingest runs a batch of the daily cycle immediately, without the scheduler.

Batch 0 replaces the DOF, SIDOF, Gaceta and LeyesBiblio evidence and the first
SAT file window; later batches append the next SAT windows. The last batch
also runs the risk resweep.

Example:
  vigia ingest --batch 0
  vigia ingest --all`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

// newsCmd represents the news command
var newsCmd = &cobra.Command{
	Use:   "news",
	Short: "Fetch press mentions of tracked companies",
	Long: `News searches NewsAPI for every tracked company name and stores new
articles. It does nothing unless sources.news.api_key (or NEWS_API_KEY) is set.`,
	Args: cobra.NoArgs,
	RunE: runNews,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(newsCmd)

	ingestCmd.Flags().IntVar(&batchIndex, "batch", 0, "batch index to run")
	ingestCmd.Flags().BoolVar(&allBatches, "all", false, "run every batch in order")
	ingestCmd.Flags().DurationVar(&runDeadline, "timeout", 3*time.Hour, "overall deadline")
	ingestCmd.Flags().Duration("batch-budget", 0, "stop starting new fetches after this long (overrides schedule.batch_budget)")
	_ = viper.BindPFlag("schedule.batch_budget", ingestCmd.Flags().Lookup("batch-budget"))
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, verbose)

	ctx, cancel := context.WithTimeout(cmd.Context(), runDeadline)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var reports []ingest.BatchReport
	if allBatches {
		reports, err = a.runner.RunCycle(ctx)
	} else {
		var rep ingest.BatchReport
		rep, err = a.runner.RunBatch(ctx, batchIndex)
		reports = append(reports, rep)
	}
	for _, rep := range reports {
		printBatch(rep)
	}
	return err
}

func printBatch(rep ingest.BatchReport) {
	fmt.Fprintf(os.Stderr, "batch %d (%v)\n", rep.Batch, rep.Duration.Round(time.Second))
	for _, res := range rep.Results {
		fmt.Fprintf(os.Stderr, "  %-20s discovered %-4d fetched %-4d failed %-4d skipped %-4d records %d\n",
			res.Source, res.Discovered, res.Fetched, res.Failed, res.Skipped, len(res.Records))
	}
	for _, src := range rep.Held {
		fmt.Fprintf(os.Stderr, "  %-20s kept prior generation\n", src)
	}
	if rep.Sweep != nil {
		fmt.Fprintf(os.Stderr, "  resweep %s: %d screened, %d transitions, %d errors\n",
			rep.Sweep.CycleID, rep.Sweep.Screened, len(rep.Sweep.Transitions), rep.Sweep.Errors)
	}
}

func runNews(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, verbose)

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	n, err := a.runner.RunNews(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "stored %d new articles\n", n)
	return nil
}
