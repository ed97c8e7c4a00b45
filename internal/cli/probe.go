package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/vigia/internal/model"
	"github.com/ppiankov/vigia/internal/sources"
)

var (
	probeLimit   int
	probeTimeout time.Duration
	probeJSON    bool
	probeWindow  int
)

// probeCmd represents the probe command
var probeCmd = &cobra.Command{
	Use:   "probe <source>",
	Short: "Run one source without writing anything",
	Long: `Probe runs a single fetcher (dof, sidof, sat_datos_abiertos,
gaceta_diputados, leyes_federales) and prints what it found. The store is not
touched, which makes it the quickest way to check a portal after a layout
change.

Example:
  vigia probe dof --limit 5
  vigia probe sat_datos_abiertos --window 1 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().IntVar(&probeLimit, "limit", 10, "max documents to fetch")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 5*time.Minute, "overall timeout")
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "print records as JSON")
	probeCmd.Flags().IntVar(&probeWindow, "window", 0, "SAT file window")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, verbose)

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	set, err := buildFetchers(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	name := model.Source(strings.ToLower(strings.TrimSpace(args[0])))
	f, ok := set.byName(name)
	if !ok {
		return fmt.Errorf("unknown or disabled source %q", args[0])
	}
	if name == model.SourceSAT {
		f = set.sat.ForBatch(probeWindow)
	}

	res := sources.Run(ctx, f, sources.RunOptions{
		Workers: cfg.Concurrency.DetailWorkers,
		Limit:   probeLimit,
		Logger:  logger,
	})

	fmt.Fprintf(os.Stderr, "%s: discovered %d, fetched %d, failed %d, records %d\n",
		res.Source, res.Discovered, res.Fetched, res.Failed, len(res.Records))
	if probeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Records)
	}
	for _, r := range res.Records {
		id := "-"
		if r.TaxpayerID != nil {
			id = *r.TaxpayerID
		}
		fmt.Printf("%-14s %-12s %-22s %s\n", id, r.Article, r.StatusValue(), r.SourceURL)
	}
	return nil
}
