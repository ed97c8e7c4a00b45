package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	screenRFC   string
	screenName  string
	watchlistID int64
)

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Recompute the risk level of every tracked RFC",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

// screenCmd represents the screen command
var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Print current findings for an RFC or company name",
	Long: `Screen resolves the stored evidence for one taxpayer and prints the
findings and risk level as JSON. Nothing is written.

Example:
  vigia screen --rfc CAL080328S18
  vigia screen --name "calzados alfa"`,
	Args: cobra.NoArgs,
	RunE: runScreen,
}

// trackCmd represents the track command
var trackCmd = &cobra.Command{
	Use:   "track <rfc> [razon social]",
	Short: "Add an RFC to a watchlist (development stores)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runTrack,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(screenCmd)
	rootCmd.AddCommand(trackCmd)

	screenCmd.Flags().StringVar(&screenRFC, "rfc", "", "taxpayer RFC")
	screenCmd.Flags().StringVar(&screenName, "name", "", "company name, used when the RFC has no evidence")
	trackCmd.Flags().Int64Var(&watchlistID, "watchlist", 1, "watchlist id")
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, newLogger(cfg.Log, verbose))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	sum, err := a.engine.Resweep(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "cycle %s: %d screened, %d transitions, %d errors\n",
		sum.CycleID, sum.Screened, len(sum.Transitions), sum.Errors)
	for _, t := range sum.Transitions {
		from := string(t.From)
		if from == "" {
			from = "NEW"
		}
		fmt.Fprintf(os.Stderr, "  %s: %s -> %s\n", t.TaxpayerID, from, t.To)
	}
	return nil
}

func runScreen(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(screenRFC) == "" && strings.TrimSpace(screenName) == "" {
		return errors.New("--rfc or --name is required")
	}
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, newLogger(cfg.Log, verbose))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	res, err := a.engine.Screen(cmd.Context(), screenRFC, screenName)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runTrack(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, newLogger(cfg.Log, verbose))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	name := ""
	if len(args) > 1 {
		name = args[1]
	}
	if err := a.store.AddTracked(cmd.Context(), watchlistID, args[0], name); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✓ tracking %s on watchlist %d\n", strings.ToUpper(args[0]), watchlistID)
	return nil
}
