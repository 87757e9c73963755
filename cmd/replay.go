package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"github.com/spf13/cobra"

	"github.com/carlbeek/gas-repricer/internal/classifier"
	"github.com/carlbeek/gas-repricer/internal/config"
	"github.com/carlbeek/gas-repricer/internal/ethsource"
	"github.com/carlbeek/gas-repricer/internal/formatter"
	"github.com/carlbeek/gas-repricer/internal/gaspolicy"
	"github.com/carlbeek/gas-repricer/internal/metricsfacade"
	"github.com/carlbeek/gas-repricer/internal/pipeline"
	"github.com/carlbeek/gas-repricer/internal/replay"
	"github.com/carlbeek/gas-repricer/internal/store"
)

var configPath string

var replayCmd = &cobra.Command{
	Use:   "replay [start-block] [end-block]",
	Short: "Re-execute a block range under the baseline and experimental gas schedules",
	Long: `Replay connects to an archive node, re-executes every transaction in
[start-block, end-block] under both the protocol gas schedule and an
experimentally repriced schedule, and persists any behavioral divergence
between the two to a local database.

Example:
  gas-repricer replay 18000000 18000100 --rpc https://mainnet.infura.io/v3/YOUR-KEY
  gas-repricer replay 18000000 18000100 --config ./gasrepricer.toml`,
	Args: cobra.ExactArgs(2),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file (overlays defaults)")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	var start, end uint64
	if _, err := fmt.Sscanf(args[0], "%d", &start); err != nil {
		return fmt.Errorf("invalid start-block %q: %w", args[0], err)
	}
	if _, err := fmt.Sscanf(args[1], "%d", &end); err != nil {
		return fmt.Errorf("invalid end-block %q: %w", args[1], err)
	}
	if end < start {
		return fmt.Errorf("end-block %d is before start-block %d", end, start)
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if verbose {
		fmt.Printf("🔍 Replaying blocks [%d, %d]\n", start, end)
		fmt.Printf("📡 Connecting to: %s\n\n", rpcURL)
	}

	client, err := ethsource.Dial(rpcURL)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	st, err := store.Open(cfg.DBPath, cfg.QueueCapacity, cfg.BatchSize, store.Hooks{})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close(30 * time.Second)

	policy := gaspolicy.New(
		cfg.GasMultiplier,
		gaspolicy.WithRefundMultiplier(cfg.RefundMultiplier),
		gaspolicy.WithStipendMultiplier(cfg.StipendMultiplier),
		gaspolicy.WithGasLimitMultiplier(cfg.GasLimitMultiplier),
	)
	driver := replay.NewDriver(client, client, nil, params.MainnetChainConfig, policy, cfg.FingerprintIncludesTransient)
	cls := classifier.New(cfg.GasMultiplier)
	metrics := metricsfacade.New(nil)

	notifier := newRangeNotifier(client, start, end)
	co := pipeline.New(notifier, driver, cls, st, pipeline.WithStartBlock(cfg.StartBlock), pipeline.WithMetrics(metrics))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		co.Run(ctx)
		close(done)
	}()

	notifier.run(ctx)
	cancel()
	<-done

	if verbose {
		fmt.Println("⚙️  Replay complete.")
		printDivergenceReport(context.Background(), st, start, end)
	}
	return nil
}

// printDivergenceReport re-queries the store for the replayed range and
// renders a human-readable summary, mirroring the teacher's verbose
// post-analysis report in trace.go.
func printDivergenceReport(ctx context.Context, st *store.Store, start, end uint64) {
	var all []store.Record
	typeCounts := make(map[string]int)

	for n := start; n <= end; n++ {
		records, err := st.QueryByBlock(ctx, n)
		if err != nil {
			continue
		}
		all = append(all, records...)
		for _, r := range records {
			for _, t := range classifier.SplitTypes(r.Types) {
				typeCounts[t]++
			}
		}
	}

	fmt.Print(formatter.FormatSummary(all, start, end))
	if len(typeCounts) > 0 {
		fmt.Print(formatter.FormatTypeBreakdown(typeCounts))
	}
}

// rangeNotifier feeds a fixed [start, end] block range into the pipeline
// as a sequence of "chain committed" notifications, implementing
// replay.BlockNotifier for the offline/archival replay CLI (SPEC_FULL
// §C.4). A live host instead adapts its own chain-head subscription.
type rangeNotifier struct {
	client     *ethsource.Client
	start, end uint64
	ch         chan replay.Notification
}

func newRangeNotifier(client *ethsource.Client, start, end uint64) *rangeNotifier {
	return &rangeNotifier{client: client, start: start, end: end, ch: make(chan replay.Notification, 16)}
}

func (n *rangeNotifier) Notifications() <-chan replay.Notification {
	return n.ch
}

func (n *rangeNotifier) run(ctx context.Context) {
	defer close(n.ch)
	for number := n.start; number <= n.end; number++ {
		block, err := n.client.BlockByNumber(ctx, number)
		if err != nil {
			if verbose {
				fmt.Printf("⚠️  failed to fetch block %d: %v\n", number, err)
			}
			continue
		}
		select {
		case n.ch <- replay.Notification{Kind: replay.KindCommitted, Block: block}:
		case <-ctx.Done():
			return
		}
	}
}
