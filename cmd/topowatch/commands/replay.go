package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aegis-sentinel/topowatch/internal/capture"
	"github.com/aegis-sentinel/topowatch/internal/classify"
	"github.com/aegis-sentinel/topowatch/internal/common/logging"
	"github.com/aegis-sentinel/topowatch/internal/common/telemetry"
	"github.com/aegis-sentinel/topowatch/internal/enrich"
	"github.com/aegis-sentinel/topowatch/internal/registry"
	"github.com/aegis-sentinel/topowatch/internal/topology"
	"github.com/aegis-sentinel/topowatch/pkg/output"
	"github.com/spf13/cobra"
)

type replayOptions struct {
	pcapFile string
	filter   string
	sigFile  string
	ouiDB    string
	output   string
	format   string
	workers  int
}

func newReplayCmd(ctx context.Context, logger *logging.Logger) *cobra.Command {
	opts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay <pcap-file>",
		Short: "Replay a pcap file through the topology pipeline",
		Long: `Replay a captured pcap file through the full dissection, classification,
and aggregation pipeline, then print the resulting topology snapshot.

Examples:
  topowatch replay capture.pcap
  topowatch replay capture.pcap --format=text
  topowatch replay capture.pcap --output=topology.json
  topowatch replay capture.pcap --format=csv --output=flows.csv
  topowatch replay capture.pcap --signatures=./signatures.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.pcapFile = args[0]
			return runReplay(ctx, logger, opts)
		},
	}

	cmd.Flags().StringVar(&opts.filter, "filter", "", "BPF filter expression")
	cmd.Flags().StringVar(&opts.sigFile, "signatures", "", "protocol signature YAML file")
	cmd.Flags().StringVar(&opts.ouiDB, "oui-db", "", "OUI database file path")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write snapshot to file instead of stdout")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "json", "output format: json, text, or csv")
	cmd.Flags().IntVar(&opts.workers, "workers", 4, "number of dissection workers")

	return cmd
}

func runReplay(ctx context.Context, logger *logging.Logger, opts *replayOptions) error {
	if _, err := os.Stat(opts.pcapFile); err != nil {
		return fmt.Errorf("cannot read pcap file: %w", err)
	}

	logger.Info("Replaying capture file",
		logging.WithTarget(opts.pcapFile),
	)

	metrics := telemetry.Global()

	ouiDB, err := enrich.NewOUIDatabase(opts.ouiDB)
	if err != nil {
		logger.Warning("Failed to load OUI database", logging.WithError(err))
		ouiDB, _ = enrich.NewOUIDatabase("")
	}

	reg := registry.New(registry.Config{}, logger)
	if opts.sigFile != "" {
		count, err := reg.LoadSignatureFile(opts.sigFile)
		if err != nil {
			return fmt.Errorf("failed to load signatures: %w", err)
		}
		logger.Info(fmt.Sprintf("Loaded %d protocol signatures", count))
	}

	engine := classify.NewEngine(reg, classify.Config{})

	aggCtx, aggCancel := context.WithCancel(ctx)
	defer aggCancel()

	agg := topology.NewAggregator(topology.DefaultConfig(), logger, metrics, ouiDB)
	agg.Start(aggCtx)

	capCfg := capture.DefaultConfig()
	capCfg.Mode = capture.ModeOffline
	capCfg.PcapFile = opts.pcapFile
	capCfg.Filter = opts.filter
	capCfg.Workers = opts.workers

	listener := capture.NewListener(capCfg, engine, agg, logger, metrics)
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}

	select {
	case <-listener.SourceDone():
	case <-ctx.Done():
	}

	listener.Stop()
	aggCancel()
	agg.Wait()

	view := agg.Snapshot()
	formatter := output.GetFormatter(output.OutputFormat(opts.format))
	data, err := formatter.Format(view)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if opts.output != "" {
		if err := os.WriteFile(opts.output, data, 0644); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		logger.Info("Snapshot written", logging.WithTarget(opts.output))
	} else {
		fmt.Println(string(data))
	}

	stats := listener.Stats()
	logger.Info("Replay complete",
		logging.WithExtra("frames", stats.TotalFrames),
		logging.WithExtra("discovery_frames", stats.DiscoveryFrames),
		logging.WithExtra("entities", len(view.Entities)),
		logging.WithExtra("flows", len(view.Flows)),
		logging.WithExtra("duration", time.Since(stats.StartTime).String()),
	)
	return nil
}
