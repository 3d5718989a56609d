package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/aegis-sentinel/topowatch/internal/capture"
	"github.com/aegis-sentinel/topowatch/internal/classify"
	"github.com/aegis-sentinel/topowatch/internal/common/logging"
	"github.com/aegis-sentinel/topowatch/internal/common/store"
	"github.com/aegis-sentinel/topowatch/internal/common/telemetry"
	"github.com/aegis-sentinel/topowatch/internal/enrich"
	"github.com/aegis-sentinel/topowatch/internal/export"
	"github.com/aegis-sentinel/topowatch/internal/registry"
	"github.com/aegis-sentinel/topowatch/internal/topology"
	"github.com/spf13/cobra"
)

type startOptions struct {
	iface           string
	filter          string
	dbPath          string
	ouiDB           string
	sigFile         string
	registryURL     string
	archivePath     string
	workers         int
	bufferSize      int
	exportInterval  int
	refreshInterval int
	expireInterval  int
}

func newStartCmd(ctx context.Context, logger *logging.Logger) *cobra.Command {
	opts := &startOptions{}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start passive topology monitoring",
		Long: `Start the live capture pipeline: frames are dissected layer by layer,
classified by protocol, fingerprinted, and folded into the topology model.

The pipeline will:
- Capture traffic on the specified interface
- Decode LLDP, CDP, STP, REP, and MRP discovery frames
- Classify flows against signatures, the port registry, and heuristics
- Extract TLS, DHCP, and HTTP device fingerprints
- Track entities, VLANs, bridges, rings, multicast groups, and flows
- Periodically persist the topology to the local datastore

Examples:
  topowatch start --iface=eth0
  topowatch start --iface=eth0 --filter="not port 22"
  topowatch start --iface=eth0 --signatures=./signatures.yaml
  topowatch start --iface=eth0 --archive=./data/archive`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(ctx, logger, opts)
		},
	}

	cmd.Flags().StringVar(&opts.iface, "iface", "eth0", "network interface to monitor")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "BPF filter expression")
	cmd.Flags().StringVar(&opts.dbPath, "db-path", "./data/topowatch.db", "database path")
	cmd.Flags().StringVar(&opts.ouiDB, "oui-db", "", "OUI database file path")
	cmd.Flags().StringVar(&opts.sigFile, "signatures", "", "protocol signature YAML file")
	cmd.Flags().StringVar(&opts.registryURL, "registry-url", "", "URL of a CSV port registry to refresh from")
	cmd.Flags().StringVar(&opts.archivePath, "archive", "", "directory for rotated pcap archives")
	cmd.Flags().IntVar(&opts.workers, "workers", 4, "number of dissection workers")
	cmd.Flags().IntVar(&opts.bufferSize, "buffer", 10000, "frame queue size")
	cmd.Flags().IntVar(&opts.exportInterval, "export-interval", 60, "datastore export interval in seconds")
	cmd.Flags().IntVar(&opts.refreshInterval, "refresh-interval", 3600, "registry refresh interval in seconds")
	cmd.Flags().IntVar(&opts.expireInterval, "expire-interval", 60, "staleness sweep interval in seconds")

	return cmd
}

func runStart(ctx context.Context, logger *logging.Logger, opts *startOptions) error {
	logger.SetInterface(opts.iface)
	logger.Info("Starting topology monitoring pipeline",
		logging.WithExtra("interface", opts.iface),
	)

	metrics := telemetry.Global()
	go func() {
		addr := fmt.Sprintf(":%d", metricsPort)
		logger.Info(fmt.Sprintf("Starting metrics server on %s", addr))
		if err := metrics.StartMetricsServer(addr); err != nil {
			logger.Error("Metrics server failed", logging.WithError(err))
		}
	}()

	st, err := store.Open(opts.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	ouiDB, err := enrich.NewOUIDatabase(opts.ouiDB)
	if err != nil {
		logger.Warning("Failed to load OUI database", logging.WithError(err))
		ouiDB, _ = enrich.NewOUIDatabase("")
	}
	logger.Info(fmt.Sprintf("Loaded %d OUI entries", ouiDB.Count()))

	regCfg := registry.Config{}
	if opts.registryURL != "" {
		regCfg.Source = registry.NewHTTPSource(opts.registryURL)
	}
	reg := registry.New(regCfg, logger)

	if opts.sigFile != "" {
		count, err := reg.LoadSignatureFile(opts.sigFile)
		if err != nil {
			return fmt.Errorf("failed to load signatures: %w", err)
		}
		logger.Info(fmt.Sprintf("Loaded %d protocol signatures", count))
	}

	if opts.registryURL != "" {
		if err := reg.RefreshFromSource(ctx); err != nil {
			logger.Warning("Initial registry refresh failed, using builtin table",
				logging.WithError(err))
		}
		go func() {
			ticker := time.NewTicker(time.Duration(opts.refreshInterval) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := reg.RefreshFromSource(ctx); err != nil {
						logger.Warning("Registry refresh failed", logging.WithError(err))
					} else {
						logger.Info("Registry refreshed",
							logging.WithExtra("generation", reg.Generation()))
					}
				}
			}
		}()
	}

	engine := classify.NewEngine(reg, classify.Config{})

	agg := topology.NewAggregator(topology.DefaultConfig(), logger, metrics, ouiDB)
	agg.Start(ctx)

	go func() {
		ticker := time.NewTicker(time.Duration(opts.expireInterval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				neighbors, members := agg.ExpireStale(time.Now())
				if neighbors > 0 || members > 0 {
					logger.Debug("Expired stale topology state",
						logging.WithExtra("neighbors", neighbors),
						logging.WithExtra("members", members))
				}
			}
		}
	}()

	exporter := export.NewExporter(st, agg, time.Duration(opts.exportInterval)*time.Second, logger)
	go exporter.Run(ctx)

	capCfg := capture.DefaultConfig()
	capCfg.Interface = opts.iface
	capCfg.Filter = opts.filter
	capCfg.Workers = opts.workers
	capCfg.BufferSize = opts.bufferSize
	capCfg.ArchivePath = opts.archivePath

	listener := capture.NewListener(capCfg, engine, agg, logger, metrics)
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	logger.Info("Pipeline running, press Ctrl+C to stop")

	<-ctx.Done()

	listener.Stop()
	agg.Wait()

	stats := listener.Stats()
	clsStats := engine.Stats()
	logger.Info("Pipeline stopped",
		logging.WithExtra("frames", stats.TotalFrames),
		logging.WithExtra("dropped", stats.DroppedFrames),
		logging.WithExtra("dissect_errors", stats.DissectErrors),
		logging.WithExtra("cache_hit_rate", fmt.Sprintf("%.2f", clsStats.CacheHitRate)),
	)
	return nil
}
