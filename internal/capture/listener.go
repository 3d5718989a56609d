package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aegis-sentinel/topowatch/internal/classify"
	"github.com/aegis-sentinel/topowatch/internal/common/logging"
	"github.com/aegis-sentinel/topowatch/internal/common/telemetry"
	"github.com/aegis-sentinel/topowatch/internal/dissect"
	"github.com/aegis-sentinel/topowatch/internal/fingerprint"
	"github.com/aegis-sentinel/topowatch/internal/topology"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
)

type Mode string

const (
	ModeLive    Mode = "live"
	ModeOffline Mode = "offline"
)

type Config struct {
	Interface string
	Mode      Mode
	PcapFile  string
	SnapLen   int
	Promisc   bool
	Filter    string

	BufferSize int
	Workers    int

	ArchivePath    string
	RotateInterval time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Interface:      "eth0",
		Mode:           ModeLive,
		SnapLen:        65536,
		Promisc:        true,
		BufferSize:     10000,
		Workers:        4,
		RotateInterval: 1 * time.Hour,
	}
}

// RawFrame is one captured frame with its arrival timestamp.
type RawFrame struct {
	Data      []byte
	Timestamp time.Time
}

type Stats struct {
	TotalFrames     uint64
	DroppedFrames   uint64
	DissectErrors   uint64
	DiscoveryFrames uint64
	BytesProcessed  uint64
	StartTime       time.Time
	LastFrameTime   time.Time
}

// Listener drives the pipeline: it pulls frames off the wire into a bounded
// queue and runs dissection/classification workers that feed the aggregator.
// A full queue drops the newest frame and counts it; capture never blocks.
type Listener struct {
	cfg     *Config
	logger  *logging.Logger
	metrics *telemetry.Metrics

	handle    *pcap.Handle
	dissector *dissect.Dissector
	engine    *classify.Engine
	agg       *topology.Aggregator

	archiveWriter *pcapgo.Writer
	archiveFile   *os.File
	archiveMu     sync.Mutex

	frameChan  chan RawFrame
	sourceDone chan struct{}
	wg         sync.WaitGroup

	stats   Stats
	statsMu sync.RWMutex
}

func NewListener(cfg *Config, engine *classify.Engine, agg *topology.Aggregator,
	logger *logging.Logger, metrics *telemetry.Metrics) *Listener {

	if cfg.SnapLen == 0 {
		cfg.SnapLen = 65536
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 10000
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.RotateInterval == 0 {
		cfg.RotateInterval = 1 * time.Hour
	}

	return &Listener{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		dissector:  dissect.NewDissector(),
		engine:     engine,
		agg:        agg,
		frameChan:  make(chan RawFrame, cfg.BufferSize),
		sourceDone: make(chan struct{}),
		stats:      Stats{StartTime: time.Now()},
	}
}

func (l *Listener) Start(ctx context.Context) error {
	l.logger.Info("Starting capture listener",
		logging.WithExtra("interface", l.cfg.Interface),
		logging.WithExtra("mode", l.cfg.Mode),
	)

	var err error
	if l.cfg.Mode == ModeOffline {
		l.handle, err = pcap.OpenOffline(l.cfg.PcapFile)
	} else {
		l.handle, err = pcap.OpenLive(
			l.cfg.Interface,
			int32(l.cfg.SnapLen),
			l.cfg.Promisc,
			pcap.BlockForever,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}

	if l.cfg.Filter != "" {
		if err := l.handle.SetBPFFilter(l.cfg.Filter); err != nil {
			l.handle.Close()
			return fmt.Errorf("failed to set BPF filter: %w", err)
		}
		l.logger.Info("Applied BPF filter", logging.WithExtra("filter", l.cfg.Filter))
	}

	if l.cfg.ArchivePath != "" {
		if err := l.openArchive(); err != nil {
			l.handle.Close()
			return fmt.Errorf("failed to open capture archive: %w", err)
		}
		l.wg.Add(1)
		go l.rotationLoop(ctx)
	}

	l.wg.Add(1)
	go l.captureLoop(ctx)

	for i := 0; i < l.cfg.Workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}

	l.logger.Info("Capture listener started", logging.WithExtra("workers", l.cfg.Workers))
	return nil
}

func (l *Listener) captureLoop(ctx context.Context) {
	defer l.wg.Done()
	// Only this goroutine sends on frameChan; closing it is what lets the
	// workers finish the backlog and exit.
	defer close(l.frameChan)

	packetSource := gopacket.NewPacketSource(l.handle, l.handle.LinkType())
	packets := packetSource.Packets()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Capture loop stopping")
			return
		case packet, ok := <-packets:
			if !ok {
				l.logger.Info("Packet source closed")
				close(l.sourceDone)
				return
			}
			l.handlePacket(packet)
		}
	}
}

func (l *Listener) handlePacket(packet gopacket.Packet) {
	data := packet.Data()

	l.statsMu.Lock()
	l.stats.TotalFrames++
	l.stats.BytesProcessed += uint64(len(data))
	l.stats.LastFrameTime = packet.Metadata().Timestamp
	l.statsMu.Unlock()

	if l.metrics != nil {
		l.metrics.IncrementPacketsCaptured()
	}

	if l.cfg.ArchivePath != "" {
		l.archiveMu.Lock()
		var err error
		if l.archiveWriter != nil {
			err = l.archiveWriter.WritePacket(packet.Metadata().CaptureInfo, data)
		}
		l.archiveMu.Unlock()
		if err != nil {
			l.logger.Warning("Failed to write frame to archive", logging.WithError(err))
		}
	}

	frame := RawFrame{Data: data, Timestamp: packet.Metadata().Timestamp}
	select {
	case l.frameChan <- frame:
	default:
		l.statsMu.Lock()
		l.stats.DroppedFrames++
		l.statsMu.Unlock()
		if l.metrics != nil {
			l.metrics.IncrementFramesDropped()
		}
	}
}

// worker drains the frame queue: dissect, classify, extract fingerprints,
// submit. Both stages are stateless per packet, so any number of workers can
// run in parallel. Workers run until the capture loop closes frameChan, which
// also finishes any queued backlog so nothing captured is silently discarded.
func (l *Listener) worker() {
	defer l.wg.Done()

	if l.metrics != nil {
		l.metrics.IncrementActiveWorkers()
		defer l.metrics.DecrementActiveWorkers()
	}

	for frame := range l.frameChan {
		l.process(frame)
	}
}

func (l *Listener) process(frame RawFrame) {
	start := time.Now()

	pkt, err := l.dissector.Dissect(frame.Data, frame.Timestamp)
	if err != nil {
		// partial decodes still carry usable lower layers
		l.statsMu.Lock()
		l.stats.DissectErrors++
		l.statsMu.Unlock()
		if l.metrics != nil {
			l.metrics.IncrementDissectErrors()
		}
	}
	if pkt == nil || len(pkt.SrcMAC) == 0 {
		return
	}

	var cls classify.Classification
	var fps []*fingerprint.Fingerprint
	if pkt.IsDiscovery() {
		l.statsMu.Lock()
		l.stats.DiscoveryFrames++
		l.statsMu.Unlock()
	} else {
		cls = l.engine.Classify(pkt)
		fps = fingerprint.ExtractAll(pkt)
	}

	l.agg.Submit(pkt, cls, fps...)

	if l.metrics != nil {
		l.metrics.RecordLatency(time.Since(start))
	}
}

func (l *Listener) openArchive() error {
	dir := filepath.Dir(l.cfg.ArchivePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := filepath.Join(dir, fmt.Sprintf("capture-%s.pcap", timestamp))

	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	writer := pcapgo.NewWriter(file)
	if err := writer.WriteFileHeader(uint32(l.cfg.SnapLen), layers.LinkTypeEthernet); err != nil {
		file.Close()
		return err
	}

	l.archiveMu.Lock()
	if l.archiveFile != nil {
		l.archiveFile.Close()
	}
	l.archiveFile = file
	l.archiveWriter = writer
	l.archiveMu.Unlock()

	l.logger.Info("Opened capture archive", logging.WithExtra("filename", filename))
	return nil
}

func (l *Listener) rotationLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.RotateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.openArchive(); err != nil {
				l.logger.Error("Failed to rotate capture archive", logging.WithError(err))
			}
		}
	}
}

// SourceDone is closed when an offline packet source reaches end of file.
func (l *Listener) SourceDone() <-chan struct{} {
	return l.sourceDone
}

func (l *Listener) Stats() Stats {
	l.statsMu.RLock()
	defer l.statsMu.RUnlock()
	return l.stats
}

// Wait blocks until the capture loop and all workers have exited.
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) Stop() {
	l.logger.Info("Stopping capture listener")

	l.wg.Wait()

	if l.handle != nil {
		l.handle.Close()
	}

	l.archiveMu.Lock()
	if l.archiveFile != nil {
		l.archiveFile.Close()
		l.archiveFile = nil
	}
	l.archiveMu.Unlock()

	stats := l.Stats()
	l.logger.Info("Capture listener stopped",
		logging.WithExtra("total_frames", stats.TotalFrames),
		logging.WithExtra("dropped_frames", stats.DroppedFrames),
		logging.WithExtra("duration", time.Since(stats.StartTime).String()),
	)
}
