package export

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aegis-sentinel/topowatch/internal/common/logging"
	"github.com/aegis-sentinel/topowatch/internal/common/store"
	"github.com/aegis-sentinel/topowatch/internal/topology"
	"github.com/google/uuid"
)

// Exporter periodically writes entities and flows to the datastore. Export is
// fire-and-forget: a failed write is logged and counted, and never reaches
// the aggregation path.
type Exporter struct {
	st       *store.Store
	agg      *topology.Aggregator
	logger   *logging.Logger
	interval time.Duration
	failures atomic.Int64
}

func NewExporter(st *store.Store, agg *topology.Aggregator, interval time.Duration, logger *logging.Logger) *Exporter {
	if interval == 0 {
		interval = 60 * time.Second
	}
	return &Exporter{
		st:       st,
		agg:      agg,
		logger:   logger,
		interval: interval,
	}
}

// Run exports on a fixed schedule until the context is cancelled, then takes
// one final export so a graceful shutdown persists the last generation.
func (e *Exporter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.export()
			return
		case <-ticker.C:
			e.export()
		}
	}
}

func (e *Exporter) export() {
	view := e.agg.Snapshot()
	if err := e.ExportView(view); err != nil {
		e.failures.Add(1)
		e.logger.Warning("Snapshot export failed", logging.WithError(err))
	}
}

// ExportView persists one topology generation.
func (e *Exporter) ExportView(view *topology.TopologyView) error {
	var firstErr error

	for i := range view.Entities {
		rec := entityRecord(&view.Entities[i])
		if err := e.st.SaveEntity(rec); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("entity %s: %w", rec.MAC, err)
		}
	}

	for i := range view.Flows {
		rec := flowRecord(&view.Flows[i])
		if err := e.st.SaveFlow(rec); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flow %s|%s: %w", rec.EndpointA, rec.EndpointB, err)
		}
	}

	meta := &store.SnapshotMeta{
		ID:          uuid.New().String(),
		TakenAt:     view.TakenAt,
		EntityCount: len(view.Entities),
		FlowCount:   len(view.Flows),
	}
	if err := e.st.SaveSnapshotMeta(meta); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("snapshot meta: %w", err)
	}

	return firstErr
}

func entityRecord(ev *topology.EntityView) *store.EntityRecord {
	rec := &store.EntityRecord{
		MAC:         ev.MAC,
		IPs:         ev.IPs,
		Vendor:      ev.Vendor,
		Role:        string(ev.Role),
		FirstSeen:   ev.FirstSeen,
		LastSeen:    ev.LastSeen,
		PacketCount: ev.PacketCount,
	}
	for _, fp := range ev.Fingerprints {
		rec.Fingerprints = append(rec.Fingerprints, fp.Type+":"+fp.Value)
	}
	return rec
}

func flowRecord(fv *topology.FlowView) *store.FlowRecord {
	return &store.FlowRecord{
		EndpointA:   fv.EndpointA,
		EndpointB:   fv.EndpointB,
		Transport:   fv.Transport,
		Protocols:   fv.Protocols,
		L7Protocol:  fv.L7Protocol,
		VLANID:      fv.VLANID,
		PacketsAtoB: fv.AtoB.Packets,
		PacketsBtoA: fv.BtoA.Packets,
		BytesAtoB:   fv.AtoB.Bytes,
		BytesBtoA:   fv.BtoA.Bytes,
		FirstSeen:   fv.FirstSeen,
		LastSeen:    fv.LastSeen,
	}
}

// Failures returns how many export cycles have failed since start.
func (e *Exporter) Failures() int64 {
	return e.failures.Load()
}
