package classify

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegis-sentinel/topowatch/internal/dissect"
	"github.com/aegis-sentinel/topowatch/internal/registry"
)

const ProtocolUnknown = "unknown"

type Source string

const (
	SourceSignature Source = "signature"
	SourceHeuristic Source = "heuristic"
	SourceNone      Source = "none"
)

// Classification is the engine's verdict for one packet.
type Classification struct {
	Protocol string `json:"protocol"`
	Source   Source `json:"source"`
	CacheHit bool   `json:"cache_hit"`
}

// Stats are the engine's monotonic counters plus derived rates.
type Stats struct {
	PacketsInspected int64            `json:"packets_inspected"`
	CacheHits        int64            `json:"cache_hits"`
	CacheHitRate     float64          `json:"cache_hit_rate"`
	SignatureMatches int64            `json:"signature_matches"`
	HeuristicMatches int64            `json:"heuristic_matches"`
	UnknownCount     int64            `json:"unknown_count"`
	DetectionRate    float64          `json:"detection_rate"`
	CacheSize        int              `json:"cache_size"`
	CacheEvictions   int64            `json:"cache_evictions"`
	PerProtocol      map[string]int64 `json:"per_protocol"`
}

type Config struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Engine labels dissected packets. Classify is safe for concurrent use; all
// shared state is the flow cache and atomic counters.
type Engine struct {
	reg        *registry.Registry
	cache      *flowCache
	heuristics []heuristic

	inspected  atomic.Int64
	cacheHits  atomic.Int64
	sigMatches atomic.Int64
	heuMatches atomic.Int64
	unknown    atomic.Int64

	protoMu     sync.Mutex
	protoCounts map[string]int64
}

func NewEngine(reg *registry.Registry, cfg Config) *Engine {
	if cfg.CacheSize == 0 {
		cfg.CacheSize = 8192
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 60 * time.Second
	}

	return &Engine{
		reg:         reg,
		cache:       newFlowCache(cfg.CacheSize, cfg.CacheTTL),
		heuristics:  defaultHeuristics(),
		protoCounts: make(map[string]int64),
	}
}

// Classify labels one packet: flow cache, then signature rules in priority
// order, then heuristics, then unknown-by-transport. Every verdict, unknown
// included, is cached against the flow key.
func (e *Engine) Classify(pkt *dissect.DissectedPacket) Classification {
	e.inspected.Add(1)

	key := FlowKey(pkt)
	if key != "" {
		if cls, ok := e.cache.Get(key); ok {
			e.cacheHits.Add(1)
			cls.CacheHit = true
			// Cached unknowns still count as unknown, otherwise a repeated
			// unclassifiable flow would inflate the detection rate.
			if cls.Protocol == ProtocolUnknown {
				e.unknown.Add(1)
			}
			e.countProtocol(cls.Protocol)
			return cls
		}
	}

	cls := e.classifySlow(pkt)

	if key != "" {
		e.cache.Put(key, cls)
	}

	switch cls.Source {
	case SourceSignature:
		e.sigMatches.Add(1)
	case SourceHeuristic:
		e.heuMatches.Add(1)
	}
	if cls.Protocol == ProtocolUnknown {
		e.unknown.Add(1)
	}
	e.countProtocol(cls.Protocol)

	return cls
}

func (e *Engine) classifySlow(pkt *dissect.DissectedPacket) Classification {
	for _, sig := range e.reg.Signatures() {
		if signatureMatches(sig, pkt) {
			return Classification{Protocol: sig.Protocol, Source: SourceSignature}
		}
	}

	if pkt.Transport == "tcp" || pkt.Transport == "udp" {
		transport := registry.Transport(pkt.Transport)
		if proto, ok := e.reg.Lookup(pkt.DstPort, transport); ok {
			return Classification{Protocol: proto, Source: SourceSignature}
		}
		if proto, ok := e.reg.Lookup(pkt.SrcPort, transport); ok {
			return Classification{Protocol: proto, Source: SourceSignature}
		}
	}

	for _, h := range e.heuristics {
		if proto := h.match(pkt); proto != "" {
			return Classification{Protocol: proto, Source: SourceHeuristic}
		}
	}

	return Classification{Protocol: ProtocolUnknown, Source: SourceNone}
}

func signatureMatches(sig registry.Signature, pkt *dissect.DissectedPacket) bool {
	if sig.Transport != "" && string(sig.Transport) != pkt.Transport {
		return false
	}

	if len(sig.Ports) > 0 {
		found := false
		for _, port := range sig.Ports {
			if pkt.SrcPort == port || pkt.DstPort == port {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if sig.Pattern != "" {
		if len(pkt.Payload) == 0 {
			return false
		}
		return bytes.Contains(pkt.Payload, []byte(sig.Pattern))
	}

	return len(sig.Ports) > 0
}

func (e *Engine) countProtocol(proto string) {
	e.protoMu.Lock()
	e.protoCounts[proto]++
	e.protoMu.Unlock()
}

// Stats returns a consistent copy of the counters.
func (e *Engine) Stats() Stats {
	inspected := e.inspected.Load()
	hits := e.cacheHits.Load()
	unknown := e.unknown.Load()

	stats := Stats{
		PacketsInspected: inspected,
		CacheHits:        hits,
		SignatureMatches: e.sigMatches.Load(),
		HeuristicMatches: e.heuMatches.Load(),
		UnknownCount:     unknown,
		CacheSize:        e.cache.Len(),
		CacheEvictions:   e.cache.Evictions(),
		PerProtocol:      make(map[string]int64),
	}
	if inspected > 0 {
		stats.CacheHitRate = float64(hits) / float64(inspected)
		stats.DetectionRate = float64(inspected-unknown) / float64(inspected)
	}

	e.protoMu.Lock()
	for proto, count := range e.protoCounts {
		stats.PerProtocol[proto] = count
	}
	e.protoMu.Unlock()

	return stats
}

// FlowKey builds the direction-normalized cache and aggregation key for a
// packet: both directions of a 5-tuple map to the same key. Packets without a
// transport layer have no flow key.
func FlowKey(pkt *dissect.DissectedPacket) string {
	if pkt.Transport == "" || pkt.SrcIP == nil || pkt.DstIP == nil {
		return ""
	}

	src := fmt.Sprintf("%s:%d", pkt.SrcIP.String(), pkt.SrcPort)
	dst := fmt.Sprintf("%s:%d", pkt.DstIP.String(), pkt.DstPort)
	if src <= dst {
		return pkt.Transport + "|" + src + "|" + dst
	}
	return pkt.Transport + "|" + dst + "|" + src
}

// Forward reports whether the packet travels in the flow key's canonical
// (A to B) direction.
func Forward(pkt *dissect.DissectedPacket) bool {
	src := fmt.Sprintf("%s:%d", pkt.SrcIP.String(), pkt.SrcPort)
	dst := fmt.Sprintf("%s:%d", pkt.DstIP.String(), pkt.DstPort)
	return src <= dst
}
