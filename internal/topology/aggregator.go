package topology

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegis-sentinel/topowatch/internal/classify"
	"github.com/aegis-sentinel/topowatch/internal/common/logging"
	"github.com/aegis-sentinel/topowatch/internal/common/telemetry"
	"github.com/aegis-sentinel/topowatch/internal/dissect"
	"github.com/aegis-sentinel/topowatch/internal/enrich"
	"github.com/aegis-sentinel/topowatch/internal/fingerprint"
)

type Config struct {
	QueueSize          int
	NeighborStaleness  time.Duration
	MulticastStaleness time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:          8192,
		NeighborStaleness:  5 * time.Minute,
		MulticastStaleness: 10 * time.Minute,
	}
}

type item struct {
	pkt *dissect.DissectedPacket
	cls classify.Classification
	fps []*fingerprint.Fingerprint
}

// Aggregator is the sole mutator of the topology model. Workers submit
// through a bounded queue drained by a single goroutine, so every upsert runs
// alone; readers take the state lock only long enough to copy.
type Aggregator struct {
	logger  *logging.Logger
	metrics *telemetry.Metrics
	oui     *enrich.OUIDatabase
	cfg     Config

	queue chan item
	wg    sync.WaitGroup

	mu        sync.RWMutex
	entities  map[string]*L2Entity
	vlans     map[uint16]*VlanMembership
	bridges   map[string]*StpBridge
	rootMAC   string
	neighbors map[string]*Neighbor
	rings     map[string]*RingTopology
	groups    map[string]*MulticastGroup
	flows     map[string]*Flow

	ingested atomic.Uint64
	dropped  atomic.Uint64
}

func NewAggregator(cfg Config, logger *logging.Logger, metrics *telemetry.Metrics, oui *enrich.OUIDatabase) *Aggregator {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 8192
	}
	if cfg.NeighborStaleness == 0 {
		cfg.NeighborStaleness = 5 * time.Minute
	}
	if cfg.MulticastStaleness == 0 {
		cfg.MulticastStaleness = 10 * time.Minute
	}

	return &Aggregator{
		logger:    logger,
		metrics:   metrics,
		oui:       oui,
		cfg:       cfg,
		queue:     make(chan item, cfg.QueueSize),
		entities:  make(map[string]*L2Entity),
		vlans:     make(map[uint16]*VlanMembership),
		bridges:   make(map[string]*StpBridge),
		neighbors: make(map[string]*Neighbor),
		rings:     make(map[string]*RingTopology),
		groups:    make(map[string]*MulticastGroup),
		flows:     make(map[string]*Flow),
	}
}

// Start launches the single writer goroutine. On cancellation it drains the
// queue before returning, so in-flight packets are never lost.
func (a *Aggregator) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				a.drain()
				return
			case it := <-a.queue:
				a.Ingest(it.pkt, it.cls, it.fps...)
			}
		}
	}()
}

func (a *Aggregator) drain() {
	for {
		select {
		case it := <-a.queue:
			a.Ingest(it.pkt, it.cls, it.fps...)
		default:
			return
		}
	}
}

// Wait blocks until the writer goroutine has drained and exited.
func (a *Aggregator) Wait() {
	a.wg.Wait()
}

// Submit enqueues a packet for ingestion. A full queue drops the packet and
// counts it rather than blocking the caller.
func (a *Aggregator) Submit(pkt *dissect.DissectedPacket, cls classify.Classification, fps ...*fingerprint.Fingerprint) bool {
	select {
	case a.queue <- item{pkt: pkt, cls: cls, fps: fps}:
		if a.metrics != nil {
			a.metrics.SetQueueDepth(int64(len(a.queue)))
		}
		return true
	default:
		a.dropped.Add(1)
		if a.metrics != nil {
			a.metrics.IncrementFramesDropped()
		}
		return false
	}
}

// Ingest folds one packet into the model. It is the only mutating entry
// point; upserts are idempotent, so re-ingesting a frame changes nothing but
// monotonic counters.
func (a *Aggregator) Ingest(pkt *dissect.DissectedPacket, cls classify.Classification, fps ...*fingerprint.Fingerprint) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ingested.Add(1)

	if pkt.Discovery != nil {
		a.ingestDiscovery(pkt)
	} else {
		a.ingestGeneric(pkt, cls)
	}

	for _, fp := range fps {
		a.attachFingerprint(pkt, fp)
	}
}

func (a *Aggregator) ingestDiscovery(pkt *dissect.DissectedPacket) {
	disc := pkt.Discovery
	switch disc.Kind {
	case dissect.DiscoveryLLDP:
		if disc.LLDP == nil {
			return
		}
		entity := a.upsertEntity(pkt.SrcMAC, pkt.Timestamp)
		a.applyCapabilities(entity, disc.LLDP.Capabilities)
		a.upsertNeighbor(pkt, disc.Kind, disc.LLDP.ChassisID, disc.LLDP.SystemName,
			disc.LLDP.SystemDescription, disc.LLDP.PortID, disc.LLDP.PortDescription, disc.LLDP.Capabilities)

	case dissect.DiscoveryCDP:
		if disc.CDP == nil {
			return
		}
		entity := a.upsertEntity(pkt.SrcMAC, pkt.Timestamp)
		a.applyCapabilities(entity, disc.CDP.Capabilities)
		for _, ip := range disc.CDP.Addresses {
			addIP(entity, ip)
		}
		a.upsertNeighbor(pkt, disc.Kind, disc.CDP.DeviceID, disc.CDP.DeviceID,
			disc.CDP.Platform, disc.CDP.PortID, "", disc.CDP.Capabilities)

	case dissect.DiscoverySTP:
		if disc.STP == nil || len(disc.STP.BridgeMAC) == 0 {
			return
		}
		entity := a.upsertEntity(pkt.SrcMAC, pkt.Timestamp)
		upgradeRole(entity, RoleBridge)
		a.upsertBridge(disc.STP, pkt.Timestamp)

	case dissect.DiscoveryREP, dissect.DiscoveryMRP:
		if disc.Ring == nil {
			return
		}
		a.upsertEntity(pkt.SrcMAC, pkt.Timestamp)
		a.upsertRing(disc.Kind, disc.Ring.RingID, pkt.SrcMAC, pkt.Timestamp)
	}
}

func (a *Aggregator) ingestGeneric(pkt *dissect.DissectedPacket, cls classify.Classification) {
	if len(pkt.SrcMAC) == 0 {
		return
	}

	entity := a.upsertEntity(pkt.SrcMAC, pkt.Timestamp)
	entity.PacketCount++
	if pkt.SrcIP != nil {
		addIP(entity, pkt.SrcIP)
	}

	if pkt.HasVLAN {
		a.upsertVlan(pkt.VLANID, entity.MAC, pkt.Timestamp)
	}

	if key := classify.FlowKey(pkt); key != "" {
		a.upsertFlow(key, pkt, cls)
	}

	a.trackMulticast(pkt, cls)
}

func (a *Aggregator) upsertEntity(mac net.HardwareAddr, ts time.Time) *L2Entity {
	key := mac.String()
	entity, ok := a.entities[key]
	if !ok {
		entity = &L2Entity{
			MAC:       append(net.HardwareAddr(nil), mac...),
			Role:      RoleUnknown,
			FirstSeen: ts,
			fpSeen:    make(map[string]bool),
		}
		if a.oui != nil {
			entity.Vendor = a.oui.Lookup(mac)
		}
		a.entities[key] = entity
		if a.logger != nil {
			a.logger.Debug("New entity observed", logging.WithTarget(key))
		}
	}
	if ts.After(entity.LastSeen) {
		entity.LastSeen = ts
	}
	return entity
}

func addIP(entity *L2Entity, ip net.IP) {
	if ip == nil || ip.IsUnspecified() {
		return
	}
	for _, existing := range entity.IPs {
		if existing.Equal(ip) {
			return
		}
	}
	entity.IPs = append(entity.IPs, append(net.IP(nil), ip...))
}

// applyCapabilities maps announced discovery capabilities onto a role.
func (a *Aggregator) applyCapabilities(entity *L2Entity, caps []string) {
	for _, c := range caps {
		switch c {
		case "bridge", "repeater":
			upgradeRole(entity, RoleBridge)
		case "router":
			upgradeRole(entity, RoleRouter)
		case "wlan-ap":
			upgradeRole(entity, RoleWLANAP)
		case "phone":
			upgradeRole(entity, RolePhone)
		case "host", "station":
			upgradeRole(entity, RoleHost)
		}
	}
}

func upgradeRole(entity *L2Entity, role Role) {
	if rolePrecedence[role] > rolePrecedence[entity.Role] {
		entity.Role = role
	}
}

func (a *Aggregator) upsertVlan(id uint16, mac net.HardwareAddr, ts time.Time) {
	vlan, ok := a.vlans[id]
	if !ok {
		vlan = &VlanMembership{
			ID:        id,
			Members:   make(map[string]bool),
			FirstSeen: ts,
		}
		a.vlans[id] = vlan
	}
	vlan.Members[mac.String()] = true
	if ts.After(vlan.LastSeen) {
		vlan.LastSeen = ts
	}
}

// upsertBridge records the announcing bridge and recomputes the root across
// all known bridges: lowest priority wins, ties broken by lowest MAC.
func (a *Aggregator) upsertBridge(info *dissect.STPInfo, ts time.Time) {
	key := info.BridgeMAC.String()
	bridge, ok := a.bridges[key]
	if !ok {
		bridge = &StpBridge{
			MAC:       append(net.HardwareAddr(nil), info.BridgeMAC...),
			FirstSeen: ts,
		}
		a.bridges[key] = bridge
	}
	bridge.Priority = info.BridgePriority
	bridge.PortID = info.PortID
	if ts.After(bridge.LastSeen) {
		bridge.LastSeen = ts
	}

	a.recomputeRoot()
}

func (a *Aggregator) recomputeRoot() {
	var best *StpBridge
	for _, b := range a.bridges {
		if best == nil || bridgeLess(b, best) {
			best = b
		}
	}

	a.rootMAC = ""
	for _, b := range a.bridges {
		b.Root = b == best
	}
	if best != nil {
		a.rootMAC = best.MAC.String()
	}
}

func bridgeLess(x, y *StpBridge) bool {
	if x.Priority != y.Priority {
		return x.Priority < y.Priority
	}
	return bytes.Compare(x.MAC, y.MAC) < 0
}

func (a *Aggregator) upsertNeighbor(pkt *dissect.DissectedPacket, proto dissect.DiscoveryKind,
	chassisID, sysName, sysDesc, portID, portDesc string, caps []string) {

	local := pkt.SrcMAC.String()
	key := local + "|" + chassisID

	n, ok := a.neighbors[key]
	if !ok {
		n = &Neighbor{
			LocalMAC:        local,
			RemoteChassisID: chassisID,
			Protocol:        proto,
			FirstSeen:       pkt.Timestamp,
		}
		a.neighbors[key] = n
	}

	if sysName != "" {
		n.SystemName = sysName
	}
	if sysDesc != "" {
		n.SystemDescription = sysDesc
	}
	if portID != "" {
		n.PortID = portID
	}
	if portDesc != "" {
		n.PortDescription = portDesc
	}
	if len(caps) > 0 {
		n.Capabilities = append([]string(nil), caps...)
	}
	if pkt.Timestamp.After(n.LastSeen) {
		n.LastSeen = pkt.Timestamp
	}
}

func (a *Aggregator) upsertRing(proto dissect.DiscoveryKind, ringID string, mac net.HardwareAddr, ts time.Time) {
	key := string(proto) + "|" + ringID
	ring, ok := a.rings[key]
	if !ok {
		ring = &RingTopology{
			ID:        ringID,
			Protocol:  proto,
			Members:   make(map[string]bool),
			FirstSeen: ts,
		}
		a.rings[key] = ring
	}
	if len(mac) > 0 {
		ring.Members[mac.String()] = true
	}
	if ts.After(ring.LastSeen) {
		ring.LastSeen = ts
	}
}

// trackMulticast folds IGMP joins/leaves and repeated mDNS/SSDP traffic into
// group membership.
func (a *Aggregator) trackMulticast(pkt *dissect.DissectedPacket, cls classify.Classification) {
	switch {
	case pkt.IGMP != nil:
		if pkt.SrcIP == nil {
			return
		}
		member := pkt.SrcIP.String()
		for _, group := range pkt.IGMP.JoinGroups {
			a.joinGroup("igmp", group.String(), member, pkt.Timestamp)
		}
		for _, group := range pkt.IGMP.LeaveGroups {
			a.leaveGroup("igmp", group.String(), member)
		}

	case cls.Protocol == "mdns":
		if pkt.SrcIP == nil || pkt.DstIP == nil || !pkt.DstIP.IsMulticast() {
			return
		}
		a.joinGroup("mdns", pkt.DstIP.String(), pkt.SrcIP.String(), pkt.Timestamp)

	case cls.Protocol == "ssdp":
		if pkt.SrcIP == nil || pkt.DstIP == nil || !pkt.DstIP.IsMulticast() {
			return
		}
		a.joinGroup("ssdp", pkt.DstIP.String(), pkt.SrcIP.String(), pkt.Timestamp)
	}
}

func (a *Aggregator) joinGroup(proto, addr, member string, ts time.Time) {
	key := proto + "|" + addr
	group, ok := a.groups[key]
	if !ok {
		group = &MulticastGroup{
			Address:   addr,
			Protocol:  proto,
			Members:   make(map[string]time.Time),
			FirstSeen: ts,
		}
		a.groups[key] = group
	}
	group.Members[member] = ts
}

func (a *Aggregator) leaveGroup(proto, addr, member string) {
	key := proto + "|" + addr
	group, ok := a.groups[key]
	if !ok {
		return
	}
	delete(group.Members, member)
	if len(group.Members) == 0 {
		delete(a.groups, key)
	}
}

func (a *Aggregator) upsertFlow(key string, pkt *dissect.DissectedPacket, cls classify.Classification) {
	flow, ok := a.flows[key]
	if !ok {
		epA := fmt.Sprintf("%s:%d", pkt.SrcIP.String(), pkt.SrcPort)
		epB := fmt.Sprintf("%s:%d", pkt.DstIP.String(), pkt.DstPort)
		if epA > epB {
			epA, epB = epB, epA
		}
		flow = &Flow{
			Key:       key,
			EndpointA: epA,
			EndpointB: epB,
			Transport: pkt.Transport,
			Protocols: make(map[string]bool),
			FirstSeen: pkt.Timestamp,
		}
		a.flows[key] = flow
	}

	if cls.Protocol != "" {
		flow.Protocols[cls.Protocol] = true
	}
	if cls.Protocol != classify.ProtocolUnknown &&
		(flow.L7Protocol == "" || flow.L7Protocol == classify.ProtocolUnknown) {
		flow.L7Protocol = cls.Protocol
	}
	if pkt.HasVLAN {
		flow.HasVLAN = true
		flow.VLANID = pkt.VLANID
	}

	counters := &flow.AtoB
	if !classify.Forward(pkt) {
		counters = &flow.BtoA
	}
	counters.Packets++
	counters.Bytes += uint64(pkt.Length)

	if pkt.Timestamp.After(flow.LastSeen) {
		flow.LastSeen = pkt.Timestamp
	}
}

// attachFingerprint adds an identity hint to its owning entity. Identical
// hashes are not duplicated; distinct ones accumulate.
func (a *Aggregator) attachFingerprint(pkt *dissect.DissectedPacket, fp *fingerprint.Fingerprint) {
	mac := fp.OwnerMAC
	if len(mac) == 0 {
		mac = pkt.SrcMAC
	}
	if len(mac) == 0 {
		return
	}

	entity := a.upsertEntity(mac, pkt.Timestamp)
	seenKey := string(fp.Type) + "|" + fp.Value
	if entity.fpSeen[seenKey] {
		return
	}
	entity.fpSeen[seenKey] = true
	entity.Fingerprints = append(entity.Fingerprints, fp)
}

// ExpireStale removes neighbors and mDNS/SSDP members not refreshed within
// their staleness windows. IGMP members only leave explicitly.
func (a *Aggregator) ExpireStale(now time.Time) (neighbors, members int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, n := range a.neighbors {
		if now.Sub(n.LastSeen) > a.cfg.NeighborStaleness {
			delete(a.neighbors, key)
			neighbors++
		}
	}

	for key, group := range a.groups {
		if group.Protocol == "igmp" {
			continue
		}
		for member, last := range group.Members {
			if now.Sub(last) > a.cfg.MulticastStaleness {
				delete(group.Members, member)
				members++
			}
		}
		if len(group.Members) == 0 {
			delete(a.groups, key)
		}
	}
	return neighbors, members
}

// FramesIngested returns the monotonic ingest counter.
func (a *Aggregator) FramesIngested() uint64 {
	return a.ingested.Load()
}

// FramesDropped returns how many submissions hit a full queue.
func (a *Aggregator) FramesDropped() uint64 {
	return a.dropped.Load()
}
