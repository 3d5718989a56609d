package topology

import (
	"net"
	"testing"
	"time"

	"github.com/aegis-sentinel/topowatch/internal/classify"
	"github.com/aegis-sentinel/topowatch/internal/dissect"
	"github.com/aegis-sentinel/topowatch/internal/fingerprint"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	m, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("bad mac %q: %v", s, err)
	}
	return m
}

func newTestAggregator() *Aggregator {
	return NewAggregator(DefaultConfig(), nil, nil, nil)
}

func tcpPacket(t *testing.T, srcMAC, dstMAC, srcIP, dstIP string, srcPort, dstPort uint16, length int) *dissect.DissectedPacket {
	t.Helper()
	return &dissect.DissectedPacket{
		Timestamp: time.Now(),
		Length:    length,
		SrcMAC:    mustMAC(t, srcMAC),
		DstMAC:    mustMAC(t, dstMAC),
		L3Proto:   "ipv4",
		SrcIP:     net.ParseIP(srcIP),
		DstIP:     net.ParseIP(dstIP),
		Transport: "tcp",
		SrcPort:   srcPort,
		DstPort:   dstPort,
	}
}

func TestEntityUpsertIdempotent(t *testing.T) {
	agg := newTestAggregator()

	pkt := tcpPacket(t, "aa:bb:cc:00:00:01", "aa:bb:cc:00:00:02", "10.0.0.1", "10.0.0.2", 40000, 80, 100)
	cls := classify.Classification{Protocol: "http", Source: classify.SourceHeuristic}

	agg.Ingest(pkt, cls)
	agg.Ingest(pkt, cls)

	view := agg.Snapshot()
	if len(view.Entities) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(view.Entities))
	}
	e := view.Entities[0]
	if e.MAC != "aa:bb:cc:00:00:01" {
		t.Errorf("unexpected entity MAC %q", e.MAC)
	}
	if e.PacketCount != 2 {
		t.Errorf("expected packet count 2, got %d", e.PacketCount)
	}
	if len(e.IPs) != 1 || e.IPs[0] != "10.0.0.1" {
		t.Errorf("expected single IP 10.0.0.1, got %v", e.IPs)
	}
}

func TestFlowBidirectionalAggregation(t *testing.T) {
	agg := newTestAggregator()
	cls := classify.Classification{Protocol: "http", Source: classify.SourceHeuristic}

	fwd := tcpPacket(t, "aa:bb:cc:00:00:01", "aa:bb:cc:00:00:02", "10.0.0.1", "10.0.0.2", 40000, 80, 120)
	rev := tcpPacket(t, "aa:bb:cc:00:00:02", "aa:bb:cc:00:00:01", "10.0.0.2", "10.0.0.1", 80, 40000, 700)

	agg.Ingest(fwd, cls)
	agg.Ingest(rev, cls)

	view := agg.Snapshot()
	if len(view.Flows) != 1 {
		t.Fatalf("expected 1 flow for both directions, got %d", len(view.Flows))
	}
	f := view.Flows[0]
	if f.EndpointA != "10.0.0.1:40000" || f.EndpointB != "10.0.0.2:80" {
		t.Errorf("unexpected endpoints %q / %q", f.EndpointA, f.EndpointB)
	}
	if f.AtoB.Packets != 1 || f.AtoB.Bytes != 120 {
		t.Errorf("A-to-B counters wrong: %+v", f.AtoB)
	}
	if f.BtoA.Packets != 1 || f.BtoA.Bytes != 700 {
		t.Errorf("B-to-A counters wrong: %+v", f.BtoA)
	}
	if f.L7Protocol != "http" {
		t.Errorf("expected l7 protocol http, got %q", f.L7Protocol)
	}
}

func TestFlowProtocolUpgradeFromUnknown(t *testing.T) {
	agg := newTestAggregator()

	pkt := tcpPacket(t, "aa:bb:cc:00:00:01", "aa:bb:cc:00:00:02", "10.0.0.1", "10.0.0.2", 40000, 9999, 60)
	agg.Ingest(pkt, classify.Classification{Protocol: classify.ProtocolUnknown, Source: classify.SourceNone})
	agg.Ingest(pkt, classify.Classification{Protocol: "tls", Source: classify.SourceHeuristic})

	view := agg.Snapshot()
	if len(view.Flows) != 1 {
		t.Fatalf("expected 1 flow, got %d", len(view.Flows))
	}
	if got := view.Flows[0].L7Protocol; got != "tls" {
		t.Errorf("expected l7 upgrade to tls, got %q", got)
	}
	if len(view.Flows[0].Protocols) != 2 {
		t.Errorf("expected both verdicts recorded, got %v", view.Flows[0].Protocols)
	}
}

func stpPacket(t *testing.T, srcMAC string, priority uint16, bridgeMAC string) *dissect.DissectedPacket {
	t.Helper()
	return &dissect.DissectedPacket{
		Timestamp: time.Now(),
		Length:    60,
		SrcMAC:    mustMAC(t, srcMAC),
		DstMAC:    mustMAC(t, "01:80:c2:00:00:00"),
		Discovery: &dissect.DiscoveryFrame{
			Kind: dissect.DiscoverySTP,
			STP: &dissect.STPInfo{
				RootPriority:   priority,
				RootMAC:        mustMAC(t, bridgeMAC),
				BridgePriority: priority,
				BridgeMAC:      mustMAC(t, bridgeMAC),
				PortID:         0x8001,
			},
		},
	}
}

func TestRootBridgeElection(t *testing.T) {
	var none classify.Classification

	t.Run("lowest priority wins", func(t *testing.T) {
		agg := newTestAggregator()
		agg.Ingest(stpPacket(t, "aa:00:00:00:00:0a", 0x8000, "aa:00:00:00:00:0a"), none)
		agg.Ingest(stpPacket(t, "bb:00:00:00:00:0b", 0x1000, "bb:00:00:00:00:0b"), none)
		agg.Ingest(stpPacket(t, "cc:00:00:00:00:0c", 0x8000, "cc:00:00:00:00:0c"), none)

		view := agg.Snapshot()
		if view.RootBridge != "bb:00:00:00:00:0b" {
			t.Errorf("expected root bb:00:00:00:00:0b, got %q", view.RootBridge)
		}
		roots := 0
		for _, b := range view.Bridges {
			if b.Root {
				roots++
				if b.MAC != view.RootBridge {
					t.Errorf("root flag on %q but RootBridge is %q", b.MAC, view.RootBridge)
				}
			}
		}
		if roots != 1 {
			t.Errorf("expected exactly one root, got %d", roots)
		}
	})

	t.Run("tie broken by lowest mac", func(t *testing.T) {
		agg := newTestAggregator()
		agg.Ingest(stpPacket(t, "cc:00:00:00:00:0c", 0x8000, "cc:00:00:00:00:0c"), none)
		agg.Ingest(stpPacket(t, "aa:00:00:00:00:0a", 0x8000, "aa:00:00:00:00:0a"), none)

		if view := agg.Snapshot(); view.RootBridge != "aa:00:00:00:00:0a" {
			t.Errorf("expected tie to pick lowest MAC, got %q", view.RootBridge)
		}
	})

	t.Run("priority change moves the root", func(t *testing.T) {
		agg := newTestAggregator()
		agg.Ingest(stpPacket(t, "aa:00:00:00:00:0a", 0x1000, "aa:00:00:00:00:0a"), none)
		agg.Ingest(stpPacket(t, "bb:00:00:00:00:0b", 0x8000, "bb:00:00:00:00:0b"), none)
		// the old root re-announces at a worse priority
		agg.Ingest(stpPacket(t, "aa:00:00:00:00:0a", 0xf000, "aa:00:00:00:00:0a"), none)

		if view := agg.Snapshot(); view.RootBridge != "bb:00:00:00:00:0b" {
			t.Errorf("expected root to move to bb, got %q", view.RootBridge)
		}
	})

	t.Run("bpdu sender becomes a bridge entity", func(t *testing.T) {
		agg := newTestAggregator()
		agg.Ingest(stpPacket(t, "aa:00:00:00:00:0a", 0x8000, "aa:00:00:00:00:0a"), none)

		view := agg.Snapshot()
		if len(view.Entities) != 1 || view.Entities[0].Role != RoleBridge {
			t.Errorf("expected bridge role on BPDU sender, got %+v", view.Entities)
		}
	})
}

func TestVlanScopingAcrossIDs(t *testing.T) {
	agg := newTestAggregator()
	cls := classify.Classification{Protocol: "http", Source: classify.SourceHeuristic}

	pkt10 := tcpPacket(t, "aa:bb:cc:00:00:01", "aa:bb:cc:00:00:02", "10.0.10.1", "10.0.10.2", 40000, 80, 100)
	pkt10.HasVLAN = true
	pkt10.VLANID = 10
	pkt20 := tcpPacket(t, "aa:bb:cc:00:00:01", "aa:bb:cc:00:00:02", "10.0.20.1", "10.0.20.2", 40001, 80, 100)
	pkt20.HasVLAN = true
	pkt20.VLANID = 20

	agg.Ingest(pkt10, cls)
	agg.Ingest(pkt20, cls)

	view := agg.Snapshot()
	if len(view.Vlans) != 2 {
		t.Fatalf("expected 2 vlans, got %d", len(view.Vlans))
	}
	for _, v := range view.Vlans {
		if len(v.Members) != 1 || v.Members[0] != "aa:bb:cc:00:00:01" {
			t.Errorf("vlan %d: expected single member aa:bb:cc:00:00:01, got %v", v.ID, v.Members)
		}
	}
	if len(view.Entities) != 1 {
		t.Errorf("expected one entity across both vlans, got %d", len(view.Entities))
	}
}

func igmpPacket(t *testing.T, srcMAC, srcIP, group, kind string) *dissect.DissectedPacket {
	t.Helper()
	info := &dissect.IGMPInfo{Kind: kind, GroupAddress: net.ParseIP(group)}
	switch kind {
	case "report":
		info.JoinGroups = []net.IP{net.ParseIP(group)}
	case "leave":
		info.LeaveGroups = []net.IP{net.ParseIP(group)}
	}
	return &dissect.DissectedPacket{
		Timestamp: time.Now(),
		Length:    46,
		SrcMAC:    mustMAC(t, srcMAC),
		DstMAC:    mustMAC(t, "01:00:5e:00:00:16"),
		L3Proto:   "ipv4",
		SrcIP:     net.ParseIP(srcIP),
		DstIP:     net.ParseIP(group),
		Transport: "igmp",
		IGMP:      info,
	}
}

func TestMulticastMembership(t *testing.T) {
	var none classify.Classification

	t.Run("igmp join and leave", func(t *testing.T) {
		agg := newTestAggregator()
		agg.Ingest(igmpPacket(t, "aa:bb:cc:00:00:01", "10.0.0.1", "239.1.1.1", "report"), none)
		agg.Ingest(igmpPacket(t, "aa:bb:cc:00:00:02", "10.0.0.2", "239.1.1.1", "report"), none)

		view := agg.Snapshot()
		if len(view.MulticastGroups) != 1 || len(view.MulticastGroups[0].Members) != 2 {
			t.Fatalf("expected one group with 2 members, got %+v", view.MulticastGroups)
		}

		agg.Ingest(igmpPacket(t, "aa:bb:cc:00:00:01", "10.0.0.1", "239.1.1.1", "leave"), none)
		view = agg.Snapshot()
		if len(view.MulticastGroups[0].Members) != 1 || view.MulticastGroups[0].Members[0] != "10.0.0.2" {
			t.Errorf("expected 10.0.0.2 to remain, got %v", view.MulticastGroups[0].Members)
		}

		agg.Ingest(igmpPacket(t, "aa:bb:cc:00:00:02", "10.0.0.2", "239.1.1.1", "leave"), none)
		if view = agg.Snapshot(); len(view.MulticastGroups) != 0 {
			t.Errorf("expected empty group to be removed, got %+v", view.MulticastGroups)
		}
	})

	t.Run("mdns membership tracked by classification", func(t *testing.T) {
		agg := newTestAggregator()
		pkt := &dissect.DissectedPacket{
			Timestamp: time.Now(),
			Length:    80,
			SrcMAC:    mustMAC(t, "aa:bb:cc:00:00:03"),
			DstMAC:    mustMAC(t, "01:00:5e:00:00:fb"),
			L3Proto:   "ipv4",
			SrcIP:     net.ParseIP("10.0.0.3"),
			DstIP:     net.ParseIP("224.0.0.251"),
			Transport: "udp",
			SrcPort:   5353,
			DstPort:   5353,
		}
		agg.Ingest(pkt, classify.Classification{Protocol: "mdns", Source: classify.SourceHeuristic})

		view := agg.Snapshot()
		if len(view.MulticastGroups) != 1 {
			t.Fatalf("expected one mdns group, got %d", len(view.MulticastGroups))
		}
		g := view.MulticastGroups[0]
		if g.Protocol != "mdns" || g.Address != "224.0.0.251" || len(g.Members) != 1 {
			t.Errorf("unexpected group %+v", g)
		}
	})
}

func TestExpireStale(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NeighborStaleness = time.Minute
	cfg.MulticastStaleness = time.Minute
	agg := NewAggregator(cfg, nil, nil, nil)
	var none classify.Classification

	lldp := &dissect.DissectedPacket{
		Timestamp: time.Now().Add(-5 * time.Minute),
		SrcMAC:    mustMAC(t, "aa:bb:cc:00:00:01"),
		DstMAC:    mustMAC(t, "01:80:c2:00:00:0e"),
		Discovery: &dissect.DiscoveryFrame{
			Kind: dissect.DiscoveryLLDP,
			LLDP: &dissect.LLDPInfo{ChassisID: "aa:bb:cc:00:00:01", PortID: "eth0", SystemName: "sw1"},
		},
	}
	agg.Ingest(lldp, none)

	old := &dissect.DissectedPacket{
		Timestamp: time.Now().Add(-5 * time.Minute),
		Length:    80,
		SrcMAC:    mustMAC(t, "aa:bb:cc:00:00:03"),
		L3Proto:   "ipv4",
		SrcIP:     net.ParseIP("10.0.0.3"),
		DstIP:     net.ParseIP("224.0.0.251"),
		Transport: "udp",
		SrcPort:   5353,
		DstPort:   5353,
	}
	agg.Ingest(old, classify.Classification{Protocol: "mdns", Source: classify.SourceHeuristic})
	agg.Ingest(igmpPacket(t, "aa:bb:cc:00:00:04", "10.0.0.4", "239.1.1.1", "report"), none)

	neighbors, members := agg.ExpireStale(time.Now())
	if neighbors != 1 {
		t.Errorf("expected 1 expired neighbor, got %d", neighbors)
	}
	if members != 1 {
		t.Errorf("expected 1 expired mdns member, got %d", members)
	}

	view := agg.Snapshot()
	if len(view.Neighbors) != 0 {
		t.Errorf("stale neighbor survived: %+v", view.Neighbors)
	}
	// IGMP members never age out; they leave explicitly.
	if len(view.MulticastGroups) != 1 || view.MulticastGroups[0].Protocol != "igmp" {
		t.Errorf("expected only the igmp group to survive, got %+v", view.MulticastGroups)
	}
}

func TestNeighborUpsert(t *testing.T) {
	agg := newTestAggregator()
	var none classify.Classification

	first := &dissect.DissectedPacket{
		Timestamp: time.Now(),
		SrcMAC:    mustMAC(t, "aa:bb:cc:00:00:01"),
		Discovery: &dissect.DiscoveryFrame{
			Kind: dissect.DiscoveryLLDP,
			LLDP: &dissect.LLDPInfo{
				ChassisID:    "00:11:22:33:44:55",
				PortID:       "Gi1/0/1",
				SystemName:   "core-sw",
				Capabilities: []string{"bridge", "router"},
			},
		},
	}
	agg.Ingest(first, none)
	agg.Ingest(first, none)

	view := agg.Snapshot()
	if len(view.Neighbors) != 1 {
		t.Fatalf("expected 1 neighbor after repeat announcements, got %d", len(view.Neighbors))
	}
	n := view.Neighbors[0]
	if n.SystemName != "core-sw" || n.PortID != "Gi1/0/1" || n.Protocol != "lldp" {
		t.Errorf("unexpected neighbor %+v", n)
	}

	// announcing entity picks up the strongest capability role
	if view.Entities[0].Role != RoleRouter && view.Entities[0].Role != RoleBridge {
		t.Errorf("expected infrastructure role, got %q", view.Entities[0].Role)
	}
}

func TestRingMembership(t *testing.T) {
	agg := newTestAggregator()
	var none classify.Classification

	ring := func(srcMAC string) *dissect.DissectedPacket {
		return &dissect.DissectedPacket{
			Timestamp: time.Now(),
			SrcMAC:    mustMAC(t, srcMAC),
			Discovery: &dissect.DiscoveryFrame{
				Kind: dissect.DiscoveryREP,
				Ring: &dissect.RingInfo{RingID: "rep-segment-7"},
			},
		}
	}
	agg.Ingest(ring("aa:bb:cc:00:00:01"), none)
	agg.Ingest(ring("aa:bb:cc:00:00:02"), none)
	agg.Ingest(ring("aa:bb:cc:00:00:01"), none)

	view := agg.Snapshot()
	if len(view.Rings) != 1 {
		t.Fatalf("expected 1 ring, got %d", len(view.Rings))
	}
	r := view.Rings[0]
	if r.ID != "rep-segment-7" || r.Protocol != "rep" || len(r.Members) != 2 {
		t.Errorf("unexpected ring %+v", r)
	}
}

func TestFingerprintDeduplication(t *testing.T) {
	agg := newTestAggregator()
	cls := classify.Classification{Protocol: "tls", Source: classify.SourceHeuristic}

	pkt := tcpPacket(t, "aa:bb:cc:00:00:01", "aa:bb:cc:00:00:02", "10.0.0.1", "10.0.0.2", 40000, 443, 200)
	fp := &fingerprint.Fingerprint{
		Type:     fingerprint.TypeTLS,
		Value:    "d41d8cd98f00b204e9800998ecf8427e",
		OwnerMAC: pkt.SrcMAC,
	}
	other := &fingerprint.Fingerprint{
		Type:     fingerprint.TypeHTTP,
		Value:    "9e107d9d372bb6826bd81d3542a419d6",
		OwnerMAC: pkt.SrcMAC,
	}

	agg.Ingest(pkt, cls, fp)
	agg.Ingest(pkt, cls, fp)
	agg.Ingest(pkt, cls, other)

	view := agg.Snapshot()
	if len(view.Entities) == 0 {
		t.Fatal("no entities in snapshot")
	}
	var owner *EntityView
	for i := range view.Entities {
		if view.Entities[i].MAC == "aa:bb:cc:00:00:01" {
			owner = &view.Entities[i]
		}
	}
	if owner == nil {
		t.Fatal("owner entity missing")
	}
	if len(owner.Fingerprints) != 2 {
		t.Errorf("expected 2 distinct fingerprints, got %d", len(owner.Fingerprints))
	}
}

func TestRoleNeverDowngrades(t *testing.T) {
	agg := newTestAggregator()
	var none classify.Classification

	agg.Ingest(stpPacket(t, "aa:bb:cc:00:00:01", 0x8000, "aa:bb:cc:00:00:01"), none)
	// ordinary traffic from the same MAC must not demote the bridge role
	agg.Ingest(tcpPacket(t, "aa:bb:cc:00:00:01", "aa:bb:cc:00:00:02", "10.0.0.1", "10.0.0.2", 40000, 80, 100),
		classify.Classification{Protocol: "http", Source: classify.SourceHeuristic})

	view := agg.Snapshot()
	for _, e := range view.Entities {
		if e.MAC == "aa:bb:cc:00:00:01" && e.Role != RoleBridge {
			t.Errorf("role downgraded to %q", e.Role)
		}
	}
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 1
	agg := NewAggregator(cfg, nil, nil, nil)
	// no Start: nothing drains the queue

	pkt := tcpPacket(t, "aa:bb:cc:00:00:01", "aa:bb:cc:00:00:02", "10.0.0.1", "10.0.0.2", 40000, 80, 100)
	var none classify.Classification

	if !agg.Submit(pkt, none) {
		t.Fatal("first submit should fit the queue")
	}
	if agg.Submit(pkt, none) {
		t.Fatal("second submit should be dropped")
	}
	if got := agg.FramesDropped(); got != 1 {
		t.Errorf("expected 1 drop, got %d", got)
	}
}

func TestSnapshotRendersUnknownProtocol(t *testing.T) {
	agg := newTestAggregator()
	pkt := tcpPacket(t, "aa:bb:cc:00:00:01", "aa:bb:cc:00:00:02", "10.0.0.1", "10.0.0.2", 40000, 9999, 60)
	agg.Ingest(pkt, classify.Classification{Protocol: classify.ProtocolUnknown, Source: classify.SourceNone})

	view := agg.Snapshot()
	if len(view.Flows) != 1 || view.Flows[0].L7Protocol != classify.ProtocolUnknown {
		t.Errorf("expected unknown l7 protocol in view, got %+v", view.Flows)
	}
	if view.FramesIngested != 1 {
		t.Errorf("expected 1 ingested frame, got %d", view.FramesIngested)
	}
}
