package topology

import (
	"sort"
	"time"

	"github.com/aegis-sentinel/topowatch/internal/classify"
)

// FingerprintView is the exported form of an attached identity hint.
type FingerprintView struct {
	Type      string            `json:"type"`
	Value     string            `json:"value"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type EntityView struct {
	MAC          string            `json:"mac"`
	IPs          []string          `json:"ips,omitempty"`
	Vendor       string            `json:"vendor,omitempty"`
	Role         Role              `json:"role"`
	FirstSeen    time.Time         `json:"first_seen"`
	LastSeen     time.Time         `json:"last_seen"`
	PacketCount  uint64            `json:"packet_count"`
	Fingerprints []FingerprintView `json:"fingerprints,omitempty"`
}

type VlanView struct {
	ID      uint16   `json:"id"`
	Members []string `json:"members"`
}

type BridgeView struct {
	MAC      string    `json:"mac"`
	Priority uint16    `json:"priority"`
	Root     bool      `json:"root"`
	LastSeen time.Time `json:"last_seen"`
}

type NeighborView struct {
	LocalMAC        string    `json:"local_mac"`
	RemoteChassisID string    `json:"remote_chassis_id"`
	SystemName      string    `json:"system_name,omitempty"`
	PortID          string    `json:"port_id,omitempty"`
	PortDescription string    `json:"port_description,omitempty"`
	Capabilities    []string  `json:"capabilities,omitempty"`
	Protocol        string    `json:"protocol"`
	LastSeen        time.Time `json:"last_seen"`
}

type RingView struct {
	ID       string   `json:"id"`
	Protocol string   `json:"protocol"`
	Members  []string `json:"members"`
}

type MulticastView struct {
	Address  string   `json:"address"`
	Protocol string   `json:"protocol"`
	Members  []string `json:"members"`
}

type FlowView struct {
	EndpointA  string       `json:"endpoint_a"`
	EndpointB  string       `json:"endpoint_b"`
	Transport  string       `json:"transport"`
	Protocols  []string     `json:"protocols"`
	L7Protocol string       `json:"l7_protocol"`
	VLANID     uint16       `json:"vlan_id,omitempty"`
	AtoB       FlowCounters `json:"a_to_b"`
	BtoA       FlowCounters `json:"b_to_a"`
	FirstSeen  time.Time    `json:"first_seen"`
	LastSeen   time.Time    `json:"last_seen"`
}

// TopologyView is one internally consistent generation of the model. It is a
// copy; holding it never blocks ingestion.
type TopologyView struct {
	TakenAt         time.Time       `json:"taken_at"`
	Entities        []EntityView    `json:"entities"`
	Vlans           []VlanView      `json:"vlans"`
	Bridges         []BridgeView    `json:"bridges"`
	RootBridge      string          `json:"root_bridge,omitempty"`
	Neighbors       []NeighborView  `json:"neighbors"`
	Rings           []RingView      `json:"rings"`
	MulticastGroups []MulticastView `json:"multicast_groups"`
	Flows           []FlowView      `json:"flows"`
	FramesIngested  uint64          `json:"frames_ingested"`
	FramesDropped   uint64          `json:"frames_dropped"`
}

// Snapshot copies the whole model under the read lock. Writers touch the
// model only through the single ingest goroutine, so every view is one
// complete generation: per-direction flow counters match, member lists are
// never seen mid-update.
func (a *Aggregator) Snapshot() *TopologyView {
	a.mu.RLock()
	defer a.mu.RUnlock()

	view := &TopologyView{
		TakenAt:        time.Now(),
		RootBridge:     a.rootMAC,
		FramesIngested: a.ingested.Load(),
		FramesDropped:  a.dropped.Load(),
	}

	for _, e := range a.entities {
		ev := EntityView{
			MAC:         e.MAC.String(),
			Vendor:      e.Vendor,
			Role:        e.Role,
			FirstSeen:   e.FirstSeen,
			LastSeen:    e.LastSeen,
			PacketCount: e.PacketCount,
		}
		for _, ip := range e.IPs {
			ev.IPs = append(ev.IPs, ip.String())
		}
		sort.Strings(ev.IPs)
		for _, fp := range e.Fingerprints {
			fv := FingerprintView{
				Type:      string(fp.Type),
				Value:     fp.Value,
				CreatedAt: fp.CreatedAt,
			}
			if len(fp.Metadata) > 0 {
				fv.Metadata = make(map[string]string, len(fp.Metadata))
				for k, v := range fp.Metadata {
					fv.Metadata[k] = v
				}
			}
			ev.Fingerprints = append(ev.Fingerprints, fv)
		}
		view.Entities = append(view.Entities, ev)
	}
	sort.Slice(view.Entities, func(i, j int) bool { return view.Entities[i].MAC < view.Entities[j].MAC })

	for _, v := range a.vlans {
		view.Vlans = append(view.Vlans, VlanView{ID: v.ID, Members: sortedKeys(v.Members)})
	}
	sort.Slice(view.Vlans, func(i, j int) bool { return view.Vlans[i].ID < view.Vlans[j].ID })

	for _, b := range a.bridges {
		view.Bridges = append(view.Bridges, BridgeView{
			MAC:      b.MAC.String(),
			Priority: b.Priority,
			Root:     b.Root,
			LastSeen: b.LastSeen,
		})
	}
	sort.Slice(view.Bridges, func(i, j int) bool { return view.Bridges[i].MAC < view.Bridges[j].MAC })

	for _, n := range a.neighbors {
		view.Neighbors = append(view.Neighbors, NeighborView{
			LocalMAC:        n.LocalMAC,
			RemoteChassisID: n.RemoteChassisID,
			SystemName:      n.SystemName,
			PortID:          n.PortID,
			PortDescription: n.PortDescription,
			Capabilities:    append([]string(nil), n.Capabilities...),
			Protocol:        string(n.Protocol),
			LastSeen:        n.LastSeen,
		})
	}
	sort.Slice(view.Neighbors, func(i, j int) bool {
		if view.Neighbors[i].LocalMAC != view.Neighbors[j].LocalMAC {
			return view.Neighbors[i].LocalMAC < view.Neighbors[j].LocalMAC
		}
		return view.Neighbors[i].RemoteChassisID < view.Neighbors[j].RemoteChassisID
	})

	for _, r := range a.rings {
		view.Rings = append(view.Rings, RingView{
			ID:       r.ID,
			Protocol: string(r.Protocol),
			Members:  sortedKeys(r.Members),
		})
	}
	sort.Slice(view.Rings, func(i, j int) bool { return view.Rings[i].ID < view.Rings[j].ID })

	for _, g := range a.groups {
		mv := MulticastView{Address: g.Address, Protocol: g.Protocol}
		for member := range g.Members {
			mv.Members = append(mv.Members, member)
		}
		sort.Strings(mv.Members)
		view.MulticastGroups = append(view.MulticastGroups, mv)
	}
	sort.Slice(view.MulticastGroups, func(i, j int) bool {
		if view.MulticastGroups[i].Protocol != view.MulticastGroups[j].Protocol {
			return view.MulticastGroups[i].Protocol < view.MulticastGroups[j].Protocol
		}
		return view.MulticastGroups[i].Address < view.MulticastGroups[j].Address
	})

	for _, f := range a.flows {
		fv := FlowView{
			EndpointA:  f.EndpointA,
			EndpointB:  f.EndpointB,
			Transport:  f.Transport,
			Protocols:  sortedKeys(f.Protocols),
			L7Protocol: f.L7Protocol,
			AtoB:       f.AtoB,
			BtoA:       f.BtoA,
			FirstSeen:  f.FirstSeen,
			LastSeen:   f.LastSeen,
		}
		if fv.L7Protocol == "" {
			fv.L7Protocol = classify.ProtocolUnknown
		}
		if f.HasVLAN {
			fv.VLANID = f.VLANID
		}
		view.Flows = append(view.Flows, fv)
	}
	sort.Slice(view.Flows, func(i, j int) bool {
		if view.Flows[i].EndpointA != view.Flows[j].EndpointA {
			return view.Flows[i].EndpointA < view.Flows[j].EndpointA
		}
		return view.Flows[i].EndpointB < view.Flows[j].EndpointB
	})

	return view
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
