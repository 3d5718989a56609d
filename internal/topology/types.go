package topology

import (
	"net"
	"time"

	"github.com/aegis-sentinel/topowatch/internal/dissect"
	"github.com/aegis-sentinel/topowatch/internal/fingerprint"
)

// Role is the inferred function of an entity on the wire.
type Role string

const (
	RoleUnknown Role = "unknown"
	RoleHost    Role = "host"
	RoleBridge  Role = "bridge"
	RoleRouter  Role = "router"
	RoleWLANAP  Role = "wlan-ap"
	RolePhone   Role = "phone"
	RolePrinter Role = "printer"
)

// rolePrecedence orders roles so an upsert never downgrades a strong
// inference (bridge from a BPDU) to a weak one (host from ordinary traffic).
var rolePrecedence = map[Role]int{
	RoleUnknown: 0,
	RoleHost:    1,
	RolePrinter: 2,
	RolePhone:   2,
	RoleWLANAP:  3,
	RoleRouter:  4,
	RoleBridge:  4,
}

// L2Entity is a node observed on the wire, keyed by MAC.
type L2Entity struct {
	MAC          net.HardwareAddr
	IPs          []net.IP
	Vendor       string
	Role         Role
	FirstSeen    time.Time
	LastSeen     time.Time
	PacketCount  uint64
	Fingerprints []*fingerprint.Fingerprint

	fpSeen map[string]bool
}

// VlanMembership tracks which MACs have been seen tagged with a VLAN ID.
// Membership is additive: a MAC tagged on several VLANs belongs to all of
// them.
type VlanMembership struct {
	ID        uint16
	Members   map[string]bool
	FirstSeen time.Time
	LastSeen  time.Time
}

// StpBridge is a spanning-tree participant observed via its BPDUs. At most
// one bridge carries Root at any instant.
type StpBridge struct {
	MAC       net.HardwareAddr
	Priority  uint16
	Root      bool
	PortID    uint16
	FirstSeen time.Time
	LastSeen  time.Time
}

// Neighbor is an LLDP/CDP-announced adjacency, keyed by the observing local
// entity plus the announced chassis ID. It goes stale when announcements
// stop.
type Neighbor struct {
	LocalMAC          string
	RemoteChassisID   string
	SystemName        string
	SystemDescription string
	PortID            string
	PortDescription   string
	Capabilities      []string
	Protocol          dissect.DiscoveryKind
	FirstSeen         time.Time
	LastSeen          time.Time
}

// RingTopology is a REP or MRP ring; the protocol variant is fixed when the
// first control frame creates the ring.
type RingTopology struct {
	ID        string
	Protocol  dissect.DiscoveryKind
	Members   map[string]bool
	FirstSeen time.Time
	LastSeen  time.Time
}

// MulticastGroup tracks membership per governing protocol. IGMP members
// leave explicitly; mDNS and SSDP members are kept alive by repetition and
// expired by ExpireStale.
type MulticastGroup struct {
	Address   string
	Protocol  string
	Members   map[string]time.Time
	FirstSeen time.Time
}

// FlowCounters is one direction's byte and packet totals.
type FlowCounters struct {
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
}

// Flow is a direction-normalized bidirectional connection. EndpointA sorts
// before EndpointB, so A-to-B and B-to-A traffic lands in one record with
// separately tracked counters.
type Flow struct {
	Key        string
	EndpointA  string
	EndpointB  string
	Transport  string
	Protocols  map[string]bool
	L7Protocol string
	HasVLAN    bool
	VLANID     uint16
	AtoB       FlowCounters
	BtoA       FlowCounters
	FirstSeen  time.Time
	LastSeen   time.Time
}
