package dissect

import (
	"fmt"
	"net"
	"time"
)

// DiscoveryKind is the closed set of L2 control frame types the engine
// understands. The aggregator switches exhaustively over these.
type DiscoveryKind string

const (
	DiscoveryLLDP DiscoveryKind = "lldp"
	DiscoveryCDP  DiscoveryKind = "cdp"
	DiscoverySTP  DiscoveryKind = "stp"
	DiscoveryREP  DiscoveryKind = "rep"
	DiscoveryMRP  DiscoveryKind = "mrp"
)

type LLDPInfo struct {
	ChassisID         string   `json:"chassis_id"`
	PortID            string   `json:"port_id"`
	PortDescription   string   `json:"port_description,omitempty"`
	SystemName        string   `json:"system_name,omitempty"`
	SystemDescription string   `json:"system_description,omitempty"`
	Capabilities      []string `json:"capabilities,omitempty"`
	TTL               uint16   `json:"ttl"`
}

type CDPInfo struct {
	DeviceID     string   `json:"device_id"`
	PortID       string   `json:"port_id,omitempty"`
	Platform     string   `json:"platform,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Addresses    []net.IP `json:"addresses,omitempty"`
	TTL          uint8    `json:"ttl"`
}

type STPInfo struct {
	RootPriority   uint16           `json:"root_priority"`
	RootMAC        net.HardwareAddr `json:"root_mac"`
	RootPathCost   uint32           `json:"root_path_cost"`
	BridgePriority uint16           `json:"bridge_priority"`
	BridgeMAC      net.HardwareAddr `json:"bridge_mac"`
	PortID         uint16           `json:"port_id"`
	TopologyChange bool             `json:"topology_change"`
}

type RingInfo struct {
	RingID string `json:"ring_id"`
}

// DiscoveryFrame carries the decoded control frame. Exactly one of the
// payload pointers is non-nil, matching Kind.
type DiscoveryFrame struct {
	Kind DiscoveryKind `json:"kind"`
	LLDP *LLDPInfo     `json:"lldp,omitempty"`
	CDP  *CDPInfo      `json:"cdp,omitempty"`
	STP  *STPInfo      `json:"stp,omitempty"`
	Ring *RingInfo     `json:"ring,omitempty"`
}

type IGMPInfo struct {
	// "query", "report" or "leave"
	Kind         string `json:"kind"`
	GroupAddress net.IP `json:"group_address,omitempty"`
	LeaveGroups  []net.IP `json:"leave_groups,omitempty"`
	JoinGroups   []net.IP `json:"join_groups,omitempty"`
}

type DNSInfo struct {
	IsResponse bool     `json:"is_response"`
	QueryName  string   `json:"query_name,omitempty"`
	Answers    int      `json:"answers"`
	IsMDNS     bool     `json:"is_mdns"`
}

type DHCPInfo struct {
	MessageType  uint8  `json:"message_type"`
	Hostname     string `json:"hostname,omitempty"`
	VendorClass  string `json:"vendor_class,omitempty"`
	ClientMAC    net.HardwareAddr `json:"client_mac,omitempty"`
	// option codes in wire order, the fingerprint input
	OptionOrder  []uint8 `json:"option_order,omitempty"`
	ParamRequest []uint8 `json:"param_request,omitempty"`
}

type TCPFlags struct {
	SYN bool `json:"syn"`
	ACK bool `json:"ack"`
	FIN bool `json:"fin"`
	RST bool `json:"rst"`
	PSH bool `json:"psh"`
}

// DissectedPacket is the layered decode of one captured frame. Layers are
// filled strictly outward-in; a field's zero value means the layer (or the
// field) was absent or unparsable. Lower layers are always valid once set.
type DissectedPacket struct {
	Timestamp time.Time `json:"timestamp"`
	Length    int       `json:"length"`

	// L2
	SrcMAC    net.HardwareAddr `json:"src_mac,omitempty"`
	DstMAC    net.HardwareAddr `json:"dst_mac,omitempty"`
	EtherType uint16           `json:"ether_type"`
	HasVLAN   bool             `json:"has_vlan"`
	VLANID    uint16           `json:"vlan_id,omitempty"`
	Discovery *DiscoveryFrame  `json:"discovery,omitempty"`

	// L3
	L3Proto string `json:"l3_proto,omitempty"` // "ipv4", "ipv6", "arp"
	SrcIP   net.IP `json:"src_ip,omitempty"`
	DstIP   net.IP `json:"dst_ip,omitempty"`
	TTL     uint8  `json:"ttl,omitempty"`

	// L4
	Transport string    `json:"transport,omitempty"` // "tcp", "udp", "icmp", "igmp"
	SrcPort   uint16    `json:"src_port,omitempty"`
	DstPort   uint16    `json:"dst_port,omitempty"`
	TCP       *TCPFlags `json:"tcp,omitempty"`

	// L7 (best effort, may be empty)
	Payload []byte    `json:"-"`
	DNS     *DNSInfo  `json:"dns,omitempty"`
	DHCP    *DHCPInfo `json:"dhcp,omitempty"`
	IGMP    *IGMPInfo `json:"igmp,omitempty"`
}

// HasL3 reports whether a network layer was decoded.
func (p *DissectedPacket) HasL3() bool {
	return p.L3Proto != ""
}

// IsDiscovery reports whether the frame is an L2 control frame that bypasses
// the generic L3 path.
func (p *DissectedPacket) IsDiscovery() bool {
	return p.Discovery != nil
}

// DissectError marks the layer at which decoding stopped. The packet returned
// alongside it still holds everything decoded below that layer.
type DissectError struct {
	Layer string
	Err   error
}

func (e *DissectError) Error() string {
	return fmt.Sprintf("dissect %s: %v", e.Layer, e.Err)
}

func (e *DissectError) Unwrap() error {
	return e.Err
}
