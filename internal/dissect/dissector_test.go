package dissect

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	testSrcMAC = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0x00, 0x00, 0x01}
	testDstMAC = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0x00, 0x00, 0x02}
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func TestDissectTCP(t *testing.T) {
	eth := &layers.Ethernet{SrcMAC: testSrcMAC, DstMAC: testDstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IPv4(10, 0, 0, 1), DstIP: net.IPv4(10, 0, 0, 2)}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 8443, SYN: true, ACK: true}
	payload := gopacket.Payload([]byte("SSH-2.0-test"))

	pkt, err := NewDissector().Dissect(serialize(t, eth, ip, tcp, payload), time.Now())
	if err != nil {
		t.Fatalf("dissect: %v", err)
	}

	if pkt.SrcMAC.String() != testSrcMAC.String() || pkt.DstMAC.String() != testDstMAC.String() {
		t.Errorf("L2 addresses wrong: %s -> %s", pkt.SrcMAC, pkt.DstMAC)
	}
	if pkt.L3Proto != "ipv4" || !pkt.SrcIP.Equal(net.IPv4(10, 0, 0, 1)) || pkt.TTL != 64 {
		t.Errorf("L3 wrong: %+v", pkt)
	}
	if pkt.Transport != "tcp" || pkt.SrcPort != 40000 || pkt.DstPort != 8443 {
		t.Errorf("L4 wrong: %s %d -> %d", pkt.Transport, pkt.SrcPort, pkt.DstPort)
	}
	if pkt.TCP == nil || !pkt.TCP.SYN || !pkt.TCP.ACK || pkt.TCP.FIN {
		t.Errorf("TCP flags wrong: %+v", pkt.TCP)
	}
	if string(pkt.Payload) != "SSH-2.0-test" {
		t.Errorf("payload wrong: %q", pkt.Payload)
	}
}

func TestDissectVLAN(t *testing.T) {
	eth := &layers.Ethernet{SrcMAC: testSrcMAC, DstMAC: testDstMAC, EthernetType: layers.EthernetTypeDot1Q}
	dot1q := &layers.Dot1Q{VLANIdentifier: 42, Type: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IPv4(10, 0, 42, 1), DstIP: net.IPv4(10, 0, 42, 2)}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 514}

	pkt, err := NewDissector().Dissect(serialize(t, eth, dot1q, ip, udp), time.Now())
	if err != nil {
		t.Fatalf("dissect: %v", err)
	}

	if !pkt.HasVLAN || pkt.VLANID != 42 {
		t.Errorf("vlan tag not decoded: HasVLAN=%v id=%d", pkt.HasVLAN, pkt.VLANID)
	}
	if pkt.EtherType != uint16(layers.EthernetTypeIPv4) {
		t.Errorf("ethertype should be the inner type, got %#x", pkt.EtherType)
	}
	if pkt.Transport != "udp" || pkt.DstPort != 514 {
		t.Errorf("inner transport wrong: %s %d", pkt.Transport, pkt.DstPort)
	}
}

func TestDissectARP(t *testing.T) {
	eth := &layers.Ethernet{SrcMAC: testSrcMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress: testSrcMAC, SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress: make([]byte, 6), DstProtAddress: []byte{10, 0, 0, 2},
	}

	pkt, err := NewDissector().Dissect(serialize(t, eth, arp), time.Now())
	if err != nil {
		t.Fatalf("dissect: %v", err)
	}
	if pkt.L3Proto != "arp" {
		t.Fatalf("expected arp, got %q", pkt.L3Proto)
	}
	if !pkt.SrcIP.Equal(net.IPv4(10, 0, 0, 1)) || !pkt.DstIP.Equal(net.IPv4(10, 0, 0, 2)) {
		t.Errorf("arp addresses wrong: %s -> %s", pkt.SrcIP, pkt.DstIP)
	}
	if pkt.Transport != "" {
		t.Errorf("arp must not reach the transport layer, got %q", pkt.Transport)
	}
}

// bpduFrame builds an 802.1D frame by hand: length-style ethernet header,
// LLC with DSAP/SSAP 0x42, then the BPDU body.
func bpduFrame(bpdu []byte) []byte {
	frame := make([]byte, 0, 14+3+len(bpdu))
	frame = append(frame, 0x01, 0x80, 0xc2, 0x00, 0x00, 0x00) // STP multicast
	frame = append(frame, testSrcMAC...)
	llcLen := 3 + len(bpdu)
	frame = append(frame, byte(llcLen>>8), byte(llcLen))
	frame = append(frame, 0x42, 0x42, 0x03)
	return append(frame, bpdu...)
}

func configBPDU(rootPrio uint16, rootMAC net.HardwareAddr, cost uint32, bridgePrio uint16, bridgeMAC net.HardwareAddr, portID uint16, tc bool) []byte {
	b := make([]byte, 35)
	// b[0:4]: protocol id, version, bpdu type all zero (config)
	if tc {
		b[4] = 0x01
	}
	b[5] = byte(rootPrio >> 8)
	b[6] = byte(rootPrio)
	copy(b[7:13], rootMAC)
	b[13] = byte(cost >> 24)
	b[14] = byte(cost >> 16)
	b[15] = byte(cost >> 8)
	b[16] = byte(cost)
	b[17] = byte(bridgePrio >> 8)
	b[18] = byte(bridgePrio)
	copy(b[19:25], bridgeMAC)
	b[25] = byte(portID >> 8)
	b[26] = byte(portID)
	return b
}

func TestDissectSTP(t *testing.T) {
	rootMAC := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	bridgeMAC := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x66}

	t.Run("configuration bpdu", func(t *testing.T) {
		frame := bpduFrame(configBPDU(0x1000, rootMAC, 19, 0x8000, bridgeMAC, 0x8001, false))
		pkt, err := NewDissector().Dissect(frame, time.Now())
		if err != nil {
			t.Fatalf("dissect: %v", err)
		}
		if !pkt.IsDiscovery() || pkt.Discovery.Kind != DiscoverySTP {
			t.Fatalf("expected stp discovery, got %+v", pkt.Discovery)
		}
		info := pkt.Discovery.STP
		if info.RootPriority != 0x1000 || info.RootMAC.String() != rootMAC.String() {
			t.Errorf("root id wrong: %+v", info)
		}
		if info.BridgePriority != 0x8000 || info.BridgeMAC.String() != bridgeMAC.String() {
			t.Errorf("bridge id wrong: %+v", info)
		}
		if info.RootPathCost != 19 || info.PortID != 0x8001 || info.TopologyChange {
			t.Errorf("bpdu fields wrong: %+v", info)
		}
	})

	t.Run("topology change notification", func(t *testing.T) {
		frame := bpduFrame([]byte{0x00, 0x00, 0x00, 0x80})
		pkt, err := NewDissector().Dissect(frame, time.Now())
		if err != nil {
			t.Fatalf("dissect: %v", err)
		}
		if pkt.Discovery == nil || pkt.Discovery.STP == nil || !pkt.Discovery.STP.TopologyChange {
			t.Errorf("tcn not flagged: %+v", pkt.Discovery)
		}
	})

	t.Run("truncated bpdu is a dissect error", func(t *testing.T) {
		frame := bpduFrame([]byte{0x00, 0x00})
		pkt, err := NewDissector().Dissect(frame, time.Now())
		var de *DissectError
		if !errors.As(err, &de) || de.Layer != "stp" {
			t.Fatalf("expected stp dissect error, got %v", err)
		}
		// L2 fields survive the failure
		if pkt.SrcMAC.String() != testSrcMAC.String() {
			t.Errorf("partial decode lost L2: %+v", pkt)
		}
	})
}

// lldpTLV packs one TLV: 7-bit type, 9-bit length.
func lldpTLV(tlvType byte, value []byte) []byte {
	header := uint16(tlvType)<<9 | uint16(len(value))
	out := []byte{byte(header >> 8), byte(header)}
	return append(out, value...)
}

func TestDissectLLDP(t *testing.T) {
	chassisMAC := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

	var lldp []byte
	lldp = append(lldp, lldpTLV(1, append([]byte{0x04}, chassisMAC...))...) // chassis, MAC subtype
	lldp = append(lldp, lldpTLV(2, append([]byte{0x05}, []byte("eth0")...))...) // port, ifname subtype
	lldp = append(lldp, lldpTLV(3, []byte{0x00, 0x78})...)                  // ttl 120
	lldp = append(lldp, lldpTLV(5, []byte("sw1"))...)                       // system name
	lldp = append(lldp, lldpTLV(7, []byte{0x00, 0x14, 0x00, 0x14})...)      // caps: bridge+router
	lldp = append(lldp, 0x00, 0x00)                                         // end

	frame := make([]byte, 0, 14+len(lldp))
	frame = append(frame, 0x01, 0x80, 0xc2, 0x00, 0x00, 0x0e)
	frame = append(frame, testSrcMAC...)
	frame = append(frame, 0x88, 0xcc)
	frame = append(frame, lldp...)

	pkt, err := NewDissector().Dissect(frame, time.Now())
	if err != nil {
		t.Fatalf("dissect: %v", err)
	}
	if !pkt.IsDiscovery() || pkt.Discovery.Kind != DiscoveryLLDP {
		t.Fatalf("expected lldp discovery, got %+v", pkt.Discovery)
	}

	info := pkt.Discovery.LLDP
	if info.ChassisID != chassisMAC.String() {
		t.Errorf("chassis id wrong: %q", info.ChassisID)
	}
	if info.PortID != "eth0" || info.SystemName != "sw1" || info.TTL != 120 {
		t.Errorf("lldp fields wrong: %+v", info)
	}

	caps := map[string]bool{}
	for _, c := range info.Capabilities {
		caps[c] = true
	}
	if !caps["bridge"] || !caps["router"] {
		t.Errorf("capabilities wrong: %v", info.Capabilities)
	}
}

func snapFrame(pid uint16, payload []byte) []byte {
	frame := make([]byte, 0, 14+8+len(payload))
	frame = append(frame, 0x01, 0x00, 0x0c, 0xcc, 0xcc, 0xcc)
	frame = append(frame, testSrcMAC...)
	llcLen := 8 + len(payload)
	frame = append(frame, byte(llcLen>>8), byte(llcLen))
	frame = append(frame, 0xaa, 0xaa, 0x03)             // LLC SNAP
	frame = append(frame, 0x00, 0x00, 0x0c)             // Cisco OUI
	frame = append(frame, byte(pid>>8), byte(pid))
	return append(frame, payload...)
}

func TestDissectREP(t *testing.T) {
	// version byte then 16-bit segment id
	frame := snapFrame(0x0119, []byte{0x01, 0x00, 0x07, 0xff, 0xff})
	pkt, err := NewDissector().Dissect(frame, time.Now())
	if err != nil {
		t.Fatalf("dissect: %v", err)
	}
	if !pkt.IsDiscovery() || pkt.Discovery.Kind != DiscoveryREP {
		t.Fatalf("expected rep discovery, got %+v", pkt.Discovery)
	}
	if pkt.Discovery.Ring.RingID != "rep-segment-7" {
		t.Errorf("segment id wrong: %q", pkt.Discovery.Ring.RingID)
	}
}

func TestDissectMRP(t *testing.T) {
	domain := []byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
	}

	var mrp []byte
	mrp = append(mrp, 0x00, 0x01)       // MRP_Version
	mrp = append(mrp, 0x01, 0x12)       // MRP_Common, 18 bytes
	mrp = append(mrp, 0x00, 0x2a)       // sequence id
	mrp = append(mrp, domain...)
	mrp = append(mrp, 0x00, 0x00) // MRP_End

	frame := make([]byte, 0, 14+len(mrp))
	frame = append(frame, 0x01, 0x15, 0x4e, 0x00, 0x00, 0x01)
	frame = append(frame, testSrcMAC...)
	frame = append(frame, 0x88, 0xe3)
	frame = append(frame, mrp...)

	pkt, err := NewDissector().Dissect(frame, time.Now())
	if err != nil {
		t.Fatalf("dissect: %v", err)
	}
	if !pkt.IsDiscovery() || pkt.Discovery.Kind != DiscoveryMRP {
		t.Fatalf("expected mrp discovery, got %+v", pkt.Discovery)
	}
	if pkt.Discovery.Ring.RingID != "0102030405060708090a0b0c0d0e0f10" {
		t.Errorf("domain uuid wrong: %q", pkt.Discovery.Ring.RingID)
	}
}

func TestDissectIGMP(t *testing.T) {
	igmpFrame := func(igmpType byte, group net.IP) []byte {
		eth := &layers.Ethernet{SrcMAC: testSrcMAC, DstMAC: net.HardwareAddr{0x01, 0x00, 0x5e, 0x01, 0x01, 0x01}, EthernetType: layers.EthernetTypeIPv4}
		ip := &layers.IPv4{Version: 4, TTL: 1, Protocol: layers.IPProtocolIGMP,
			SrcIP: net.IPv4(10, 0, 0, 1), DstIP: group}
		g := group.To4()
		body := gopacket.Payload([]byte{igmpType, 0x00, 0x00, 0x00, g[0], g[1], g[2], g[3]})
		return serialize(t, eth, ip, body)
	}

	t.Run("v2 membership report", func(t *testing.T) {
		pkt, err := NewDissector().Dissect(igmpFrame(0x16, net.IPv4(239, 1, 1, 1)), time.Now())
		if err != nil {
			t.Fatalf("dissect: %v", err)
		}
		if pkt.Transport != "igmp" || pkt.IGMP == nil {
			t.Fatalf("igmp not decoded: %+v", pkt)
		}
		if pkt.IGMP.Kind != "report" || len(pkt.IGMP.JoinGroups) != 1 || !pkt.IGMP.JoinGroups[0].Equal(net.IPv4(239, 1, 1, 1)) {
			t.Errorf("unexpected igmp info %+v", pkt.IGMP)
		}
	})

	t.Run("v2 leave", func(t *testing.T) {
		pkt, err := NewDissector().Dissect(igmpFrame(0x17, net.IPv4(239, 1, 1, 1)), time.Now())
		if err != nil {
			t.Fatalf("dissect: %v", err)
		}
		if pkt.IGMP == nil || pkt.IGMP.Kind != "leave" || len(pkt.IGMP.LeaveGroups) != 1 {
			t.Errorf("unexpected igmp info %+v", pkt.IGMP)
		}
	})
}

func TestDissectDNS(t *testing.T) {
	eth := &layers.Ethernet{SrcMAC: testSrcMAC, DstMAC: testDstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IPv4(10, 0, 0, 1), DstIP: net.IPv4(10, 0, 0, 53)}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 53}
	dns := &layers.DNS{
		Questions: []layers.DNSQuestion{{Name: []byte("example.com"), Type: layers.DNSTypeA, Class: layers.DNSClassIN}},
	}

	pkt, err := NewDissector().Dissect(serialize(t, eth, ip, udp, dns), time.Now())
	if err != nil {
		t.Fatalf("dissect: %v", err)
	}
	if pkt.DNS == nil {
		t.Fatal("dns layer not decoded")
	}
	if pkt.DNS.QueryName != "example.com" || pkt.DNS.IsResponse || pkt.DNS.IsMDNS {
		t.Errorf("unexpected dns info %+v", pkt.DNS)
	}
}

func TestDissectDHCP(t *testing.T) {
	clientMAC := net.HardwareAddr{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}

	eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IPv4(0, 0, 0, 0), DstIP: net.IPv4(255, 255, 255, 255)}
	udp := &layers.UDP{SrcPort: 68, DstPort: 67}
	dhcp := &layers.DHCPv4{
		Operation:    layers.DHCPOpRequest,
		HardwareType: layers.LinkTypeEthernet,
		HardwareLen:  6,
		Xid:          0x12345678,
		ClientHWAddr: clientMAC,
		Options: []layers.DHCPOption{
			layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(layers.DHCPMsgTypeDiscover)}),
			layers.NewDHCPOption(layers.DHCPOptHostname, []byte("printer-3f")),
			layers.NewDHCPOption(layers.DHCPOptParamsRequest, []byte{1, 3, 6, 15}),
		},
	}

	pkt, err := NewDissector().Dissect(serialize(t, eth, ip, udp, dhcp), time.Now())
	if err != nil {
		t.Fatalf("dissect: %v", err)
	}
	if pkt.DHCP == nil {
		t.Fatal("dhcp layer not decoded")
	}
	if pkt.DHCP.MessageType != uint8(layers.DHCPMsgTypeDiscover) {
		t.Errorf("message type wrong: %d", pkt.DHCP.MessageType)
	}
	if pkt.DHCP.Hostname != "printer-3f" {
		t.Errorf("hostname wrong: %q", pkt.DHCP.Hostname)
	}
	if pkt.DHCP.ClientMAC.String() != clientMAC.String() {
		t.Errorf("client mac wrong: %s", pkt.DHCP.ClientMAC)
	}
	if len(pkt.DHCP.OptionOrder) < 3 ||
		pkt.DHCP.OptionOrder[0] != uint8(layers.DHCPOptMessageType) ||
		pkt.DHCP.OptionOrder[1] != uint8(layers.DHCPOptHostname) ||
		pkt.DHCP.OptionOrder[2] != uint8(layers.DHCPOptParamsRequest) {
		t.Errorf("option order wrong: %v", pkt.DHCP.OptionOrder)
	}
	if len(pkt.DHCP.ParamRequest) != 4 || pkt.DHCP.ParamRequest[0] != 1 {
		t.Errorf("param request wrong: %v", pkt.DHCP.ParamRequest)
	}
}

func TestGracefulDegradation(t *testing.T) {
	t.Run("truncated network header", func(t *testing.T) {
		frame := make([]byte, 0, 18)
		frame = append(frame, testDstMAC...)
		frame = append(frame, testSrcMAC...)
		frame = append(frame, 0x08, 0x00)             // says IPv4
		frame = append(frame, 0x45, 0x00, 0x00, 0x14) // but only 4 bytes follow

		pkt, err := NewDissector().Dissect(frame, time.Now())
		var de *DissectError
		if !errors.As(err, &de) || de.Layer != "l3" {
			t.Fatalf("expected l3 dissect error, got %v", err)
		}
		if pkt.SrcMAC.String() != testSrcMAC.String() || pkt.EtherType != 0x0800 {
			t.Errorf("L2 fields lost on truncation: %+v", pkt)
		}
		if pkt.HasL3() {
			t.Error("no network layer should be reported")
		}
	})

	t.Run("unknown application payload is not an error", func(t *testing.T) {
		eth := &layers.Ethernet{SrcMAC: testSrcMAC, DstMAC: testDstMAC, EthernetType: layers.EthernetTypeIPv4}
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
			SrcIP: net.IPv4(10, 0, 0, 1), DstIP: net.IPv4(10, 0, 0, 2)}
		tcp := &layers.TCP{SrcPort: 40000, DstPort: 41000}
		garbage := gopacket.Payload([]byte{0xff, 0xfe, 0xfd})

		pkt, err := NewDissector().Dissect(serialize(t, eth, ip, tcp, garbage), time.Now())
		if err != nil {
			t.Fatalf("malformed L7 must not fail the packet: %v", err)
		}
		if pkt.Transport != "tcp" || pkt.DNS != nil || pkt.DHCP != nil {
			t.Errorf("unexpected decode %+v", pkt)
		}
	})

	t.Run("non-ip ethertype passes through", func(t *testing.T) {
		frame := make([]byte, 0, 20)
		frame = append(frame, testDstMAC...)
		frame = append(frame, testSrcMAC...)
		frame = append(frame, 0x88, 0xb5) // local experimental ethertype
		frame = append(frame, 0x01, 0x02, 0x03, 0x04)

		pkt, err := NewDissector().Dissect(frame, time.Now())
		if err != nil {
			t.Fatalf("unknown ethertype must not fail: %v", err)
		}
		if pkt.HasL3() || pkt.IsDiscovery() {
			t.Errorf("unexpected layers on opaque frame: %+v", pkt)
		}
	})
}
