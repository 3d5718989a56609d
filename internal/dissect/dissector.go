package dissect

import (
	"bytes"
	"errors"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	etherTypeMRP  = 0x88e3
	etherTypeLLDP = 0x88cc

	snapPIDREP = 0x0119
)

var ciscoOUI = []byte{0x00, 0x00, 0x0c}

// Dissector decodes raw link-layer frames into DissectedPackets. It is
// stateless and safe for concurrent use by multiple workers.
type Dissector struct{}

func NewDissector() *Dissector {
	return &Dissector{}
}

// Dissect parses a frame strictly outward-in. It always returns a packet
// holding everything decoded so far; a non-nil error marks the layer at
// which decoding stopped. Control frames (LLDP, CDP, STP, REP, MRP) are
// reported via the Discovery field and skip the generic L3 path.
func (d *Dissector) Dissect(data []byte, ts time.Time) (*DissectedPacket, error) {
	pkt := &DissectedPacket{
		Timestamp: ts,
		Length:    len(data),
	}

	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)

	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return pkt, &DissectError{Layer: "l2", Err: errors.New("not an ethernet frame")}
	}
	eth := ethLayer.(*layers.Ethernet)
	pkt.SrcMAC = eth.SrcMAC
	pkt.DstMAC = eth.DstMAC
	pkt.EtherType = uint16(eth.EthernetType)

	innerPayload := eth.Payload
	if qLayer := packet.Layer(layers.LayerTypeDot1Q); qLayer != nil {
		q := qLayer.(*layers.Dot1Q)
		pkt.HasVLAN = true
		pkt.VLANID = q.VLANIdentifier & 0x0fff
		pkt.EtherType = uint16(q.Type)
		innerPayload = q.Payload
	}

	if done, err := d.decodeDiscovery(packet, pkt, innerPayload); done || err != nil {
		return pkt, err
	}

	if err := d.decodeNetwork(packet, pkt); err != nil {
		return pkt, err
	}
	if !pkt.HasL3() || pkt.L3Proto == "arp" {
		return pkt, nil
	}

	if err := d.decodeTransport(packet, pkt); err != nil {
		return pkt, err
	}

	d.decodeApplication(packet, pkt)
	return pkt, nil
}

// decodeDiscovery checks for L2 control frames. It returns done=true when the
// frame was a control frame and the generic path should be skipped.
func (d *Dissector) decodeDiscovery(packet gopacket.Packet, pkt *DissectedPacket, payload []byte) (bool, error) {
	if lldpLayer := packet.Layer(layers.LayerTypeLinkLayerDiscovery); lldpLayer != nil {
		pkt.Discovery = &DiscoveryFrame{
			Kind: DiscoveryLLDP,
			LLDP: d.decodeLLDP(packet, lldpLayer.(*layers.LinkLayerDiscovery)),
		}
		return true, nil
	}

	if cdpLayer := packet.Layer(layers.LayerTypeCiscoDiscovery); cdpLayer != nil {
		pkt.Discovery = &DiscoveryFrame{
			Kind: DiscoveryCDP,
			CDP:  d.decodeCDP(packet, cdpLayer.(*layers.CiscoDiscovery)),
		}
		return true, nil
	}

	if pkt.EtherType == etherTypeMRP {
		pkt.Discovery = &DiscoveryFrame{
			Kind: DiscoveryMRP,
			Ring: &RingInfo{RingID: parseMRPDomain(payload)},
		}
		return true, nil
	}

	if snapLayer := packet.Layer(layers.LayerTypeSNAP); snapLayer != nil {
		snap := snapLayer.(*layers.SNAP)
		if bytes.Equal(snap.OrganizationalCode, ciscoOUI) && uint16(snap.Type) == snapPIDREP {
			pkt.Discovery = &DiscoveryFrame{
				Kind: DiscoveryREP,
				Ring: &RingInfo{RingID: parseREPSegment(snap.Payload)},
			}
			return true, nil
		}
	}

	if llcLayer := packet.Layer(layers.LayerTypeLLC); llcLayer != nil {
		llc := llcLayer.(*layers.LLC)
		if llc.DSAP == 0x42 && llc.SSAP == 0x42 {
			info, err := parseBPDU(llc.Payload)
			if err != nil {
				return false, &DissectError{Layer: "stp", Err: err}
			}
			pkt.Discovery = &DiscoveryFrame{Kind: DiscoverySTP, STP: info}
			return true, nil
		}
	}

	return false, nil
}

func (d *Dissector) decodeNetwork(packet gopacket.Packet, pkt *DissectedPacket) error {
	if arpLayer := packet.Layer(layers.LayerTypeARP); arpLayer != nil {
		arp := arpLayer.(*layers.ARP)
		pkt.L3Proto = "arp"
		pkt.SrcIP = net.IP(arp.SourceProtAddress)
		pkt.DstIP = net.IP(arp.DstProtAddress)
		return nil
	}

	if ip4Layer := packet.Layer(layers.LayerTypeIPv4); ip4Layer != nil {
		ip4 := ip4Layer.(*layers.IPv4)
		pkt.L3Proto = "ipv4"
		pkt.SrcIP = ip4.SrcIP
		pkt.DstIP = ip4.DstIP
		pkt.TTL = ip4.TTL
		return nil
	}

	if ip6Layer := packet.Layer(layers.LayerTypeIPv6); ip6Layer != nil {
		ip6 := ip6Layer.(*layers.IPv6)
		pkt.L3Proto = "ipv6"
		pkt.SrcIP = ip6.SrcIP
		pkt.DstIP = ip6.DstIP
		pkt.TTL = ip6.HopLimit
		return nil
	}

	switch pkt.EtherType {
	case uint16(layers.EthernetTypeIPv4), uint16(layers.EthernetTypeIPv6), uint16(layers.EthernetTypeARP):
		return &DissectError{Layer: "l3", Err: errors.New("truncated network header")}
	}
	return nil
}

func (d *Dissector) decodeTransport(packet gopacket.Packet, pkt *DissectedPacket) error {
	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		pkt.Transport = "tcp"
		pkt.SrcPort = uint16(tcp.SrcPort)
		pkt.DstPort = uint16(tcp.DstPort)
		pkt.TCP = &TCPFlags{SYN: tcp.SYN, ACK: tcp.ACK, FIN: tcp.FIN, RST: tcp.RST, PSH: tcp.PSH}
		pkt.Payload = tcp.Payload
		return nil
	}

	if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		pkt.Transport = "udp"
		pkt.SrcPort = uint16(udp.SrcPort)
		pkt.DstPort = uint16(udp.DstPort)
		pkt.Payload = udp.Payload
		return nil
	}

	if packet.Layer(layers.LayerTypeICMPv4) != nil || packet.Layer(layers.LayerTypeICMPv6) != nil {
		pkt.Transport = "icmp"
		return nil
	}

	if igmpLayer := packet.Layer(layers.LayerTypeIGMP); igmpLayer != nil {
		pkt.Transport = "igmp"
		pkt.IGMP = decodeIGMP(igmpLayer)
		return nil
	}

	if wantsTransport(packet) {
		return &DissectError{Layer: "l4", Err: errors.New("truncated transport header")}
	}
	return nil
}

// wantsTransport reports whether the IP header announced a transport protocol
// the dissector understands but gopacket could not decode it.
func wantsTransport(packet gopacket.Packet) bool {
	var proto layers.IPProtocol
	if ip4Layer := packet.Layer(layers.LayerTypeIPv4); ip4Layer != nil {
		proto = ip4Layer.(*layers.IPv4).Protocol
	} else if ip6Layer := packet.Layer(layers.LayerTypeIPv6); ip6Layer != nil {
		proto = ip6Layer.(*layers.IPv6).NextHeader
	} else {
		return false
	}

	switch proto {
	case layers.IPProtocolTCP, layers.IPProtocolUDP, layers.IPProtocolICMPv4,
		layers.IPProtocolICMPv6, layers.IPProtocolIGMP:
		return true
	}
	return false
}

// decodeApplication fills best-effort L7 hints. A malformed application layer
// never fails the packet; the fields simply stay nil.
func (d *Dissector) decodeApplication(packet gopacket.Packet, pkt *DissectedPacket) {
	if dnsLayer := packet.Layer(layers.LayerTypeDNS); dnsLayer != nil {
		dns := dnsLayer.(*layers.DNS)
		info := &DNSInfo{
			IsResponse: dns.QR,
			Answers:    len(dns.Answers),
			IsMDNS:     pkt.SrcPort == 5353 || pkt.DstPort == 5353,
		}
		if len(dns.Questions) > 0 {
			info.QueryName = string(dns.Questions[0].Name)
		}
		pkt.DNS = info
	}

	if dhcpLayer := packet.Layer(layers.LayerTypeDHCPv4); dhcpLayer != nil {
		pkt.DHCP = decodeDHCP(dhcpLayer.(*layers.DHCPv4))
	}
}

func decodeDHCP(dhcp *layers.DHCPv4) *DHCPInfo {
	info := &DHCPInfo{
		ClientMAC: dhcp.ClientHWAddr,
	}
	for _, opt := range dhcp.Options {
		info.OptionOrder = append(info.OptionOrder, uint8(opt.Type))
		switch opt.Type {
		case layers.DHCPOptHostname:
			info.Hostname = string(opt.Data)
		case layers.DHCPOptClassID:
			info.VendorClass = string(opt.Data)
		case layers.DHCPOptParamsRequest:
			info.ParamRequest = append([]uint8(nil), opt.Data...)
		case layers.DHCPOptMessageType:
			if len(opt.Data) > 0 {
				info.MessageType = opt.Data[0]
			}
		}
	}
	return info
}

func decodeIGMP(layer gopacket.Layer) *IGMPInfo {
	switch igmp := layer.(type) {
	case *layers.IGMPv1or2:
		info := &IGMPInfo{GroupAddress: igmp.GroupAddress}
		switch igmp.Type {
		case layers.IGMPMembershipQuery:
			info.Kind = "query"
		case layers.IGMPLeaveGroup:
			info.Kind = "leave"
			info.LeaveGroups = []net.IP{igmp.GroupAddress}
		default:
			info.Kind = "report"
			info.JoinGroups = []net.IP{igmp.GroupAddress}
		}
		return info
	case *layers.IGMP:
		info := &IGMPInfo{}
		switch igmp.Type {
		case layers.IGMPMembershipQuery:
			info.Kind = "query"
		case layers.IGMPMembershipReportV3:
			info.Kind = "report"
			for _, rec := range igmp.GroupRecords {
				// TO_IN with no sources is the v3 way of leaving a group
				if rec.Type == layers.IGMPToIn && rec.NumberOfSources == 0 {
					info.LeaveGroups = append(info.LeaveGroups, rec.MulticastAddress)
				} else {
					info.JoinGroups = append(info.JoinGroups, rec.MulticastAddress)
				}
			}
		default:
			info.Kind = "report"
		}
		return info
	}
	return nil
}
