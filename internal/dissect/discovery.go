package dissect

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func (d *Dissector) decodeLLDP(packet gopacket.Packet, lldp *layers.LinkLayerDiscovery) *LLDPInfo {
	info := &LLDPInfo{
		ChassisID: formatChassisID(lldp.ChassisID),
		PortID:    formatPortID(lldp.PortID),
		TTL:       lldp.TTL,
	}

	if infoLayer := packet.Layer(layers.LayerTypeLinkLayerDiscoveryInfo); infoLayer != nil {
		li := infoLayer.(*layers.LinkLayerDiscoveryInfo)
		info.PortDescription = li.PortDescription
		info.SystemName = li.SysName
		info.SystemDescription = li.SysDescription
		info.Capabilities = lldpCapabilities(li.SysCapabilities.EnabledCap)
	}

	return info
}

func lldpCapabilities(caps layers.LLDPCapabilities) []string {
	var out []string
	if caps.Bridge {
		out = append(out, "bridge")
	}
	if caps.Router {
		out = append(out, "router")
	}
	if caps.WLANAP {
		out = append(out, "wlan-ap")
	}
	if caps.Phone {
		out = append(out, "phone")
	}
	if caps.Repeater {
		out = append(out, "repeater")
	}
	if caps.DocSis {
		out = append(out, "docsis")
	}
	if caps.StationOnly {
		out = append(out, "station")
	}
	if caps.Other {
		out = append(out, "other")
	}
	return out
}

func formatChassisID(id layers.LLDPChassisID) string {
	if id.Subtype == layers.LLDPChassisIDSubTypeMACAddr && len(id.ID) == 6 {
		return net.HardwareAddr(id.ID).String()
	}
	if isPrintable(id.ID) {
		return string(id.ID)
	}
	return hex.EncodeToString(id.ID)
}

func formatPortID(id layers.LLDPPortID) string {
	if id.Subtype == layers.LLDPPortIDSubtypeMACAddr && len(id.ID) == 6 {
		return net.HardwareAddr(id.ID).String()
	}
	if isPrintable(id.ID) {
		return string(id.ID)
	}
	return hex.EncodeToString(id.ID)
}

func isPrintable(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

func (d *Dissector) decodeCDP(packet gopacket.Packet, cdp *layers.CiscoDiscovery) *CDPInfo {
	info := &CDPInfo{TTL: cdp.TTL}

	if infoLayer := packet.Layer(layers.LayerTypeCiscoDiscoveryInfo); infoLayer != nil {
		ci := infoLayer.(*layers.CiscoDiscoveryInfo)
		info.DeviceID = ci.DeviceID
		info.PortID = ci.PortID
		info.Platform = ci.Platform
		info.Addresses = ci.Addresses
		info.Capabilities = cdpCapabilities(ci.Capabilities)
	}

	return info
}

func cdpCapabilities(caps layers.CDPCapabilities) []string {
	var out []string
	if caps.L3Router {
		out = append(out, "router")
	}
	if caps.TBBridge || caps.SPBridge || caps.L2Switch {
		out = append(out, "bridge")
	}
	if caps.IsHost {
		out = append(out, "host")
	}
	if caps.IsPhone {
		out = append(out, "phone")
	}
	if caps.L1Repeater {
		out = append(out, "repeater")
	}
	return out
}

// parseBPDU decodes an 802.1D configuration BPDU carried after the LLC
// header. Topology change notifications carry no bridge IDs and produce an
// STPInfo with only the flag set.
func parseBPDU(b []byte) (*STPInfo, error) {
	if len(b) < 4 {
		return nil, errors.New("bpdu too short")
	}

	bpduType := b[3]
	if bpduType == 0x80 {
		return &STPInfo{TopologyChange: true}, nil
	}

	// configuration (0x00) and rapid (0x02) BPDUs share the field layout
	if len(b) < 35 {
		return nil, errors.New("truncated configuration bpdu")
	}

	info := &STPInfo{
		RootPriority:   binary.BigEndian.Uint16(b[5:7]),
		RootMAC:        net.HardwareAddr(append([]byte(nil), b[7:13]...)),
		RootPathCost:   binary.BigEndian.Uint32(b[13:17]),
		BridgePriority: binary.BigEndian.Uint16(b[17:19]),
		BridgeMAC:      net.HardwareAddr(append([]byte(nil), b[19:25]...)),
		PortID:         binary.BigEndian.Uint16(b[25:27]),
		TopologyChange: b[4]&0x01 != 0,
	}
	return info, nil
}

// parseREPSegment extracts the segment identifier from a Cisco REP control
// frame. Short payloads degrade to "unknown".
func parseREPSegment(b []byte) string {
	if len(b) < 3 {
		return "unknown"
	}
	return fmt.Sprintf("rep-segment-%d", binary.BigEndian.Uint16(b[1:3]))
}

// parseMRPDomain walks the MRP TLV chain looking for MRP_Common, which
// carries the 16-byte ring domain UUID. Anything malformed degrades to
// "unknown" rather than failing the frame.
func parseMRPDomain(b []byte) string {
	if len(b) < 2 {
		return "unknown"
	}

	offset := 2 // MRP_Version
	for offset+2 <= len(b) {
		tlvType := b[offset]
		tlvLen := int(b[offset+1])
		offset += 2

		if tlvType == 0x00 { // MRP_End
			break
		}
		if offset+tlvLen > len(b) {
			break
		}

		// MRP_Common: sequence ID (2) + domain UUID (16)
		if tlvType == 0x01 && tlvLen >= 18 {
			return hex.EncodeToString(b[offset+2 : offset+18])
		}

		offset += tlvLen
	}

	return "unknown"
}
