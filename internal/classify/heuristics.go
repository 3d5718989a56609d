package classify

import (
	"bytes"

	"github.com/aegis-sentinel/topowatch/internal/dissect"
)

// heuristic inspects a packet and returns a protocol name, or "" when it has
// no opinion. Heuristics run in fixed order after signature rules; the first
// positive wins.
type heuristic struct {
	name  string
	match func(pkt *dissect.DissectedPacket) string
}

var httpMethods = [][]byte{
	[]byte("GET "),
	[]byte("POST "),
	[]byte("PUT "),
	[]byte("HEAD "),
	[]byte("DELETE "),
	[]byte("OPTIONS "),
	[]byte("HTTP/"),
}

func defaultHeuristics() []heuristic {
	return []heuristic{
		{name: "control-transport", match: matchControlTransport},
		{name: "dns-shape", match: matchDNS},
		{name: "tls-record", match: matchTLS},
		{name: "http-method", match: matchHTTP},
		{name: "ssh-banner", match: matchSSH},
		{name: "ssdp-method", match: matchSSDP},
		{name: "ntp-shape", match: matchNTP},
	}
}

// matchControlTransport labels packets whose transport is itself the
// protocol of interest.
func matchControlTransport(pkt *dissect.DissectedPacket) string {
	switch pkt.Transport {
	case "icmp", "igmp":
		return pkt.Transport
	}
	if pkt.L3Proto == "arp" {
		return "arp"
	}
	return ""
}

func matchDNS(pkt *dissect.DissectedPacket) string {
	if pkt.DNS == nil {
		return ""
	}
	if pkt.DNS.IsMDNS {
		return "mdns"
	}
	return "dns"
}

// matchTLS recognizes a TLS record header: content type 0x14-0x17 followed by
// a 3.x protocol version.
func matchTLS(pkt *dissect.DissectedPacket) string {
	p := pkt.Payload
	if pkt.Transport != "tcp" || len(p) < 6 {
		return ""
	}
	if p[0] < 0x14 || p[0] > 0x17 {
		return ""
	}
	if p[1] != 0x03 || p[2] > 0x04 {
		return ""
	}
	return "tls"
}

func matchHTTP(pkt *dissect.DissectedPacket) string {
	if pkt.Transport != "tcp" || len(pkt.Payload) == 0 {
		return ""
	}
	for _, method := range httpMethods {
		if bytes.HasPrefix(pkt.Payload, method) {
			return "http"
		}
	}
	return ""
}

func matchSSH(pkt *dissect.DissectedPacket) string {
	if pkt.Transport != "tcp" {
		return ""
	}
	if bytes.HasPrefix(pkt.Payload, []byte("SSH-")) {
		return "ssh"
	}
	return ""
}

func matchSSDP(pkt *dissect.DissectedPacket) string {
	if pkt.Transport != "udp" || len(pkt.Payload) == 0 {
		return ""
	}
	if bytes.HasPrefix(pkt.Payload, []byte("NOTIFY ")) || bytes.HasPrefix(pkt.Payload, []byte("M-SEARCH ")) {
		return "ssdp"
	}
	return ""
}

// matchNTP checks for the fixed 48-byte NTP header with a plausible version.
func matchNTP(pkt *dissect.DissectedPacket) string {
	if pkt.Transport != "udp" || len(pkt.Payload) != 48 {
		return ""
	}
	version := (pkt.Payload[0] >> 3) & 0x07
	if version >= 1 && version <= 4 {
		return "ntp"
	}
	return ""
}
