package fingerprint

import (
	"net"
	"time"

	"github.com/aegis-sentinel/topowatch/internal/dissect"
	"github.com/google/uuid"
)

type Type string

const (
	TypeTLS  Type = "tls-ja3"
	TypeDHCP Type = "dhcp-options"
	TypeHTTP Type = "http-user-agent"
)

// Fingerprint is an identity hint derived from observable handshake or
// header metadata. One entity may accumulate several.
type Fingerprint struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	Value     string            `json:"value"`
	OwnerMAC  net.HardwareAddr  `json:"owner_mac,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func newFingerprint(t Type, value string, pkt *dissect.DissectedPacket) *Fingerprint {
	return &Fingerprint{
		ID:        uuid.New().String(),
		Type:      t,
		Value:     value,
		OwnerMAC:  pkt.SrcMAC,
		CreatedAt: pkt.Timestamp,
	}
}

// ExtractAll runs every extractor whose preconditions the packet meets.
// Extractors are pure: a missing or malformed field yields nil, never an
// error.
func ExtractAll(pkt *dissect.DissectedPacket) []*Fingerprint {
	var out []*Fingerprint
	if fp := TLS(pkt); fp != nil {
		out = append(out, fp)
	}
	if fp := DHCP(pkt); fp != nil {
		out = append(out, fp)
	}
	if fp := HTTP(pkt); fp != nil {
		out = append(out, fp)
	}
	return out
}
