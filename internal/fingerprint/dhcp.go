package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/aegis-sentinel/topowatch/internal/dissect"
)

// DHCP hashes the order in which a client sends its DHCP options, a stable
// per-implementation trait. Packets without a decoded DHCP layer yield nil.
func DHCP(pkt *dissect.DissectedPacket) *Fingerprint {
	if pkt.DHCP == nil || len(pkt.DHCP.OptionOrder) == 0 {
		return nil
	}

	parts := make([]string, len(pkt.DHCP.OptionOrder))
	for i, opt := range pkt.DHCP.OptionOrder {
		parts[i] = fmt.Sprintf("%d", opt)
	}
	input := strings.Join(parts, ",")
	if len(pkt.DHCP.ParamRequest) > 0 {
		params := make([]string, len(pkt.DHCP.ParamRequest))
		for i, p := range pkt.DHCP.ParamRequest {
			params[i] = fmt.Sprintf("%d", p)
		}
		input += "|" + strings.Join(params, ",")
	}

	sum := md5.Sum([]byte(input))
	fp := newFingerprint(TypeDHCP, hex.EncodeToString(sum[:]), pkt)
	if pkt.DHCP.ClientMAC != nil {
		fp.OwnerMAC = pkt.DHCP.ClientMAC
	}

	meta := make(map[string]string)
	if pkt.DHCP.Hostname != "" {
		meta["hostname"] = pkt.DHCP.Hostname
	}
	if pkt.DHCP.VendorClass != "" {
		meta["vendor_class"] = pkt.DHCP.VendorClass
	}
	if len(meta) > 0 {
		fp.Metadata = meta
	}
	return fp
}
