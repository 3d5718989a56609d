package fingerprint

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/aegis-sentinel/topowatch/internal/dissect"
)

// clientHello holds the JA3 input tuple pulled out of a TLS ClientHello.
type clientHello struct {
	version      uint16
	ciphers      []uint16
	extensions   []uint16
	curves       []uint16
	pointFormats []uint8
	serverName   string
}

// TLS derives a JA3-style fingerprint from a ClientHello. Every other TLS
// message, and anything truncated mid-walk, yields nil.
func TLS(pkt *dissect.DissectedPacket) *Fingerprint {
	if pkt.Transport != "tcp" {
		return nil
	}

	hello := parseClientHello(pkt.Payload)
	if hello == nil {
		return nil
	}

	input := fmt.Sprintf("%d,%s,%s,%s,%s",
		hello.version,
		joinUint16(hello.ciphers),
		joinUint16(hello.extensions),
		joinUint16(hello.curves),
		joinUint8(hello.pointFormats),
	)
	sum := md5.Sum([]byte(input))

	fp := newFingerprint(TypeTLS, hex.EncodeToString(sum[:]), pkt)
	if hello.serverName != "" {
		fp.Metadata = map[string]string{"sni": hello.serverName}
	}
	return fp
}

// parseClientHello walks a TLS record by hand, returning nil the moment any
// length field runs past the buffer.
func parseClientHello(p []byte) *clientHello {
	// record header: type, version, length; handshake type ClientHello
	if len(p) < 6 || p[0] != 0x16 || p[5] != 0x01 {
		return nil
	}

	offset := 9 // past record header + handshake type + handshake length
	if offset+2 > len(p) {
		return nil
	}
	hello := &clientHello{version: binary.BigEndian.Uint16(p[offset : offset+2])}
	offset += 2

	offset += 32 // client random
	if offset+1 > len(p) {
		return nil
	}

	sessionIDLen := int(p[offset])
	offset += 1 + sessionIDLen
	if offset+2 > len(p) {
		return nil
	}

	cipherLen := int(binary.BigEndian.Uint16(p[offset : offset+2]))
	offset += 2
	if cipherLen%2 != 0 || offset+cipherLen > len(p) {
		return nil
	}
	for i := 0; i < cipherLen; i += 2 {
		hello.ciphers = append(hello.ciphers, binary.BigEndian.Uint16(p[offset+i:offset+i+2]))
	}
	offset += cipherLen

	if offset+1 > len(p) {
		return nil
	}
	compressionLen := int(p[offset])
	offset += 1 + compressionLen
	if offset+2 > len(p) {
		return nil
	}

	extensionsLen := int(binary.BigEndian.Uint16(p[offset : offset+2]))
	offset += 2
	end := offset + extensionsLen
	if end > len(p) {
		return nil
	}

	for offset+4 <= end {
		extType := binary.BigEndian.Uint16(p[offset : offset+2])
		extLen := int(binary.BigEndian.Uint16(p[offset+2 : offset+4]))
		offset += 4
		if offset+extLen > end {
			return nil
		}

		hello.extensions = append(hello.extensions, extType)
		body := p[offset : offset+extLen]

		switch extType {
		case 0x0000:
			hello.serverName = parseSNI(body)
		case 0x000a:
			hello.curves = parseCurves(body)
		case 0x000b:
			hello.pointFormats = parsePointFormats(body)
		}

		offset += extLen
	}

	return hello
}

func parseSNI(b []byte) string {
	if len(b) < 5 {
		return ""
	}
	nameType := b[2]
	nameLen := int(binary.BigEndian.Uint16(b[3:5]))
	if nameType != 0 || 5+nameLen > len(b) {
		return ""
	}
	return string(b[5 : 5+nameLen])
}

func parseCurves(b []byte) []uint16 {
	if len(b) < 2 {
		return nil
	}
	listLen := int(binary.BigEndian.Uint16(b[:2]))
	if listLen%2 != 0 || 2+listLen > len(b) {
		return nil
	}
	var curves []uint16
	for i := 0; i < listLen; i += 2 {
		curves = append(curves, binary.BigEndian.Uint16(b[2+i:4+i]))
	}
	return curves
}

func parsePointFormats(b []byte) []uint8 {
	if len(b) < 1 {
		return nil
	}
	listLen := int(b[0])
	if 1+listLen > len(b) {
		return nil
	}
	return append([]uint8(nil), b[1:1+listLen]...)
}

func joinUint16(vals []uint16) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, "-")
}

func joinUint8(vals []uint8) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, "-")
}
