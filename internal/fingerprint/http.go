package fingerprint

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/aegis-sentinel/topowatch/internal/dissect"
)

var requestPrefixes = [][]byte{
	[]byte("GET "),
	[]byte("POST "),
	[]byte("PUT "),
	[]byte("HEAD "),
	[]byte("DELETE "),
	[]byte("OPTIONS "),
}

// HTTP hashes the client's User-Agent from a plaintext request. Responses
// and requests without a User-Agent header yield nil.
func HTTP(pkt *dissect.DissectedPacket) *Fingerprint {
	if pkt.Transport != "tcp" || len(pkt.Payload) == 0 {
		return nil
	}

	isRequest := false
	for _, prefix := range requestPrefixes {
		if bytes.HasPrefix(pkt.Payload, prefix) {
			isRequest = true
			break
		}
	}
	if !isRequest {
		return nil
	}

	userAgent := ""
	for _, line := range strings.Split(string(pkt.Payload), "\r\n") {
		if line == "" {
			break // end of headers
		}
		if strings.HasPrefix(line, "User-Agent:") {
			userAgent = strings.TrimSpace(strings.TrimPrefix(line, "User-Agent:"))
			break
		}
	}
	if userAgent == "" {
		return nil
	}

	sum := md5.Sum([]byte(userAgent))
	fp := newFingerprint(TypeHTTP, hex.EncodeToString(sum[:]), pkt)
	fp.Metadata = map[string]string{"user_agent": userAgent}
	return fp
}
