package enrich

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
)

// OUIDatabase maps MAC address prefixes to hardware vendors. It ships with a
// small builtin table and can be replaced from a CSV file.
type OUIDatabase struct {
	mu     sync.RWMutex
	ouiMap map[string]string
}

func NewOUIDatabase(path string) (*OUIDatabase, error) {
	db := &OUIDatabase{
		ouiMap: make(map[string]string),
	}
	db.loadBuiltin()

	if path != "" {
		if err := db.UpdateFromFile(path); err != nil {
			return db, err
		}
	}
	return db, nil
}

func (db *OUIDatabase) loadBuiltin() {
	builtin := map[string]string{
		"00:00:0C": "Cisco Systems, Inc",
		"00:01:42": "Cisco Systems, Inc",
		"00:1C:14": "Cisco Systems, Inc",
		"00:05:85": "Juniper Networks",
		"00:12:1E": "Juniper Networks",
		"00:0B:86": "Hewlett Packard Enterprise",
		"94:B4:0F": "Aruba Networks",
		"00:80:63": "Hirschmann Automation",
		"EC:E5:55": "Hirschmann Automation",
		"00:90:E8": "Moxa Technologies",
		"00:0E:8C": "Siemens AG",
		"08:00:06": "Siemens AG",
		"28:63:36": "Siemens AG",
		"00:A0:45": "Phoenix Contact",
		"00:0F:73": "Rockwell Automation",
		"00:1D:9C": "Rockwell Automation",
		"00:80:F4": "Schneider Electric",
		"00:03:47": "Intel Corporation",
		"00:1B:21": "Intel Corporation",
		"00:0A:27": "Apple, Inc.",
		"28:CD:C1": "Apple, Inc.",
		"FC:AA:14": "Apple, Inc.",
		"00:0D:3A": "Microsoft Corporation",
		"00:15:5D": "Microsoft Corporation",
		"00:13:72": "Dell Inc.",
		"00:05:69": "VMware, Inc.",
		"00:0C:29": "VMware, Inc.",
		"00:50:56": "VMware, Inc.",
		"52:54:00": "QEMU",
		"08:00:27": "PCS Systemtechnik GmbH",
		"B8:27:EB": "Raspberry Pi Foundation",
		"DC:A6:32": "Raspberry Pi Foundation",
		"50:ED:3C": "Google, Inc.",
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	for prefix, vendor := range builtin {
		db.ouiMap[prefix] = vendor
	}
}

// Lookup resolves a MAC to its vendor, or "" when the prefix is unknown.
func (db *OUIDatabase) Lookup(mac net.HardwareAddr) string {
	if len(mac) < 3 {
		return ""
	}

	prefix := fmt.Sprintf("%02X:%02X:%02X", mac[0], mac[1], mac[2])

	db.mu.RLock()
	vendor := db.ouiMap[prefix]
	db.mu.RUnlock()
	return vendor
}

// UpdateFromFile merges "prefix,vendor" CSV lines into the table.
func (db *OUIDatabase) UpdateFromFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open OUI database: %w", err)
	}
	defer file.Close()

	db.mu.Lock()
	defer db.mu.Unlock()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, ",", 2)
		if len(parts) == 2 {
			prefix := strings.ToUpper(strings.TrimSpace(parts[0]))
			vendor := strings.TrimSpace(parts[1])
			db.ouiMap[prefix] = vendor
		}
	}
	return scanner.Err()
}

func (db *OUIDatabase) Count() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.ouiMap)
}
