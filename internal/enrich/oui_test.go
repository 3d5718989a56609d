package enrich

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestLookupBuiltin(t *testing.T) {
	db, err := NewOUIDatabase("")
	if err != nil {
		t.Fatalf("builtin load failed: %v", err)
	}
	if db.Count() == 0 {
		t.Fatal("builtin table is empty")
	}

	cisco, _ := net.ParseMAC("00:00:0c:12:34:56")
	if vendor := db.Lookup(cisco); vendor != "Cisco Systems, Inc" {
		t.Errorf("expected Cisco vendor, got %q", vendor)
	}

	unknown, _ := net.ParseMAC("02:ff:ff:00:00:01")
	if vendor := db.Lookup(unknown); vendor != "" {
		t.Errorf("expected empty vendor for unknown prefix, got %q", vendor)
	}
}

func TestUpdateFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oui.csv")
	content := "# prefix,vendor\nAA:BB:CC,Testcorp GmbH\nbad line without comma\nDD:EE:FF,Another Vendor\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	db, err := NewOUIDatabase(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	mac, _ := net.ParseMAC("aa:bb:cc:00:00:01")
	if vendor := db.Lookup(mac); vendor != "Testcorp GmbH" {
		t.Errorf("file entry not applied, got %q", vendor)
	}

	// builtin entries survive a file merge
	cisco, _ := net.ParseMAC("00:00:0c:00:00:01")
	if vendor := db.Lookup(cisco); vendor == "" {
		t.Error("builtin entry lost after file merge")
	}
}

func TestMissingFile(t *testing.T) {
	db, err := NewOUIDatabase("/nonexistent/oui.csv")
	if err == nil {
		t.Error("expected an error for a missing file")
	}
	if db == nil || db.Count() == 0 {
		t.Error("builtin entries should still be available")
	}
}
