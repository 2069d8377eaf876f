package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "brfwupd.toml", `
[printer]
address = "192.168.1.20"
community = "private"

[firmware]
dir = "/tmp/fw"
os = "mac"
timeout = "30s"
download_only = true

[logging]
level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Printer.Address != "192.168.1.20" || cfg.Printer.Community != "private" {
		t.Fatalf("printer section not decoded: %+v", cfg.Printer)
	}
	if cfg.Printer.SNMPPort == 0 || cfg.Printer.PDLPort == 0 {
		t.Fatalf("port defaults not applied: %+v", cfg.Printer)
	}
	if cfg.Firmware.Timeout.Duration != 30*time.Second || !cfg.Firmware.DownloadOnly {
		t.Fatalf("firmware section not decoded: %+v", cfg.Firmware)
	}
	if cfg.Firmware.Endpoint != DefaultEndpoint {
		t.Fatalf("endpoint default not applied: %q", cfg.Firmware.Endpoint)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging level %q", cfg.Logging.Level)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "brfwupd.json", `{"printer":{"address":"10.0.0.9","pdl_port":9101},"firmware":{"timeout":"5s"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Printer.Address != "10.0.0.9" || cfg.Printer.PDLPort != 9101 {
		t.Fatalf("unexpected printer config %+v", cfg.Printer)
	}
	if cfg.Firmware.Timeout.Duration != 5*time.Second {
		t.Fatalf("timeout %v", cfg.Firmware.Timeout)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "bad.toml", "[printer]\nadress = \"typo\"\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Printer.Community != "public" || cfg.Firmware.Timeout.Duration != 10*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestDefaultPortFallback(t *testing.T) {
	if got := DefaultPort("snmp"); got != 161 {
		t.Fatalf("DefaultPort(snmp)=%d want 161", got)
	}
	if got := DefaultPort("pdl-datastream"); got != 9100 {
		t.Fatalf("DefaultPort(pdl-datastream)=%d want 9100", got)
	}
	if got := DefaultPort("no-such-service-brfwupd"); got != 0 {
		t.Fatalf("DefaultPort(unknown)=%d want 0", got)
	}
}

func TestLoadRejectsPortsOutOfRange(t *testing.T) {
	for _, body := range []string{
		"[printer]\nsnmp_port = 70000\n",
		"[printer]\npdl_port = -1\n",
		"[printer]\npdl_port = 65536\n",
	} {
		path := writeFile(t, "ports.toml", body)
		if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "out of range") {
			t.Fatalf("%q: expected out of range error, got %v", body, err)
		}
	}
	path := writeFile(t, "ports.toml", "[printer]\nsnmp_port = 65535\npdl_port = 1\n")
	if _, err := Load(path); err != nil {
		t.Fatalf("boundary ports rejected: %v", err)
	}
}

func TestValidateAfterOverride(t *testing.T) {
	cfg := Default()
	cfg.Printer.SNMPPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected snmp port 70000 to be rejected")
	}
	cfg.Printer.SNMPPort = 161
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
