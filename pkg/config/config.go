package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultSNMPPort is used when the services database has no "snmp" entry.
	DefaultSNMPPort = 161
	// DefaultPDLPort is used when the services database has no "pdl-datastream" entry.
	DefaultPDLPort = 9100
	// DefaultEndpoint is the Brother firmware update API.
	DefaultEndpoint = "https://firmverup.brother.co.jp/kne_bh7_update_nt_ssl/ifax2.asmx/fileUpdate"
)

// Config represents the tool configuration file.
type Config struct {
	Printer  PrinterConfig  `toml:"printer" json:"printer"`
	Firmware FirmwareConfig `toml:"firmware" json:"firmware"`
	Logging  LoggingConfig  `toml:"logging" json:"logging"`
	Watch    WatchConfig    `toml:"watch" json:"watch"`
}

// PrinterConfig describes how to reach the printer.
type PrinterConfig struct {
	Address   string `toml:"address" json:"address"`
	Community string `toml:"community" json:"community"`
	SNMPPort  int    `toml:"snmp_port" json:"snmp_port"`
	PDLPort   int    `toml:"pdl_port" json:"pdl_port"`
}

// FirmwareConfig controls the update API and download location.
type FirmwareConfig struct {
	Dir          string   `toml:"dir" json:"dir"`
	OS           string   `toml:"os" json:"os"`
	Endpoint     string   `toml:"endpoint" json:"endpoint"`
	Timeout      Duration `toml:"timeout" json:"timeout"`
	DownloadOnly bool     `toml:"download_only" json:"download_only"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level"`
	Path   string `toml:"path" json:"path"`
	Format string `toml:"format" json:"format"`
}

// WatchConfig configures periodic update checks.
type WatchConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Tick    string `toml:"tick" json:"tick"`
}

// Duration is a time.Duration that decodes from strings like "10s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for toml.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalJSON accepts "10s" strings.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	return &Config{
		Printer: PrinterConfig{
			Community: "public",
			SNMPPort:  DefaultPort("snmp"),
			PDLPort:   DefaultPort("pdl-datastream"),
		},
		Firmware: FirmwareConfig{
			Dir:      ".",
			Endpoint: DefaultEndpoint,
			Timeout:  Duration{10 * time.Second},
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Watch:   WatchConfig{Tick: "24h"},
	}
}

// Load reads a TOML or JSON configuration on top of Default. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config json: %w", err)
		}
	} else {
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parse config: unknown keys %v", undecoded)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that cannot be used to reach a printer.
func (c *Config) Validate() error {
	ports := []struct {
		name string
		port int
	}{
		{"snmp_port", c.Printer.SNMPPort},
		{"pdl_port", c.Printer.PDLPort},
	}
	for _, p := range ports {
		if p.port < 1 || p.port > 65535 {
			return fmt.Errorf("invalid config: %s %d out of range 1-65535", p.name, p.port)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Printer.Community == "" {
		c.Printer.Community = def.Printer.Community
	}
	if c.Printer.SNMPPort == 0 {
		c.Printer.SNMPPort = def.Printer.SNMPPort
	}
	if c.Printer.PDLPort == 0 {
		c.Printer.PDLPort = def.Printer.PDLPort
	}
	if c.Firmware.Dir == "" {
		c.Firmware.Dir = def.Firmware.Dir
	}
	if c.Firmware.Endpoint == "" {
		c.Firmware.Endpoint = def.Firmware.Endpoint
	}
	if c.Firmware.Timeout.Duration <= 0 {
		c.Firmware.Timeout = def.Firmware.Timeout
	}
	if c.Watch.Tick == "" {
		c.Watch.Tick = def.Watch.Tick
	}
}

// DefaultPort resolves a service name through the system services database
// and falls back to the well-known port.
func DefaultPort(service string) int {
	network := "tcp"
	if service == "snmp" {
		network = "udp"
	}
	if p, err := net.LookupPort(network, service); err == nil && p > 0 {
		return p
	}
	switch service {
	case "snmp":
		return DefaultSNMPPort
	case "pdl-datastream":
		return DefaultPDLPort
	}
	return 0
}
