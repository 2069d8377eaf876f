package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
)

func entry(instance string, ip string, txt ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, ServiceType, Domain)
	e.Port = 9100
	if ip != "" {
		e.AddrIPv4 = []net.IP{net.ParseIP(ip)}
	}
	e.Text = txt
	return e
}

func TestCandidateFromEntry(t *testing.T) {
	e := entry("Brother MFC-9332CDW", "192.168.1.20",
		"txtvers=1", "product=(Brother MFC-9332CDW)", "note=2nd floor", "UUID=e3248000-80ce-11db-8000-30055c773bcf")
	c, ok := CandidateFromEntry(e)
	if !ok {
		t.Fatalf("expected candidate")
	}
	if c.Address != "192.168.1.20" || c.Port != 9100 {
		t.Fatalf("unexpected address %s:%d", c.Address, c.Port)
	}
	if c.Product != "Brother MFC-9332CDW" || c.Note != "2nd floor" {
		t.Fatalf("unexpected txt fields %+v", c)
	}
	if c.UUID != uuid.MustParse("e3248000-80ce-11db-8000-30055c773bcf") {
		t.Fatalf("unexpected uuid %s", c.UUID)
	}
	if want := "Brother MFC-9332CDW Brother MFC-9332CDW at 192.168.1.20:9100 (2nd floor)"; c.Label() != want {
		t.Fatalf("label %q", c.Label())
	}
}

func TestCandidateFromEntryFallbacks(t *testing.T) {
	e := entry("printer", "", "UUID=not-a-uuid")
	if _, ok := CandidateFromEntry(e); ok {
		t.Fatalf("entry without address must be ignored")
	}
	e.HostName = "brn30055c773bcf.local."
	c, ok := CandidateFromEntry(e)
	if !ok || c.Address != "brn30055c773bcf.local" {
		t.Fatalf("expected host name fallback, got %+v", c)
	}
	if c.UUID != uuid.Nil {
		t.Fatalf("invalid uuid should stay nil")
	}
	if _, ok := CandidateFromEntry(nil); ok {
		t.Fatalf("nil entry")
	}
}

func TestParseTXT(t *testing.T) {
	got := parseTXT([]string{"Product=A", "product=B", "flag", "=x", "note=a=b"})
	if got["product"] != "A" {
		t.Fatalf("first occurrence should win, got %q", got["product"])
	}
	if v, ok := got["flag"]; !ok || v != "" {
		t.Fatalf("bare key should map to empty value")
	}
	if got["note"] != "a=b" {
		t.Fatalf("value split on first '=' only, got %q", got["note"])
	}
	if _, ok := got[""]; ok {
		t.Fatalf("empty key kept")
	}
}

func TestDiscoverFoldsDuplicates(t *testing.T) {
	browse := func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
		if service != ServiceType || domain != Domain {
			t.Errorf("unexpected browse %s %s", service, domain)
		}
		go func() {
			defer close(entries)
			for _, e := range []*zeroconf.ServiceEntry{
				entry("b-printer", "10.0.0.2"),
				entry("a-printer", "10.0.0.1"),
				entry("b-printer", "10.0.0.2"),
				entry("no-address", ""),
			} {
				select {
				case entries <- e:
				case <-ctx.Done():
					return
				}
			}
		}()
		return nil
	}
	got, err := NewBrowser(nil, time.Second, browse).Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(got) != 2 || got[0].Name != "a-printer" || got[1].Name != "b-printer" {
		t.Fatalf("unexpected candidates %+v", got)
	}
}

func TestProbeAndScan(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	p := Prober{Timeout: time.Second, MaxWorkers: 2}
	out := p.Probe(context.Background(), []Candidate{{Address: "127.0.0.1", Port: port}})
	if !out[0].Reachable {
		t.Fatalf("expected reachable")
	}
	alive, err := p.ScanCIDR(context.Background(), "127.0.0.1/32", port)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(alive) != 1 || alive[0].Address != "127.0.0.1" {
		t.Fatalf("unexpected scan result %+v", alive)
	}
	if _, err := p.ScanCIDR(context.Background(), "not-a-cidr", port); err == nil {
		t.Fatalf("expected cidr error")
	}
}

func TestExpandCIDR(t *testing.T) {
	ips, err := expandCIDR("192.168.1.0/30")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(ips) != 4 || ips[0].String() != "192.168.1.0" || ips[3].String() != "192.168.1.3" {
		t.Fatalf("unexpected %v", ips)
	}

	for _, cidr := range []string{"fd00::/100", "10.0.0.0/8", "10.0.0.0/15", "::/0"} {
		if _, err := expandCIDR(cidr); err == nil {
			t.Fatalf("%s: expected the network to be rejected as too large", cidr)
		}
	}
	ips, err = expandCIDR("10.1.0.0/16")
	if err != nil {
		t.Fatalf("expand /16: %v", err)
	}
	if len(ips) != 65536 {
		t.Fatalf("expected 65536 addresses, got %d", len(ips))
	}
	if ips, err = expandCIDR("fd00::1/128"); err != nil || len(ips) != 1 {
		t.Fatalf("single v6 host: %v %v", ips, err)
	}
}
