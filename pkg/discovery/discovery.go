package discovery

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"

	"github.com/nmasdoufi/brfwupd/pkg/logging"
)

const (
	// ServiceType is the DNS-SD service of raw PDL datastream printers.
	ServiceType = "_pdl-datastream._tcp"
	// Domain is the mDNS browse domain.
	Domain = "local."
)

// Candidate is a printer found on the network.
type Candidate struct {
	Address string
	Port    int
	Name    string
	Product string
	Note    string
	UUID    uuid.UUID
	// Latency is set by Probe when the PDL port accepted a connection.
	Latency   time.Duration
	Reachable bool
}

// Label is the one-line description used in selection prompts.
func (c Candidate) Label() string {
	var b strings.Builder
	b.WriteString(c.Name)
	if c.Product != "" {
		fmt.Fprintf(&b, " %s", c.Product)
	}
	fmt.Fprintf(&b, " at %s", net.JoinHostPort(c.Address, strconv.Itoa(c.Port)))
	if c.Note != "" {
		fmt.Fprintf(&b, " (%s)", c.Note)
	}
	return b.String()
}

// BrowseFunc matches (*zeroconf.Resolver).Browse.
type BrowseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Browser lists printers advertising ServiceType.
type Browser struct {
	timeout time.Duration
	browse  BrowseFunc
	log     *logging.Logger
}

// NewBrowser creates a Browser that listens for timeout. browse may be nil,
// in which case a zeroconf resolver on all interfaces is used.
func NewBrowser(log *logging.Logger, timeout time.Duration, browse BrowseFunc) *Browser {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Browser{timeout: timeout, browse: browse, log: log}
}

// Discover browses for the configured duration and returns the candidates
// sorted by name. Duplicate answers for the same instance are folded.
func (b *Browser) Discover(ctx context.Context) ([]Candidate, error) {
	browse := b.browse
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("mdns resolver: %w", err)
		}
		browse = resolver.Browse
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	b.log.Debugf("mdns browse start: %s", ServiceType)
	if err := browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	seen := map[string]Candidate{}
	for {
		select {
		case <-ctx.Done():
			return sorted(seen), nil
		case e, ok := <-entries:
			if !ok {
				return sorted(seen), nil
			}
			c, ok := b.candidate(e)
			if !ok {
				continue
			}
			seen[c.Name+"|"+c.Address] = c
		}
	}
}

func (b *Browser) candidate(e *zeroconf.ServiceEntry) (Candidate, bool) {
	c, ok := CandidateFromEntry(e)
	if !ok {
		b.log.Debugf("ignoring mdns entry without address: %v", e)
		return c, false
	}
	b.log.Debugf("found %s", c.Label())
	return c, true
}

// CandidateFromEntry converts a DNS-SD answer. ok is false when the entry
// carries no usable address.
func CandidateFromEntry(e *zeroconf.ServiceEntry) (Candidate, bool) {
	if e == nil {
		return Candidate{}, false
	}
	txt := parseTXT(e.Text)
	c := Candidate{
		Port:    e.Port,
		Name:    e.Instance,
		Product: strings.Trim(txt["product"], "()"),
		Note:    txt["note"],
	}
	if id, err := uuid.Parse(txt["uuid"]); err == nil {
		c.UUID = id
	}
	switch {
	case len(e.AddrIPv4) > 0:
		c.Address = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		c.Address = e.AddrIPv6[0].String()
	case e.HostName != "":
		c.Address = strings.TrimSuffix(e.HostName, ".")
	default:
		return c, false
	}
	return c, true
}

// parseTXT splits key=value records. Keys are lowercased, the first
// occurrence wins.
func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, dup := out[k]; !dup {
			out[k] = v
		}
	}
	return out
}

func sorted(m map[string]Candidate) []Candidate {
	out := make([]Candidate, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Prober checks that candidates accept connections on their PDL port.
type Prober struct {
	Timeout    time.Duration
	MaxWorkers int
}

// Probe dials every candidate concurrently and fills Reachable and Latency.
func (p Prober) Probe(ctx context.Context, candidates []Candidate) []Candidate {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	workerCount := p.MaxWorkers
	if workerCount <= 0 {
		workerCount = 16
	}
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	jobs := make(chan int)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for i := range jobs {
			select {
			case <-ctx.Done():
				return
			default:
			}
			addr := net.JoinHostPort(out[i].Address, strconv.Itoa(out[i].Port))
			start := time.Now()
			dialer := net.Dialer{Timeout: timeout}
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err == nil {
				out[i].Reachable = true
				out[i].Latency = time.Since(start)
				conn.Close()
			}
		}
	}

	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go worker()
	}
	go func() {
		defer close(jobs)
		for i := range out {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()
	wg.Wait()
	return out
}

// ScanCIDR lists hosts of cidr that accept connections on port. It is the
// fallback for networks without mDNS.
func (p Prober) ScanCIDR(ctx context.Context, cidr string, port int) ([]Candidate, error) {
	ips, err := expandCIDR(cidr)
	if err != nil {
		return nil, err
	}
	candidates := make([]Candidate, 0, len(ips))
	for _, ip := range ips {
		candidates = append(candidates, Candidate{Address: ip.String(), Port: port, Name: ip.String()})
	}
	var alive []Candidate
	for _, c := range p.Probe(ctx, candidates) {
		if c.Reachable {
			alive = append(alive, c)
		}
	}
	return alive, nil
}

// maxScanBits caps a scan at 65536 addresses.
const maxScanBits = 16

func expandCIDR(cidr string) ([]netip.Addr, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("parse cidr %s: %w", cidr, err)
	}
	if hostBits := prefix.Addr().BitLen() - prefix.Bits(); hostBits > maxScanBits {
		return nil, fmt.Errorf("cidr %s has more than %d addresses", cidr, 1<<maxScanBits)
	}
	var ips []netip.Addr
	for addr := prefix.Masked().Addr(); prefix.Contains(addr); addr = addr.Next() {
		ips = append(ips, addr)
		if !addr.Next().IsValid() {
			break
		}
	}
	return ips, nil
}
