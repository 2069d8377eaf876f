// Package snmpinfo reads the identity of a Brother printer over SNMP.
//
// Equivalent to:
//
//	snmpwalk -v 2c -c public lp.local 1.3.6.1.4.1.2435.2.4.3.99.3.1.6.1.2
package snmpinfo

import (
	"context"
	"fmt"
	"iter"
	"regexp"
	"time"

	"github.com/nmasdoufi/brfwupd/pkg/fwerr"
	"github.com/nmasdoufi/brfwupd/pkg/inventory"
	"github.com/nmasdoufi/brfwupd/pkg/logging"
)

var entryRE = regexp.MustCompile(`^([A-Z]+) ?= ?"(.*)"`)

// Entry is one parsed NAME = "VALUE" line.
type Entry struct {
	Name  string
	Value string
}

// ParseEntry parses a walk payload such as `MODEL = "MFC-9332CDW"`.
func ParseEntry(payload string) (Entry, bool) {
	m := entryRE.FindStringSubmatch(payload)
	if m == nil {
		return Entry{}, false
	}
	return Entry{Name: m[1], Value: m[2]}, true
}

// Collect consumes walk payloads and assembles the device identity.
// FIRMID and FIRMVER arrive as adjacent pairs; a pair left incomplete when
// the walk ends is a ProtocolViolation.
func Collect(payloads iter.Seq2[string, error], log *logging.Logger) (inventory.DeviceIdentity, error) {
	var (
		id            inventory.DeviceIdentity
		firmID        string
		firmVer       string
		haveID, haveV bool
	)
	for payload, err := range payloads {
		if err != nil {
			return inventory.DeviceIdentity{}, err
		}
		log.Debugf("snmp payload: %s", payload)
		e, ok := ParseEntry(payload)
		if !ok {
			log.Warnf("payload %q does not match NAME = \"VALUE\", skipping", payload)
			continue
		}
		switch e.Name {
		case "MODEL":
			id.Model = e.Value
		case "SERIAL":
			id.Serial = e.Value
		case "SPEC":
			id.Spec = e.Value
		case "FIRMID":
			firmID, haveID = e.Value, true
		case "FIRMVER":
			firmVer, haveV = e.Value, true
		default:
			log.Debugf("ignoring snmp info %s=%s", e.Name, e.Value)
			continue
		}
		if haveID && haveV {
			id.Components = append(id.Components, inventory.FirmwareComponent{ID: firmID, Version: firmVer})
			firmID, firmVer, haveID, haveV = "", "", false, false
		}
	}
	if haveID || haveV {
		return inventory.DeviceIdentity{}, fwerr.New(fwerr.ProtocolViolation, "snmp walk",
			fmt.Errorf("unpaired firmware record: firmid=%q (set=%t) firmver=%q (set=%t)", firmID, haveID, firmVer, haveV))
	}
	return id, nil
}

// Resolver performs the identity walk against one printer.
type Resolver struct {
	log     *logging.Logger
	dial    Dialer
	root    string
	timeout time.Duration
	retries int
}

// Option configures the resolver.
type Option func(*Resolver)

// WithDialer replaces the SNMP transport, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(r *Resolver) {
		r.dial = d
	}
}

// WithRoundTimeout bounds every GetBulk round.
func WithRoundTimeout(timeout time.Duration, retries int) Option {
	return func(r *Resolver) {
		r.timeout = timeout
		r.retries = retries
	}
}

// NewResolver creates a resolver using SNMP v2c over UDP.
func NewResolver(log *logging.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		log:     log,
		dial:    DialGoSNMP,
		root:    RootOID,
		timeout: 5 * time.Second,
		retries: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve walks the printer's identity subtree.
func (r *Resolver) Resolve(ctx context.Context, target, community string, port uint16) (inventory.DeviceIdentity, error) {
	r.log.Debugf("snmp walk %s:%d (community %s) from %s", target, port, community, r.root)
	client, err := r.dial(ctx, Target{
		Host:      target,
		Port:      port,
		Community: community,
		Timeout:   r.timeout,
		Retries:   r.retries,
	})
	if err != nil {
		return inventory.DeviceIdentity{}, fwerr.New(fwerr.TransportError, "snmp connect", fmt.Errorf("%s:%d: %w", target, port, err))
	}
	defer client.Close()

	id, err := Collect(Walk(ctx, client, r.root), r.log)
	if err != nil {
		return inventory.DeviceIdentity{}, err
	}
	return inventory.NormalizeIdentity(id), nil
}
