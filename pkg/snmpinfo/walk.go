package snmpinfo

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/gosnmp/gosnmp"

	"github.com/nmasdoufi/brfwupd/pkg/fwerr"
)

const (
	// RootOID is the Brother subtree holding MODEL/SERIAL/SPEC/FIRMID/FIRMVER lines.
	RootOID = "1.3.6.1.4.1.2435.2.4.3.99.3.1.6.1.2"
	// BatchSize is the max-repetitions value of every GetBulk round.
	BatchSize = 50
)

// Walk returns the string payloads below root, fetched in GetBulk rounds of
// BatchSize. The sequence is lazy and single use: a round is only sent when
// the consumer asks for more, and breaking out of the loop stops the walk.
// A failed round is yielded as the final ("", err) pair.
func Walk(ctx context.Context, client BulkClient, root string) iter.Seq2[string, error] {
	root = "." + strings.Trim(root, ".")
	prefix := root + "."
	return func(yield func(string, error) bool) {
		next := root
		last, err := parseOID(root)
		if err != nil {
			yield("", fwerr.New(fwerr.ProtocolViolation, "snmp walk", err))
			return
		}
		for {
			if err := ctx.Err(); err != nil {
				yield("", fwerr.New(fwerr.TransportError, "snmp walk", err))
				return
			}
			pkt, err := client.GetBulk([]string{next}, 0, BatchSize)
			if err != nil {
				yield("", fwerr.New(fwerr.TransportError, "snmp walk", fmt.Errorf("bulk request at %s: %w", next, err)))
				return
			}
			if pkt == nil {
				return
			}
			if pkt.Error != gosnmp.NoError {
				yield("", fwerr.New(fwerr.TransportError, "snmp walk", fmt.Errorf("%v at %s (index %d)", pkt.Error, next, pkt.ErrorIndex)))
				return
			}
			if len(pkt.Variables) == 0 {
				return
			}
			for _, v := range pkt.Variables {
				switch v.Type {
				case gosnmp.EndOfMibView, gosnmp.NoSuchObject, gosnmp.NoSuchInstance:
					return
				}
				name := v.Name
				if !strings.HasPrefix(name, ".") {
					name = "." + name
				}
				if !strings.HasPrefix(name, prefix) {
					return
				}
				cur, err := parseOID(name)
				if err != nil {
					yield("", fwerr.New(fwerr.ProtocolViolation, "snmp walk", err))
					return
				}
				if compareOID(cur, last) <= 0 {
					yield("", fwerr.New(fwerr.ProtocolViolation, "snmp walk", fmt.Errorf("oid %s not increasing after %s", name, next)))
					return
				}
				next, last = name, cur
				payload := strings.TrimSpace(payloadString(v.Value))
				if payload == "" {
					continue
				}
				if !yield(payload, nil) {
					return
				}
			}
		}
	}
}

func payloadString(value interface{}) string {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// parseOID splits a dotted OID into its arcs.
func parseOID(oid string) ([]uint64, error) {
	parts := strings.Split(strings.Trim(oid, "."), ".")
	arcs := make([]uint64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed oid %q", oid)
		}
		arcs[i] = n
	}
	return arcs, nil
}

// compareOID orders OIDs lexicographically by arc, a prefix sorting first.
func compareOID(a, b []uint64) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}
