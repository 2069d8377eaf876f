package snmpinfo

import (
	"context"
	"time"

	"github.com/gosnmp/gosnmp"
)

// BulkClient abstracts gosnmp for easier testing/mocking.
type BulkClient interface {
	GetBulk(oids []string, nonRepeaters uint8, maxRepetitions uint32) (*gosnmp.SnmpPacket, error)
	Close() error
}

// Target is what a BulkClient connects to.
type Target struct {
	Host      string
	Port      uint16
	Community string
	// Timeout bounds a single request round; Retries is per round as well.
	Timeout time.Duration
	Retries int
}

// Dialer opens a BulkClient for a target.
type Dialer func(ctx context.Context, t Target) (BulkClient, error)

// DialGoSNMP is the production Dialer: SNMP v2c over UDP.
func DialGoSNMP(ctx context.Context, t Target) (BulkClient, error) {
	snmp := &gosnmp.GoSNMP{
		Target:    t.Host,
		Port:      t.Port,
		Community: t.Community,
		Version:   gosnmp.Version2c,
		Context:   ctx,
		Timeout:   t.Timeout,
		Retries:   t.Retries,
	}
	if err := snmp.Connect(); err != nil {
		return nil, err
	}
	return &gosnmpWrapper{snmp: snmp}, nil
}

// gosnmpWrapper implements BulkClient by delegating to gosnmp.GoSNMP.
type gosnmpWrapper struct {
	snmp *gosnmp.GoSNMP
}

func (w *gosnmpWrapper) GetBulk(oids []string, nonRepeaters uint8, maxRepetitions uint32) (*gosnmp.SnmpPacket, error) {
	return w.snmp.GetBulk(oids, nonRepeaters, maxRepetitions)
}

func (w *gosnmpWrapper) Close() error {
	if w.snmp != nil && w.snmp.Conn != nil {
		return w.snmp.Conn.Close()
	}
	return nil
}
