// Package simulator imitates the PDL datastream port of a network printer.
// Every connection is read until EOF and reported as a Job carrying the
// size and SHA-512 of the received stream.
package simulator

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"

	"github.com/nmasdoufi/brfwupd/pkg/logging"
)

// ServiceType is the DNS-SD service printers advertise for raw printing.
const ServiceType = "_pdl-datastream._tcp"

// Job describes one received stream.
type Job struct {
	Remote string
	Size   int64
	SHA512 string
	Err    error
}

// Printer is a fake PDL datastream endpoint.
type Printer struct {
	Name    string
	Product string
	UUID    uuid.UUID

	ln     net.Listener
	jobs   chan Job
	mdns   *zeroconf.Server
	log    *logging.Logger
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// Listen starts a printer on addr (":9100", "127.0.0.1:0", ...).
func Listen(addr, name string, log *logging.Logger) (*Printer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	p := &Printer{
		Name:    name,
		Product: "(" + name + ")",
		UUID:    uuid.New(),
		ln:      ln,
		jobs:    make(chan Job, 16),
		log:     log,
		closed:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.serve()
	return p, nil
}

// Addr returns the listening address.
func (p *Printer) Addr() *net.TCPAddr {
	return p.ln.Addr().(*net.TCPAddr)
}

// Jobs delivers received streams. It is closed by Close.
func (p *Printer) Jobs() <-chan Job {
	return p.jobs
}

// Advertise registers the printer over mDNS with the TXT records the updater
// reads (product, note, UUID).
func (p *Printer) Advertise(note string) error {
	txt := []string{
		"txtvers=1",
		"product=" + p.Product,
		"note=" + note,
		"UUID=" + p.UUID.String(),
	}
	srv, err := zeroconf.Register(p.Name, ServiceType, "local.", p.Addr().Port, txt, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	p.mdns = srv
	p.log.Infof("advertising %s as %s on port %d", p.Name, ServiceType, p.Addr().Port)
	return nil
}

// Next waits for the next job.
func (p *Printer) Next(ctx context.Context) (Job, error) {
	select {
	case <-ctx.Done():
		return Job{}, ctx.Err()
	case job, ok := <-p.jobs:
		if !ok {
			return Job{}, net.ErrClosed
		}
		return job, nil
	}
}

// Close stops accepting, waits for running jobs and withdraws the mDNS
// registration.
func (p *Printer) Close() error {
	var err error
	p.once.Do(func() {
		close(p.closed)
		err = p.ln.Close()
		if p.mdns != nil {
			p.mdns.Shutdown()
		}
		p.wg.Wait()
		close(p.jobs)
	})
	return err
}

func (p *Printer) serve() {
	defer p.wg.Done()
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				p.log.Errorf("accept: %v", err)
			}
			return
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.receive(conn)
		}()
	}
}

func (p *Printer) receive(conn net.Conn) {
	defer conn.Close()
	h := sha512.New()
	n, err := io.Copy(h, conn)
	job := Job{Remote: conn.RemoteAddr().String(), Size: n, SHA512: hex.EncodeToString(h.Sum(nil)), Err: err}
	if err != nil {
		p.log.Warnf("stream from %s broken after %d bytes: %v", job.Remote, n, err)
	} else {
		p.log.Infof("received %d bytes from %s sha512=%s", n, job.Remote, job.SHA512)
	}
	select {
	case p.jobs <- job:
	case <-p.closed:
	}
}
