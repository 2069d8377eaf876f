package transfer

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/nmasdoufi/brfwupd/pkg/fwerr"
	"github.com/nmasdoufi/brfwupd/pkg/logging"
)

// Uploader sends firmware files to the printer's PDL datastream (JetDirect)
// port. Equivalent to:
//
//	cat LZ5413_P.djf | nc lp.local 9100
type Uploader struct {
	dialTimeout time.Duration
	log         *logging.Logger
}

// NewUploader builds an Uploader with the given connect timeout.
func NewUploader(log *logging.Logger, dialTimeout time.Duration) *Uploader {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &Uploader{dialTimeout: dialTimeout, log: log}
}

// Upload opens one TCP connection to address:port, writes the file verbatim
// and closes the connection. Failures are not retried.
func (u *Uploader) Upload(ctx context.Context, address string, port int, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fwerr.New(fwerr.FileSystemError, "upload firmware", errors.Wrap(err, "open firmware file"))
	}
	defer f.Close()

	target := net.JoinHostPort(address, strconv.Itoa(port))
	u.log.Infof("uploading firmware file %s to printer via PDL datastream at %s", filePath, target)
	dialer := &net.Dialer{Timeout: u.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return fwerr.New(fwerr.TransportError, "upload firmware", errors.Wrapf(err, "connect %s", target))
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}

	n, err := io.Copy(conn, f)
	if err != nil {
		return fwerr.New(fwerr.TransportError, "upload firmware", errors.Wrapf(err, "send to %s after %d bytes", target, n))
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			return fwerr.New(fwerr.TransportError, "upload firmware", errors.Wrapf(err, "close %s", target))
		}
	}
	u.log.Successf("successfully uploaded the firmware file %s (%d bytes)", filePath, n)
	return nil
}
