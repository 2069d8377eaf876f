package transfer

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/nmasdoufi/brfwupd/pkg/fwerr"
	"github.com/nmasdoufi/brfwupd/pkg/logging"
)

// ChunkSize is the size of every read from the download stream.
const ChunkSize = 8 * 1024

// Downloader fetches firmware files.
type Downloader struct {
	httpClient  *http.Client
	progress    ProgressFunc
	idleTimeout time.Duration
	log         *logging.Logger
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) DownloaderOption {
	return func(d *Downloader) {
		d.progress = fn
	}
}

// WithIdleTimeout aborts a download when the body stalls for longer than d.
func WithIdleTimeout(d time.Duration) DownloaderOption {
	return func(dl *Downloader) {
		if d > 0 {
			dl.idleTimeout = d
		}
	}
}

// WithDownloadClient replaces the HTTP client.
func WithDownloadClient(h *http.Client) DownloaderOption {
	return func(d *Downloader) {
		if h != nil {
			d.httpClient = h
		}
	}
}

// NewDownloader builds a Downloader whose connect and response header phases
// time out after timeout. The body transfer is capped at 30 minutes and is
// aborted when no data arrives for timeout.
func NewDownloader(log *logging.Logger, timeout time.Duration, opts ...DownloaderOption) *Downloader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
	d := &Downloader{
		httpClient:  &http.Client{Transport: transport, Timeout: 30 * time.Minute},
		idleTimeout: timeout,
		log:         log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download streams url into destDir and returns the path of the new file.
// The file name is derived from model, componentID and version.
func (d *Downloader) Download(ctx context.Context, url, destDir, model, componentID, version string) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fwerr.New(fwerr.TransportError, "download firmware", err).WithComponent(componentID)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fwerr.New(fwerr.TransportError, "download firmware", err).WithComponent(componentID)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fwerr.New(fwerr.TransportError, "download firmware", fmt.Errorf("GET %s: %s", url, resp.Status)).WithComponent(componentID)
	}

	path := filepath.Join(destDir, FileName(model, componentID, version))
	d.log.Debugf("writing %s to %s", url, path)
	out, err := os.Create(path)
	if err != nil {
		return "", fwerr.New(fwerr.FileSystemError, "download firmware", errors.Wrap(err, "create firmware file")).WithComponent(componentID)
	}
	var stalled atomic.Bool
	idle := time.AfterFunc(d.idleTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	written, err := d.copy(out, resp.Body, resp.ContentLength, func() { idle.Reset(d.idleTimeout) })
	idle.Stop()
	if err != nil && stalled.Load() {
		err = fwerr.New(fwerr.TransportError, "download firmware", errors.Errorf("no data received for %s after %d bytes", d.idleTimeout, written))
	}
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fwerr.New(fwerr.FileSystemError, "download firmware", errors.Wrapf(cerr, "close %s", path))
	}
	if err != nil {
		_ = os.Remove(path)
		if fe, ok := err.(*fwerr.Error); ok {
			return "", fe.WithComponent(componentID)
		}
		return "", err
	}
	d.log.Debugf("downloaded %d bytes to %s", written, path)
	return path, nil
}

// copy moves src to dst in ChunkSize pieces and reports progress after
// every chunk. alive is called whenever data arrives.
func (d *Downloader) copy(dst io.Writer, src io.Reader, total int64, alive func()) (int64, error) {
	if total <= 0 {
		total = -1
	}
	buf := make([]byte, ChunkSize)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			alive()
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, fwerr.New(fwerr.FileSystemError, "download firmware", errors.Wrap(werr, "write firmware file"))
			}
			if w != n {
				return written, fwerr.New(fwerr.FileSystemError, "download firmware", errors.Wrap(io.ErrShortWrite, "write firmware file"))
			}
			if d.progress != nil {
				d.progress(Progress{Written: written, Total: total})
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fwerr.New(fwerr.TransportError, "download firmware", errors.Wrap(rerr, "read response body"))
		}
	}
}
