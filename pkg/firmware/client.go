// Package firmware asks the Brother update API which firmware a printer needs.
//
// Different models want subtly different request documents, so the client
// tries a fixed list of request variants and keeps the first conclusive answer.
package firmware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/nmasdoufi/brfwupd/pkg/fwerr"
	"github.com/nmasdoufi/brfwupd/pkg/inventory"
	"github.com/nmasdoufi/brfwupd/pkg/logging"
)

const (
	// Endpoint is the update API. Equivalent to
	// curl -X POST -d @request.xml -H "Content-Type:text/xml" <Endpoint>
	Endpoint = "https://firmverup.brother.co.jp/kne_bh7_update_nt_ssl/ifax2.asmx/fileUpdate"
	// Timeout bounds every request to the update API.
	Timeout = 10 * time.Second

	maxResponseSize = 1 << 20
)

// Client talks to the update API.
type Client struct {
	endpoint   string
	httpClient *http.Client
	variants   []Variant
	log        *logging.Logger
}

// Option configures the client.
type Option func(*Client)

// WithEndpoint overrides the update API URL.
func WithEndpoint(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.endpoint = url
		}
	}
}

// WithHTTPClient replaces the HTTP client. Its Timeout should stay bounded.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithTimeout changes the per request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient builds a client for the update API.
func NewClient(log *logging.Logger, opts ...Option) *Client {
	c := &Client{
		endpoint:   Endpoint,
		httpClient: &http.Client{Timeout: Timeout},
		variants:   Variants(),
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Negotiate asks for the latest firmware of one component. Request variants
// are tried in order until one yields a conclusive answer. Transport failures
// and non-2xx statuses abort immediately; when every variant gets an
// unusable answer the error is a NegotiationExhausted carrying each attempt.
func (c *Client) Negotiate(ctx context.Context, id inventory.DeviceIdentity, componentID string, os inventory.OS) (Result, error) {
	base := NewRequest(id, componentID, os)
	var attempts *multierror.Error
	for i, v := range c.variants {
		if i > 0 {
			c.log.Infof("trying again with request variant %s", v.Name)
		}
		body, err := v.Apply(base).Marshal()
		if err != nil {
			attempts = multierror.Append(attempts, fmt.Errorf("variant %s: encode request: %w", v.Name, err))
			continue
		}
		resp, ferr := c.post(ctx, body)
		if ferr != nil {
			return Result{}, ferr.WithComponent(componentID).WithVariant(v.Name)
		}
		res, err := c.interpret(resp, componentID)
		if err != nil {
			c.log.Warnf("variant %s: %v", v.Name, err)
			attempts = multierror.Append(attempts, fmt.Errorf("variant %s: %w", v.Name, err))
			continue
		}
		res.Variant = v.Name
		return res, nil
	}
	if attempts != nil {
		attempts.ErrorFormat = joinAttempts
	}
	return Result{}, &fwerr.Error{
		Kind:      fwerr.NegotiationExhausted,
		Op:        "giving up fetching firmware",
		Component: componentID,
		Err:       attempts.ErrorOrNil(),
	}
}

// AttemptErrors returns the per variant failures carried by a
// NegotiationExhausted error.
func AttemptErrors(err error) []error {
	var fe *fwerr.Error
	if !errors.As(err, &fe) || fe.Kind != fwerr.NegotiationExhausted {
		return nil
	}
	var merr *multierror.Error
	if !errors.As(fe.Err, &merr) {
		return nil
	}
	return merr.WrappedErrors()
}

func joinAttempts(errs []error) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return fmt.Sprintf("%d attempts failed: %s", len(errs), strings.Join(parts, "; "))
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, *fwerr.Error) {
	c.log.Debugf("sending POST request to %s with following content:\n%s", c.endpoint, body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fwerr.New(fwerr.TransportError, "build update request", err)
	}
	req.Header.Set("Content-Type", "text/xml")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fwerr.New(fwerr.TransportError, "post update request", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fwerr.New(fwerr.TransportError, "read update response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fwerr.New(fwerr.TransportError, "post update request", fmt.Errorf("update api returned %s", resp.Status))
	}
	c.log.Debugf("response:\n%s", data)
	return data, nil
}

func (c *Client) interpret(body []byte, requested string) (Result, error) {
	doc, err := parseResponseDoc(body)
	if err != nil {
		return Result{}, err
	}
	check, err := doc.one("VERSIONCHECK")
	if err != nil {
		return Result{}, err
	}
	switch check {
	case "1":
		c.log.Successf("firmware part %s seems to be up to date", requested)
		return Result{Outcome: UpToDate, Code: check}, nil
	case "0":
	case "2":
		c.log.Errorf("received versioncheck value 2 for firmware part %s; its meaning is unknown, treating it as no update", requested)
		return Result{Outcome: Unrecognized, Code: check}, nil
	default:
		return Result{}, fmt.Errorf("unknown VERSIONCHECK value %q for firmid=%s", check, requested)
	}

	latest, err := doc.one("LATESTVERSION")
	if err != nil {
		return Result{}, err
	}
	c.log.Infof("update for firmware part %s available (version %s)", requested, latest)
	answered, err := doc.one("FIRMID")
	if err != nil {
		return Result{}, err
	}
	if answered != requested {
		c.log.Warnf("request for firmid=%s was answered with firmid=%s, be careful", requested, answered)
	}
	path, err := doc.one("PATH")
	if err != nil {
		return Result{}, err
	}
	return Result{
		Outcome:     UpdateAvailable,
		Version:     latest,
		DownloadURL: path,
		Code:        check,
		AnsweredFor: answered,
	}, nil
}

// Caveat returns a non-fatal UnrecognizedServerCode error for results the
// client could not interpret, and nil otherwise.
func (r Result) Caveat() error {
	if r.Outcome != Unrecognized {
		return nil
	}
	return fwerr.New(fwerr.UnrecognizedServerCode, "interpret versioncheck", fmt.Errorf("code %s", r.Code))
}
