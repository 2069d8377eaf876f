// Package updater runs the firmware update of one printer: identify the
// device, negotiate every firmware component with the update API, download
// the offered files and push them to the printer.
package updater

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-multierror"

	"github.com/nmasdoufi/brfwupd/pkg/firmware"
	"github.com/nmasdoufi/brfwupd/pkg/inventory"
	"github.com/nmasdoufi/brfwupd/pkg/logging"
)

// Resolver reads the device identity over SNMP.
type Resolver interface {
	Resolve(ctx context.Context, target, community string, port uint16) (inventory.DeviceIdentity, error)
}

// Negotiator asks the update API about one component.
type Negotiator interface {
	Negotiate(ctx context.Context, id inventory.DeviceIdentity, componentID string, os inventory.OS) (firmware.Result, error)
}

// Downloader stores an offered firmware file locally.
type Downloader interface {
	Download(ctx context.Context, url, destDir, model, componentID, version string) (string, error)
}

// Uploader sends a firmware file to the printer.
type Uploader interface {
	Upload(ctx context.Context, address string, port int, filePath string) error
}

// Stage is the last step reached for a component.
type Stage int

const (
	StageNegotiate Stage = iota
	StageDownload
	StageUpload
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageNegotiate:
		return "negotiate"
	case StageDownload:
		return "download"
	case StageUpload:
		return "upload"
	case StageDone:
		return "done"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ComponentReport is the outcome for one firmware component.
type ComponentReport struct {
	Component inventory.FirmwareComponent
	Result    firmware.Result
	Stage     Stage
	File      string
	Uploaded  bool
	// Downgrade is set when both versions are semantic versions and the
	// offered one is older than the installed one.
	Downgrade bool
	// Caveat holds non-fatal conditions such as an unrecognized server code.
	Caveat error
	Err    error
}

// Report collects the outcome of a run.
type Report struct {
	Identity   inventory.DeviceIdentity
	Components []ComponentReport
	// Err is set when the device could not be identified.
	Err error
}

// Failed reports whether identification or any component failed.
func (r Report) Failed() bool {
	return r.ErrorOrNil() != nil
}

// ErrorOrNil aggregates every failure of the run.
func (r Report) ErrorOrNil() error {
	var errs *multierror.Error
	if r.Err != nil {
		errs = multierror.Append(errs, r.Err)
	}
	for _, c := range r.Components {
		if c.Err != nil {
			errs = multierror.Append(errs, c.Err)
		}
	}
	return errs.ErrorOrNil()
}

// Target describes the printer and how to reach it.
type Target struct {
	Address   string
	Community string
	SNMPPort  uint16
	PDLPort   int
	// Identity bypasses SNMP when Complete reports true.
	Identity inventory.DeviceIdentity
}

// Options control a run.
type Options struct {
	OS           inventory.OS
	DestDir      string
	DownloadOnly bool
	// Confirm is asked after every upload whether to go on with the next
	// component. A nil Confirm always continues.
	Confirm func(ComponentReport) bool
}

// Updater sequences the pipeline.
type Updater struct {
	resolver   Resolver
	negotiator Negotiator
	downloader Downloader
	uploader   Uploader
	log        *logging.Logger

	// uploads to a printer must never interleave
	uploadMu sync.Mutex
}

// New creates an Updater. resolver may be nil when identities are always
// supplied by the caller.
func New(log *logging.Logger, resolver Resolver, negotiator Negotiator, downloader Downloader, uploader Uploader) *Updater {
	return &Updater{
		resolver:   resolver,
		negotiator: negotiator,
		downloader: downloader,
		uploader:   uploader,
		log:        log,
	}
}

// Identify returns t.Identity when it is usable and otherwise walks the
// printer over SNMP.
func (u *Updater) Identify(ctx context.Context, t Target) (inventory.DeviceIdentity, error) {
	if t.Identity.Complete() {
		u.log.Debugf("using supplied identity for %s", t.Identity.Model)
		return inventory.NormalizeIdentity(t.Identity), nil
	}
	if u.resolver == nil {
		return inventory.DeviceIdentity{}, fmt.Errorf("no usable identity supplied and no SNMP resolver configured")
	}
	if t.Address == "" {
		return inventory.DeviceIdentity{}, fmt.Errorf("printer address is required to query SNMP")
	}
	u.log.Infof("querying printer info via SNMP from %s", t.Address)
	id, err := u.resolver.Resolve(ctx, t.Address, t.Community, t.SNMPPort)
	if err != nil {
		return id, err
	}
	if err := id.Validate(); err != nil {
		return id, fmt.Errorf("incomplete identity from %s: %w", t.Address, err)
	}
	u.log.Successf("detected model=%s serial=%s spec=%s firmware=%s", id.Model, id.Serial, id.Spec, id.ComponentsString())
	return id, nil
}

// Check identifies the device and negotiates every component without
// downloading anything.
func (u *Updater) Check(ctx context.Context, t Target, os inventory.OS) Report {
	id, err := u.Identify(ctx, t)
	if err != nil {
		return Report{Identity: id, Err: err}
	}
	report := Report{Identity: id}
	for _, comp := range id.Components {
		if err := ctx.Err(); err != nil {
			report.Components = append(report.Components, ComponentReport{Component: comp, Err: err})
			continue
		}
		cr := u.negotiate(ctx, id, comp, os)
		if cr.Err == nil {
			cr.Stage = StageDone
		}
		report.Components = append(report.Components, cr)
	}
	return report
}

// Run performs the full update. A failing component is reported and the
// run continues with the next one.
func (u *Updater) Run(ctx context.Context, t Target, opts Options) Report {
	id, err := u.Identify(ctx, t)
	if err != nil {
		u.log.Criticalf("cannot identify printer: %v", err)
		return Report{Identity: id, Err: err}
	}
	report := Report{Identity: id}
	for i, comp := range id.Components {
		if err := ctx.Err(); err != nil {
			report.Components = append(report.Components, ComponentReport{Component: comp, Err: err})
			continue
		}
		cr := u.component(ctx, id, comp, t, opts)
		report.Components = append(report.Components, cr)
		if cr.Uploaded && opts.Confirm != nil && i < len(id.Components)-1 && !opts.Confirm(cr) {
			u.log.Infof("stopping after %s on request", comp.ID)
			break
		}
	}
	return report
}

func (u *Updater) component(ctx context.Context, id inventory.DeviceIdentity, comp inventory.FirmwareComponent, t Target, opts Options) ComponentReport {
	cr := u.negotiate(ctx, id, comp, opts.OS)
	if cr.Err != nil || !cr.Result.HasUpdate() {
		if cr.Err == nil {
			cr.Stage = StageDone
		}
		return cr
	}

	cr.Stage = StageDownload
	u.log.Infof("downloading firmware %s %s from %s", comp.ID, cr.Result.Version, cr.Result.DownloadURL)
	path, err := u.downloader.Download(ctx, cr.Result.DownloadURL, opts.DestDir, id.Model, comp.ID, cr.Result.Version)
	if err != nil {
		u.log.Errorf("download of %s failed: %v", comp.ID, err)
		cr.Err = err
		return cr
	}
	cr.File = path
	u.log.Successf("firmware %s saved to %s", comp.ID, path)
	if opts.DownloadOnly {
		cr.Stage = StageDone
		return cr
	}

	cr.Stage = StageUpload
	if err := u.upload(ctx, t, path); err != nil {
		u.log.Errorf("upload of %s failed: %v", comp.ID, err)
		cr.Err = err
		return cr
	}
	cr.Uploaded = true
	cr.Stage = StageDone
	return cr
}

func (u *Updater) negotiate(ctx context.Context, id inventory.DeviceIdentity, comp inventory.FirmwareComponent, os inventory.OS) ComponentReport {
	cr := ComponentReport{Component: comp, Stage: StageNegotiate}
	u.log.Infof("querying firmware download URL for %s (installed %s)", comp.ID, comp.Version)
	res, err := u.negotiator.Negotiate(ctx, id, comp.ID, os)
	if err != nil {
		u.log.Errorf("%v", err)
		cr.Err = err
		return cr
	}
	cr.Result = res
	cr.Caveat = res.Caveat()
	if res.HasUpdate() {
		cr.Downgrade = isDowngrade(comp.Version, res.Version)
		if cr.Downgrade {
			u.log.Warnf("offered %s firmware %s is older than installed %s", comp.ID, res.Version, comp.Version)
		}
	}
	return cr
}

func (u *Updater) upload(ctx context.Context, t Target, path string) error {
	if t.Address == "" {
		return fmt.Errorf("printer address is required to upload %s", path)
	}
	u.uploadMu.Lock()
	defer u.uploadMu.Unlock()
	return u.uploader.Upload(ctx, t.Address, t.PDLPort, path)
}

// isDowngrade compares installed and offered versions when both are
// semantic versions. Vendor build strings such as "R2311081154:E7E5" are
// never reported as downgrades.
func isDowngrade(installed, offered string) bool {
	cur, err := semver.NewVersion(strings.TrimPrefix(installed, "v"))
	if err != nil {
		return false
	}
	next, err := semver.NewVersion(strings.TrimPrefix(offered, "v"))
	if err != nil {
		return false
	}
	return next.LessThan(cur)
}
