package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nmasdoufi/brfwupd/pkg/discovery"
	"github.com/nmasdoufi/brfwupd/pkg/firmware"
	"github.com/nmasdoufi/brfwupd/pkg/scheduler"
	"github.com/nmasdoufi/brfwupd/pkg/snmpinfo"
	"github.com/nmasdoufi/brfwupd/pkg/transfer"
	"github.com/nmasdoufi/brfwupd/pkg/updater"
)

var snmpCmd = &cobra.Command{
	Use:   "snmp",
	Short: "Print the model, serial, spec and firmware versions read over SNMP.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.log.Close()
		t, err := a.target(cmd.Context(), false)
		if err != nil {
			return err
		}
		id, err := snmpinfo.NewResolver(a.log).Resolve(cmd.Context(), t.Address, t.Community, t.SNMPPort)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "model:  %s\n", id.Model)
		fmt.Fprintf(out, "serial: %s\n", id.Serial)
		fmt.Fprintf(out, "spec:   %s\n", id.Spec)
		for _, c := range id.Components {
			fmt.Fprintf(out, "fw:     %s\n", c)
		}
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download available firmware without sending it to the printer.",
	Long: `Download available firmware without sending it to the printer. With
--model, --serial, --spec and --fw no printer needs to be reachable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUpdate(cmd, true)
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Send a previously downloaded firmware file to the printer.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.log.Close()
		t, err := a.target(cmd.Context(), false)
		if err != nil {
			return err
		}
		return transfer.NewUploader(a.log, a.cfg.Firmware.Timeout.Duration).Upload(cmd.Context(), t.Address, t.PDLPort, args[0])
	},
}

var discoverFlags struct {
	timeout time.Duration
	cidr    string
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List printers that accept PDL datastream jobs.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.log.Close()
		var candidates []discovery.Candidate
		prober := discovery.Prober{Timeout: time.Second}
		if discoverFlags.cidr != "" {
			candidates, err = prober.ScanCIDR(cmd.Context(), discoverFlags.cidr, a.cfg.Printer.PDLPort)
		} else {
			candidates, err = discovery.NewBrowser(a.log, discoverFlags.timeout, nil).Discover(cmd.Context())
			if err == nil {
				candidates = prober.Probe(cmd.Context(), candidates)
			}
		}
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return fmt.Errorf("no printers found")
		}
		out := cmd.OutOrStdout()
		for _, c := range candidates {
			state := "unreachable"
			if c.Reachable {
				state = c.Latency.Round(time.Millisecond).String()
			}
			fmt.Fprintf(out, "%s [%s]\n", c.Label(), state)
		}
		return nil
	},
}

var watchTick string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Periodically check for new firmware without installing it.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.log.Close()
		cfg := a.cfg.Watch
		cfg.Enabled = true
		if cmd.Flags().Changed("tick") {
			cfg.Tick = watchTick
		}
		t, err := a.target(cmd.Context(), false)
		if err != nil {
			return err
		}
		u := a.updater()
		runner := scheduler.RunnerFunc(func(ctx context.Context) error {
			report := u.Check(ctx, t, a.os)
			for _, c := range report.Components {
				if c.Result.HasUpdate() {
					a.log.Infof("firmware %s %s is available (installed %s)", c.Component.ID, c.Result.Version, c.Component.Version)
				}
			}
			return report.ErrorOrNil()
		})
		return scheduler.New(cfg, runner, a.log).Start(cmd.Context())
	},
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverFlags.timeout, "timeout", 3*time.Second, "how long to listen for mDNS answers")
	discoverCmd.Flags().StringVar(&discoverFlags.cidr, "cidr", "", "probe every address of this network instead of using mDNS")
	watchCmd.Flags().StringVar(&watchTick, "tick", "24h", "interval between checks")
}

// printReport writes one line per firmware component.
func printReport(w io.Writer, r updater.Report) {
	if r.Err != nil {
		fmt.Fprintf(w, "printer not identified: %v\n", r.Err)
		return
	}
	for _, c := range r.Components {
		fmt.Fprintf(w, "%-6s %-24s %s\n", c.Component.ID, c.Component.Version, describe(c))
	}
}

func describe(c updater.ComponentReport) string {
	if c.Err != nil {
		return fmt.Sprintf("failed at %s: %v", c.Stage, c.Err)
	}
	var parts []string
	switch c.Result.Outcome {
	case firmware.UpToDate:
		parts = append(parts, "up to date")
	case firmware.Unrecognized:
		parts = append(parts, fmt.Sprintf("no update (server code %s)", c.Result.Code))
	case firmware.UpdateAvailable:
		parts = append(parts, "-> "+c.Result.Version)
		if c.Downgrade {
			parts = append(parts, "downgrade")
		}
		if c.File != "" {
			parts = append(parts, c.File)
		}
		if c.Uploaded {
			parts = append(parts, "uploaded")
		}
	}
	return strings.Join(parts, ", ")
}

// progressPrinter renders download progress on a terminal line.
type progressPrinter struct {
	w       io.Writer
	lastPct int
	lastMiB int64
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, lastPct: -1, lastMiB: -1}
}

func (p *progressPrinter) update(pr transfer.Progress) {
	pct, ok := pr.Percent()
	if !ok {
		if mib := pr.Written >> 20; mib != p.lastMiB {
			p.lastMiB = mib
			fmt.Fprintf(p.w, "downloaded %s\n", humanize.IBytes(uint64(pr.Written)))
		}
		return
	}
	if int(pct) == p.lastPct {
		return
	}
	p.lastPct = int(pct)
	fmt.Fprintf(p.w, "\r%3d%% %s / %s", p.lastPct, humanize.IBytes(uint64(pr.Written)), humanize.IBytes(uint64(pr.Total)))
	if p.lastPct == 100 {
		fmt.Fprintln(p.w)
		p.lastPct = -1
	}
}
