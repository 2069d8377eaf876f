package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nmasdoufi/brfwupd/pkg/config"
	"github.com/nmasdoufi/brfwupd/pkg/discovery"
	"github.com/nmasdoufi/brfwupd/pkg/firmware"
	"github.com/nmasdoufi/brfwupd/pkg/inventory"
	"github.com/nmasdoufi/brfwupd/pkg/logging"
	"github.com/nmasdoufi/brfwupd/pkg/snmpinfo"
	"github.com/nmasdoufi/brfwupd/pkg/transfer"
	"github.com/nmasdoufi/brfwupd/pkg/updater"
)

// options holds the values of the persistent flags.
type options struct {
	configPath   string
	printer      string
	debug        bool
	community    string
	snmpPort     int
	pdlPort      int
	model        string
	serial       string
	spec         string
	fw           []string
	osName       string
	fwDir        string
	downloadOnly bool
	yes          bool
}

var opts options

var rootCmd = &cobra.Command{
	Use:   "brfwupd",
	Short: "Updates the firmware of Brother printers over the network.",
	Long: `brfwupd reads the printer's model and firmware versions over SNMP, asks the
Brother update API for newer firmware, downloads it and sends it to the
printer's PDL datastream port.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUpdate(cmd, opts.downloadOnly)
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "path to a TOML or JSON config file")
	f.StringVarP(&opts.printer, "ip", "p", "", "IP address or host name of the printer (discovered over mDNS when empty)")
	f.StringVar(&opts.printer, "printer", "", "alias of --ip")
	f.BoolVarP(&opts.debug, "debug", "d", false, "print debug messages")
	f.StringVarP(&opts.community, "community", "c", "public", "SNMP v2c community string")
	f.IntVar(&opts.snmpPort, "snmp-port", config.DefaultPort("snmp"), "SNMP port of the printer")
	f.IntVar(&opts.pdlPort, "pdl-ds-port", config.DefaultPort("pdl-datastream"), "PDL datastream port of the printer")
	f.StringVar(&opts.model, "model", "", "skip SNMP and use this model (e.g. MFC-9332CDW)")
	f.StringVar(&opts.serial, "serial", "", "skip SNMP and use this serial number")
	f.StringVar(&opts.spec, "spec", "", "skip SNMP and use this spec (e.g. 0403)")
	f.StringSliceVar(&opts.fw, "fw", nil, "skip SNMP and use these firmware versions (ID@VERSION, repeatable)")
	f.StringVar(&opts.osName, "os", "", "operating system reported to the update API (WINDOWS, MAC, LINUX)")
	f.StringVarP(&opts.fwDir, "fw-dir", "o", ".", "directory for downloaded firmware files")
	f.BoolVarP(&opts.yes, "yes", "y", false, "do not ask before continuing with the next component")
	rootCmd.Flags().BoolVar(&opts.downloadOnly, "download-only", false, "download the firmware without sending it to the printer")

	rootCmd.AddCommand(snmpCmd, downloadCmd, uploadCmd, discoverCmd, watchCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the wired pipeline for one invocation.
type app struct {
	cfg    *config.Config
	log    *logging.Logger
	os     inventory.OS
	prompt *prompter
	// pdlPortSet keeps an explicit --pdl-ds-port over the advertised port
	pdlPortSet bool
}

// setup loads the config file and lets explicitly set flags override it.
func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("ip") || flags.Changed("printer") {
		cfg.Printer.Address = opts.printer
	}
	if flags.Changed("community") {
		cfg.Printer.Community = opts.community
	}
	if flags.Changed("snmp-port") {
		cfg.Printer.SNMPPort = opts.snmpPort
	}
	if flags.Changed("pdl-ds-port") {
		cfg.Printer.PDLPort = opts.pdlPort
	}
	if flags.Changed("fw-dir") {
		cfg.Firmware.Dir = opts.fwDir
	}
	if flags.Changed("os") {
		cfg.Firmware.OS = opts.osName
	}
	if flags.Changed("download-only") {
		cfg.Firmware.DownloadOnly = opts.downloadOnly
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Logging.Path, cfg.Logging.Format, logging.ParseLevel(cfg.Logging.Level))
	if err != nil {
		return nil, err
	}
	reportedOS := inventory.RunningOS()
	if cfg.Firmware.OS != "" {
		if reportedOS, err = inventory.ParseOS(cfg.Firmware.OS); err != nil {
			log.Close()
			return nil, err
		}
	}
	return &app{
		cfg:        cfg,
		log:        log,
		os:         reportedOS,
		prompt:     newPrompter(os.Stdin, os.Stderr),
		pdlPortSet: flags.Changed("pdl-ds-port"),
	}, nil
}

func (a *app) updater() *updater.Updater {
	timeout := a.cfg.Firmware.Timeout.Duration
	progress := newProgressPrinter(os.Stderr)
	return updater.New(a.log,
		snmpinfo.NewResolver(a.log),
		firmware.NewClient(a.log, firmware.WithEndpoint(a.cfg.Firmware.Endpoint), firmware.WithTimeout(timeout)),
		transfer.NewDownloader(a.log, timeout, transfer.WithProgress(progress.update)),
		transfer.NewUploader(a.log, timeout),
	)
}

// target builds the updater target. When neither an address nor a complete
// identity for a download-only run is available, the printer is discovered
// over mDNS and chosen interactively.
func (a *app) target(ctx context.Context, downloadOnly bool) (updater.Target, error) {
	id, err := inventory.IdentityFromArgs(opts.model, opts.serial, opts.spec, opts.fw)
	if err != nil {
		return updater.Target{}, err
	}
	t := updater.Target{
		Address:   a.cfg.Printer.Address,
		Community: a.cfg.Printer.Community,
		SNMPPort:  uint16(a.cfg.Printer.SNMPPort),
		PDLPort:   a.cfg.Printer.PDLPort,
		Identity:  id,
	}
	if t.Address != "" || (downloadOnly && id.Complete()) {
		return t, nil
	}
	c, err := a.discover(ctx)
	if err != nil {
		return t, err
	}
	t.Address = c.Address
	if !a.pdlPortSet && c.Port > 0 {
		t.PDLPort = c.Port
	}
	return t, nil
}

func (a *app) discover(ctx context.Context) (discovery.Candidate, error) {
	a.log.Infof("no printer address given, looking for printers over mDNS")
	candidates, err := discovery.NewBrowser(a.log, 0, nil).Discover(ctx)
	if err != nil {
		return discovery.Candidate{}, err
	}
	return a.prompt.selectCandidate(candidates)
}

func runUpdate(cmd *cobra.Command, downloadOnly bool) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.log.Close()
	downloadOnly = downloadOnly || a.cfg.Firmware.DownloadOnly

	if err := os.MkdirAll(a.cfg.Firmware.Dir, 0o755); err != nil {
		return fmt.Errorf("create firmware dir: %w", err)
	}
	t, err := a.target(cmd.Context(), downloadOnly)
	if err != nil {
		return err
	}
	runOpts := updater.Options{
		OS:           a.os,
		DestDir:      a.cfg.Firmware.Dir,
		DownloadOnly: downloadOnly,
	}
	if !opts.yes {
		runOpts.Confirm = func(updater.ComponentReport) bool {
			return a.prompt.confirm("Continue with the next firmware component?")
		}
	}
	report := a.updater().Run(cmd.Context(), t, runOpts)
	printReport(cmd.OutOrStdout(), report)
	if err := report.ErrorOrNil(); err != nil {
		return fmt.Errorf("firmware update incomplete: %w", err)
	}
	return nil
}
