package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nmasdoufi/brfwupd/pkg/logging"
	"github.com/nmasdoufi/brfwupd/pkg/simulator"
)

var (
	listenAddr string
	name       string
	note       string
	advertise  bool
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:          "printersim",
	Short:        "Accepts PDL datastream jobs like a printer and prints their size and SHA-512.",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", ":9100", "TCP address to accept jobs on")
	rootCmd.Flags().StringVar(&name, "name", "printersim", "mDNS instance name")
	rootCmd.Flags().StringVar(&note, "note", "simulated printer", "mDNS note TXT record")
	rootCmd.Flags().BoolVar(&advertise, "mdns", false, "advertise the printer over mDNS")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "print debug messages")
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

func run(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if debug {
		level = logging.LevelDebug
	}
	log, err := logging.New("", "console", level)
	if err != nil {
		return err
	}
	defer log.Close()

	printer, err := simulator.Listen(listenAddr, name, log)
	if err != nil {
		return err
	}
	defer printer.Close()
	if advertise {
		if err := printer.Advertise(note); err != nil {
			return err
		}
	}
	log.Infof("accepting jobs on %s (uuid %s)", printer.Addr(), printer.UUID)

	ctx := cmd.Context()
	for {
		job, err := printer.Next(ctx)
		if err != nil {
			return nil
		}
		if job.Err != nil {
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", job.Remote, job.Size, job.SHA512)
	}
}
