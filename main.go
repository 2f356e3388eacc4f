package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func printFatalError(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "savedl [option]... <source> <dest_dir>",
		Short: "Downloads the media linked by saved reddit posts.",
		Long: `Downloads the media linked by saved reddit posts.

<source> is a bdfr archive directory (--format=archive), a yaml/json list of
{url, is_self} records (--format=manifest) or a text file of links
(--format=links). With --format=failures, the items that failed in earlier runs
are retried and only <dest_dir> is given.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile, cmd.Flags(), args)
			if err != nil {
				return err
			}
			if cfg.Verbose {
				log.SetLevel(log.DebugLevel)
			}
			if err := cfg.validate(); err != nil {
				cmd.PrintErrln(cmd.UsageString())
				return err
			}

			sum, err := runDownload(cmd.Context(), cfg)
			fmt.Printf("stored=%d skipped=%d failed=%d unsupported=%d\n",
				sum.Stored, sum.Skipped, sum.Failed, sum.Unsupported)
			if errors.Is(err, context.Canceled) {
				log.Warn("interrupted; in-flight downloads were abandoned")
				return nil
			}
			return err
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./savedl.yaml)")
	root.PersistentFlags().String("history-dir", "", "directory of the outcome ledger")
	root.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	root.Flags().StringP("format", "f", FormatArchive, "source format: archive, manifest, links or failures")
	root.Flags().IntP("jobs", "j", 4, "jobs")
	root.Flags().String("metrics-addr", "", "serve prometheus metrics on this address")

	failures := &cobra.Command{
		Use:   "failures",
		Short: "Lists the saved items that failed in earlier runs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile, cmd.Flags(), nil)
			if err != nil {
				return err
			}
			if cfg.Verbose {
				log.SetLevel(log.DebugLevel)
			}
			return listFailures(cmd.Context(), cfg)
		},
	}
	root.AddCommand(failures)

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		printFatalError(err)
		stop()
		os.Exit(1)
	}
}
