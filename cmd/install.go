package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/caedis/wine-game-updater/internal/install"
	"github.com/caedis/wine-game-updater/internal/logging"
	"github.com/caedis/wine-game-updater/internal/metrics"
	"github.com/caedis/wine-game-updater/internal/updater"
)

var (
	voices        []string
	patcher       string
	prefixCommand string
	sequential    bool
	retries       int
	metricsFile   string
	noProgress    bool
)

var installCmd = &cobra.Command{
	Use:     "install",
	Aliases: []string{"update"},
	Short:   "Install or update the game and its voice packs",
	Args:    usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		opts := runOptions()
		reg := prometheus.NewRegistry()
		if metricsFile != "" {
			opts.Metrics = metrics.New(reg)
		}
		attachUI(&opts)

		result, err := updater.Run(ctx, opts)
		if werr := writeMetrics(reg); werr != nil {
			logging.Warnf("%v", werr)
		}
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

func init() {
	addInstallFlags(installCmd)
	rootCmd.AddCommand(installCmd)
}

func addInstallFlags(c *cobra.Command) {
	c.Flags().StringSliceVar(&voices, "voice", nil, "Voice pack language to install, e.g. en-us (repeatable)")
	c.Flags().StringVar(&patcher, "hpatchz", "", "Path to the hpatchz binary (default: hpatchz on PATH)")
	c.Flags().StringVar(&prefixCommand, "prefix-command", "wineboot --init", "Command that initializes a new prefix; empty only creates the directory")
	c.Flags().BoolVar(&sequential, "sequential-postprocess", false, "Apply patches and remove outdated files one after the other")
	c.Flags().IntVar(&retries, "retries", 0, "Resume a failed download or unpack this many times")
	c.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics for the run to this file")
	c.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bars and the pause key")
}

func runOptions() updater.Options {
	cmdline := strings.Fields(prefixCommand)
	if cmdline == nil {
		cmdline = []string{}
	}
	return updater.Options{
		GameDir:       gameDir,
		PrefixDir:     prefixDir,
		ManifestURL:   manifestURL,
		CacheDir:      cacheDir,
		Voices:        voices,
		PrefixCommand: cmdline,
		Patcher:       patcher,
		Sequential:    sequential,
		Retries:       retries,
	}
}

var (
	keysOnce sync.Once
	keys     *keyControl
)

func attachUI(opts *updater.Options) {
	if noProgress {
		return
	}
	opts.Sink = newProgressSink(os.Stderr)
	if !interactive() {
		return
	}
	// One reader owns stdin for the whole process.
	keysOnce.Do(func() { keys = newKeyControl(os.Stdin, os.Stderr) })
	opts.Control = keys
}

func writeMetrics(reg *prometheus.Registry) error {
	if metricsFile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(metricsFile, reg); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", metricsFile, err)
	}
	return nil
}

func printResult(r *install.Result) {
	if !r.Updated {
		logging.Infoln("\nInstall complete: no game update needed.")
		return
	}
	logging.Infof("\nInstall complete: %s → %s", r.PreviousVersion, r.NewVersion)
}
