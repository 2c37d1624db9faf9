package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/caedis/wine-game-updater/internal/install"
	"github.com/caedis/wine-game-updater/internal/logging"
	"github.com/caedis/wine-game-updater/internal/manifest"
	"github.com/caedis/wine-game-updater/internal/metrics"
	"github.com/caedis/wine-game-updater/internal/profile"
	"github.com/caedis/wine-game-updater/internal/updater"
)

var installAllCmd = &cobra.Command{
	Use:   "install-all <profile> [profile...]",
	Short: "Install multiple profiles sequentially, fetching each manifest only once",
	Args:  usageArgs(cobra.MinimumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		type profileResult struct {
			name   string
			result *install.Result
			err    error
		}
		results := make([]profileResult, 0, len(args))
		sources := make(map[string]*manifest.Source)
		reg := prometheus.NewRegistry()
		var m *metrics.Metrics
		if metricsFile != "" {
			m = metrics.New(reg)
		}

		var firstErr error
		for _, name := range args {
			res, err := installProfile(ctx, cmd, name, sources, m)
			results = append(results, profileResult{name: name, result: res, err: err})
			if err != nil {
				logging.Infof("  Error: %v", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			printResult(res)
		}

		// Overall summary table.
		logging.Infoln("\n=== Summary ===")
		for _, r := range results {
			if r.err != nil {
				logging.Infof("  %-20s  ERROR  %v", r.name, r.err)
				continue
			}
			to := r.result.NewVersion
			if !r.result.Updated {
				to = r.result.PreviousVersion
			}
			logging.Infof("  %-20s  OK     %s → %s", r.name, r.result.PreviousVersion, to)
		}

		if err := writeMetrics(reg); err != nil {
			logging.Warnf("%v", err)
		}
		return firstErr
	},
}

func installProfile(ctx context.Context, cmd *cobra.Command, name string, sources map[string]*manifest.Source, m *metrics.Metrics) (*install.Result, error) {
	p, err := profile.Load(name)
	if err != nil {
		return nil, err
	}
	if p.GameDir == nil {
		return nil, fmt.Errorf("profile %q has no game-dir set", name)
	}

	// CLI flags win over profile values.
	opts := runOptions()
	opts.GameDir = *p.GameDir
	opts.PrefixDir = ""
	if p.PrefixDir != nil {
		opts.PrefixDir = *p.PrefixDir
	}
	if p.ManifestURL != nil && !cmd.Flags().Changed("manifest-url") {
		opts.ManifestURL = *p.ManifestURL
	}
	if p.CacheDir != nil && !cmd.Flags().Changed("cache-dir") {
		opts.CacheDir = *p.CacheDir
	}
	if p.Voices != nil && !cmd.Flags().Changed("voice") {
		opts.Voices = p.Voices
	}
	if p.PrefixCommand != nil && !cmd.Flags().Changed("prefix-command") {
		opts.PrefixCommand = strings.Fields(*p.PrefixCommand)
		if opts.PrefixCommand == nil {
			opts.PrefixCommand = []string{}
		}
	}
	if p.Patcher != nil && !cmd.Flags().Changed("hpatchz") {
		opts.Patcher = *p.Patcher
	}
	if p.Sequential != nil && !cmd.Flags().Changed("sequential-postprocess") {
		opts.Sequential = *p.Sequential
	}
	if p.Retries != nil && !cmd.Flags().Changed("retries") {
		opts.Retries = *p.Retries
	}

	if src, ok := sources[opts.ManifestURL]; ok {
		opts.Source = src
	} else if opts.ManifestURL != "" {
		opts.Source = manifest.NewSource(opts.ManifestURL, http.DefaultClient, 0)
		sources[opts.ManifestURL] = opts.Source
	}

	// Per-profile verbose setting; CLI wins.
	profileVerbose := verbose
	if p.Verbose != nil && !cmd.Flags().Changed("verbose") {
		profileVerbose = *p.Verbose
	}
	logging.SetVerbose(profileVerbose)

	logging.Infof("\n=== Profile %q (%s) ===", name, opts.GameDir)
	opts.Metrics = m
	attachUI(&opts)
	return updater.Run(ctx, opts)
}

func init() {
	addInstallFlags(installAllCmd)
	rootCmd.AddCommand(installAllCmd)
}
