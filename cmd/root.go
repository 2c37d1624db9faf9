package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caedis/wine-game-updater/internal/logging"
	"github.com/caedis/wine-game-updater/internal/profile"
	"github.com/spf13/cobra"
)

var (
	gameDir     string
	prefixDir   string
	manifestURL string
	cacheDir    string
	profileName string
	verbose     bool
	logFile     string
)

var rootCmd = &cobra.Command{
	Use:           "wine-game-updater",
	Short:         "Install and update a game inside a wine prefix",
	Long:          "Provision a wine prefix, install or update a game from its release manifest, apply patches and install voice packs.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Apply profile and environment defaults for flags not explicitly set by the user.
		p, err := profile.Load(profileName)
		if err != nil {
			return err
		}
		applyProfile(cmd, p)

		logging.SetVerbose(verbose)
		if err := logging.SetOutputFile(logFile); err != nil {
			return fmt.Errorf("opening log file %q: %w", logFile, err)
		}
		return nil
	},
}

func applyProfile(cmd *cobra.Command, p *profile.Profile) {
	changed := cmd.Flags().Changed
	if p.GameDir != nil && !changed("game-dir") {
		gameDir = *p.GameDir
	}
	if p.PrefixDir != nil && !changed("prefix") {
		prefixDir = *p.PrefixDir
	}
	if p.ManifestURL != nil && !changed("manifest-url") {
		manifestURL = *p.ManifestURL
	}
	if p.CacheDir != nil && !changed("cache-dir") {
		cacheDir = *p.CacheDir
	}
	if p.Voices != nil && !changed("voice") {
		voices = p.Voices
	}
	if p.PrefixCommand != nil && !changed("prefix-command") {
		prefixCommand = *p.PrefixCommand
	}
	if p.Patcher != nil && !changed("hpatchz") {
		patcher = *p.Patcher
	}
	if p.Sequential != nil && !changed("sequential-postprocess") {
		sequential = *p.Sequential
	}
	if p.Retries != nil && !changed("retries") {
		retries = *p.Retries
	}
	if p.MetricsFile != nil && !changed("metrics-file") {
		metricsFile = *p.MetricsFile
	}
	if p.Verbose != nil && !changed("verbose") {
		verbose = *p.Verbose
	}
	if p.LogFile != nil && !changed("log-file") {
		logFile = *p.LogFile
	}
}

func Execute() {
	err := rootCmd.Execute()
	closeErr := logging.Close()
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "Error closing log file: %v\n", closeErr)
		if err == nil {
			os.Exit(1)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if isUsageError(err) {
			if cmd, _, findErr := rootCmd.Find(os.Args[1:]); findErr == nil && cmd != nil {
				_ = cmd.Usage()
			} else {
				_ = rootCmd.Usage()
			}
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return wrapUsageError(err)
	})

	rootCmd.PersistentFlags().StringVarP(&gameDir, "game-dir", "d", "", "Game installation directory")
	rootCmd.PersistentFlags().StringVarP(&prefixDir, "prefix", "p", "", "Wine prefix directory (default: <game-dir>/../prefix)")
	rootCmd.PersistentFlags().StringVar(&manifestURL, "manifest-url", "", "URL of the release manifest")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "Directory for downloaded archives (default: ~/.cache/wine-game-updater/archives/)")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Load a saved option profile by name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write command output to a log file")
}

type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func wrapUsageError(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if validate == nil {
			return nil
		}
		if err := validate(cmd, args); err != nil {
			return wrapUsageError(err)
		}
		return nil
	}
}

func isUsageError(err error) bool {
	var ue *usageError
	if errors.As(err, &ue) {
		return true
	}

	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command ")
}
