package cmd

import (
	"bytes"

	"github.com/BurntSushi/toml"
	"github.com/caedis/wine-game-updater/internal/logging"
	"github.com/caedis/wine-game-updater/internal/profile"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage saved option profiles",
}

// Flags for profile create
var (
	profGameDir       *string
	profPrefixDir     *string
	profManifestURL   *string
	profCacheDir      *string
	profVoices        *[]string
	profPrefixCommand *string
	profPatcher       *string
	profSequential    *bool
	profRetries       *int
	profMetricsFile   *string
	profVerbose       *bool
)

var profileCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new profile",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newProfileFromFlags(cmd)
		if err := profile.Save(args[0], p); err != nil {
			return err
		}
		logging.Infof("Profile %q saved to %s", args[0], profile.Dir())
		return nil
	},
}

func newProfileFromFlags(cmd *cobra.Command) *profile.Profile {
	changed := cmd.Flags().Changed
	p := &profile.Profile{}
	if changed("game-dir") {
		p.GameDir = profGameDir
	}
	if changed("prefix") {
		p.PrefixDir = profPrefixDir
	}
	if changed("manifest-url") {
		p.ManifestURL = profManifestURL
	}
	if changed("cache-dir") {
		p.CacheDir = profCacheDir
	}
	if changed("voice") {
		p.Voices = *profVoices
	}
	if changed("prefix-command") {
		p.PrefixCommand = profPrefixCommand
	}
	if changed("hpatchz") {
		p.Patcher = profPatcher
	}
	if changed("sequential-postprocess") {
		p.Sequential = profSequential
	}
	if changed("retries") {
		p.Retries = profRetries
	}
	if changed("metrics-file") {
		p.MetricsFile = profMetricsFile
	}
	if changed("verbose") {
		p.Verbose = profVerbose
	}
	if changed("log-file") {
		p.LogFile = &logFile
	}
	return p
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved profiles",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := profile.List()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			logging.Infoln("No profiles saved.")
			return nil
		}
		for _, n := range names {
			logging.Infoln(n)
		}
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a profile's contents, including environment overrides",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := profile.Load(args[0])
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(p); err != nil {
			return err
		}
		logging.Infof("%s", buf.String())
		return nil
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a saved profile",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := profile.Delete(args[0]); err != nil {
			return err
		}
		logging.Infof("Profile %q deleted.", args[0])
		return nil
	},
}

func init() {
	// Wire up flags for create. We use local variables so they only apply to
	// this subcommand and don't collide with the root/install flags.
	f := profileCreateCmd.Flags()
	profGameDir = f.String("game-dir", "", "Game installation directory")
	profPrefixDir = f.String("prefix", "", "Wine prefix directory")
	profManifestURL = f.String("manifest-url", "", "URL of the release manifest")
	profCacheDir = f.String("cache-dir", "", "Directory for downloaded archives")
	profVoices = f.StringSlice("voice", nil, "Voice pack language (repeatable)")
	profPrefixCommand = f.String("prefix-command", "wineboot --init", "Command that initializes a new prefix")
	profPatcher = f.String("hpatchz", "", "Path to the hpatchz binary")
	profSequential = f.Bool("sequential-postprocess", false, "Run post-processing units one after the other")
	profRetries = f.Int("retries", 0, "Transfer retries")
	profMetricsFile = f.String("metrics-file", "", "Prometheus metrics output file")
	profVerbose = f.Bool("verbose", false, "Enable verbose logging")

	profileCmd.AddCommand(profileCreateCmd, profileListCmd, profileShowCmd, profileDeleteCmd)
	rootCmd.AddCommand(profileCmd)
}
