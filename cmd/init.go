package cmd

import (
	"context"
	"fmt"

	"github.com/caedis/wine-game-updater/internal/updater"
	"github.com/spf13/cobra"
)

var (
	initVersion     string
	voicesInstalled bool
	initForce       bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Start tracking an existing game installation",
	Long: `Records the version of a game that is already installed in --game-dir and
provisions the wine prefix, without downloading anything.

With --voices-installed the packs given by --voice are recorded as present
at the same version, so the next install only fetches their diffs.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		if initVersion == "" {
			return wrapUsageError(fmt.Errorf("--version is required"))
		}
		return updater.Init(context.Background(), runOptions(), initVersion, voicesInstalled, initForce)
	},
}

func init() {
	initCmd.Flags().StringVar(&initVersion, "version", "", "Installed game version (e.g. 1.0.0)")
	initCmd.Flags().StringSliceVar(&voices, "voice", nil, "Voice pack language installed alongside the game (repeatable)")
	initCmd.Flags().BoolVar(&voicesInstalled, "voices-installed", false, "Record the --voice packs as installed at --version")
	initCmd.Flags().StringVar(&prefixCommand, "prefix-command", "wineboot --init", "Command that initializes a new prefix; empty only creates the directory")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing tracked version")
	rootCmd.AddCommand(initCmd)
}
