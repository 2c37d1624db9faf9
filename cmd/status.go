package cmd

import (
	"context"

	"github.com/caedis/wine-game-updater/internal/updater"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show installed vs latest version and prefix state",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := updater.Status(context.Background(), runOptions())
		return err
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
