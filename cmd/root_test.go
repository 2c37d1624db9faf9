package cmd

import (
	"errors"
	"testing"

	"github.com/spf13/cobra"

	"github.com/caedis/wine-game-updater/internal/profile"
)

func TestUsageArgsWrapsValidationErrors(t *testing.T) {
	wrapped := usageArgs(cobra.ExactArgs(1))
	cmd := &cobra.Command{Use: "test"}

	if err := wrapped(cmd, []string{"ok"}); err != nil {
		t.Fatalf("usageArgs returned unexpected error for valid args: %v", err)
	}

	err := wrapped(cmd, nil)
	if err == nil {
		t.Fatalf("usageArgs should return an error for invalid args")
	}
	if !isUsageError(err) {
		t.Fatalf("usageArgs error should be marked as usage error: %v", err)
	}
}

func TestIsUsageError(t *testing.T) {
	if !isUsageError(wrapUsageError(errors.New("bad args"))) {
		t.Fatalf("wrapped usage error not detected")
	}
	if !isUsageError(errors.New(`unknown command "foo" for "wine-game-updater"`)) {
		t.Fatalf("unknown command error should be treated as usage error")
	}
	if isUsageError(errors.New("runtime failure")) {
		t.Fatalf("runtime failure should not be treated as usage error")
	}
}

func TestApplyProfileKeepsExplicitFlags(t *testing.T) {
	defer func(g, m string, v []string) { gameDir, manifestURL, voices = g, m, v }(gameDir, manifestURL, voices)

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&gameDir, "game-dir", "", "")
	cmd.Flags().StringVar(&manifestURL, "manifest-url", "", "")
	cmd.Flags().StringSliceVar(&voices, "voice", nil, "")
	if err := cmd.Flags().Parse([]string{"--game-dir", "/from/flag"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	fromProfile := "/from/profile"
	url := "https://cdn.example.test/manifest.json"
	applyProfile(cmd, &profile.Profile{
		GameDir:     &fromProfile,
		ManifestURL: &url,
		Voices:      []string{"en-us"},
	})

	if gameDir != "/from/flag" {
		t.Fatalf("explicit flag overridden: game-dir=%q", gameDir)
	}
	if manifestURL != url {
		t.Fatalf("profile value not applied: manifest-url=%q", manifestURL)
	}
	if len(voices) != 1 || voices[0] != "en-us" {
		t.Fatalf("profile voices not applied: %v", voices)
	}
}

func TestRunOptionsPrefixCommand(t *testing.T) {
	defer func(c string) { prefixCommand = c }(prefixCommand)

	prefixCommand = "wineboot  --init"
	opts := runOptions()
	if len(opts.PrefixCommand) != 2 || opts.PrefixCommand[1] != "--init" {
		t.Fatalf("unexpected prefix command: %q", opts.PrefixCommand)
	}

	prefixCommand = ""
	opts = runOptions()
	if opts.PrefixCommand == nil || len(opts.PrefixCommand) != 0 {
		t.Fatalf("empty prefix command must stay empty, got %#v", opts.PrefixCommand)
	}
}
