package updater

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-version"

	"github.com/caedis/wine-game-updater/internal/config"
	"github.com/caedis/wine-game-updater/internal/install"
	"github.com/caedis/wine-game-updater/internal/logging"
)

// Init starts tracking an existing installation: it provisions the prefix
// and records the installed game version without downloading anything.
// Voice packs listed in opts.Voices are recorded at the same version when
// voicesInstalled is set.
func Init(ctx context.Context, opts Options, gameVersion string, voicesInstalled, force bool) error {
	gameVersion = strings.TrimSpace(gameVersion)
	v, err := version.NewVersion(gameVersion)
	if err != nil {
		return fmt.Errorf("invalid game version %q: %w", gameVersion, err)
	}
	opts, err = normalizeLocalOptions(opts)
	if err != nil {
		return err
	}
	logging.Debugf("init start game=%q prefix=%q version=%s", opts.GameDir, opts.PrefixDir, v)

	existing, err := config.LoadOrEmpty(opts.GameDir)
	if err != nil {
		return err
	}
	if existing.Version != "" && !force {
		return fmt.Errorf("%s is already tracked at %s (use --force to overwrite)", opts.GameDir, existing.Version)
	}
	if info, err := os.Stat(opts.GameDir); err != nil || !info.IsDir() {
		return fmt.Errorf("game directory %s does not exist", opts.GameDir)
	}

	h, err := newProvisioner(opts).Ensure(ctx, opts.PrefixDir)
	if err != nil {
		return &install.ProvisioningError{Path: opts.PrefixDir, Err: err}
	}
	if h.Created {
		logging.Infof("Created prefix at %s", h.Path)
	}

	state := &config.LocalState{
		Version:   v.Original(),
		Voices:    existing.Voices,
		UpdatedAt: time.Now().UTC(),
	}
	if voicesInstalled {
		for _, lang := range opts.Voices {
			state.Voices[strings.ToLower(lang)] = v.Original()
		}
	}
	if err := state.Save(opts.GameDir); err != nil {
		return err
	}

	logging.Infof("Initialized tracking for %s at version %s", opts.GameDir, v.Original())
	return nil
}
