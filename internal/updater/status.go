package updater

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/hashicorp/go-version"

	"github.com/caedis/wine-game-updater/internal/config"
	"github.com/caedis/wine-game-updater/internal/logging"
)

// Status shows the installed version against the latest available one.
func Status(ctx context.Context, opts Options) (*StatusReport, error) {
	opts, err := normalizeRunOptions(opts)
	if err != nil {
		return nil, err
	}

	state, err := config.LoadOrEmpty(opts.GameDir)
	if err != nil {
		return nil, err
	}
	ready, err := newProvisioner(opts).Exists(opts.PrefixDir)
	if err != nil {
		return nil, err
	}

	m, err := opts.Source.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest: %w", err)
	}

	report := &StatusReport{
		Installed:   state.Version,
		Latest:      m.Game.Latest.Version,
		Voices:      state.Voices,
		PrefixReady: ready,
	}
	if state.Version != "" {
		installed, err := version.NewVersion(state.Version)
		if err != nil {
			return nil, err
		}
		latest, err := version.NewVersion(m.Game.Latest.Version)
		if err != nil {
			return nil, err
		}
		report.UpToDate = !installed.LessThan(latest)
	}

	installed := report.Installed
	if installed == "" {
		installed = "not installed"
	}
	prefixState := "missing"
	if ready {
		prefixState = "ready"
	}
	logging.Infof("Prefix:    %s (%s)", opts.PrefixDir, prefixState)
	logging.Infof("Installed: %s", installed)
	logging.Infof("Latest:    %s", report.Latest)
	for _, lang := range slices.Sorted(maps.Keys(report.Voices)) {
		logging.Infof("Voice:     %s %s", lang, report.Voices[lang])
	}
	if report.UpToDate {
		logging.Infoln("\nAlready up to date.")
	}

	return report, nil
}
