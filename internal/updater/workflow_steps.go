package updater

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/caedis/wine-game-updater/internal/game"
	"github.com/caedis/wine-game-updater/internal/install"
	"github.com/caedis/wine-game-updater/internal/logging"
	"github.com/caedis/wine-game-updater/internal/manifest"
	"github.com/caedis/wine-game-updater/internal/postprocess"
	"github.com/caedis/wine-game-updater/internal/prefix"
	"github.com/caedis/wine-game-updater/internal/voice"
)

// normalizeLocalOptions fills in what commands that never go online need.
func normalizeLocalOptions(opts Options) (Options, error) {
	if opts.GameDir == "" {
		return opts, errors.New("no game directory set (use --game-dir)")
	}
	if abs, err := filepath.Abs(opts.GameDir); err == nil {
		opts.GameDir = abs
	}
	if opts.PrefixDir == "" {
		opts.PrefixDir = filepath.Join(filepath.Dir(opts.GameDir), "prefix")
	}
	if opts.PrefixCommand == nil {
		opts.PrefixCommand = prefix.DefaultCommand
	}
	return opts, nil
}

func normalizeRunOptions(opts Options) (Options, error) {
	opts, err := normalizeLocalOptions(opts)
	if err != nil {
		return opts, err
	}
	if opts.ManifestURL == "" && opts.Source == nil {
		return opts, errors.New("no manifest URL set (use --manifest-url)")
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Source == nil {
		opts.Source = manifest.NewSource(opts.ManifestURL, opts.Client, 0)
	}
	opts.CacheDir = resolveCacheDirectory(opts)
	return opts, nil
}

func logRunStart(opts Options) {
	logging.Debugf(
		"install start game=%q prefix=%q manifest=%q cache=%q voices=%v sequential=%t retries=%d",
		opts.GameDir,
		opts.PrefixDir,
		opts.Source.URL,
		opts.CacheDir,
		opts.Voices,
		opts.Sequential,
		opts.Retries,
	)
}

// resolveCacheDirectory picks where archives are downloaded to. Without a
// usable cache directory they go next to the game directory.
func resolveCacheDirectory(opts Options) string {
	cacheDir := opts.CacheDir
	if cacheDir == "" {
		base := os.Getenv("XDG_CACHE_HOME")
		if base == "" {
			if home, err := os.UserHomeDir(); err == nil {
				base = filepath.Join(home, ".cache")
			}
		}
		if base != "" {
			cacheDir = filepath.Join(base, "wine-game-updater", "archives")
		}
	}
	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			logging.Warnf("could not create cache dir %s: %v (downloading next to the game)", cacheDir, err)
			cacheDir = ""
		}
	}
	if cacheDir == "" {
		cacheDir = filepath.Join(filepath.Dir(opts.GameDir), ".wine-game-updater-downloads")
	}
	logging.Debugf("cache directory=%q", cacheDir)
	return cacheDir
}

func newProvisioner(opts Options) *prefix.Provisioner {
	return prefix.New(&prefix.CommandCreator{Command: opts.PrefixCommand})
}

func newStages(opts Options) install.Stages {
	pipeline := postprocess.New(postprocess.HPatchz{Path: opts.Patcher}, opts.Sequential)
	return install.Stages{
		Environment: newProvisioner(opts),
		Versions:    &game.Resolver{GameDir: opts.GameDir},
		Updates: &game.Updater{
			GameDir:  opts.GameDir,
			CacheDir: opts.CacheDir,
			Source:   opts.Source,
			Client:   opts.Client,
		},
		PostProcess: pipeline,
		Assets: &voice.Installer{
			GameDir:     opts.GameDir,
			CacheDir:    opts.CacheDir,
			Languages:   opts.Voices,
			Source:      opts.Source,
			Client:      opts.Client,
			PostProcess: pipeline,
		},
	}
}

func newOrchestrator(opts Options) *install.Orchestrator {
	return install.New(opts.PrefixDir, opts.GameDir, newStages(opts),
		install.WithSink(opts.Sink),
		install.WithControl(opts.Control),
		install.WithMetrics(opts.Metrics),
		install.WithTransferRetries(opts.Retries),
	)
}
