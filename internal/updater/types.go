package updater

import (
	"net/http"

	"github.com/caedis/wine-game-updater/internal/install"
	"github.com/caedis/wine-game-updater/internal/manifest"
	"github.com/caedis/wine-game-updater/internal/metrics"
	"github.com/caedis/wine-game-updater/internal/stream"
)

type Options struct {
	GameDir     string
	PrefixDir   string
	ManifestURL string
	CacheDir    string
	Voices      []string
	// PrefixCommand creates a new prefix; nil means wineboot --init.
	PrefixCommand []string
	Patcher       string
	Sequential    bool
	Retries       int

	Client *http.Client
	// Source is shared between runs that use the same manifest; nil
	// creates one from ManifestURL.
	Source  *manifest.Source
	Sink    stream.ProgressSink
	Control install.ControlSurface
	Metrics *metrics.Metrics
	// Started, if set, receives the orchestrator before it runs.
	Started func(*install.Orchestrator)
}

// StatusReport is what the status command prints.
type StatusReport struct {
	Installed   string
	Latest      string
	UpToDate    bool
	Voices      map[string]string
	PrefixReady bool
}
