// Package voice installs the language voice packs that depend on the
// installed game version.
package voice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/caedis/wine-game-updater/internal/config"
	"github.com/caedis/wine-game-updater/internal/game"
	"github.com/caedis/wine-game-updater/internal/install"
	"github.com/caedis/wine-game-updater/internal/logging"
	"github.com/caedis/wine-game-updater/internal/manifest"
	"github.com/caedis/wine-game-updater/internal/stream"
)

// ErrGameNotInstalled is returned when voice packs are requested before the
// game itself has been installed.
var ErrGameNotInstalled = errors.New("game is not installed")

type Installer struct {
	GameDir   string
	CacheDir  string
	Languages []string
	Source    *manifest.Source
	Client    *http.Client
	// PostProcess runs over the game directory after each pack is unpacked.
	PostProcess install.PostProcessor
}

// Install brings every configured language up to the installed game
// version. Packs already current are skipped.
func (i *Installer) Install(ctx context.Context, ic *install.Context, b stream.Binding) error {
	if len(i.Languages) == 0 {
		return nil
	}

	state, err := config.LoadOrEmpty(i.GameDir)
	if err != nil {
		return err
	}
	if state.Version == "" {
		return ErrGameNotInstalled
	}

	m, err := i.Source.Get(ctx)
	if err != nil {
		return err
	}
	latest := m.Game.Latest
	if latest.Version != state.Version {
		logging.Warnf("installed game %s differs from latest %s; installing %s voice packs", state.Version, latest.Version, latest.Version)
	}

	for _, lang := range i.Languages {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if lang == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := i.installLanguage(ctx, ic, b, m, state.Voices[lang], lang); err != nil {
			return fmt.Errorf("voice pack %s: %w", lang, err)
		}
	}
	return nil
}

func (i *Installer) installLanguage(ctx context.Context, ic *install.Context, b stream.Binding, m *manifest.Manifest, have, lang string) error {
	latest := m.Game.Latest
	if have == latest.Version {
		logging.Debugf("voice pack %s already at %s", lang, have)
		return nil
	}

	pack, ok := latest.Voice(lang)
	if !ok {
		return fmt.Errorf("manifest has no voice pack for language %q", lang)
	}
	if have != "" {
		if d, ok := m.Game.Diff(have); ok {
			if dp, ok := d.Voice(lang); ok {
				pack = dp
				logging.Infof("Using %s voice diff %s -> %s", lang, have, latest.Version)
			}
		}
	}

	src, err := i.Source.ResolveURL(pack.Path)
	if err != nil {
		return err
	}
	archive := game.Archive{URL: src, Size: pack.Size, MD5: pack.MD5, CacheDir: i.CacheDir, Dest: i.GameDir}
	s, err := game.NewStream(fmt.Sprintf("%s voice %s", lang, latest.Version), i.Client, archive, func() error {
		return i.recordVoice(lang, latest.Version)
	})
	if err != nil {
		return err
	}

	logging.Infof("Installing %s voice pack %s...", lang, latest.Version)
	untrack := b.Watch(s)
	err = s.Run(ctx, b)
	untrack()
	if err != nil {
		return err
	}
	if i.PostProcess != nil {
		return i.PostProcess.Run(ctx, ic)
	}
	return nil
}

func (i *Installer) recordVoice(lang, v string) error {
	state, err := config.LoadOrEmpty(i.GameDir)
	if err != nil {
		return err
	}
	state.Voices[lang] = v
	return state.Save(i.GameDir)
}
