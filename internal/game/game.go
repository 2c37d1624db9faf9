// Package game resolves the installed game version and builds the update
// stream from the release manifest.
package game

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-version"

	"github.com/caedis/wine-game-updater/internal/config"
	"github.com/caedis/wine-game-updater/internal/install"
	"github.com/caedis/wine-game-updater/internal/logging"
	"github.com/caedis/wine-game-updater/internal/manifest"
	"github.com/caedis/wine-game-updater/internal/stream"
)

// Resolver reads the installed version from the game directory's state file.
type Resolver struct {
	GameDir string
}

// Current returns nil when nothing has been installed yet.
func (r *Resolver) Current(ctx context.Context) (*version.Version, error) {
	state, err := config.Load(r.GameDir)
	if errors.Is(err, config.ErrNoState) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if state.Version == "" {
		return nil, nil
	}
	return version.NewVersion(state.Version)
}

// Updater builds the stream that brings the game to the latest release.
type Updater struct {
	GameDir  string
	CacheDir string
	Source   *manifest.Source
	Client   *http.Client
}

// Latest returns the newest version the manifest offers.
func (u *Updater) Latest(ctx context.Context) (*version.Version, error) {
	m, err := u.Source.Get(ctx)
	if err != nil {
		return nil, err
	}
	return version.NewVersion(m.Game.Latest.Version)
}

// Resolve returns install.ErrAlreadyCurrent when prev is not older than the
// latest release. Otherwise the stream downloads the diff archive for prev
// if there is one and the full archive if not.
func (u *Updater) Resolve(ctx context.Context, prev *version.Version) (*stream.Stream, error) {
	m, err := u.Source.Get(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := version.NewVersion(m.Game.Latest.Version)
	if err != nil {
		return nil, fmt.Errorf("parsing latest version: %w", err)
	}
	if prev != nil && !prev.LessThan(latest) {
		return nil, install.ErrAlreadyCurrent
	}

	rel := m.Game.Latest
	if prev != nil {
		if d, ok := m.Game.Diff(prev.Original()); ok {
			rel = d
			logging.Infof("Using diff archive %s -> %s", prev.Original(), latest.Original())
		} else {
			logging.Infof("No diff from %s; downloading full archive", prev.Original())
		}
	}

	src, err := u.Source.ResolveURL(rel.Path)
	if err != nil {
		return nil, err
	}
	target := m.Game.Latest.Version
	archive := Archive{URL: src, Size: rel.Size, MD5: rel.MD5, CacheDir: u.CacheDir, Dest: u.GameDir}

	return NewStream(target, u.Client, archive, func() error {
		return u.recordVersion(target)
	})
}

func (u *Updater) recordVersion(v string) error {
	state, err := config.LoadOrEmpty(u.GameDir)
	if err != nil {
		return err
	}
	state.Version = v
	state.UpdatedAt = time.Now().UTC()
	if err := state.Save(u.GameDir); err != nil {
		return err
	}
	logging.Debugf("recorded game version %s", v)
	return nil
}
