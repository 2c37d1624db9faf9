package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
	gocache "github.com/patrickmn/go-cache"

	"github.com/caedis/wine-game-updater/internal/logging"
)

// Manifest describes the installable game releases.
type Manifest struct {
	Game GameInfo `json:"game"`
}

type GameInfo struct {
	Latest Release `json:"latest"`
	// Diffs are archives that upgrade Version to Latest.Version.
	Diffs []Release `json:"diffs"`
}

// Release is one downloadable archive plus its voice packs. For diffs,
// Version is the version the diff applies on top of.
type Release struct {
	Version    string      `json:"version"`
	Path       string      `json:"path"`
	Size       int64       `json:"size"`
	MD5        string      `json:"md5"`
	VoicePacks []VoicePack `json:"voice_packs"`
}

type VoicePack struct {
	Language string `json:"language"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	MD5      string `json:"md5"`
}

// Diff returns the diff archive that upgrades from, if the manifest has one.
// Versions are compared semantically, so "1.0" matches "1.0.0".
func (g *GameInfo) Diff(from string) (Release, bool) {
	want, err := version.NewVersion(from)
	for _, d := range g.Diffs {
		if d.Version == from {
			return d, true
		}
		if err != nil {
			continue
		}
		if v, perr := version.NewVersion(d.Version); perr == nil && v.Equal(want) {
			return d, true
		}
	}
	return Release{}, false
}

// Voice returns the voice pack for a language.
func (r *Release) Voice(language string) (VoicePack, bool) {
	for _, v := range r.VoicePacks {
		if strings.EqualFold(v.Language, language) {
			return v, true
		}
	}
	return VoicePack{}, false
}

func (m *Manifest) validate() error {
	if m.Game.Latest.Version == "" {
		return errors.New("manifest has no latest version")
	}
	if m.Game.Latest.Path == "" {
		return errors.New("manifest has no latest archive path")
	}
	if _, err := version.NewVersion(m.Game.Latest.Version); err != nil {
		return fmt.Errorf("invalid latest version %q: %w", m.Game.Latest.Version, err)
	}
	return nil
}

// Fetch downloads and parses the release manifest.
func Fetch(ctx context.Context, client *http.Client, url string) (*Manifest, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching manifest: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	return &m, nil
}

// DefaultTTL bounds how long a fetched manifest is reused within a process.
const DefaultTTL = 5 * time.Minute

// Source fetches the manifest once and shares it between the update and
// voice stages of a run.
type Source struct {
	URL    string
	Client *http.Client

	cache *gocache.Cache
}

func NewSource(url string, client *http.Client, ttl time.Duration) *Source {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Source{URL: url, Client: client, cache: gocache.New(ttl, 2*ttl)}
}

// Get returns the cached manifest or fetches a fresh one.
func (s *Source) Get(ctx context.Context) (*Manifest, error) {
	if s.URL == "" {
		return nil, errors.New("no manifest URL configured")
	}
	if v, ok := s.cache.Get(s.URL); ok {
		return v.(*Manifest), nil
	}
	logging.Infoln("Fetching release manifest...")
	m, err := Fetch(ctx, s.Client, s.URL)
	if err != nil {
		return nil, err
	}
	logging.Debugf("fetched manifest latest=%s diffs=%d voice-packs=%d", m.Game.Latest.Version, len(m.Game.Diffs), len(m.Game.Latest.VoicePacks))
	s.cache.SetDefault(s.URL, m)
	return m, nil
}

// Invalidate drops the cached manifest.
func (s *Source) Invalidate() {
	s.cache.Delete(s.URL)
}

// ResolveURL turns an archive path from the manifest into an absolute URL.
// Relative paths are resolved against the manifest's own URL.
func (s *Source) ResolveURL(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parsing archive path %q: %w", path, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(s.URL)
	if err != nil {
		return "", fmt.Errorf("parsing manifest URL: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
