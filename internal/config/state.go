package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-version"
)

const StateFile = ".wine-game-updater.toml"

// ErrNoState is returned by Load when the game directory has no state file yet.
var ErrNoState = errors.New("no " + StateFile + " found")

type LocalState struct {
	Version   string            `toml:"version"`
	Voices    map[string]string `toml:"voices,omitempty"`
	UpdatedAt time.Time         `toml:"updated_at,omitempty"`
}

// Load reads the local state from the game directory.
func Load(gameDir string) (*LocalState, error) {
	path := filepath.Join(gameDir, StateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrNoState, gameDir)
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	var state LocalState
	if _, err := toml.Decode(string(data), &state); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	state.Version = strings.TrimSpace(state.Version)
	if state.Version != "" {
		if _, err := version.NewVersion(state.Version); err != nil {
			return nil, fmt.Errorf("parsing state: invalid version %q: %w", state.Version, err)
		}
	}
	if state.Voices == nil {
		state.Voices = make(map[string]string)
	}

	return &state, nil
}

// LoadOrEmpty is Load, except a missing state file yields an empty state.
func LoadOrEmpty(gameDir string) (*LocalState, error) {
	state, err := Load(gameDir)
	if errors.Is(err, ErrNoState) {
		return &LocalState{Voices: make(map[string]string)}, nil
	}
	return state, err
}

// Save writes the local state to the game directory using an atomic rename.
func (s *LocalState) Save(gameDir string) error {
	path := filepath.Join(gameDir, StateFile)

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	if err := os.MkdirAll(gameDir, 0o755); err != nil {
		return fmt.Errorf("creating game directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing state: %w", err)
	}

	return nil
}
