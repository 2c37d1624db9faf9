// Package prefix provisions the wine prefix the game runs in.
package prefix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/caedis/wine-game-updater/internal/logging"
)

// MarkerFile is written last during creation; its presence is what makes
// a directory a provisioned environment.
const MarkerFile = ".prefix.toml"

// legacyMarker identifies prefixes created by wine outside this tool.
const legacyMarker = "system.reg"

// ErrNotEnvironment is returned for a non-empty directory that is neither
// provisioned by us nor a wine prefix.
var ErrNotEnvironment = errors.New("directory exists but is not a provisioned environment")

type Marker struct {
	ID        string    `toml:"id"`
	Creator   string    `toml:"creator"`
	CreatedAt time.Time `toml:"created_at"`
}

// Handle refers to a ready environment.
type Handle struct {
	Path string
	// Created is true when this call created the environment.
	Created bool
	// Marker is nil for legacy prefixes.
	Marker *Marker
}

// Creator builds a fresh environment at path.
type Creator interface {
	Name() string
	Create(ctx context.Context, path string) error
}

type Provisioner struct {
	Creator Creator
}

func New(c Creator) *Provisioner {
	if c == nil {
		c = &CommandCreator{}
	}
	return &Provisioner{Creator: c}
}

// Exists reports whether path holds a ready environment.
func (p *Provisioner) Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", path, err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("checking %s: not a directory", path)
	}
	for _, name := range []string{MarkerFile, legacyMarker} {
		if _, err := os.Stat(filepath.Join(path, name)); err == nil {
			return true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("checking %s: %w", path, err)
		}
	}
	return false, nil
}

// Ensure returns a handle to the environment at path, creating it first
// when needed. A failed creation removes what it left behind.
func (p *Provisioner) Ensure(ctx context.Context, path string) (*Handle, error) {
	exists, err := p.Exists(path)
	if err != nil {
		return nil, err
	}
	if exists {
		m, err := ReadMarker(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		logging.Debugf("environment ready path=%s", path)
		return &Handle{Path: path, Marker: m}, nil
	}

	empty, err := emptyOrMissing(path)
	if err != nil {
		return nil, err
	}
	if !empty {
		return nil, fmt.Errorf("%s: %w", path, ErrNotEnvironment)
	}

	logging.Infof("Creating environment at %s...", path)
	if err := p.Creator.Create(ctx, path); err != nil {
		cleanup(path)
		return nil, fmt.Errorf("creating environment with %s: %w", p.Creator.Name(), err)
	}

	m := &Marker{ID: uuid.NewString(), Creator: p.Creator.Name(), CreatedAt: time.Now().UTC()}
	if err := writeMarker(path, m); err != nil {
		cleanup(path)
		return nil, err
	}
	logging.Debugf("environment created path=%s id=%s", path, m.ID)
	return &Handle{Path: path, Created: true, Marker: m}, nil
}

// ReadMarker loads the marker of a provisioned environment.
func ReadMarker(path string) (*Marker, error) {
	var m Marker
	if _, err := toml.DecodeFile(filepath.Join(path, MarkerFile), &m); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("reading environment marker: %w", err)
	}
	return &m, nil
}

func writeMarker(path string, m *Marker) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("encoding environment marker: %w", err)
	}
	target := filepath.Join(path, MarkerFile)
	tmpPath := target + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing environment marker: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing environment marker: %w", err)
	}
	return nil
}

func emptyOrMissing(path string) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", path, err)
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

func cleanup(path string) {
	if err := os.RemoveAll(path); err != nil {
		logging.Warnf("could not remove partial environment %s: %v", path, err)
	}
}

// CommandCreator creates the directory and, if Command is set, runs it with
// WINEPREFIX pointing at the new environment.
type CommandCreator struct {
	Command []string
	Env     []string
}

// DefaultCommand initializes a wine prefix.
var DefaultCommand = []string{"wineboot", "--init"}

func (c *CommandCreator) Name() string {
	if len(c.Command) == 0 {
		return "mkdir"
	}
	return filepath.Base(c.Command[0])
}

func (c *CommandCreator) Create(ctx context.Context, path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	if len(c.Command) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Env = append(append(os.Environ(), "WINEPREFIX="+path), c.Env...)
	out, err := cmd.CombinedOutput()
	logging.Debugf("%s output: %s", c.Name(), strings.TrimSpace(string(out)))
	if err != nil {
		return fmt.Errorf("running %s: %w", strings.Join(c.Command, " "), err)
	}
	return nil
}
