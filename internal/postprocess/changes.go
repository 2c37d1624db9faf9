package postprocess

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/caedis/wine-game-updater/internal/logging"
)

const (
	// ChangesFile lists files that ship as binary diffs.
	ChangesFile = "hdifffiles.txt"
	// DeleteFile lists files the new version no longer uses.
	DeleteFile = "deletefiles.txt"

	diffSuffix    = ".hdiff"
	patchedSuffix = ".patched"
)

// ErrUnsafePath is returned for list entries outside the game directory.
var ErrUnsafePath = errors.New("path escapes game directory")

// Patcher rebuilds newFile from oldFile and a binary diff.
type Patcher interface {
	Patch(ctx context.Context, oldFile, diffFile, newFile string) error
}

// HPatchz runs the hpatchz tool from HDiffPatch.
type HPatchz struct {
	// Path to the binary; empty means "hpatchz" on PATH.
	Path string
}

func (h HPatchz) Patch(ctx context.Context, oldFile, diffFile, newFile string) error {
	bin := h.Path
	if bin == "" {
		bin = "hpatchz"
	}
	cmd := exec.CommandContext(ctx, bin, "-f", oldFile, diffFile, newFile)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", filepath.Base(bin), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ApplyChanges patches every file named in hdifffiles.txt. Each file goes
// through <file>.patched, so a crash at any point leaves either the old file
// with its diff or a patched copy ready to be renamed.
type ApplyChanges struct {
	Patcher Patcher
}

func (a *ApplyChanges) Name() string { return "apply-changes" }

type changeEntry struct {
	RemoteName string `json:"remoteName"`
}

func (a *ApplyChanges) Run(ctx context.Context, gameDir string) error {
	listPath := filepath.Join(gameDir, ChangesFile)
	names, err := readList(listPath, parseChangeLine)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	targets, err := localPaths(gameDir, names)
	if err != nil {
		return err
	}

	logging.Infof("Applying %d patched files...", len(targets))
	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.apply(ctx, target); err != nil {
			return fmt.Errorf("patching %s: %w", names[i], err)
		}
	}
	return removeList(listPath)
}

func (a *ApplyChanges) apply(ctx context.Context, target string) error {
	diff := target + diffSuffix
	patched := target + patchedSuffix

	if exists(diff) {
		if a.Patcher == nil {
			return errors.New("no patcher configured")
		}
		if err := a.Patcher.Patch(ctx, target, diff, patched); err != nil {
			os.Remove(patched)
			return err
		}
		if err := os.Remove(diff); err != nil {
			return err
		}
	}
	if exists(patched) {
		return os.Rename(patched, target)
	}
	return nil
}

func parseChangeLine(line string) (string, error) {
	var e changeEntry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return "", fmt.Errorf("parsing %s entry %q: %w", ChangesFile, line, err)
	}
	if e.RemoteName == "" {
		return "", fmt.Errorf("parsing %s entry %q: missing remoteName", ChangesFile, line)
	}
	return e.RemoteName, nil
}

// RemoveOutdated deletes every file named in deletefiles.txt.
type RemoveOutdated struct{}

func (RemoveOutdated) Name() string { return "remove-outdated" }

func (RemoveOutdated) Run(ctx context.Context, gameDir string) error {
	listPath := filepath.Join(gameDir, DeleteFile)
	names, err := readList(listPath, func(line string) (string, error) { return line, nil })
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	targets, err := localPaths(gameDir, names)
	if err != nil {
		return err
	}

	logging.Infof("Removing %d outdated files...", len(targets))
	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", names[i], err)
		}
	}
	return removeList(listPath)
}

func readList(path string, parse func(string) (string, error)) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		name, err := parse(line)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return names, nil
}

// localPaths validates every entry before anything is touched.
func localPaths(gameDir string, names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, name := range names {
		clean := filepath.FromSlash(name)
		if !filepath.IsLocal(clean) {
			return nil, fmt.Errorf("%w: %s", ErrUnsafePath, name)
		}
		out[i] = filepath.Join(gameDir, clean)
	}
	return out, nil
}

func removeList(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
