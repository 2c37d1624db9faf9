package postprocess

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caedis/wine-game-updater/internal/install"
)

// concatPatcher builds the new file as old contents followed by the diff.
type concatPatcher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (p *concatPatcher) Patch(ctx context.Context, oldFile, diffFile, newFile string) error {
	p.mu.Lock()
	p.calls = append(p.calls, filepath.Base(oldFile))
	p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	oldData, err := os.ReadFile(oldFile)
	if err != nil {
		return err
	}
	diffData, err := os.ReadFile(diffFile)
	if err != nil {
		return err
	}
	return os.WriteFile(newFile, append(oldData, diffData...), 0o644)
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func assertMissing(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "%s should not exist", path)
}

func TestApplyChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		ChangesFile:              `{"remoteName": "Game_Data/level0"}` + "\n\n" + `{"remoteName": "Game.exe"}` + "\n",
		"Game_Data/level0":       "old-level",
		"Game_Data/level0.hdiff": "+diff",
		"Game.exe":               "old-exe",
		"Game.exe.hdiff":         "+exe",
	})
	p := &concatPatcher{}

	require.NoError(t, (&ApplyChanges{Patcher: p}).Run(context.Background(), dir))

	assert.Equal(t, "old-level+diff", readFile(t, filepath.Join(dir, "Game_Data", "level0")))
	assert.Equal(t, "old-exe+exe", readFile(t, filepath.Join(dir, "Game.exe")))
	assertMissing(t, filepath.Join(dir, "Game.exe.hdiff"))
	assertMissing(t, filepath.Join(dir, "Game.exe.patched"))
	assertMissing(t, filepath.Join(dir, ChangesFile))
	assert.Equal(t, []string{"level0", "Game.exe"}, p.calls)
}

func TestApplyChangesResumesAfterInterruption(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		files map[string]string
		want  string
		calls int
	}{
		{
			name:  "before patching",
			files: map[string]string{"a.bin": "old", "a.bin.hdiff": "+d"},
			want:  "old+d",
			calls: 1,
		},
		{
			name:  "patched but diff not removed",
			files: map[string]string{"a.bin": "old", "a.bin.hdiff": "+d", "a.bin.patched": "partial"},
			want:  "old+d",
			calls: 1,
		},
		{
			name:  "diff removed but not renamed",
			files: map[string]string{"a.bin": "old", "a.bin.patched": "old+d"},
			want:  "old+d",
		},
		{
			name:  "already applied",
			files: map[string]string{"a.bin": "old+d"},
			want:  "old+d",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			tt.files[ChangesFile] = `{"remoteName": "a.bin"}`
			writeFiles(t, dir, tt.files)
			p := &concatPatcher{}
			unit := &ApplyChanges{Patcher: p}

			require.NoError(t, unit.Run(context.Background(), dir))
			assert.Equal(t, tt.want, readFile(t, filepath.Join(dir, "a.bin")))
			assert.Len(t, p.calls, tt.calls)

			// A second run has nothing left to do.
			require.NoError(t, unit.Run(context.Background(), dir))
			assert.Equal(t, tt.want, readFile(t, filepath.Join(dir, "a.bin")))
			assert.Len(t, p.calls, tt.calls)
		})
	}
}

func TestApplyChangesPatchFailureKeepsOriginal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		ChangesFile:   `{"remoteName": "a.bin"}`,
		"a.bin":       "old",
		"a.bin.hdiff": "+d",
	})
	boom := errors.New("corrupt diff")

	err := (&ApplyChanges{Patcher: &concatPatcher{err: boom}}).Run(context.Background(), dir)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "old", readFile(t, filepath.Join(dir, "a.bin")))
	assert.Equal(t, "+d", readFile(t, filepath.Join(dir, "a.bin.hdiff")))
	assert.FileExists(t, filepath.Join(dir, ChangesFile))
}

func TestApplyChangesRejectsBadEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		list string
		want error
	}{
		{name: "escape", list: `{"remoteName": "../outside"}`, want: ErrUnsafePath},
		{name: "absolute", list: `{"remoteName": "/etc/passwd"}`, want: ErrUnsafePath},
		{name: "not json", list: `Game.exe`},
		{name: "no name", list: `{"remote": "Game.exe"}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeFiles(t, dir, map[string]string{ChangesFile: tt.list})
			p := &concatPatcher{}
			err := (&ApplyChanges{Patcher: p}).Run(context.Background(), dir)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Empty(t, p.calls)
		})
	}
}

func TestApplyChangesWithoutList(t *testing.T) {
	t.Parallel()
	require.NoError(t, (&ApplyChanges{}).Run(context.Background(), t.TempDir()))
}

func TestRemoveOutdated(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		DeleteFile:            "old.dll\n\nGame_Data/old_level\nmissing.bin\n",
		"old.dll":             "x",
		"Game_Data/old_level": "y",
		"keep.dll":            "z",
	})

	require.NoError(t, RemoveOutdated{}.Run(context.Background(), dir))
	assertMissing(t, filepath.Join(dir, "old.dll"))
	assertMissing(t, filepath.Join(dir, "Game_Data", "old_level"))
	assertMissing(t, filepath.Join(dir, DeleteFile))
	assert.FileExists(t, filepath.Join(dir, "keep.dll"))

	require.NoError(t, RemoveOutdated{}.Run(context.Background(), dir))
}

func TestRemoveOutdatedValidatesBeforeDeleting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		DeleteFile: "old.dll\n../../home/user/.bashrc\n",
		"old.dll":  "x",
	})

	err := RemoveOutdated{}.Run(context.Background(), dir)
	require.ErrorIs(t, err, ErrUnsafePath)
	assert.FileExists(t, filepath.Join(dir, "old.dll"))
}

type fakeUnit struct {
	name  string
	err   error
	run   func()
	calls atomic.Int32
}

func (f *fakeUnit) Name() string { return f.name }

func (f *fakeUnit) Run(ctx context.Context, gameDir string) error {
	f.calls.Add(1)
	if f.run != nil {
		f.run()
	}
	return f.err
}

func TestPipelineCollectsAllFailures(t *testing.T) {
	t.Parallel()

	a := &fakeUnit{name: "apply-changes", err: errors.New("patch failed")}
	b := &fakeUnit{name: "remove-outdated", err: errors.New("permission denied")}
	c := &fakeUnit{name: "ok"}
	p := &Pipeline{Units: []Unit{a, b, c}}

	err := p.Run(context.Background(), &install.Context{GameDir: t.TempDir()})
	var pe *install.PostProcessingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, []string{"apply-changes", "remove-outdated"}, pe.Units)
	assert.Contains(t, err.Error(), "patch failed")
	assert.Contains(t, err.Error(), "permission denied")
	assert.EqualValues(t, 1, a.calls.Load())
	assert.EqualValues(t, 1, b.calls.Load())
	assert.EqualValues(t, 1, c.calls.Load())
}

func TestPipelineFailureDoesNotStopSibling(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	slow := &fakeUnit{name: "slow", run: func() { <-release }}
	fail := &fakeUnit{name: "fail", err: errors.New("boom"), run: func() { close(release) }}
	p := &Pipeline{Units: []Unit{slow, fail}}

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), &install.Context{GameDir: t.TempDir()}) }()

	select {
	case err := <-done:
		var pe *install.PostProcessingError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, []string{"fail"}, pe.Units)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not join")
	}
	assert.EqualValues(t, 1, slow.calls.Load())
}

func TestPipelineSequential(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int32
	track := func() {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
	}
	units := []Unit{
		&fakeUnit{name: "a", run: track},
		&fakeUnit{name: "b", run: track},
		&fakeUnit{name: "c", run: track},
	}

	p := &Pipeline{Units: units, Sequential: true}
	require.NoError(t, p.Run(context.Background(), &install.Context{GameDir: t.TempDir()}))
	assert.EqualValues(t, 1, peak.Load())
}

func TestNewPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		ChangesFile:   `{"remoteName": "a.bin"}`,
		DeleteFile:    "b.bin\n",
		"a.bin":       "old",
		"a.bin.hdiff": "+d",
		"b.bin":       "stale",
	})

	p := New(&concatPatcher{}, false)
	require.NoError(t, p.Run(context.Background(), &install.Context{GameDir: dir}))
	assert.Equal(t, "old+d", readFile(t, filepath.Join(dir, "a.bin")))
	assertMissing(t, filepath.Join(dir, "b.bin"))
}

func TestHPatchz(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	t.Parallel()

	dir := t.TempDir()
	script := filepath.Join(dir, "hpatchz")
	// Arguments are: -f old diff new.
	writeFiles(t, dir, map[string]string{
		"hpatchz": "#!/bin/sh\ncat \"$2\" \"$3\" > \"$4\"\n",
		"old":     "old",
		"diff":    "+d",
	})
	require.NoError(t, os.Chmod(script, 0o755))

	h := HPatchz{Path: script}
	require.NoError(t, h.Patch(context.Background(), filepath.Join(dir, "old"), filepath.Join(dir, "diff"), filepath.Join(dir, "new")))
	assert.Equal(t, "old+d", readFile(t, filepath.Join(dir, "new")))

	err := HPatchz{Path: filepath.Join(dir, "missing")}.Patch(context.Background(), "a", "b", "c")
	require.Error(t, err)
}
