package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	in := &Profile{
		GameDir:     ptr("/games/anime-game"),
		PrefixDir:   ptr("/games/prefix"),
		ManifestURL: ptr("https://cdn.example.test/manifest.json"),
		Voices:      []string{"en-us", "ja-jp"},
		Sequential:  ptr(true),
		Retries:     ptr(3),
	}
	require.NoError(t, Save("main", in))

	out, err := Load("main")
	require.NoError(t, err)
	assert.Equal(t, in, out)

	names, err := List()
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, names)

	require.NoError(t, Delete("main"))
	names, err = List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	require.NoError(t, Save("main", &Profile{GameDir: ptr("/from/profile"), Retries: ptr(1)}))

	t.Setenv("WINE_GAME_UPDATER_GAME_DIR", "/from/env")
	t.Setenv("WINE_GAME_UPDATER_VOICES", "en-us, ko-kr")
	t.Setenv("WINE_GAME_UPDATER_VERBOSE", "true")

	p, err := Load("main")
	require.NoError(t, err)
	assert.Equal(t, "/from/env", *p.GameDir)
	assert.Equal(t, 1, *p.Retries)
	assert.Equal(t, []string{"en-us", "ko-kr"}, p.Voices)
	require.NotNil(t, p.Verbose)
	assert.True(t, *p.Verbose)
	assert.Nil(t, p.PrefixDir)
}

func TestLoadWithoutProfileReadsEnvironment(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("WINE_GAME_UPDATER_PREFIX", "/env/prefix")

	p, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, p.PrefixDir)
	assert.Equal(t, "/env/prefix", *p.PrefixDir)
	assert.Nil(t, p.GameDir)
}

func TestLoadMissingProfile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := Load("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `loading profile "nope"`)
}

func TestDirUsesXDGConfigHome(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	assert.Equal(t, filepath.Join(base, "wine-game-updater", "profiles"), Dir())

	_, err := os.Stat(Dir())
	assert.True(t, os.IsNotExist(err), "Dir must not create anything")
}
