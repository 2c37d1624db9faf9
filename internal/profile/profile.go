package profile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key when reading overrides from the
// environment, e.g. WINE_GAME_UPDATER_GAME_DIR.
const EnvPrefix = "WINE_GAME_UPDATER"

// Profile holds saveable CLI options. All fields are pointers so we can
// distinguish "not set" from zero values.
type Profile struct {
	GameDir       *string  `toml:"game-dir,omitempty"`
	PrefixDir     *string  `toml:"prefix,omitempty"`
	ManifestURL   *string  `toml:"manifest-url,omitempty"`
	CacheDir      *string  `toml:"cache-dir,omitempty"`
	Voices        []string `toml:"voices,omitempty"`
	PrefixCommand *string  `toml:"prefix-command,omitempty"`
	Patcher       *string  `toml:"hpatchz,omitempty"`
	Sequential    *bool    `toml:"sequential-postprocess,omitempty"`
	Retries       *int     `toml:"retries,omitempty"`
	MetricsFile   *string  `toml:"metrics-file,omitempty"`
	Verbose       *bool    `toml:"verbose,omitempty"`
	LogFile       *string  `toml:"log-file,omitempty"`
}

// Dir returns the profiles directory, using XDG_CONFIG_HOME with a fallback
// to ~/.config.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "wine-game-updater", "profiles")
}

// Load reads a named profile and applies WINE_GAME_UPDATER_* environment
// overrides on top. An empty name reads the environment only.
func Load(name string) (*Profile, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if name != "" {
		v.SetConfigFile(filepath.Join(Dir(), name+".toml"))
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("loading profile %q: not found in %s", name, Dir())
			}
			return nil, fmt.Errorf("loading profile %q: %w", name, err)
		}
	}

	var p Profile
	p.GameDir = stringKey(v, "game-dir")
	p.PrefixDir = stringKey(v, "prefix")
	p.ManifestURL = stringKey(v, "manifest-url")
	p.CacheDir = stringKey(v, "cache-dir")
	p.PrefixCommand = stringKey(v, "prefix-command")
	p.Patcher = stringKey(v, "hpatchz")
	p.MetricsFile = stringKey(v, "metrics-file")
	p.LogFile = stringKey(v, "log-file")
	p.Sequential = boolKey(v, "sequential-postprocess")
	p.Verbose = boolKey(v, "verbose")
	if v.IsSet("retries") {
		n := v.GetInt("retries")
		p.Retries = &n
	}
	if v.IsSet("voices") {
		p.Voices = splitList(v.GetStringSlice("voices"))
	}
	return &p, nil
}

func stringKey(v *viper.Viper, key string) *string {
	if !v.IsSet(key) {
		return nil
	}
	s := v.GetString(key)
	return &s
}

func boolKey(v *viper.Viper, key string) *bool {
	if !v.IsSet(key) {
		return nil
	}
	b := v.GetBool(key)
	return &b
}

// splitList accepts both TOML arrays and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Save writes a profile to the profiles directory, creating it if needed.
func Save(name string, p *Profile) error {
	dir := Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating profiles directory: %w", err)
	}
	path := filepath.Join(dir, name+".toml")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating profile file: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(p); err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	return nil
}

// List returns the names of all saved profiles.
func List() ([]string, error) {
	entries, err := os.ReadDir(Dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".toml") {
			names = append(names, strings.TrimSuffix(e.Name(), ".toml"))
		}
	}
	return names, nil
}

// Delete removes a named profile.
func Delete(name string) error {
	path := filepath.Join(Dir(), name+".toml")
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting profile %q: %w", name, err)
	}
	return nil
}
