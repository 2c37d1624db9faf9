package game

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/caedis/wine-game-updater/internal/downloader"
	"github.com/caedis/wine-game-updater/internal/logging"
	"github.com/caedis/wine-game-updater/internal/stream"
	"github.com/caedis/wine-game-updater/internal/unpack"
)

// Archive is a downloadable archive and the directory it unpacks into.
type Archive struct {
	URL  string
	Size int64
	MD5  string
	// CacheDir holds the downloaded archive until it has been unpacked.
	CacheDir string
	Dest     string
}

// LocalPath is where the archive is stored while the stream runs.
func (a Archive) LocalPath() (string, error) {
	u, err := url.Parse(a.URL)
	if err != nil {
		return "", fmt.Errorf("parsing archive URL: %w", err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("archive URL %s has no file name", a.URL)
	}
	return filepath.Join(a.CacheDir, name), nil
}

// NewStream builds a stream that downloads a into the cache, unpacks it and
// then calls commit. The archive is removed once commit succeeds.
func NewStream(label string, client *http.Client, a Archive, commit func() error) (*stream.Stream, error) {
	local, err := a.LocalPath()
	if err != nil {
		return nil, err
	}

	download := func(ctx context.Context, offset int64, report stream.Reporter) error {
		dl := downloader.Download{URL: a.URL, Dest: local, Size: a.Size, MD5: a.MD5}
		return downloader.Fetch(ctx, client, dl, offset, downloader.Reporter(report))
	}

	extract := func(ctx context.Context, offset int64, report stream.Reporter) error {
		if err := unpack.Extract(ctx, local, a.Dest, offset, unpack.Reporter(report)); err != nil {
			return err
		}
		if commit != nil {
			if err := commit(); err != nil {
				return err
			}
		}
		if err := os.Remove(local); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Warnf("could not remove %s: %v", local, err)
		}
		return nil
	}

	return stream.New(label, download, extract), nil
}
