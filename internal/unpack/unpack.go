// Package unpack extracts update archives into the game directory and
// reports progress in uncompressed bytes (compressed bytes for tar.zst).
package unpack

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/caedis/wine-game-updater/internal/logging"
)

// Reporter receives (current, total) progress. A non-nil error aborts.
type Reporter func(current, total int64) error

// ErrUnsafePath is returned for archive entries that would escape dest.
var ErrUnsafePath = errors.New("archive entry escapes destination")

const chunkSize = 64 << 10

// Extract unpacks archive into dest, dispatching on the file extension.
// offset is the last acknowledged progress position from a previous
// attempt; formats that cannot seek restart from zero.
func Extract(ctx context.Context, archive, dest string, offset int64, report Reporter) error {
	if report == nil {
		report = func(int64, int64) error { return nil }
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}

	name := strings.ToLower(archive)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return extractZip(ctx, archive, dest, offset, report)
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return extractTarZst(ctx, archive, dest, report)
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Base(archive))
	}
}

func extractZip(ctx context.Context, archive, dest string, offset int64, report Reporter) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("opening %s: %w", archive, err)
	}
	defer zr.Close()

	var total int64
	for _, f := range zr.File {
		total += int64(f.UncompressedSize64)
	}

	var done int64
	if err := report(0, total); err != nil {
		return err
	}
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		size := int64(f.UncompressedSize64)
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
			continue
		}

		// Entries finished by an earlier attempt are kept as they are.
		if done+size <= offset && existsWithSize(target, size) {
			done += size
			if err := report(done, total); err != nil {
				return err
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening %s in archive: %w", f.Name, err)
		}
		base := done
		err = writeFile(target, f.Mode(), rc, func(n int64) error {
			done = base + n
			return report(done, total)
		})
		rc.Close()
		if err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
		done = base + size
	}
	logging.Debugf("unpacked %s into %s bytes=%d", filepath.Base(archive), dest, total)
	return nil
}

func extractTarZst(ctx context.Context, archive, dest string, report Reporter) error {
	file, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("opening %s: %w", archive, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("opening %s: %w", archive, err)
	}
	total := info.Size()

	counter := &countingReader{r: file}
	zr, err := zstd.NewReader(counter)
	if err != nil {
		return fmt.Errorf("opening %s: %w", archive, err)
	}
	defer zr.Close()

	if err := report(0, total); err != nil {
		return err
	}
	tr := tar.NewReader(zr)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", archive, err)
		}
		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
		case tar.TypeReg:
			err := writeFile(target, hdr.FileInfo().Mode(), tr, func(int64) error {
				return report(counter.n, total)
			})
			if err != nil {
				return fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
		default:
			logging.Debugf("skipping non-regular tar entry %s type=%c", hdr.Name, hdr.Typeflag)
		}
	}
	return report(total, total)
}

// writeFile copies r into path through a temporary file and rename, calling
// progress with the running byte count after each chunk.
func writeFile(path string, mode os.FileMode, r io.Reader, progress func(int64) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	tmpPath := path + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	var n int64
	buf := make([]byte, chunkSize)
	for {
		m, readErr := r.Read(buf)
		if m > 0 {
			if _, err := out.Write(buf[:m]); err != nil {
				out.Close()
				os.Remove(tmpPath)
				return err
			}
			n += int64(m)
			if err := progress(n); err != nil {
				out.Close()
				os.Remove(tmpPath)
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			os.Remove(tmpPath)
			return readErr
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func safeJoin(dest, name string) (string, error) {
	clean := filepath.FromSlash(strings.TrimSuffix(name, "/"))
	if clean == "" || !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(dest, clean), nil
}

func existsWithSize(path string, size int64) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() == size
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
