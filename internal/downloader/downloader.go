package downloader

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/caedis/wine-game-updater/internal/logging"
)

type Download struct {
	URL  string
	Dest string
	// Size is the expected archive size; 0 means trust Content-Length.
	Size int64
	// MD5 is the expected hex digest; empty skips verification.
	MD5 string
}

// Reporter receives (current, total) byte counts. A non-nil error aborts
// the download.
type Reporter func(current, total int64) error

const chunkSize = 64 << 10

// ErrChecksum is returned when a finished download does not match its MD5.
var ErrChecksum = errors.New("checksum mismatch")

// Fetch downloads dl.URL to dl.Dest, resuming a partial ".part" file from
// offset with an HTTP Range request when the server supports it. Offset 0
// continues whatever ".part" an earlier run left behind. If the
// server ignores the range the download restarts from zero. An already
// complete Dest is verified and reported as done without a request.
func Fetch(ctx context.Context, client *http.Client, dl Download, offset int64, report Reporter) error {
	if client == nil {
		client = http.DefaultClient
	}
	if report == nil {
		report = func(int64, int64) error { return nil }
	}

	if ok, size := complete(dl); ok {
		logging.Debugf("download cached file=%s size=%d", dl.Dest, size)
		return report(size, size)
	}

	partPath := dl.Dest + ".part"
	start := resumePoint(partPath, offset, dl.Size)
	logging.Debugf("download start url=%s dest=%s offset=%d", dl.URL, dl.Dest, start)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dl.URL, nil)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", dl.URL, err)
	}
	if start > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", dl.URL, err)
	}
	defer resp.Body.Close()

	var flags int
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags = os.O_WRONLY | os.O_APPEND
	case http.StatusOK:
		if start > 0 {
			logging.Debugf("server ignored range request, restarting %s", dl.URL)
		}
		start = 0
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	default:
		return fmt.Errorf("downloading %s: HTTP %d", dl.URL, resp.StatusCode)
	}

	total := dl.Size
	if total <= 0 && resp.ContentLength >= 0 {
		total = start + resp.ContentLength
	}

	if err := os.MkdirAll(filepath.Dir(partPath), 0o755); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}
	f, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", partPath, err)
	}
	if flags&os.O_APPEND != 0 {
		if err := f.Truncate(start); err != nil {
			f.Close()
			return fmt.Errorf("truncating %s: %w", partPath, err)
		}
	}

	err = copyWithProgress(f, resp.Body, start, total, report)
	closeErr := f.Close()
	if err != nil {
		return fmt.Errorf("writing %s: %w", partPath, err)
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", partPath, closeErr)
	}

	if err := verify(partPath, dl); err != nil {
		os.Remove(partPath)
		return err
	}
	if err := os.Rename(partPath, dl.Dest); err != nil {
		return fmt.Errorf("finalizing %s: %w", dl.Dest, err)
	}
	logging.Debugf("download complete file=%s", dl.Dest)
	return nil
}

func copyWithProgress(w io.Writer, r io.Reader, current, total int64, report Reporter) error {
	if err := report(current, total); err != nil {
		return err
	}
	buf := make([]byte, chunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			current += int64(n)
			if total < current {
				total = current
			}
			if err := report(current, total); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// resumePoint picks where to continue: the acknowledged offset, capped by
// what is actually on disk. Without an offset, a ".part" left by an earlier
// run is continued from its size.
func resumePoint(partPath string, offset, size int64) int64 {
	info, err := os.Stat(partPath)
	if err != nil || info.IsDir() {
		return 0
	}
	start := info.Size()
	if offset > 0 {
		start = min(offset, start)
	}
	if size > 0 && start >= size {
		return 0
	}
	return start
}

func complete(dl Download) (bool, int64) {
	info, err := os.Stat(dl.Dest)
	if err != nil || info.IsDir() {
		return false, 0
	}
	if dl.Size > 0 && info.Size() != dl.Size {
		return false, 0
	}
	if dl.Size <= 0 && dl.MD5 == "" {
		// Nothing to verify against; download again.
		return false, 0
	}
	if verify(dl.Dest, dl) != nil {
		return false, 0
	}
	return true, info.Size()
}

func verify(path string, dl Download) error {
	if dl.Size > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("verifying %s: %w", path, err)
		}
		if info.Size() != dl.Size {
			return fmt.Errorf("verifying %s: size %d, want %d", path, info.Size(), dl.Size)
		}
	}
	if dl.MD5 == "" {
		return nil
	}
	sum, err := FileMD5(path)
	if err != nil {
		return fmt.Errorf("verifying %s: %w", path, err)
	}
	if !strings.EqualFold(sum, dl.MD5) {
		return fmt.Errorf("verifying %s: %w: got %s, want %s", path, ErrChecksum, sum, dl.MD5)
	}
	return nil
}

// FileMD5 returns the hex MD5 digest of a file.
func FileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
