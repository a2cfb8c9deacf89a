package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/packsearch/pkg/types"
)

const (
	// DefaultTimeout bounds one download
	DefaultTimeout = 30 * time.Second
	// DefaultMaxBytes is the largest file accepted from a remote pack
	DefaultMaxBytes = 64 << 20
)

var errTooLarge = errors.New("response exceeds size limit")

// Fetcher downloads missing pack files from a pack's remote base URL.
// Concurrent requests for the same destination share one download.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	group    singleflight.Group
}

// NewFetcher creates a Fetcher. A nil client gets DefaultTimeout.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Fetcher{client: client, maxBytes: DefaultMaxBytes}
}

// WithMaxBytes overrides the size limit
func (f *Fetcher) WithMaxBytes(n int64) *Fetcher {
	f.maxBytes = n
	return f
}

// JoinURL appends the slash separated relative path rel to base, escaping
// each segment
func JoinURL(base, rel string) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", fmt.Errorf("%w: empty base URL", types.ErrRemoteFetch)
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: invalid base URL %q", types.ErrRemoteFetch, base)
	}

	rel = strings.ReplaceAll(rel, "\\", "/")
	var b strings.Builder
	b.WriteString(base)
	for _, seg := range strings.Split(rel, "/") {
		if seg == "" || seg == "." {
			continue
		}
		if seg == ".." {
			return "", fmt.Errorf("%w: path escapes pack: %q", types.ErrRemoteFetch, rel)
		}
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	return b.String(), nil
}

// Fetch downloads {baseURL}/{rel} to dest. The file appears at dest only
// once it is complete. Errors wrap types.ErrRemoteFetch.
func (f *Fetcher) Fetch(ctx context.Context, baseURL, rel, dest string) error {
	u, err := JoinURL(baseURL, rel)
	if err != nil {
		return err
	}
	_, err, _ = f.group.Do(dest, func() (any, error) {
		if _, statErr := os.Stat(dest); statErr == nil {
			return nil, nil
		}
		return nil, f.download(ctx, u, dest)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrRemoteFetch, u, err)
	}
	return nil
}

func (f *Fetcher) download(ctx context.Context, u, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "packsearch")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once renamed
		_ = os.Remove(tmpName)
	}()

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		_ = tmp.Close()
		return err
	}
	if n > f.maxBytes {
		_ = tmp.Close()
		return errTooLarge
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return err
	}

	slog.Debug("fetched remote pack file", slog.String("url", u), slog.String("dest", dest), slog.Int64("bytes", n))
	return nil
}
