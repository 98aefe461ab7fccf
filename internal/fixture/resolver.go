package fixture

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Resolver makes sure every descriptor under a root has a verified local
// bitstream. Downloads land next to the descriptor and are reused by later
// runs.
type Resolver struct {
	client  *http.Client
	timeout time.Duration
	retry   BackoffConfig
	logger  *slog.Logger
}

// NewResolver creates a resolver. timeout bounds a single download.
func NewResolver(client *http.Client, timeout time.Duration, logger *slog.Logger) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		client:  client,
		timeout: timeout,
		retry:   DefaultBackoffConfig(),
		logger:  logger,
	}
}

// WithRetry replaces the download retry policy.
func (r *Resolver) WithRetry(cfg BackoffConfig) *Resolver {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	r.retry = cfg
	return r
}

// ResolveAll resolves every descriptor under root (or the descriptor of
// root itself when it is a file). Any failure aborts: fixture integrity is a
// precondition of the run.
func (r *Resolver) ResolveAll(ctx context.Context, root string) (int, error) {
	descriptors, err := findDescriptors(root)
	if err != nil {
		return 0, err
	}

	for _, d := range descriptors {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, err := r.Resolve(ctx, d); err != nil {
			return 0, err
		}
	}
	return len(descriptors), nil
}

// Resolve ensures the bitstream described by descPath exists and matches
// its src_md5. It returns the bitstream path.
func (r *Resolver) Resolve(ctx context.Context, descPath string) (string, error) {
	desc, err := LoadDescriptor(descPath)
	if err != nil {
		return "", err
	}

	stem := strings.TrimSuffix(descPath, filepath.Ext(descPath))
	src, ok := localSource(stem)
	downloaded := false
	if !ok {
		if desc.URL == "" {
			return "", fmt.Errorf("descriptor %s: no local bitstream and no url", descPath)
		}
		src = stem + DownloadExt
		if err := r.download(ctx, desc.URL, src); err != nil {
			return "", err
		}
		downloaded = true
	}

	sum, err := FileMD5(src)
	if err != nil {
		return "", fmt.Errorf("checksum %s: %w", src, err)
	}
	if !strings.EqualFold(sum, strings.TrimSpace(desc.SrcMD5)) {
		if downloaded {
			os.Remove(src)
		}
		return "", fmt.Errorf("%w: %s: got %s, want %s", ErrChecksum, src, sum, desc.SrcMD5)
	}

	r.logger.Debug("fixture_verified",
		"path", src,
		"downloaded", downloaded,
	)
	return src, nil
}

// download fetches url into dest, retrying transient failures.
func (r *Resolver) download(ctx context.Context, url, dest string) error {
	return r.withRetry(ctx, url, func() error {
		return r.fetch(ctx, url, dest)
	})
}

// withRetry runs attempt until it succeeds, fails permanently or the retry
// budget is spent.
func (r *Resolver) withRetry(ctx context.Context, url string, attempt func() error) error {
	b := newBackoff(url, r.retry)
	for n := 1; ; n++ {
		err := attempt()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || n >= r.retry.Attempts || !retryable(err) {
			return err
		}

		delay := b.next()
		r.logger.Warn("fixture_download_retry",
			"url", url,
			"attempt", n,
			"delay", delay.String(),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// fetch performs one download attempt via a temporary file in the
// destination directory.
func (r *Resolver) fetch(ctx context.Context, url, dest string) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.logger.Info("fixture_download_started",
		"url", url,
		"dest", dest,
	)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, &transportError{err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &statusError{url: url, code: resp.StatusCode, status: resp.Status}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", url, &transportError{err: err})
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}

	r.logger.Info("fixture_downloaded",
		"dest", dest,
		"bytes", n,
		"duration", time.Since(start).String(),
	)
	return nil
}

// findDescriptors returns the YAML descriptors under root, sorted.
func findDescriptors(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		desc := strings.TrimSuffix(root, filepath.Ext(root)) + DescriptorExt
		if _, err := os.Stat(desc); err == nil {
			return []string{desc}, nil
		}
		return nil, nil
	}

	var out []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), DescriptorExt) {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}
