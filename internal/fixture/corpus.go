package fixture

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	// ArchiveExt is the extension of the conformance archives linked from
	// an index page.
	ArchiveExt = ".zip"

	// ShippedChecksumExt names the decoded-output checksum that conformance
	// archives ship next to the bitstream: <stem>.yuv.md5.
	ShippedChecksumExt = ".yuv.md5"

	// maxIndexSize bounds the index page read into memory.
	maxIndexSize = 16 << 20
)

// ErrEmptyIndex is returned when an index page links no archives.
var ErrEmptyIndex = errors.New("no archives listed")

// CorpusReport describes one corpus fetch.
type CorpusReport struct {
	Index      string
	Dir        string
	Archives   int      // archives linked from the index
	Downloaded int      // archives fetched by this run
	Bitstreams []string // extracted bitstream paths, sorted
	Checksums  int      // shipped checksums extracted
}

// ParseIndex returns the archive links of an HTML index page, resolved
// against base, in page order without duplicates.
func ParseIndex(r io.Reader, base *url.URL) ([]string, error) {
	seen := make(map[string]bool)
	var links []string

	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return nil, fmt.Errorf("parse index: %w", err)
			}
			return links, nil

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "a" {
				continue
			}
			for _, attr := range tok.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := url.Parse(strings.TrimSpace(attr.Val))
				if err != nil || !strings.EqualFold(path.Ext(ref.Path), ArchiveExt) {
					continue
				}
				link := base.ResolveReference(ref).String()
				if !seen[link] {
					seen[link] = true
					links = append(links, link)
				}
			}
		}
	}
}

// FetchCorpus downloads every archive linked from indexURL into dir and
// extracts the bitstreams and shipped checksums next to them. Archives
// already present in dir are not downloaded again.
func (r *Resolver) FetchCorpus(ctx context.Context, indexURL, dir string) (*CorpusReport, error) {
	base, err := url.Parse(indexURL)
	if err != nil {
		return nil, fmt.Errorf("index url: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	var page []byte
	err = r.withRetry(ctx, indexURL, func() error {
		var err error
		page, err = r.get(ctx, indexURL)
		return err
	})
	if err != nil {
		return nil, err
	}

	links, err := ParseIndex(bytes.NewReader(page), base)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("%w at %s", ErrEmptyIndex, indexURL)
	}

	rep := &CorpusReport{Index: indexURL, Dir: dir, Archives: len(links)}
	r.logger.Info("corpus_fetch_started",
		"index", indexURL,
		"dir", dir,
		"archives", len(links),
	)
	start := time.Now()

	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		name, err := archiveName(link)
		if err != nil {
			return rep, err
		}
		archive := filepath.Join(dir, name)
		if _, err := os.Stat(archive); errors.Is(err, os.ErrNotExist) {
			if err := r.download(ctx, link, archive); err != nil {
				return rep, err
			}
			rep.Downloaded++
		} else if err != nil {
			return rep, err
		}

		bits, shipped, err := r.extractArchive(archive, dir)
		if err != nil {
			return rep, err
		}
		rep.Bitstreams = append(rep.Bitstreams, bits...)
		if shipped {
			rep.Checksums++
		}
	}
	sort.Strings(rep.Bitstreams)

	r.logger.Info("corpus_fetched",
		"dir", dir,
		"archives", rep.Archives,
		"downloaded", rep.Downloaded,
		"bitstreams", len(rep.Bitstreams),
		"checksums", rep.Checksums,
		"duration", time.Since(start).String(),
	)
	return rep, nil
}

// get performs one GET of a small document.
func (r *Resolver) get(ctx context.Context, url string) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, &transportError{err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{url: url, code: resp.StatusCode, status: resp.Status}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIndexSize))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, &transportError{err: err})
	}
	return body, nil
}

// archiveName is the local file name of an archive link.
func archiveName(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return "", fmt.Errorf("archive link %s has no file name", link)
	}
	return name, nil
}

// extractArchive writes the bitstreams of archive into dir. When the
// archive holds exactly one bitstream, its shipped decoded-output checksum
// is written next to it as <stem>.yuv.md5.
func (r *Resolver) extractArchive(archive, dir string) ([]string, bool, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", archive, err)
	}
	defer zr.Close()

	var bits []string
	var checksum *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		// Entry names are flattened; archive paths never escape dir.
		name := path.Base(f.Name)
		switch {
		case IsCandidate(name):
			dest := filepath.Join(dir, name)
			if err := extractFile(f, dest); err != nil {
				return nil, false, fmt.Errorf("extract %s from %s: %w", f.Name, archive, err)
			}
			bits = append(bits, dest)
		case isShippedChecksum(name):
			checksum = f
		}
	}

	if checksum == nil {
		return bits, false, nil
	}
	if len(bits) != 1 {
		r.logger.Warn("shipped_checksum_ambiguous",
			"archive", archive,
			"bitstreams", len(bits),
		)
		return bits, false, nil
	}
	if err := extractFile(checksum, ShippedChecksumPath(bits[0])); err != nil {
		return nil, false, fmt.Errorf("extract %s from %s: %w", checksum.Name, archive, err)
	}
	return bits, true, nil
}

// isShippedChecksum matches the whole-sequence yuv checksum of an archive;
// first_picture checksums cover a single frame.
func isShippedChecksum(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ShippedChecksumExt) && !strings.Contains(lower, "first_picture")
}

// extractFile writes one archive entry to dest via a temporary file.
func extractFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".extract-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// ShippedChecksumPath returns where the shipped checksum of a bitstream is
// kept.
func ShippedChecksumPath(bitstream string) string {
	return strings.TrimSuffix(bitstream, filepath.Ext(bitstream)) + ShippedChecksumExt
}

// ShippedChecksum returns the lowercase checksum shipped with a bitstream:
// the first field of <stem>.yuv.md5. found is false when there is none.
func ShippedChecksum(bitstream string) (sum string, found bool, err error) {
	data, err := os.ReadFile(ShippedChecksumPath(bitstream))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", false, nil
	}
	return strings.ToLower(fields[0]), true, nil
}
