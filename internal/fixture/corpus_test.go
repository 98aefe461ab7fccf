package fixture

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// =============================================================================
// Test Helpers
// =============================================================================

// zipOf builds an archive from name -> content pairs.
func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// corpusServer serves an index page at / and the archives by path, and
// counts archive downloads.
func corpusServer(t *testing.T, index string, archives map[string][]byte) (*httptest.Server, *int32) {
	t.Helper()
	var downloads int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/conformance/" {
			w.Write([]byte(index))
			return
		}
		body, ok := archives[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(&downloads, 1)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &downloads
}

const corpusIndex = `<html><body><pre>
<a href="/">[To Parent Directory]</a><br>
<br> 1/1/2024  9:00 AM  1024 <a href="/conformance/AMVR_A_HHI_3.zip">AMVR_A_HHI_3.zip</a>
<br> 1/1/2024  9:00 AM  2048 <a href="BOUNDARY_A_Huawei_3.zip">BOUNDARY_A_Huawei_3.zip</a>
<br> 1/1/2024  9:00 AM   512 <a href="readme.txt">readme.txt</a>
<br> 1/1/2024  9:00 AM  1024 <a href="/conformance/AMVR_A_HHI_3.zip">duplicate</a>
</pre></body></html>`

// =============================================================================
// Tests: ParseIndex
// =============================================================================

func TestParseIndex(t *testing.T) {
	base, _ := url.Parse("https://www.example.org/conformance/")
	links, err := ParseIndex(strings.NewReader(corpusIndex), base)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"https://www.example.org/conformance/AMVR_A_HHI_3.zip",
		"https://www.example.org/conformance/BOUNDARY_A_Huawei_3.zip",
	}
	if diff := cmp.Diff(want, links); diff != "" {
		t.Errorf("ParseIndex() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseIndex_NoArchives(t *testing.T) {
	base, _ := url.Parse("https://www.example.org/")
	links, err := ParseIndex(strings.NewReader(`<a href="x.txt">x</a>`), base)
	if err != nil || len(links) != 0 {
		t.Errorf("ParseIndex() = %v, %v", links, err)
	}
}

// =============================================================================
// Tests: FetchCorpus
// =============================================================================

func TestFetchCorpus(t *testing.T) {
	archives := map[string][]byte{
		"/conformance/AMVR_A_HHI_3.zip": zipOf(t, map[string]string{
			"AMVR_A_HHI_3/AMVR_A_HHI_3.bit":                   "bitstream-a",
			"AMVR_A_HHI_3/AMVR_A_HHI_3.yuv.md5":               "0123456789ABCDEF0123456789ABCDEF\r\n",
			"AMVR_A_HHI_3/AMVR_A_HHI_3_first_picture.yuv.md5": "ffffffffffffffffffffffffffffffff\n",
			"AMVR_A_HHI_3/readme.txt":                         "notes",
		}),
		"/conformance/BOUNDARY_A_Huawei_3.zip": zipOf(t, map[string]string{
			"BOUNDARY_A_Huawei_3.bit": "bitstream-b",
		}),
	}
	srv, downloads := corpusServer(t, corpusIndex, archives)

	dir := filepath.Join(t.TempDir(), "clips")
	r := newTestResolver(srv.Client())
	rep, err := r.FetchCorpus(context.Background(), srv.URL+"/conformance/", dir)
	if err != nil {
		t.Fatalf("FetchCorpus() error = %v", err)
	}

	wantBits := []string{
		filepath.Join(dir, "AMVR_A_HHI_3.bit"),
		filepath.Join(dir, "BOUNDARY_A_Huawei_3.bit"),
	}
	if diff := cmp.Diff(wantBits, rep.Bitstreams); diff != "" {
		t.Errorf("Bitstreams mismatch (-want +got):\n%s", diff)
	}
	if rep.Archives != 2 || rep.Downloaded != 2 || rep.Checksums != 1 {
		t.Errorf("report = %+v", rep)
	}

	data, err := os.ReadFile(wantBits[0])
	if err != nil || string(data) != "bitstream-a" {
		t.Errorf("extracted bitstream = %q, %v", data, err)
	}
	sum, found, err := ShippedChecksum(wantBits[0])
	if err != nil || !found || sum != "0123456789abcdef0123456789abcdef" {
		t.Errorf("ShippedChecksum() = (%q, %v, %v)", sum, found, err)
	}
	if _, found, _ := ShippedChecksum(wantBits[1]); found {
		t.Error("checksum reported for an archive that ships none")
	}
	if _, err := os.Stat(filepath.Join(dir, "readme.txt")); !os.IsNotExist(err) {
		t.Error("non-bitstream entry extracted")
	}

	// A second fetch reuses the archives already on disk.
	rep, err = r.FetchCorpus(context.Background(), srv.URL+"/conformance/", dir)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Downloaded != 0 || atomic.LoadInt32(downloads) != 2 {
		t.Errorf("second fetch downloaded %d (server saw %d), want 0", rep.Downloaded, atomic.LoadInt32(downloads))
	}
	if len(rep.Bitstreams) != 2 {
		t.Errorf("second fetch bitstreams = %v", rep.Bitstreams)
	}
}

func TestFetchCorpus_EmptyIndex(t *testing.T) {
	srv, _ := corpusServer(t, "<html>nothing here</html>", nil)
	_, err := newTestResolver(srv.Client()).FetchCorpus(context.Background(), srv.URL+"/conformance/", t.TempDir())
	if !errors.Is(err, ErrEmptyIndex) {
		t.Errorf("FetchCorpus() error = %v, want ErrEmptyIndex", err)
	}
}

func TestFetchCorpus_IndexRetried(t *testing.T) {
	var hits int32
	archive := zipOf(t, map[string]string{"A.bit": "a"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			if atomic.AddInt32(&hits, 1) < 2 {
				http.Error(w, "busy", http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`<a href="A.zip">A.zip</a>`))
		case "/A.zip":
			w.Write(archive)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	r := newTestResolver(srv.Client()).WithRetry(fastRetry(3))
	rep, err := r.FetchCorpus(context.Background(), srv.URL+"/", t.TempDir())
	if err != nil {
		t.Fatalf("FetchCorpus() error = %v", err)
	}
	if len(rep.Bitstreams) != 1 || atomic.LoadInt32(&hits) != 2 {
		t.Errorf("bitstreams = %v, index hits = %d", rep.Bitstreams, atomic.LoadInt32(&hits))
	}
}

func TestFetchCorpus_MissingArchive(t *testing.T) {
	srv, _ := corpusServer(t, `<a href="gone.zip">gone</a>`, nil)
	_, err := newTestResolver(srv.Client()).FetchCorpus(context.Background(), srv.URL+"/conformance/", t.TempDir())
	var se *statusError
	if !errors.As(err, &se) || se.code != http.StatusNotFound {
		t.Errorf("FetchCorpus() error = %v, want a 404 status error", err)
	}
}

// =============================================================================
// Tests: Shipped checksums
// =============================================================================

func TestShippedChecksum(t *testing.T) {
	dir := t.TempDir()
	bit := filepath.Join(dir, "clip.bit")

	if _, found, err := ShippedChecksum(bit); found || err != nil {
		t.Errorf("missing checksum: found=%v err=%v", found, err)
	}

	writeFile(t, filepath.Join(dir, "clip.yuv.md5"), []byte("   \n"))
	if _, found, _ := ShippedChecksum(bit); found {
		t.Error("blank checksum file reported as found")
	}

	writeFile(t, filepath.Join(dir, "clip.yuv.md5"), []byte("ABCDEF0123456789ABCDEF0123456789 *clip.yuv\n"))
	sum, found, err := ShippedChecksum(bit)
	if err != nil || !found || sum != "abcdef0123456789abcdef0123456789" {
		t.Errorf("ShippedChecksum() = (%q, %v, %v)", sum, found, err)
	}
}

func TestIsShippedChecksum(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"CLIP_A.yuv.md5", true},
		{"clip_a.YUV.MD5", true},
		{"CLIP_A_first_picture.yuv.md5", false},
		{"CLIP_A.md5", false},
		{"CLIP_A.bit", false},
	}
	for _, tt := range tests {
		if got := isShippedChecksum(tt.name); got != tt.want {
			t.Errorf("isShippedChecksum(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
