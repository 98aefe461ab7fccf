package ledger

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// =============================================================================
// Tests: Parse
// =============================================================================

func TestParse(t *testing.T) {
	input := strings.Join([]string{
		"d41d8cd98f00b204e9800998ecf8427e  clip1.vvc",
		"0123456789abcdef0123456789abcdef  clip2.bit\r",
		"",
		"malformed line",
		"one space clip3.bit",
		"a  b  c",
		"  missing-sum.bit",
	}, "\n")

	got, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := Ledger{
		"clip1.vvc": "d41d8cd98f00b204e9800998ecf8427e",
		"clip2.bit": "0123456789abcdef0123456789abcdef",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestLedger_Lookup(t *testing.T) {
	l := Ledger{"clip1.vvc": "abc"}

	if sum, ok := l.Lookup("clip1.vvc"); !ok || sum != "abc" {
		t.Errorf("Lookup(clip1.vvc) = (%q, %v)", sum, ok)
	}
	if _, ok := l.Lookup("CLIP1.vvc"); ok {
		t.Error("lookup must match the file name exactly")
	}
}

// =============================================================================
// Tests: Write / Save
// =============================================================================

func TestLedger_WriteSorted(t *testing.T) {
	l := Ledger{
		"b.bit": "22",
		"a.bit": "11",
		"c.vvc": "33",
	}
	var b strings.Builder
	if err := l.Write(&b); err != nil {
		t.Fatal(err)
	}
	want := "11  a.bit\n22  b.bit\n33  c.vvc\n"
	if b.String() != want {
		t.Errorf("Write() = %q, want %q", b.String(), want)
	}
}

func TestLedger_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	l := Ledger{"clip.bit": "d41d8cd98f00b204e9800998ecf8427e"}

	if err := l.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(l, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestLedger_SaveIsWorldReadable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	path := filepath.Join(t.TempDir(), FileName)
	if err := (Ledger{"clip.bit": "abc"}).Save(path); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := fi.Mode().Perm(); perm != 0o644 {
		t.Errorf("mode = %v, want 0644", perm)
	}
}

func TestLoad_Missing(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(l) != 0 {
		t.Errorf("Load(missing) = %v, want empty", l)
	}
}

// =============================================================================
// Tests: Store
// =============================================================================

func TestStore_Lookup(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	for _, d := range []string{a, b} {
		if err := os.Mkdir(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(a, FileName), []byte("aaa  clip.bit\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore()

	tests := []struct {
		path      string
		wantSum   string
		wantFound bool
	}{
		{filepath.Join(a, "clip.bit"), "aaa", true},
		{filepath.Join(a, "other.bit"), "", false},
		{filepath.Join(b, "clip.bit"), "", false}, // no ledger in b
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			sum, found, err := s.Lookup(tt.path)
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			if sum != tt.wantSum || found != tt.wantFound {
				t.Errorf("Lookup() = (%q, %v), want (%q, %v)", sum, found, tt.wantSum, tt.wantFound)
			}
		})
	}
}

func TestStore_Concurrent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("aaa  clip.bit\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sum, ok, err := s.Lookup(filepath.Join(dir, "clip.bit")); err != nil || !ok || sum != "aaa" {
				t.Errorf("Lookup() = (%q, %v, %v)", sum, ok, err)
			}
		}()
	}
	wg.Wait()
}
