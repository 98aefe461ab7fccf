// Package ledger reads and writes md5.txt reference checksum ledgers:
// one "<checksum>  <filename>" line per bitstream, one ledger per directory.
package ledger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileName is the ledger file name looked up next to each bitstream.
const FileName = "md5.txt"

// separator is the POSIX md5sum text-mode separator.
const separator = "  "

// Ledger maps bitstream file names to reference checksums.
type Ledger map[string]string

// Parse reads a ledger. Lines that do not split into exactly two fields on
// the two-space separator are ignored, as are blank lines.
func Parse(r io.Reader) (Ledger, error) {
	l := make(Ledger)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		parts := strings.Split(line, separator)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		l[parts[1]] = parts[0]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return l, nil
}

// Load reads the ledger at path. A missing file is an empty ledger.
func Load(path string) (Ledger, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Ledger{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Lookup returns the checksum recorded for name.
func (l Ledger) Lookup(name string) (string, bool) {
	sum, ok := l[name]
	return sum, ok
}

// Write writes the ledger sorted by file name.
func (l Ledger) Write(w io.Writer) error {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)

	bw := bufio.NewWriter(w)
	for _, name := range names {
		if _, err := fmt.Fprintf(bw, "%s%s%s\n", l[name], separator, name); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Save writes the ledger to path atomically.
func (l Ledger) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".md5-*.txt")
	if err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := l.Write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	// Ledgers are committed and shared; CreateTemp leaves 0600.
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename ledger: %w", err)
	}
	return nil
}

// Store caches one ledger per directory. It is safe for concurrent use by
// the worker pool.
type Store struct {
	mu      sync.Mutex
	ledgers map[string]Ledger
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{ledgers: make(map[string]Ledger)}
}

// Lookup returns the reference checksum for the bitstream at path, reading
// the md5.txt in its directory on first use.
func (s *Store) Lookup(path string) (string, bool, error) {
	dir, name := filepath.Split(path)
	dir = filepath.Clean(dir)

	s.mu.Lock()
	l, ok := s.ledgers[dir]
	s.mu.Unlock()

	if !ok {
		var err error
		l, err = Load(filepath.Join(dir, FileName))
		if err != nil {
			return "", false, err
		}
		s.mu.Lock()
		s.ledgers[dir] = l
		s.mu.Unlock()
	}

	sum, found := l.Lookup(name)
	return sum, found, nil
}
