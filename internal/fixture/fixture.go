// Package fixture resolves test bitstreams: it discovers candidate files,
// downloads bitstreams described by side-car YAML descriptors and verifies
// their source checksums.
package fixture

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/result"
)

// Extensions are the recognised bitstream extensions, in lookup order.
var Extensions = []string{".bin", ".bit", ".vvc", ".266"}

// DescriptorExt is the extension of side-car descriptors.
const DescriptorExt = ".yaml"

// DownloadExt is the extension given to downloaded bitstreams.
const DownloadExt = ".bit"

// ErrChecksum is returned when a bitstream does not match its descriptor.
var ErrChecksum = errors.New("source checksum mismatch")

// Descriptor is the side-car metadata of one bitstream.
type Descriptor struct {
	// URL is where the bitstream is fetched from when absent locally.
	URL string `yaml:"url"`

	// SrcMD5 is the MD5 of the bitstream file itself.
	SrcMD5 string `yaml:"src_md5"`
}

// LoadDescriptor reads a YAML descriptor.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse descriptor %s: %w", path, err)
	}
	if d.SrcMD5 == "" {
		return nil, fmt.Errorf("descriptor %s: src_md5 is required", path)
	}
	return &d, nil
}

// IsCandidate reports whether path has a recognised bitstream extension.
func IsCandidate(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Discover collects candidate bitstreams under root, or root itself when it
// is a file. The result is sorted by ascending size, ties by path.
func Discover(root string) ([]result.TestCase, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []result.TestCase{{Path: root, Size: info.Size()}}, nil
	}

	var cases []result.TestCase
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsCandidate(path) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		cases = append(cases, result.TestCase{Path: path, Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	SortBySize(cases)
	return cases, nil
}

// SortBySize orders test cases by ascending size, ties by path.
func SortBySize(cases []result.TestCase) {
	sort.Slice(cases, func(i, j int) bool {
		if cases[i].Size != cases[j].Size {
			return cases[i].Size < cases[j].Size
		}
		return cases[i].Path < cases[j].Path
	})
}

// FileMD5 returns the lowercase hex MD5 of a file.
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

// localSource returns the existing bitstream next to a descriptor stem.
func localSource(stem string) (string, bool) {
	for _, ext := range Extensions {
		p := stem + ext
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}
