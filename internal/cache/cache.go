// Package cache stores provisioned disk images keyed on the source
// repository's tag snapshot, so CI runs skip re-provisioning when nothing
// relevant changed.
package cache

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Decision is the outcome of comparing the cache against the current tag
// snapshot.
type Decision int

const (
	// DecisionFull means no usable cached image exists; provision from
	// scratch.
	DecisionFull Decision = iota

	// DecisionReuse means the cached image matches the current snapshot;
	// extract and boot it as is.
	DecisionReuse

	// DecisionUpdate means a cached image exists but the snapshot changed;
	// extract it, run an update pass, then re-archive.
	DecisionUpdate
)

func (d Decision) String() string {
	switch d {
	case DecisionFull:
		return "full"
	case DecisionReuse:
		return "reuse"
	case DecisionUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Metadata describes an archived image.
type Metadata struct {
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	SizeBytes  int64     `json:"size_bytes"`
	SHA256     string    `json:"sha256"`
	TagCount   int       `json:"tag_count"`
	DiskFormat string    `json:"disk_format,omitempty"`
}

// Store manages a named image cache in a directory.
type Store struct {
	dir  string
	name string
}

// NewStore creates a cache store for the named image under dir.
func NewStore(dir, name string) *Store {
	return &Store{dir: dir, name: name}
}

// ArchivePath returns the path of the compressed image archive.
func (s *Store) ArchivePath() string {
	return filepath.Join(s.dir, s.name+".tgz")
}

// TagFilePath returns the path of the tag snapshot the archive was built
// from.
func (s *Store) TagFilePath() string {
	return filepath.Join(s.dir, s.name+".tags")
}

func (s *Store) metadataPath() string {
	return filepath.Join(s.dir, s.name+".json")
}

// Exists reports whether an archived image is present.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.ArchivePath())
	return err == nil && !info.IsDir()
}

// Decide compares the cache against the current tag snapshot and returns
// how provisioning should proceed. An archive whose paired tag file is
// missing is not trusted: the pairing invariant is broken, so the image is
// rebuilt from scratch.
func (s *Store) Decide(current TagSnapshot) (Decision, error) {
	if !s.Exists() {
		return DecisionFull, nil
	}
	if _, err := os.Stat(s.TagFilePath()); os.IsNotExist(err) {
		return DecisionFull, nil
	}

	cached, err := ReadTagFile(s.TagFilePath())
	if err != nil {
		return DecisionFull, fmt.Errorf("read cached tags: %w", err)
	}

	if cached.Equal(current) {
		return DecisionReuse, nil
	}
	return DecisionUpdate, nil
}

// Metadata loads the archive metadata.
func (s *Store) Metadata() (*Metadata, error) {
	data, err := os.ReadFile(s.metadataPath())
	if err != nil {
		return nil, fmt.Errorf("read cache metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse cache metadata: %w", err)
	}
	return &meta, nil
}

// Archive compresses the disk image at diskPath into the cache together
// with the tag snapshot it was provisioned from. The archive is written to
// a temp file and renamed so an interrupted run never leaves a truncated
// cache entry.
func (s *Store) Archive(diskPath string, tags TagSnapshot) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	in, err := os.Open(diskPath)
	if err != nil {
		return fmt.Errorf("open disk image: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat disk image: %w", err)
	}

	tmp := s.ArchivePath() + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer os.Remove(tmp)

	hasher := sha256.New()
	gz := gzip.NewWriter(io.MultiWriter(out, hasher))
	tw := tar.NewWriter(gz)

	hdr := &tar.Header{
		Name:    filepath.Base(diskPath),
		Mode:    0644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		out.Close()
		return fmt.Errorf("write archive header: %w", err)
	}
	if _, err := io.Copy(tw, in); err != nil {
		out.Close()
		return fmt.Errorf("write archive: %w", err)
	}
	if err := tw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finalize compression: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}

	archived, err := os.Stat(tmp)
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}

	if err := os.Rename(tmp, s.ArchivePath()); err != nil {
		return fmt.Errorf("replace archive: %w", err)
	}
	if err := tags.WriteFile(s.TagFilePath()); err != nil {
		return fmt.Errorf("write tag file: %w", err)
	}

	meta := Metadata{
		Name:      s.name,
		CreatedAt: time.Now(),
		SizeBytes: archived.Size(),
		SHA256:    hex.EncodeToString(hasher.Sum(nil)),
		TagCount:  len(tags),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(s.metadataPath(), data, 0644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// Extract decompresses the archived image to dstPath. If metadata is
// present the archive checksum is verified first.
func (s *Store) Extract(dstPath string) error {
	if meta, err := s.Metadata(); err == nil && meta.SHA256 != "" {
		if err := s.verifyChecksum(meta.SHA256); err != nil {
			return err
		}
	}

	in, err := os.Open(s.ArchivePath())
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("read compression header: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	if _, err := tr.Next(); err != nil {
		return fmt.Errorf("read archive header: %w", err)
	}

	tmp := dstPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create disk image: %w", err)
	}
	defer os.Remove(tmp)

	if _, err := io.Copy(out, tr); err != nil {
		out.Close()
		return fmt.Errorf("extract disk image: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close disk image: %w", err)
	}
	if err := os.Rename(tmp, dstPath); err != nil {
		return fmt.Errorf("replace disk image: %w", err)
	}
	return nil
}

// Clear removes the archive, tag file and metadata.
func (s *Store) Clear() error {
	for _, path := range []string{s.ArchivePath(), s.TagFilePath(), s.metadataPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (s *Store) verifyChecksum(want string) error {
	in, err := os.Open(s.ArchivePath())
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer in.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, in); err != nil {
		return fmt.Errorf("hash archive: %w", err)
	}
	got := hex.EncodeToString(hasher.Sum(nil))
	if got != want {
		return fmt.Errorf("archive checksum mismatch: got %s, want %s", got, want)
	}
	return nil
}
