package vm

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DiskStore manages working disk images under the data directory. The VM
// always boots a working copy so the pristine base image survives a botched
// provisioning run.
type DiskStore struct {
	dir string
}

// NewDiskStore creates a disk store rooted at dir.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// Path returns the working disk path for the named VM.
func (d *DiskStore) Path(name string) string {
	return filepath.Join(d.dir, name+".img")
}

// Exists reports whether a working disk exists for the named VM.
func (d *DiskStore) Exists(name string) bool {
	info, err := os.Stat(d.Path(name))
	return err == nil && !info.IsDir()
}

// CopyFrom creates the working disk for the named VM by copying src.
// An existing working disk is replaced.
func (d *DiskStore) CopyFrom(src, name string) (string, error) {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return "", fmt.Errorf("create disk dir: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open base image: %w", err)
	}
	defer in.Close()

	dst := d.Path(name)
	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("create working disk: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("copy base image: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close working disk: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("replace working disk: %w", err)
	}
	return dst, nil
}

// Remove deletes the working disk for the named VM.
func (d *DiskStore) Remove(name string) error {
	err := os.Remove(d.Path(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Size returns the working disk size in bytes.
func (d *DiskStore) Size(name string) (int64, error) {
	info, err := os.Stat(d.Path(name))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
