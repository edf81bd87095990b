// Package image downloads and verifies the pristine FreeBSD base image.
package image

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// ErrChecksumMismatch is returned when a downloaded image does not match
// its pinned SHA-512 digest. A mismatch is never recoverable: the mirror
// either served a different release or a corrupted file.
var ErrChecksumMismatch = errors.New("image checksum mismatch")

// Fetcher downloads release images from a set of mirrors.
type Fetcher struct {
	// Mirrors are base URLs tried for the download. One is picked at
	// random per attempt to spread CI load across the mirror network.
	Mirrors []string

	// ImagePath is the path of the image under each mirror.
	ImagePath string

	// SHA512 is the pinned hex digest of the compressed image. Empty
	// disables verification.
	SHA512 string

	// Client is the HTTP client used for downloads. Defaults to a client
	// with no overall timeout, since image downloads are large; use the
	// context to bound the fetch.
	Client *http.Client

	rng *rand.Rand
}

// NewFetcher creates a fetcher for the given mirrors and image path.
func NewFetcher(mirrors []string, imagePath, sha512sum string) *Fetcher {
	return &Fetcher{
		Mirrors:   mirrors,
		ImagePath: imagePath,
		SHA512:    sha512sum,
		Client:    &http.Client{},
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// pickMirror returns a randomly chosen mirror base URL.
func (f *Fetcher) pickMirror() string {
	return f.Mirrors[f.rng.Intn(len(f.Mirrors))]
}

// Fetch downloads the image to dstPath, verifying the SHA-512 digest while
// streaming. If dstPath already exists the download is skipped. Compressed
// images (.xz suffix) are decompressed in place, so dstPath names the
// decompressed file.
func (f *Fetcher) Fetch(ctx context.Context, dstPath string) error {
	if _, err := os.Stat(dstPath); err == nil {
		log.Debug("base image already present", "path", dstPath)
		return nil
	}
	if len(f.Mirrors) == 0 {
		return errors.New("no mirrors configured")
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}

	mirror := f.pickMirror()
	url := strings.TrimSuffix(mirror, "/") + "/" + strings.TrimPrefix(f.ImagePath, "/")

	compressed := strings.HasSuffix(f.ImagePath, ".xz")
	downloadPath := dstPath
	if compressed {
		downloadPath = dstPath + ".xz"
	}

	log.Info("downloading base image", "url", url)
	if err := f.download(ctx, url, downloadPath); err != nil {
		return err
	}

	if compressed {
		log.Info("decompressing base image", "path", downloadPath)
		if err := decompressXZ(ctx, downloadPath, dstPath); err != nil {
			return err
		}
		os.Remove(downloadPath)
	}
	return nil
}

func (f *Fetcher) download(ctx context.Context, url, dstPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download image: %s returned %s", url, resp.Status)
	}

	tmp := dstPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create image file: %w", err)
	}
	defer os.Remove(tmp)

	hasher := sha512.New()
	if _, err := io.Copy(io.MultiWriter(out, hasher), resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("write image: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close image file: %w", err)
	}

	if f.SHA512 != "" {
		got := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(got, f.SHA512) {
			return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, got, f.SHA512)
		}
	}

	if err := os.Rename(tmp, dstPath); err != nil {
		return fmt.Errorf("replace image file: %w", err)
	}
	return nil
}

// decompressXZ shells out to xz, which every CI host already carries and
// which handles the multi-gigabyte release images without holding them in
// memory.
func decompressXZ(ctx context.Context, src, dst string) error {
	if _, err := exec.LookPath("xz"); err != nil {
		return fmt.Errorf("xz not found in PATH: %w", err)
	}

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer os.Remove(tmp)

	cmd := exec.CommandContext(ctx, "xz", "-dc", src)
	cmd.Stdout = out

	if err := cmd.Run(); err != nil {
		out.Close()
		return fmt.Errorf("decompress %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("replace output file: %w", err)
	}
	return nil
}
