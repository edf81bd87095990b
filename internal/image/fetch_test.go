package image

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newImageServer(t *testing.T, path string, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchVerifiesChecksum(t *testing.T) {
	body := []byte("pretend this is a qcow2 image")
	sum := sha512.Sum512(body)

	srv := newImageServer(t, "/releases/disk.qcow2", body)
	f := NewFetcher([]string{srv.URL}, "releases/disk.qcow2", hex.EncodeToString(sum[:]))

	dst := filepath.Join(t.TempDir(), "disk.qcow2")
	require.NoError(t, f.Fetch(context.Background(), dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFetchFailsOnChecksumMismatch(t *testing.T) {
	body := []byte("tampered image bytes")

	srv := newImageServer(t, "/releases/disk.qcow2", body)
	f := NewFetcher([]string{srv.URL}, "releases/disk.qcow2", "deadbeef")

	dst := filepath.Join(t.TempDir(), "disk.qcow2")
	err := f.Fetch(context.Background(), dst)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChecksumMismatch))

	// No partial file may survive a failed verification.
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchSkipsExistingImage(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "disk.qcow2")
	require.NoError(t, os.WriteFile(dst, []byte("already here"), 0644))

	// No server: a network hit would fail the fetch.
	f := NewFetcher([]string{"http://127.0.0.1:0"}, "releases/disk.qcow2", "")
	require.NoError(t, f.Fetch(context.Background(), dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "already here", string(got))
}

func TestFetchFailsOnHTTPError(t *testing.T) {
	srv := newImageServer(t, "/releases/disk.qcow2", nil)
	f := NewFetcher([]string{srv.URL}, "releases/other.qcow2", "")

	err := f.Fetch(context.Background(), filepath.Join(t.TempDir(), "disk.qcow2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchNoMirrors(t *testing.T) {
	f := NewFetcher(nil, "releases/disk.qcow2", "")
	err := f.Fetch(context.Background(), filepath.Join(t.TempDir(), "disk.qcow2"))
	require.Error(t, err)
}

func TestPickMirrorCoversAll(t *testing.T) {
	mirrors := []string{"http://a", "http://b", "http://c"}
	f := NewFetcher(mirrors, "x", "")

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[f.pickMirror()] = true
	}
	assert.Len(t, seen, len(mirrors))
}
