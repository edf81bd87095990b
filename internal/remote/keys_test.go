package remote

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureKeyPairGeneratesOnce(t *testing.T) {
	km := NewKeyManager(t.TempDir())

	authorized, err := km.EnsureKeyPair()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(authorized, "ssh-ed25519 "))

	// Private key must not be world readable.
	info, err := os.Stat(km.PrivateKeyPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// A second call reuses the existing pair.
	again, err := km.EnsureKeyPair()
	require.NoError(t, err)
	assert.Equal(t, authorized, again)
}

func TestSignerMatchesAuthorizedKey(t *testing.T) {
	km := NewKeyManager(t.TempDir())

	authorized, err := km.EnsureKeyPair()
	require.NoError(t, err)

	signer, err := km.Signer()
	require.NoError(t, err)

	fields := strings.Fields(authorized)
	require.Len(t, fields, 2)
	assert.Equal(t, fields[0], signer.PublicKey().Type())
}

func TestWriteTarSingleFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(src, []byte("hi"), 0644))

	var buf bytes.Buffer
	require.NoError(t, writeTar(&buf, src))

	tr := tar.NewReader(&buf)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", hdr.Name)

	data, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	_, err = tr.Next()
	assert.Equal(t, io.EOF, err)
}

func TestWriteTarDirectorySkipsGit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", ".git", "HEAD"), []byte("ref"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.c"), []byte("int main;"), 0644))

	var buf bytes.Buffer
	require.NoError(t, writeTar(&buf, dir))

	var names []string
	tr := tar.NewReader(&buf)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}

	assert.Contains(t, names, "src/main.c")
	for _, name := range names {
		assert.NotContains(t, name, ".git")
	}
}
