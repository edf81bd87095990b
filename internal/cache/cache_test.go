package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDisk(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "disk.img")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestDecideFullWhenEmpty(t *testing.T) {
	s := NewStore(t.TempDir(), "freebsd-ci")

	d, err := s.Decide(TagSnapshot{"v1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, DecisionFull, d)
}

func TestDecideReuseWhenTagsMatch(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "freebsd-ci")
	disk := writeDisk(t, dir, "image v1")
	tags := TagSnapshot{"v1.0.0", "v1.1.0"}

	require.NoError(t, s.Archive(disk, tags))

	d, err := s.Decide(TagSnapshot{"v1.0.0", "v1.1.0"})
	require.NoError(t, err)
	assert.Equal(t, DecisionReuse, d)
}

func TestDecideUpdateWhenTagsDiffer(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "freebsd-ci")
	disk := writeDisk(t, dir, "image v1")

	require.NoError(t, s.Archive(disk, TagSnapshot{"v1.0.0"}))

	d, err := s.Decide(TagSnapshot{"v1.0.0", "v1.1.0"})
	require.NoError(t, err)
	assert.Equal(t, DecisionUpdate, d)

	// Order matters too: the snapshot is compared verbatim.
	d, err = s.Decide(TagSnapshot{"v1.0.0-rc1"})
	require.NoError(t, err)
	assert.Equal(t, DecisionUpdate, d)
}

func TestDecideFullWhenTagFileMissing(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "freebsd-ci")
	disk := writeDisk(t, dir, "image v1")
	tags := TagSnapshot{"v1.0.0"}

	require.NoError(t, s.Archive(disk, tags))
	require.NoError(t, os.Remove(s.TagFilePath()))

	// An archive without its tag snapshot cannot prove what it contains.
	d, err := s.Decide(tags)
	require.NoError(t, err)
	assert.Equal(t, DecisionFull, d)
}

func TestReuseLeavesArchiveUntouched(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "freebsd-ci")
	disk := writeDisk(t, dir, "provisioned disk contents")
	tags := TagSnapshot{"v1.0.0", "v1.1.0"}

	require.NoError(t, s.Archive(disk, tags))

	archiveBefore, err := os.ReadFile(s.ArchivePath())
	require.NoError(t, err)
	tagsBefore, err := os.ReadFile(s.TagFilePath())
	require.NoError(t, err)
	metaBefore, err := s.Metadata()
	require.NoError(t, err)

	// The reuse path is decide + extract; neither may rewrite the cache.
	d, err := s.Decide(TagSnapshot{"v1.0.0", "v1.1.0"})
	require.NoError(t, err)
	require.Equal(t, DecisionReuse, d)
	require.NoError(t, s.Extract(filepath.Join(dir, "restored.img")))

	archiveAfter, err := os.ReadFile(s.ArchivePath())
	require.NoError(t, err)
	tagsAfter, err := os.ReadFile(s.TagFilePath())
	require.NoError(t, err)
	metaAfter, err := s.Metadata()
	require.NoError(t, err)

	assert.Equal(t, archiveBefore, archiveAfter)
	assert.Equal(t, tagsBefore, tagsAfter)
	assert.Equal(t, metaBefore, metaAfter)
}

func TestArchiveExtractRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "freebsd-ci")
	disk := writeDisk(t, dir, "provisioned disk contents")

	require.NoError(t, s.Archive(disk, TagSnapshot{"v1.0.0"}))
	assert.True(t, s.Exists())

	meta, err := s.Metadata()
	require.NoError(t, err)
	assert.Equal(t, "freebsd-ci", meta.Name)
	assert.Equal(t, 1, meta.TagCount)
	assert.NotEmpty(t, meta.SHA256)

	dst := filepath.Join(dir, "restored.img")
	require.NoError(t, s.Extract(dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "provisioned disk contents", string(data))
}

func TestExtractDetectsCorruptArchive(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "freebsd-ci")
	disk := writeDisk(t, dir, "provisioned disk contents")

	require.NoError(t, s.Archive(disk, TagSnapshot{"v1.0.0"}))

	// Flip a byte in the archive; the checksum check must catch it.
	data, err := os.ReadFile(s.ArchivePath())
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(s.ArchivePath(), data, 0644))

	err = s.Extract(filepath.Join(dir, "restored.img"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestArchiveReplacesPrevious(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "freebsd-ci")

	disk := writeDisk(t, dir, "first")
	require.NoError(t, s.Archive(disk, TagSnapshot{"v1.0.0"}))

	require.NoError(t, os.WriteFile(disk, []byte("second"), 0644))
	require.NoError(t, s.Archive(disk, TagSnapshot{"v1.0.0", "v2.0.0"}))

	dst := filepath.Join(dir, "restored.img")
	require.NoError(t, s.Extract(dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	tags, err := ReadTagFile(s.TagFilePath())
	require.NoError(t, err)
	assert.Equal(t, TagSnapshot{"v1.0.0", "v2.0.0"}, tags)
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "freebsd-ci")
	disk := writeDisk(t, dir, "x")

	require.NoError(t, s.Archive(disk, TagSnapshot{"v1.0.0"}))
	require.NoError(t, s.Clear())
	assert.False(t, s.Exists())

	// Clearing an already empty cache is fine.
	require.NoError(t, s.Clear())
}
