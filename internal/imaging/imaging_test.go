package imaging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadPageSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "scan.png", []byte("png-bytes"))

	data, err := LoadPage(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestLoadPageRejectsUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.pdf", []byte("%PDF"))

	_, err := LoadPage(path)
	assert.ErrorContains(t, err, "unsupported image type")
}

func TestLoadPageRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := writeFile(t, dir, "real.png", []byte("data"))
	link := filepath.Join(dir, "link.png")
	require.NoError(t, os.Symlink(target, link))

	_, err := LoadPage(link)
	assert.ErrorContains(t, err, "symlink")
}

func TestLoadPageRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "empty.png", nil)

	_, err := LoadPage(path)
	assert.ErrorContains(t, err, "empty")
}

func TestLoadPagesDirectorySortedByName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "page-02.png", []byte("two"))
	writeFile(t, dir, "page-01.png", []byte("one"))
	writeFile(t, dir, "page-03.jpg", []byte("three"))
	writeFile(t, dir, "notes.txt", []byte("skip me"))

	pages, err := LoadPages(dir)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, []byte("one"), pages[0].Data)
	assert.Equal(t, []byte("two"), pages[1].Data)
	assert.Equal(t, []byte("three"), pages[2].Data)
}

func TestLoadPagesEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "readme.md", []byte("no images"))

	_, err := LoadPages(dir)
	assert.ErrorContains(t, err, "no page images")
}

func TestHashAndBase64(t *testing.T) {
	data := []byte("image-bytes")
	assert.Len(t, Hash(data), 64)
	assert.Equal(t, Hash(data), Hash([]byte("image-bytes")))
	assert.NotEqual(t, Hash(data), Hash([]byte("other")))
	assert.Equal(t, "aW1hZ2UtYnl0ZXM=", ToBase64(data))
}
