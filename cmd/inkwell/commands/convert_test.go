package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectDocumentsSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.png")
	require.NoError(t, os.WriteFile(path, []byte("img"), 0644))

	docs, err := collectDocuments(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "scan.png", docs[0].Name)
}

func TestCollectDocumentsPageDirectory(t *testing.T) {
	dir := t.TempDir()
	book := filepath.Join(dir, "book")
	require.NoError(t, os.MkdirAll(book, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(book, "p1.png"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(book, "p2.png"), []byte("b"), 0644))

	// A directory holding only images is one multi-page document.
	docs, err := collectDocuments(book)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, book, docs[0].Path)
}

func TestCollectDocumentsBatchDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "doc-a"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "doc-b"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "loose.jpg"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	docs, err := collectDocuments(dir)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	names := []string{docs[0].Name, docs[1].Name, docs[2].Name}
	assert.Contains(t, names, "doc-a")
	assert.Contains(t, names, "doc-b")
	assert.Contains(t, names, "loose.jpg")
	assert.NotContains(t, names, "notes.txt")
}

func TestCollectDocumentsEmptyDirectory(t *testing.T) {
	_, err := collectDocuments(t.TempDir())
	assert.Error(t, err)
}

func TestCollectDocumentsMissingPath(t *testing.T) {
	_, err := collectDocuments(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestDefaultOutputPath(t *testing.T) {
	assert.Equal(t, "scan.md", defaultOutputPath("scan.png"))
	assert.Equal(t, filepath.Join("in", "doc.md"), defaultOutputPath(filepath.Join("in", "doc.jpeg")))
	// Directory inputs keep their own name.
	assert.Equal(t, filepath.Join("scans", "book.md"), defaultOutputPath(filepath.Join("scans", "book")+string(filepath.Separator)))
}

func TestBatchOutputPath(t *testing.T) {
	convertOutput = ""
	t.Cleanup(func() { convertOutput = "" })

	doc := document{Name: "scan.png", Path: filepath.Join("inbox", "scan.png")}
	assert.Equal(t, filepath.Join("inbox", "scan.md"), batchOutputPath(doc))

	convertOutput = "converted"
	assert.Equal(t, filepath.Join("converted", "scan.md"), batchOutputPath(doc))
}
