package internal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-rag/types"
)

type failingLoader struct{}

func (failingLoader) Load(context.Context, string) (string, error) {
	return "", errors.New("corrupt file")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSource_Scan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "about.md"), "# About\r\nI build things.\r\n")
	writeFile(t, filepath.Join(root, "projects", "rag.txt"), "A retrieval pipeline.")
	writeFile(t, filepath.Join(root, "photo.jpg"), "binary")
	writeFile(t, filepath.Join(root, ".git", "config.txt"), "ignored")

	res, err := NewSource(PDFLoader{}, nil).Scan(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, res.Documents, 2)
	assert.Equal(t, "about.md", res.Documents[0].SourceID)
	assert.Equal(t, types.MediaMarkdown, res.Documents[0].MediaType)
	assert.Equal(t, "# About\nI build things.", res.Documents[0].RawText)
	assert.Equal(t, "about", res.Documents[0].Title)

	assert.Equal(t, "projects/rag.txt", res.Documents[1].SourceID)
	assert.False(t, res.Documents[1].ModTime.IsZero())

	assert.Equal(t, []string{"photo.jpg"}, res.Skipped)
}

func TestSource_LoadFailureIsSkipped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "good.txt"), "fine")
	writeFile(t, filepath.Join(root, "broken.pdf"), "not really a pdf")

	src := NewSource(PDFLoader{}, nil).WithLoader(types.MediaPDF, failingLoader{})
	res, err := src.Scan(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, res.Documents, 1)
	assert.Equal(t, "good.txt", res.Documents[0].SourceID)
	assert.Equal(t, []string{"broken.pdf"}, res.Skipped)
}

func TestSource_FakePDFRejectedBySniffing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "fake.pdf"), "plain text pretending")

	res, err := NewSource(PDFLoader{}, nil).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, res.Documents)
	assert.Equal(t, []string{"fake.pdf"}, res.Skipped)
}

func TestSource_MissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nope")
	_, err := NewSource(PDFLoader{}, nil).Scan(context.Background(), root)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindConfiguration))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), root)
	assert.Contains(t, err.Error(), "create it")
}

func TestGenerateTitle(t *testing.T) {
	assert.Equal(t, "my resume 2024", GenerateTitle("/data/my_resume-2024.pdf"))
	assert.Equal(t, "notes", GenerateTitle("notes.md"))
}

func TestDocumentID_Deterministic(t *testing.T) {
	assert.Equal(t, DocumentID("a.txt"), DocumentID("a.txt"))
	assert.NotEqual(t, DocumentID("a.txt"), DocumentID("b.txt"))
}
