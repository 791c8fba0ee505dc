package imagestore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreSaveAndDelete(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, "/images/")
	require.NoError(t, err)

	url, err := fs.Save("prod-1", ".jpg", strings.NewReader("fake image bytes"))
	require.NoError(t, err)
	assert.Equal(t, "/images/products/prod-1.jpg", url)

	data, err := os.ReadFile(filepath.Join(dir, "products", "prod-1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "fake image bytes", string(data))

	require.NoError(t, fs.Delete(url))
	_, err = os.Stat(filepath.Join(dir, "products", "prod-1.jpg"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreSaveOverwrites(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), "/images")
	require.NoError(t, err)

	_, err = fs.Save("prod-1", "png", strings.NewReader("first"))
	require.NoError(t, err)
	url, err := fs.Save("prod-1", "png", strings.NewReader("second"))
	require.NoError(t, err)

	rel := strings.TrimPrefix(url, "/images/")
	data, err := os.ReadFile(filepath.Join(fs.dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestFileStoreDeleteRejectsOutsideURLs(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), "/images")
	require.NoError(t, err)

	assert.Error(t, fs.Delete("https://elsewhere.example.com/x.jpg"))
	assert.Error(t, fs.Delete("/images/../../../etc/passwd"))
	assert.Error(t, fs.Delete(""))
}

func TestFileStoreDeleteMissingFileIsNoop(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), "/images")
	require.NoError(t, err)

	assert.NoError(t, fs.Delete("/images/products/never-existed.jpg"))
}
