// Package imagestore persists product images and maps them to public
// URLs. The backing bucket is a local directory behind an interface so
// the storage backend stays a swap point.
package imagestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store saves and deletes product images.
type Store interface {
	// Save writes the image for a product and returns its public URL.
	Save(productID, ext string, r io.Reader) (string, error)
	// Delete removes the image behind a public URL.
	Delete(imageURL string) error
}

// FileStore keeps images under a local directory served at a base URL.
type FileStore struct {
	dir     string
	baseURL string
}

// NewFileStore creates a file-backed image store rooted at dir.
func NewFileStore(dir, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "products"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image dir: %w", err)
	}
	return &FileStore{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (fs *FileStore) Save(productID, ext string, r io.Reader) (string, error) {
	ext = strings.TrimPrefix(ext, ".")
	rel := filepath.Join("products", fmt.Sprintf("%s.%s", productID, ext))

	f, err := os.Create(filepath.Join(fs.dir, rel))
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	return fs.baseURL + "/" + filepath.ToSlash(rel), nil
}

func (fs *FileStore) Delete(imageURL string) error {
	rel := strings.TrimPrefix(imageURL, fs.baseURL+"/")
	if rel == imageURL || rel == "" || strings.Contains(rel, "..") {
		return fmt.Errorf("image url %q outside store", imageURL)
	}
	if err := os.Remove(filepath.Join(fs.dir, filepath.FromSlash(rel))); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
