package tenant

import (
	"os"
	"path/filepath"
	"testing"

	"gardenx/internal/errs"
	"gardenx/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schools.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func fakeOpener(string) (*store.Store, error) {
	return &store.Store{}, nil
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `[
		{"id": "school1", "name": "First School", "database_url": "postgres://one"},
		{"id": "school2", "name": "Second School", "database_url": "postgres://two"}
	]`)

	schools, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, schools, 2)
	assert.Equal(t, "school1", schools[0].ID)
	assert.Equal(t, "postgres://two", schools[1].DatabaseURL)
}

func TestLoadManifestEmpty(t *testing.T) {
	path := writeManifest(t, `[]`)

	_, err := LoadManifest(path)
	assert.Error(t, err)
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestRegistryResolve(t *testing.T) {
	path := writeManifest(t, `[
		{"id": "school1", "name": "First School", "database_url": "postgres://one"},
		{"id": "school2", "name": "Second School", "database_url": "postgres://two"}
	]`)
	schools, err := LoadManifest(path)
	require.NoError(t, err)

	registry, err := NewRegistry(schools, "school1", fakeOpener)
	require.NoError(t, err)

	rt, err := registry.Resolve("school2")
	require.NoError(t, err)
	assert.Equal(t, "school2", rt.School.ID)

	// Empty id falls back to the default
	rt, err = registry.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "school1", rt.School.ID)
}

func TestRegistryResolveUnknownSchool(t *testing.T) {
	path := writeManifest(t, `[{"id": "school1", "name": "First School", "database_url": "postgres://one"}]`)
	schools, err := LoadManifest(path)
	require.NoError(t, err)

	registry, err := NewRegistry(schools, "school1", fakeOpener)
	require.NoError(t, err)

	_, err = registry.Resolve("school9")
	require.Error(t, err)

	var confErr *errs.ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, "school9", confErr.SchoolID)
}

func TestRegistryDefaultMustExist(t *testing.T) {
	path := writeManifest(t, `[{"id": "school1", "name": "First School", "database_url": "postgres://one"}]`)
	schools, err := LoadManifest(path)
	require.NoError(t, err)

	_, err = NewRegistry(schools, "school9", fakeOpener)
	assert.Error(t, err)
}

func TestRegistrySchoolsStripCredentials(t *testing.T) {
	path := writeManifest(t, `[{"id": "school1", "name": "First School", "database_url": "postgres://secret"}]`)
	schools, err := LoadManifest(path)
	require.NoError(t, err)

	registry, err := NewRegistry(schools, "school1", fakeOpener)
	require.NoError(t, err)

	listed := registry.Schools()
	require.Len(t, listed, 1)
	assert.Equal(t, "First School", listed[0].Name)
	assert.Empty(t, listed[0].DatabaseURL)
}
