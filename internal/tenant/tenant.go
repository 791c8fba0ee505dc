// Package tenant maps school identifiers to their isolated backends.
// Every request resolves an explicit per-school runtime; there is no
// ambient global tenant state, and switching schools is a matter of
// authenticating against a different runtime.
package tenant

import (
	"encoding/json"
	"fmt"
	"os"

	"gardenx/internal/errs"
	"gardenx/internal/models"
	"gardenx/internal/store"
)

// StoreOpener opens the database store for one school.
type StoreOpener func(databaseURL string) (*store.Store, error)

// LoadManifest reads the closed school list from a JSON config file.
func LoadManifest(path string) ([]models.School, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read school manifest: %w", err)
	}

	var schools []models.School
	if err := json.Unmarshal(data, &schools); err != nil {
		return nil, fmt.Errorf("failed to parse school manifest: %w", err)
	}
	if len(schools) == 0 {
		return nil, fmt.Errorf("school manifest %s is empty", path)
	}
	return schools, nil
}

// Runtime is one school's resolved backend context.
type Runtime struct {
	School models.School
	Store  *store.Store
}

// Registry resolves school identifiers to runtimes. Runtimes are built
// eagerly for every manifest entry at startup; the school list is small
// and closed.
type Registry struct {
	schools   []models.School
	runtimes  map[string]*Runtime
	defaultID string
}

// NewRegistry builds a registry from a manifest, opening one store per
// school. The default id must appear in the manifest.
func NewRegistry(schools []models.School, defaultID string, open StoreOpener) (*Registry, error) {
	r := &Registry{
		schools:   schools,
		runtimes:  make(map[string]*Runtime, len(schools)),
		defaultID: defaultID,
	}

	for _, school := range schools {
		st, err := open(school.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open store for school %s: %w", school.ID, err)
		}
		r.runtimes[school.ID] = &Runtime{School: school, Store: st}
	}

	if _, ok := r.runtimes[defaultID]; !ok {
		return nil, fmt.Errorf("default school %q not in manifest", defaultID)
	}
	return r, nil
}

// Resolve returns the runtime for a school id. An empty id resolves to
// the configured default; an unrecognized id is a hard configuration
// failure, never a silent fallback.
func (r *Registry) Resolve(schoolID string) (*Runtime, error) {
	if schoolID == "" {
		schoolID = r.defaultID
	}
	rt, ok := r.runtimes[schoolID]
	if !ok {
		return nil, &errs.ConfigurationError{SchoolID: schoolID}
	}
	return rt, nil
}

// Schools returns the manifest entries without credentials, for clients
// rendering the school picker.
func (r *Registry) Schools() []models.School {
	out := make([]models.School, 0, len(r.schools))
	for _, s := range r.schools {
		out = append(out, models.School{ID: s.ID, Name: s.Name})
	}
	return out
}

// DefaultID returns the default school id.
func (r *Registry) DefaultID() string {
	return r.defaultID
}

// Close closes every school's store.
func (r *Registry) Close() {
	for _, rt := range r.runtimes {
		if rt.Store != nil {
			rt.Store.Close()
		}
	}
}
