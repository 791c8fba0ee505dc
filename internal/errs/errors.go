// Package errs defines the typed failures surfaced by GardenX services.
// Handlers match them with errors.As to pick status codes; anything else
// is treated as an opaque backend failure.
package errs

import "fmt"

// ConfigurationError reports an unresolvable school identifier.
type ConfigurationError struct {
	SchoolID string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unknown school: %q", e.SchoolID)
}

// ProfileIncompleteError reports a checkout attempted by a user without
// a profile. Recoverable: the caller should redirect to profile completion.
type ProfileIncompleteError struct {
	UserID string
}

func (e *ProfileIncompleteError) Error() string {
	return fmt.Sprintf("no profile for user %s", e.UserID)
}

// InsufficientStockError aborts a checkout when any line exceeds the
// available stock. The whole order is rejected; no partial order exists.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock for %s: available %d, requested %d",
		e.Name, e.Available, e.Requested)
}

// ValidationError reports a form-field constraint violation, surfaced
// inline next to the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// BackendError wraps an opaque storage/auth layer failure. It is logged
// with context and surfaced to users as a generic retry message.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
