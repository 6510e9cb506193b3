package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrInconsistentTree means an item or container reference does not
	// match the in-memory tree. The tree should be reloaded, not patched.
	ErrInconsistentTree = errors.New("inconsistent tree")

	// ErrPersistence marks a failed write. Earlier writes are not undone.
	ErrPersistence = errors.New("persistence failure")

	ErrCyclicDossierReference = errors.New("cyclic dossier reference")

	ErrInvalidInput = errors.New("invalid input")
)

var (
	ErrInvalidStatus    = fmt.Errorf("%w: status", ErrInvalidInput)
	ErrInvalidFieldType = fmt.Errorf("%w: field type", ErrInvalidInput)
)
