package routing

import (
	"errors"
	"fmt"
)

// ErrStoreNotFound is matched by StoreNotFoundError.
var ErrStoreNotFound = errors.New("store not found")

// StoreNotFoundError names a store id that could not be resolved.
type StoreNotFoundError struct {
	ID string
}

func (e *StoreNotFoundError) Error() string {
	return fmt.Sprintf("store not found: %q", e.ID)
}

func (e *StoreNotFoundError) Is(target error) bool { return target == ErrStoreNotFound }
