package store

import "errors"

var (
	// ErrUnavailable is returned by writes while the cache runs without a database.
	ErrUnavailable = errors.New("store: cache unavailable")
	// ErrInvalidRecord indicates a record without its primary or logical key.
	ErrInvalidRecord = errors.New("store: invalid record")
)
