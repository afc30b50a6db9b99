package models

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrStoreWrite marks a write rejected by the persistence layer
	ErrStoreWrite = errors.New("store write failure")
)
