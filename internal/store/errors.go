package store

import "errors"

var (
	// ErrConnectionNotFound is returned when no connection row exists for a
	// (tenant, provider) pair
	ErrConnectionNotFound = errors.New("connection not found")
)
