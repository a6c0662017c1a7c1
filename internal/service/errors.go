package service

import "errors"

var (
	// ErrInvalidPayload is returned for update payloads that are not a
	// JSON:API resource object
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrUnknownEntityType marks an update for a type no import has seen.
	// It is logged as a warning; the node is still created.
	ErrUnknownEntityType = errors.New("unknown entity type")
)
