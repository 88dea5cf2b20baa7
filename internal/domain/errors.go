package domain

import "errors"

// Sentinel errors shared by the core packages.
// Empty results (no tags, empty pool, nothing due) are never reported as errors.
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnauthenticated  = errors.New("missing or invalid user identity")
	ErrForbidden        = errors.New("forbidden")
	ErrDeckNotFound     = errors.New("deck not found")
	ErrQuestionNotFound = errors.New("question not found")
)
