package types

import "errors"

var (
	ErrMalformedEnvelope = errors.New("envelope is not valid JSON")
	ErrUnknownKind       = errors.New("unknown envelope kind")
	ErrInvalidClientType = errors.New("clientType must be 'student' or 'teacher'")
	ErrInvalidClientID   = errors.New("client ID must be 1-64 characters, alphanumeric plus underscore/hyphen/dot")
	ErrInvalidClientName = errors.New("client name must be 1-200 characters")
)
