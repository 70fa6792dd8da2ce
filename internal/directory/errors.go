package directory

import "errors"

var (
	// ErrUpstream marks a transient failure talking to the device-management
	// API. Enrichment treats it as recoverable: the party stays registered
	// without a directory record.
	ErrUpstream = errors.New("upstream directory request failed")

	// ErrNotFound means the directory has no such device.
	ErrNotFound = errors.New("device not found in directory")
)
