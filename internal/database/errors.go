package database

import "errors"

var (
	ErrStoreClosed    = errors.New("device store is closed")
	ErrWriteTimeout   = errors.New("device store write timed out")
	ErrDeviceNotFound = errors.New("device not found in store")
)
