package database

import "errors"

var (
	ErrWriteTimeout = errors.New("write operation timeout")
	ErrShuttingDown = errors.New("database manager is shutting down")
)
