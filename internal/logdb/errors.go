package logdb

import "errors"

var (
	// ErrNotDirectory means the store path exists but is a regular file.
	ErrNotDirectory = errors.New("path exists and is not a directory")

	// ErrDurability means a flush could not be confirmed on disk. It is
	// never retried internally since a retry could double-write.
	ErrDurability = errors.New("flush could not be confirmed on disk")

	// ErrNameCollision means no unique fragment name could be generated
	// within the retry bound.
	ErrNameCollision = errors.New("could not generate a unique fragment name")

	// ErrDestinationExists means the target path of a move already exists.
	ErrDestinationExists = errors.New("destination path already exists")

	// ErrSchema means a record does not have the shape the derived store
	// requires, indicating the directory holds a different kind of store.
	ErrSchema = errors.New("record does not match the store schema")
)
