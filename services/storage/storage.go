package storage

import "errors"

// Common errors that can be returned
var (
	ErrNoKeyExists = errors.New("no key exists")
)

// ReadOperator provides an interface for performing read operations.
type ReadOperator interface {
	// Retrieve a value.
	Get(key string) (*KeyValue, error)
	// Check if a key exists.
	Exists(key string) (bool, error)
	// List all values with given prefix, sorted by key.
	List(prefix string) ([]*KeyValue, error)
}

// WriteOperator provides an interface for performing write operations.
type WriteOperator interface {
	// Store a value.
	Put(key string, value []byte) error
	// Delete a key.
	// Deleting a non-existent key is not an error.
	Delete(key string) error
}

// Tx provides an interface for performing read and write operations in a single transaction.
type Tx interface {
	ReadOperator
	WriteOperator
}

// Common interface for interacting with a simple Key/Value storage
type Interface interface {
	ReadOperator
	WriteOperator

	// Update runs f in a read-write transaction.
	// If f returns a nil error the transaction is committed, otherwise it is rolled back and the error returned.
	Update(f func(Tx) error) error
}

type KeyValue struct {
	Key   string
	Value []byte
}
