package staging

import "io"

// stagingStore abstracts where spooled uploads live. Concurrency is managed
// by the caller (Area.mu) for Create, Open and Remove; a writer returned by
// Create is used by one goroutine only.
type stagingStore interface {
	// Create starts a new entry and returns a writer for its content.
	Create(id string) (io.WriteCloser, error)

	// Open returns a reader for a finished entry.
	Open(id string) (io.ReadCloser, error)

	// Remove deletes an entry (best-effort).
	Remove(id string)
}
