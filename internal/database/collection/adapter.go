package collection

import (
	"encoding/json"
	"fmt"

	"fileflow/internal/fileflow"
)

// Adapter reads and writes whole collections of records. It provides no
// atomicity across collections.
type Adapter struct {
	backend Backend
	logger  fileflow.Logger
	idgen   fileflow.IDGenerator
}

func NewAdapter(backend Backend, logger fileflow.Logger, idgen fileflow.IDGenerator) *Adapter {
	return &Adapter{backend: backend, logger: logger, idgen: idgen}
}

// GetCollection returns the stored records of a collection. A missing or
// unreadable collection reads as empty; the failure is logged.
func GetCollection[T any](a *Adapter, name string) []T {
	data, err := a.backend.Load(name)
	if err != nil {
		a.logger.Error("reading collection", "collection", name, "error", err)
		return []T{}
	}
	if len(data) == 0 {
		return []T{}
	}

	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		a.logger.Error("decoding collection", "collection", name, "error", err)
		return []T{}
	}
	if records == nil {
		return []T{}
	}
	return records
}

// LoadCollection returns the stored records of a collection for a
// read-modify-write cycle. Unlike GetCollection, a failed read or decode is
// an error wrapped in ErrStorageUnavailable, so the caller never saves over
// records it could not see.
func LoadCollection[T any](a *Adapter, name string) ([]T, error) {
	data, err := a.backend.Load(name)
	if err != nil {
		a.logger.Error("reading collection for update", "collection", name, "error", err)
		return nil, fmt.Errorf("reading collection %s: %w: %v", name, fileflow.ErrStorageUnavailable, err)
	}
	var records []T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &records); err != nil {
			a.logger.Error("decoding collection for update", "collection", name, "error", err)
			return nil, fmt.Errorf("decoding collection %s: %w: %v", name, fileflow.ErrStorageUnavailable, err)
		}
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}

// SaveCollection replaces a collection wholesale. Failures are logged and
// returned wrapped in ErrStorageUnavailable.
func SaveCollection[T any](a *Adapter, name string, records []T) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding collection %s: %w", name, err)
	}
	if err := a.backend.Save(name, data); err != nil {
		a.logger.Error("writing collection", "collection", name, "error", err)
		return fmt.Errorf("writing collection %s: %w: %v", name, fileflow.ErrStorageUnavailable, err)
	}
	return nil
}

// GenerateID returns a new unique record id.
func (a *Adapter) GenerateID() string {
	return a.idgen.New()
}

// Close closes the backend.
func (a *Adapter) Close() error {
	return a.backend.Close()
}
