package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/talonops/talon/model"
)

// Source is the data source of one entity kind. Modules receive it by
// injection: a real REST client or a fixture set, never both.
type Source[T model.Record] interface {
	List(ctx context.Context) ([]T, error)
	Search(ctx context.Context, query string) ([]T, error)
	Create(ctx context.Context, rec T) (T, error)
	Update(ctx context.Context, id string, rec T) (T, error)
	Delete(ctx context.Context, id string) error
}

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("entity: record not found")

// BackendError is a non-2xx answer from the entity API, or a body reporting
// success=false.
type BackendError struct {
	Kind      model.EntityKind
	Operation string
	Status    int
	Message   string
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("entity: %s %s: status %d: %s", e.Kind, e.Operation, e.Status, e.Message)
	}
	return fmt.Sprintf("entity: %s %s: status %d", e.Kind, e.Operation, e.Status)
}

// Operations, as used in metrics and spans.
const (
	OpList   = "list"
	OpSearch = "search"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)
