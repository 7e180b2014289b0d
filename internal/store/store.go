// Package store holds the persistence service behind the Foo resource. The
// reference service serves HTTP from it and fixture setup reaches it directly.
package store

import (
	"context"
	"errors"

	"github.com/l0p7/foorest/internal/foo"
)

var (
	// ErrNotFound reports an update or delete addressed at an absent id.
	ErrNotFound = errors.New("store: foo not found")
	// ErrConflict reports a create that asked for an id already in use.
	ErrConflict = errors.New("store: foo id already exists")
)

// Service is the persistence contract. FindOne reports absence through the
// boolean rather than an error.
type Service interface {
	FindOne(ctx context.Context, id int64) (foo.Foo, bool, error)
	// Create assigns the next sequence id when entity.ID is zero. A non-zero
	// ID is honoured when free and the sequence moves past it.
	Create(ctx context.Context, entity foo.Foo) (foo.Foo, error)
	Update(ctx context.Context, entity foo.Foo) (foo.Foo, error)
	Delete(ctx context.Context, id int64) error
	// List returns every entity ordered by id.
	List(ctx context.Context) ([]foo.Foo, error)
	Close(ctx context.Context) error
}
