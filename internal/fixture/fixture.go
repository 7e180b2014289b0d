// Package fixture prepares persistent test data by talking to the store
// directly, never through HTTP.
package fixture

import (
	"context"
	"errors"
	"fmt"

	"github.com/l0p7/foorest/internal/foo"
	"github.com/l0p7/foorest/internal/store"
)

// Default is the entity the contract suite relies on.
var Default = foo.Foo{ID: 1, Name: "bar"}

// EnsureOneEntityExists makes sure seed.ID resolves to an entity. A present
// entity is returned untouched; otherwise seed is created under its id.
// created reports whether this call inserted it.
func EnsureOneEntityExists(ctx context.Context, svc store.Service, seed foo.Foo) (entity foo.Foo, created bool, err error) {
	if svc == nil {
		return foo.Foo{}, false, errors.New("fixture: store required")
	}
	if seed.ID <= 0 {
		return foo.Foo{}, false, fmt.Errorf("fixture: seed id must be positive, got %d", seed.ID)
	}
	existing, ok, err := svc.FindOne(ctx, seed.ID)
	if err != nil {
		return foo.Foo{}, false, fmt.Errorf("fixture: find %d: %w", seed.ID, err)
	}
	if ok {
		return existing, false, nil
	}
	entity, err = svc.Create(ctx, seed)
	if err != nil {
		// Lost a race with another process seeding the same id.
		if errors.Is(err, store.ErrConflict) {
			if existing, ok, findErr := svc.FindOne(ctx, seed.ID); findErr == nil && ok {
				return existing, false, nil
			}
		}
		return foo.Foo{}, false, fmt.Errorf("fixture: create %d: %w", seed.ID, err)
	}
	return entity, true, nil
}
