package fixture

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/foorest/internal/foo"
	"github.com/l0p7/foorest/internal/store"
)

func TestEnsureOneEntityExistsCreatesOnce(t *testing.T) {
	ctx := context.Background()
	svc := store.NewMemory()

	entity, created, err := EnsureOneEntityExists(ctx, svc, Default)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, Default, entity)

	entity, created, err = EnsureOneEntityExists(ctx, svc, Default)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, Default, entity)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestEnsureOneEntityExistsLeavesPresentEntityAlone(t *testing.T) {
	ctx := context.Background()
	svc := store.NewMemory()
	_, err := svc.Create(ctx, foo.Foo{ID: 1, Name: "renamed"})
	require.NoError(t, err)

	entity, created, err := EnsureOneEntityExists(ctx, svc, Default)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "renamed", entity.Name)
}

func TestEnsureOneEntityExistsRecreatesAfterDelete(t *testing.T) {
	ctx := context.Background()
	svc := store.NewMemory()
	_, _, err := EnsureOneEntityExists(ctx, svc, Default)
	require.NoError(t, err)
	_, err = svc.Create(ctx, foo.New("other"))
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, Default.ID))

	entity, created, err := EnsureOneEntityExists(ctx, svc, Default)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, Default.ID, entity.ID)
}

func TestEnsureOneEntityExistsValidatesInput(t *testing.T) {
	_, _, err := EnsureOneEntityExists(context.Background(), nil, Default)
	require.Error(t, err)

	_, _, err = EnsureOneEntityExists(context.Background(), store.NewMemory(), foo.Foo{Name: "bar"})
	require.Error(t, err)
}

type failingStore struct {
	store.Service
}

func (failingStore) FindOne(context.Context, int64) (foo.Foo, bool, error) {
	return foo.Foo{}, false, errors.New("backend down")
}

func TestEnsureOneEntityExistsWrapsLookupErrors(t *testing.T) {
	_, _, err := EnsureOneEntityExists(context.Background(), failingStore{}, Default)
	require.Error(t, err)
	require.Contains(t, err.Error(), "backend down")
}
