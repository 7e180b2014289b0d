package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/l0p7/foorest/internal/foo"
)

type memoryStore struct {
	mu       sync.RWMutex
	seq      int64
	entities map[int64]foo.Foo
}

// NewMemory returns an in-process store. Ids start at 1.
func NewMemory() Service {
	return &memoryStore{entities: make(map[int64]foo.Foo)}
}

func (s *memoryStore) FindOne(_ context.Context, id int64) (foo.Foo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.entities[id]
	return entity, ok, nil
}

func (s *memoryStore) Create(_ context.Context, entity foo.Foo) (foo.Foo, error) {
	if err := entity.Validate(); err != nil {
		return foo.Foo{}, err
	}
	if entity.ID < 0 {
		return foo.Foo{}, fmt.Errorf("store: invalid id %d", entity.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entity.ID == 0 {
		s.seq++
		entity.ID = s.seq
	} else {
		if _, exists := s.entities[entity.ID]; exists {
			return foo.Foo{}, fmt.Errorf("%w: %d", ErrConflict, entity.ID)
		}
		if entity.ID > s.seq {
			s.seq = entity.ID
		}
	}
	s.entities[entity.ID] = entity
	return entity, nil
}

func (s *memoryStore) Update(_ context.Context, entity foo.Foo) (foo.Foo, error) {
	if err := entity.Validate(); err != nil {
		return foo.Foo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entities[entity.ID]; !exists {
		return foo.Foo{}, ErrNotFound
	}
	s.entities[entity.ID] = entity
	return entity, nil
}

func (s *memoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entities[id]; !exists {
		return ErrNotFound
	}
	delete(s.entities, id)
	return nil
}

func (s *memoryStore) List(_ context.Context) ([]foo.Foo, error) {
	s.mu.RLock()
	out := make([]foo.Foo, 0, len(s.entities))
	for _, entity := range s.entities {
		out = append(out, entity)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
