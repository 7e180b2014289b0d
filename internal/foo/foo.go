// Package foo defines the Foo resource exchanged between the CRUD client, the
// reference service, and the persistence layer.
package foo

import (
	"errors"
	"strings"
)

// ErrNameRequired is returned when a Foo carries no usable name.
var ErrNameRequired = errors.New("foo: name required")

// Foo is the sole business entity. ID is assigned by the server on creation
// and never changes afterwards; Name is client supplied and mutable.
type Foo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// New returns an unsaved Foo carrying only a name.
func New(name string) Foo {
	return Foo{Name: name}
}

// Validate rejects entities that cannot be persisted.
func (f Foo) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return ErrNameRequired
	}
	return nil
}
