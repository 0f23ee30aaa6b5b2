package dbus

import (
	"errors"
	"fmt"
	"sync"
)

// cache is a pull-through cache of values derived from reflected
// types, such as codec functions and wire signatures. Lookups that
// race to compute the same key converge on a single computed value.
type cache[K comparable, V any] struct {
	m sync.Map
}

var errNotFound = errors.New("key not found in cache")

// Get returns the previously stored value for k, or errNotFound if
// nothing has been stored yet.
func (c *cache[K, V]) Get(k K) (ret V, err error) {
	ent, ok := c.m.Load(k)
	if !ok {
		var zero V
		return zero, errNotFound
	}
	if e, ok := ent.(error); ok {
		var zero V
		return zero, e
	}
	if v, ok := ent.(V); ok {
		return v, nil
	}
	panic(fmt.Errorf("unknown value %v (%T) stored in cache", ent, ent))
}

// Set stores the successfully computed value for k.
func (c *cache[K, V]) Set(k K, v V) {
	c.m.Store(k, v)
}

// SetErr records that computing a value for k failed, so future
// lookups fail fast instead of repeating the work.
func (c *cache[K, V]) SetErr(k K, err error) {
	c.m.Store(k, err)
}
