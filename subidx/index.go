/******************************************************************************
 *
 *  Description :
 *    A generic subscription index shared by the post office and the
 *    central post office. Both keep a map of subscription key ->
 *    set of subscribers; they differ only in what a "subscriber" is
 *    (an actual mailbox reference on the post office side, a bare
 *    address on the CPO side), which is exactly what the type
 *    parameter captures.
 *
 *****************************************************************************/
package subidx

import (
	"sort"
	"strings"
	"sync"
)

// Index maps a subscription key ("sourcePO.sourceMailbox.major[.minor]")
// to the set of subscribers registered under it, each identified by its
// address. Safe for concurrent use.
type Index[T any] struct {
	mu      sync.RWMutex
	entries map[string]map[string]T
}

// New returns an empty Index.
func New[T any]() *Index[T] {
	return &Index[T]{entries: map[string]map[string]T{}}
}

// Add registers subscriber at key with value. Idempotent: adding the
// same (key, subscriber) pair again just overwrites the value.
func (idx *Index[T]) Add(key, subscriber string, value T) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	bucket, ok := idx.entries[key]
	if !ok {
		bucket = map[string]T{}
		idx.entries[key] = bucket
	}
	bucket[subscriber] = value
}

// Remove unregisters subscriber from key. Idempotent: removing an
// absent subscriber is a no-op. Empties the key's bucket entirely if
// it becomes empty.
func (idx *Index[T]) Remove(key, subscriber string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	bucket, ok := idx.entries[key]
	if !ok {
		return
	}
	delete(bucket, subscriber)
	if len(bucket) == 0 {
		delete(idx.entries, key)
	}
}

// Has reports whether subscriber is registered at key.
func (idx *Index[T]) Has(key, subscriber string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	bucket, ok := idx.entries[key]
	if !ok {
		return false
	}
	_, ok = bucket[subscriber]
	return ok
}

// Lookup returns the union (deduplicated by subscriber address) of the
// subscriber sets registered at fullKey and majorKey. Used for publish
// routing, which probes both the full "major.minor" key and the
// "major"-only key.
func (idx *Index[T]) Lookup(fullKey, majorKey string) map[string]T {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := map[string]T{}
	for addr, v := range idx.entries[fullKey] {
		out[addr] = v
	}
	for addr, v := range idx.entries[majorKey] {
		out[addr] = v
	}
	return out
}

// KeysWithPrefix returns, in sorted order, every subscription key that
// starts with prefix. Used for subscription refresh after a first connection.
func (idx *Index[T]) KeysWithPrefix(prefix string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var keys []string
	for k := range idx.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Subscribers returns the subscriber set registered at key, or nil if
// the key has no subscribers.
func (idx *Index[T]) Subscribers(key string) map[string]T {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	bucket := idx.entries[key]
	if bucket == nil {
		return nil
	}
	out := make(map[string]T, len(bucket))
	for k, v := range bucket {
		out[k] = v
	}
	return out
}
