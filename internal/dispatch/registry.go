package dispatch

import (
	"sync"

	"github.com/xkilldash9x/browser-window/internal/native"
)

// Registry owns values that are referenced from the engine side by token only.
// A value can be taken out exactly once; taking it again, or taking a token
// that was never issued, reports false. Once closed, the registry refuses new
// values so nothing can be stranded after shutdown.
type Registry[T any] struct {
	mu      sync.Mutex
	next    native.Token
	entries map[native.Token]T
	closed  bool
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[native.Token]T)}
}

// Put stores v and returns its token. The second result is false when the
// registry is closed, in which case v was not stored.
func (r *Registry[T]) Put(v T) (native.Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, false
	}
	// Token 0 is never issued so a zeroed token can't alias a live entry.
	r.next++
	tok := r.next
	r.entries[tok] = v
	return tok, true
}

// Take removes and returns the value stored under tok.
func (r *Registry[T]) Take(tok native.Token) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.entries[tok]
	if ok {
		delete(r.entries, tok)
	}
	return v, ok
}

// Len returns the number of outstanding values.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close marks the registry closed and returns every outstanding value.
func (r *Registry[T]) Close() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	out := make([]T, 0, len(r.entries))
	for tok, v := range r.entries {
		out = append(out, v)
		delete(r.entries, tok)
	}
	return out
}
