package analytics

import "sync"

// Memo caches fn's result for the last row set it saw. Row sets are compared
// by identity (backing array and length), so a refetch that returns a new
// slice recomputes and repeated reads of cached data do not.
type Memo[T, R any] struct {
	fn func([]T) R

	mu    sync.Mutex
	first *T
	n     int
	val   R
	ok    bool
	hits  int
}

// NewMemo wraps fn
func NewMemo[T, R any](fn func([]T) R) *Memo[T, R] {
	return &Memo[T, R]{fn: fn}
}

// Get returns fn(rows), reusing the previous result for the same row set
func (m *Memo[T, R]) Get(rows []T) R {
	if len(rows) == 0 {
		return m.fn(rows)
	}
	first := &rows[0]

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ok && m.first == first && m.n == len(rows) {
		m.hits++
		return m.val
	}
	m.val = m.fn(rows)
	m.first, m.n, m.ok = first, len(rows), true
	return m.val
}

// Hits reports how many calls were served from the memo
func (m *Memo[T, R]) Hits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits
}
