// Package session provides the per-request session store and the cookie
// carrier used by the authenticator
package session

import (
	"sync"

	"github.com/grantly/grantly/pkg/interfaces"
)

// MemoryStore is an in-memory SessionStore. One instance belongs to one
// request; it is never shared across concurrent requests, the mutex only
// guards incidental same-request fan-out.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

var _ interfaces.SessionStore = (*MemoryStore)(nil)

// Get returns the value for key and whether it was present
func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores a value
func (s *MemoryStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Has reports whether key is present
func (s *MemoryStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

// Delete removes a key
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Clear removes everything
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
}

// CookiePair carries the long-lived remember-me cookie values of the
// inbound request. Empty values mean the cookie is absent.
type CookiePair struct {
	Name string
	Key  string
}

// Present reports whether both halves of the pair were supplied
func (c CookiePair) Present() bool {
	return c.Name != "" && c.Key != ""
}

// CookieWriter receives cookie mutations decided by the authenticator.
// The HTTP layer maps these onto real Set-Cookie headers.
type CookieWriter interface {
	// SetCookie stores a cookie value with the given max age in seconds
	SetCookie(name, value string, maxAge int)
	// ExpireCookie removes a cookie by setting a negative age
	ExpireCookie(name string)
}

// RecordingCookieWriter collects cookie mutations, for tests and for
// callers that apply them after the fact
type RecordingCookieWriter struct {
	mu      sync.Mutex
	Cookies map[string]string
	Expired []string
}

// NewRecordingCookieWriter creates an empty recorder
func NewRecordingCookieWriter() *RecordingCookieWriter {
	return &RecordingCookieWriter{Cookies: make(map[string]string)}
}

func (w *RecordingCookieWriter) SetCookie(name, value string, maxAge int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Cookies[name] = value
}

func (w *RecordingCookieWriter) ExpireCookie(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.Cookies, name)
	w.Expired = append(w.Expired, name)
}
