// Package state persists execution-mode state across process restarts: a
// string-keyed store of small opaque values (e.g. a last-processed timestamp
// as an ISO-8601 string).
package state

import (
	"context"
	"fmt"
	"sync"
)

// Store holds optional string state per key. A nil value clears the key.
type Store interface {
	Get(ctx context.Context, key string) (*string, error)
	Set(ctx context.Context, key string, value *string) error
	Close() error
}

/*──────── registry ───────*/

type Factory func(dsn string) (Store, error)

var reg = map[string]Factory{}

func Register(name string, f Factory) { reg[name] = f }

func Open(driver, dsn string) (Store, error) {
	if f, ok := reg[driver]; ok {
		return f(dsn)
	}
	return nil, fmt.Errorf("unknown state store driver %q", driver)
}

/*──────── in-memory driver ───────*/

// Memory keeps state for the lifetime of the process only. Useful for tests
// and one-shot runs that do not need restart durability.
type Memory struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemory() *Memory { return &Memory{m: map[string]string{}} }

func (s *Memory) Get(ctx context.Context, key string) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[key]; ok {
		c := v
		return &c, nil
	}
	return nil, nil
}

func (s *Memory) Set(ctx context.Context, key string, value *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == nil {
		delete(s.m, key)
		return nil
	}
	s.m[key] = *value
	return nil
}

func (s *Memory) Close() error { return nil }

func init() {
	Register("memory", func(string) (Store, error) { return NewMemory(), nil })
}
