// Package memstore is an in-process link store for local runs and tests.
package memstore

import (
	"context"
	"sync"

	"github.com/ndajr/shortlink/internal/core"
)

type Store struct {
	mu    sync.RWMutex
	links map[string]core.Link
	// order keeps insertion order so reuse lookups return the oldest match.
	order []string
}

func New() *Store {
	return &Store{links: make(map[string]core.Link)}
}

func (s *Store) Insert(ctx context.Context, l core.Link) (core.Link, error) {
	if err := ctx.Err(); err != nil {
		return core.Link{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.links[l.ShortCode]; ok {
		return core.Link{}, core.ErrDuplicateCode
	}
	l.Clicks = 0
	s.links[l.ShortCode] = l
	s.order = append(s.order, l.ShortCode)
	return l, nil
}

func (s *Store) FindByCode(ctx context.Context, shortCode string) (core.Link, error) {
	if err := ctx.Err(); err != nil {
		return core.Link{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.links[shortCode]
	if !ok {
		return core.Link{}, core.ErrNotFound
	}
	return l, nil
}

func (s *Store) FindReusable(ctx context.Context, longURL string, q core.ReuseQuery) (core.Link, error) {
	if err := ctx.Err(); err != nil {
		return core.Link{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, code := range s.order {
		l := s.links[code]
		if l.LongURL == longURL && q.Matches(l) {
			return l, nil
		}
	}
	return core.Link{}, core.ErrNotFound
}

func (s *Store) IncrementClicks(ctx context.Context, shortCode string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[shortCode]
	if !ok {
		return core.ErrNotFound
	}
	l.Clicks++
	s.links[shortCode] = l
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) Close() {}

// Len returns the number of stored links.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.links)
}
