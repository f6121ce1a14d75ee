// Package inventorytest provides an in-memory stock table with the same
// conditional-update semantics as the Postgres repository.
package inventorytest

import (
	"context"
	"sync"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/inventory/domain"
)

type Store struct {
	mu       sync.Mutex
	stock    map[string]int
	Reserves int
	Releases int
}

func NewStore(stock map[string]int) *Store {
	cp := make(map[string]int, len(stock))
	for k, v := range stock {
		cp[k] = v
	}
	return &Store{stock: cp}
}

func (s *Store) TryReserve(ctx context.Context, bookID string, qty int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.stock[bookID]
	if !ok || cur < qty {
		return 0, nil
	}
	s.stock[bookID] = cur - qty
	s.Reserves++
	return 1, nil
}

func (s *Store) Release(ctx context.Context, bookID string, qty int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stock[bookID]; !ok {
		return 0, nil
	}
	s.stock[bookID] += qty
	s.Releases++
	return 1, nil
}

func (s *Store) Stock(ctx context.Context, bookID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.stock[bookID]
	if !ok {
		return 0, domain.ErrUnknownBook
	}
	return v, nil
}

func (s *Store) Level(bookID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[bookID]
}

func (s *Store) ReleaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Releases
}
