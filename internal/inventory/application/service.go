package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lmgaspa/ecommerce-ag-books-sub000/internal/inventory/domain"
)

type Service struct {
	log  *slog.Logger
	repo StockRepository
}

func NewService(log *slog.Logger, repo StockRepository) *Service {
	return &Service{log: log, repo: repo}
}

// Precheck compares each line with current stock without holding anything.
func (s *Service) Precheck(ctx context.Context, lines []domain.Line) error {
	for _, l := range merge(lines) {
		if l.Quantity <= 0 {
			return fmt.Errorf("book %s: %w", l.BookID, domain.ErrInvalidQuantity)
		}
		available, err := s.repo.Stock(ctx, l.BookID)
		if err != nil {
			return err
		}
		if available < l.Quantity {
			return &domain.OutOfStockError{BookID: l.BookID, Requested: l.Quantity, Available: available}
		}
	}
	return nil
}

// ReserveAll holds every line or none: a zero-row reservation releases the lines already held.
func (s *Service) ReserveAll(ctx context.Context, lines []domain.Line) error {
	lines = merge(lines)
	held := make([]domain.Line, 0, len(lines))

	for _, l := range lines {
		if l.Quantity <= 0 {
			s.rollback(ctx, held)
			return fmt.Errorf("book %s: %w", l.BookID, domain.ErrInvalidQuantity)
		}
		n, err := s.repo.TryReserve(ctx, l.BookID, l.Quantity)
		if err != nil {
			s.rollback(ctx, held)
			return fmt.Errorf("reserve %s: %w", l.BookID, err)
		}
		if n == 0 {
			s.rollback(ctx, held)
			return &domain.OutOfStockError{BookID: l.BookID, Requested: l.Quantity, Available: -1}
		}
		held = append(held, l)
	}
	return nil
}

func (s *Service) ReleaseAll(ctx context.Context, lines []domain.Line) error {
	var errs []error
	for _, l := range merge(lines) {
		if _, err := s.repo.Release(ctx, l.BookID, l.Quantity); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", l.BookID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) rollback(ctx context.Context, held []domain.Line) {
	if len(held) == 0 {
		return
	}
	if err := s.ReleaseAll(ctx, held); err != nil {
		s.log.Error("reservation rollback incomplete", "lines", len(held), "err", err)
	}
}

// merge folds duplicate book ids so one book is reserved in a single update.
func merge(lines []domain.Line) []domain.Line {
	idx := make(map[string]int, len(lines))
	out := make([]domain.Line, 0, len(lines))
	for _, l := range lines {
		if i, ok := idx[l.BookID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.BookID] = len(out)
		out = append(out, l)
	}
	return out
}
