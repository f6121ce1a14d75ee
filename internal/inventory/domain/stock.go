package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfStock      = errors.New("out of stock")
	ErrUnknownBook     = errors.New("unknown book")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// Line is one book and the number of copies to hold or give back.
type Line struct {
	BookID   string
	Quantity int
}

type OutOfStockError struct {
	BookID    string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	if e.Available >= 0 {
		return fmt.Sprintf("book %s: requested %d, available %d", e.BookID, e.Requested, e.Available)
	}
	return fmt.Sprintf("book %s: requested %d exceeds stock", e.BookID, e.Requested)
}

func (e *OutOfStockError) Unwrap() error { return ErrOutOfStock }
