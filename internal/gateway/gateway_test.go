package gateway

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorTaxonomy(t *testing.T) {
	err := fmt.Errorf("checkout: %w", &Error{Op: "pix.create", Ref: "tx1", StatusCode: 503, Err: ErrNetwork})

	assert.ErrorIs(t, err, ErrGateway)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.True(t, IsRetriable(err))

	var gerr *Error
	assert.True(t, errors.As(err, &gerr))
	assert.Equal(t, 503, gerr.StatusCode)

	rejected := &Error{Op: "card.create", StatusCode: 400, Err: errors.New("invalid token")}
	assert.ErrorIs(t, rejected, ErrGateway)
	assert.False(t, IsRetriable(rejected))
}
