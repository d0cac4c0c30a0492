// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbal-labs/dbal/storage"
)

func TestErrorMessage(t *testing.T) {
	// Domain errors render only their message, without the code prefix.
	assert.Equal(t, "posts \"p1\" not found", errorMessage(storage.ErrNotFound("posts", "p1")))

	// Wrapped domain errors still unwrap to the inner message.
	wrapped := fmt.Errorf("handling request: %w", storage.NewError(storage.CodeConflict, "duplicate"))
	assert.Equal(t, "duplicate", errorMessage(wrapped))

	assert.Equal(t, "plain failure", errorMessage(fmt.Errorf("plain failure")))
	assert.Equal(t, "unknown error", errorMessage(nil))
}

func TestStatusFor(t *testing.T) {
	for code, status := range map[storage.Code]int{
		storage.CodeNotFound:     http.StatusNotFound,
		storage.CodeConflict:     http.StatusConflict,
		storage.CodeUnauthorized: http.StatusUnauthorized,
		storage.CodeForbidden:    http.StatusForbidden,
		storage.CodeValidation:   http.StatusUnprocessableEntity,
		storage.CodeRateLimited:  http.StatusTooManyRequests,
		storage.CodeCapability:   http.StatusNotImplemented,
		storage.CodeTimeout:      http.StatusGatewayTimeout,
		storage.CodeDatabase:     http.StatusServiceUnavailable,
		storage.CodeInternal:     http.StatusInternalServerError,
	} {
		assert.Equal(t, status, statusFor(code), "code %s", code)
	}
}
