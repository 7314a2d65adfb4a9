package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDetailReturnsCopy(t *testing.T) {
	err := ErrSeriesNotFound.WithDetail("s-1")

	assert.Equal(t, "s-1", err.Detail)
	assert.Empty(t, ErrSeriesNotFound.Detail, "predefined error must stay untouched")
	assert.Equal(t, "[3001] series not found (s-1)", err.Error())
}

func TestIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("commit: %w", ErrCanonLocked.WithDetail("kael.missing_right_hand"))

	assert.True(t, stderrors.Is(wrapped, ErrCanonLocked))
	assert.False(t, stderrors.Is(wrapped, ErrStalePlan))
}

func TestWithErrorUnwraps(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := ErrInternal.WithError(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err    *AppError
		status int
	}{
		{ErrInvalidFact, http.StatusBadRequest},
		{ErrInvalidRevision, http.StatusBadRequest},
		{ErrCharacterNotFound, http.StatusNotFound},
		{ErrStalePlan, http.StatusConflict},
		{ErrIdempotencyMismatch, http.StatusConflict},
		{ErrSequenceConflict, http.StatusConflict},
		{ErrCanonLocked, http.StatusUnprocessableEntity},
		{ErrHistorySealed, http.StatusUnprocessableEntity},
		{ErrImpactTooDeep, http.StatusUnprocessableEntity},
		{ErrTimeout, http.StatusGatewayTimeout},
		{New(CodeDatabaseError, "db"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
		})
	}
}

func TestAsAppError(t *testing.T) {
	app := AsAppError(fmt.Errorf("outer: %w", ErrArcNotFound.WithDetail("a-1")))
	require.NotNil(t, app)
	assert.Equal(t, CodeArcNotFound, app.Code)

	unknown := AsAppError(stderrors.New("boom"))
	assert.Equal(t, CodeUnknown, unknown.Code)
	assert.Equal(t, http.StatusInternalServerError, unknown.HTTPStatus)
	assert.False(t, IsAppError(stderrors.New("plain")))
}
