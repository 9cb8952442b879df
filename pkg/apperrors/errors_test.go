package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindsMatchWithErrorsIs(t *testing.T) {
	err := fmt.Errorf("edit: %w", NotFound("message not found"))

	require.True(t, errors.Is(err, ErrNotFound))
	require.False(t, errors.Is(err, ErrForbidden))
	require.Equal(t, "message not found", Message(err))
}

func TestInternalHidesCause(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := Internal(cause)

	require.True(t, errors.Is(err, ErrInternal))
	require.True(t, errors.Is(err, cause))
	require.Equal(t, "internal server error", Message(err))
}

func TestMessageForForeignError(t *testing.T) {
	require.Equal(t, "internal server error", Message(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{NotFound("gone"), http.StatusNotFound},
		{Forbidden("no"), http.StatusForbidden},
		{Conflict("race"), http.StatusConflict},
		{Internal(errors.New("x")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}

func TestKindName(t *testing.T) {
	require.Equal(t, "validation", KindName(Validation("bad")))
	require.Equal(t, "not_found", KindName(NotFound("gone")))
	require.Equal(t, "forbidden", KindName(Forbidden("no")))
	require.Equal(t, "conflict", KindName(Conflict("race")))
	require.Equal(t, "internal", KindName(errors.New("plain")))
}
