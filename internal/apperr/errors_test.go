package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"sentinel", ErrRoomNotFound, KindNotFound},
		{"wrapped sentinel", fmt.Errorf("community: authorize: %w", ErrNotMember), KindAuthorization},
		{"persistence", Persistence("store message", errors.New("conn reset")), KindPersistence},
		{"plain error", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIs_MatchesWrappedSentinel(t *testing.T) {
	err := fmt.Errorf("session: %w", ErrEmptyContent)
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatal("expected errors.Is to match the sentinel")
	}
	if errors.Is(err, ErrMalformed) {
		t.Fatal("expected errors.Is not to match a different sentinel")
	}
}

func TestContentTooLong_Message(t *testing.T) {
	err := ContentTooLong(280)
	if got := Message(err); got != "Message too long (max 280 characters)" {
		t.Errorf("Message() = %q", got)
	}
	if !IsKind(err, KindValidation) {
		t.Error("expected validation kind")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrInvalidCredentials, http.StatusUnauthorized},
		{ErrNotMember, http.StatusForbidden},
		{ErrMalformed, http.StatusBadRequest},
		{ErrRoomNotFound, http.StatusNotFound},
		{New(KindUnavailable, "down"), http.StatusServiceUnavailable},
		{errors.New("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
