package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{Validation, http.StatusBadRequest},
		{Authorization, http.StatusForbidden},
		{NotFound, http.StatusNotFound},
		{StateConflict, http.StatusConflict},
		{ConcurrencyConflict, http.StatusConflict},
		{Reconciliation, http.StatusInternalServerError},
		{Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(New(tt.kind, "x", "y")); got != tt.want {
			t.Errorf("kind %d: expected %d, got %d", tt.kind, tt.want, got)
		}
	}

	if got := HTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("plain error: expected 500, got %d", got)
	}
}

func TestAs_SurvivesWrapping(t *testing.T) {
	inner := New(StateConflict, ReasonListingNotActive, "listing 5 is cancelled")
	wrapped := fmt.Errorf("submit bid: %w", inner)

	e := As(wrapped)
	if e == nil {
		t.Fatal("expected classified error through the wrap")
	}
	if e.Reason != ReasonListingNotActive {
		t.Errorf("expected reason %q, got %q", ReasonListingNotActive, e.Reason)
	}
	if !IsKind(wrapped, StateConflict) {
		t.Error("expected StateConflict kind through the wrap")
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("deadlock detected")
	err := Wrap(ConcurrencyConflict, ReasonWriteConflict, "retry the operation", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}
