package apperr

import (
	"errors"
	"testing"
)

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := Invalid("body", "must not be empty")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("errors.Is(ErrValidation) = false")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "body" {
		t.Fatalf("errors.As = %v, field %q", ve, ve.Field)
	}
	if err.Error() != "body: must not be empty" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestStoreUnavailableKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := StoreUnavailable("append", cause)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("missing ErrStoreUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Errorf("missing cause")
	}
	if StoreUnavailable("append", nil) != nil {
		t.Errorf("nil cause should yield nil")
	}
}

func TestKnown(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"validation", Invalid("x", "y"), true},
		{"not found", ErrNotFound, true},
		{"transient", TransientDelivery("push", nil), true},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Known(tt.err); got != tt.want {
				t.Errorf("Known() = %v, want %v", got, tt.want)
			}
		})
	}
}
