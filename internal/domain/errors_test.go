package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "idempotency already exists",
			err:  ErrIdempotencyKeyAlreadyExists,
			want: true,
		},
		{
			name: "idempotency hash mismatch",
			err:  ErrIdempotencyHashMismatch,
			want: true,
		},
		{
			name: "wrapped idempotency conflict",
			err:  errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")),
			want: true,
		},
		{
			name: "non idempotency error",
			err:  ErrOrderNotFound,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsIdempotencyConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("abc")
	if err.Status != StatusNotFound {
		t.Fatalf("status = %d", err.Status)
	}
	if err.Message != "Order with id abc not found" {
		t.Fatalf("message = %q", err.Message)
	}
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound in chain")
	}
}

func TestToRPCError(t *testing.T) {
	if ToRPCError(nil) != nil {
		t.Fatalf("nil error must stay nil")
	}

	original := NewBadRequestError(ErrorKindPersistence, MessageCheckLogs, errors.New("db down"))
	wrapped := fmt.Errorf("handler: %w", original)
	if got := ToRPCError(wrapped); got != original {
		t.Fatalf("expected the wrapped RPCError, got %v", got)
	}

	plain := ToRPCError(errors.New("boom"))
	if plain.Status != StatusBadRequest || plain.Message != "boom" {
		t.Fatalf("unexpected %+v", plain)
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError([]error{ErrPageInvalid, ErrLimitInvalid})
	if err.Status != StatusBadRequest || err.Kind != ErrorKindValidation {
		t.Fatalf("unexpected %+v", err)
	}
	if !errors.Is(err, ErrLimitInvalid) {
		t.Fatalf("expected ErrLimitInvalid in chain")
	}
	if empty := NewValidationError(nil); empty.Err != nil {
		t.Fatalf("expected no cause for empty list")
	}
}
