package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tabitours/api/internal/platform/config"
)

func TestWrapErrorCategories(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.FailedPrecondition, conflict: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.ResourceExhausted, unavailable: true},
		{code: codes.InvalidArgument},
	}
	for _, tc := range cases {
		err := WrapError("bookings.get", status.Error(tc.code, "boom"))
		var repoErr *Error
		if !errors.As(err, &repoErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected categories nf=%v c=%v u=%v", tc.code, repoErr.IsNotFound(), repoErr.IsConflict(), repoErr.IsUnavailable())
		}
	}
}

func TestWrapErrorPassesContextErrors(t *testing.T) {
	if err := WrapError("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", status.Error(codes.DeadlineExceeded, "slow")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestConstructedErrors(t *testing.T) {
	var repoErr *Error
	if !errors.As(NotFound("bookings.get", "booking"), &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found error")
	}
	wrapped := WrapError("transaction", Conflict("bookings.set_status", "status changed"))
	if !errors.As(wrapped, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict to survive wrapping, got %v", wrapped)
	}
}

func TestProviderClosed(t *testing.T) {
	p := NewProvider(configForTest())
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err := p.Client(context.Background())
	if !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
	var repoErr *Error
	if !errors.As(err, &repoErr) || !repoErr.IsUnavailable() {
		t.Fatalf("closed provider must report unavailable, got %v", err)
	}
}

func TestProviderDialFailureIsUnavailable(t *testing.T) {
	t.Setenv(envGoogleProjectID, "")
	p := NewProvider(config.FirestoreConfig{})
	_, err := p.Client(context.Background())
	var repoErr *Error
	if !errors.As(err, &repoErr) || !repoErr.IsUnavailable() {
		t.Fatalf("dial failure must report unavailable, got %v", err)
	}
}

func TestMalformedIsNotRetryable(t *testing.T) {
	err := WrapError("transaction", Malformed("bookings.decode", errors.New("bad field")))
	var repoErr *Error
	if !errors.As(err, &repoErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !repoErr.IsMalformed() || repoErr.IsUnavailable() || repoErr.IsNotFound() {
		t.Fatalf("unexpected categories for %v", err)
	}
}

func configForTest() config.FirestoreConfig {
	return config.FirestoreConfig{ProjectID: "tabi-test"}
}
