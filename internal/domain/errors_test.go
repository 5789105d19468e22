package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestOpErrorMessage(t *testing.T) {
	t.Parallel()

	err := &OpError{Op: "relay", Target: "bob@b", Err: ErrTargetUnreachable}
	want := "relay bob@b: target unreachable"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestOpErrorWithoutTarget(t *testing.T) {
	t.Parallel()

	err := &OpError{Op: "setUsername", Err: ErrValidation}
	want := "setUsername: validation error"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestOpErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := &OpError{Op: "deliver", Err: ErrTargetNotFound}
	if !errors.Is(err, ErrTargetNotFound) {
		t.Fatal("expected errors.Is to match ErrTargetNotFound")
	}
}

func TestInvalidWrapsValidation(t *testing.T) {
	t.Parallel()

	err := Invalid("createGuild", "name too short")
	if !errors.Is(err, ErrValidation) {
		t.Fatal("expected errors.Is to match ErrValidation")
	}
	want := "createGuild: validation error: name too short"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want string
	}{
		{"auth", ErrAuthenticationRequired, CodeAuthenticationRequired},
		{"validation", ErrValidation, CodeValidation},
		{"not_owner", ErrNotOwner, CodeValidation},
		{"invite", ErrInviteInvalid, CodeValidation},
		{"not_member", fmt.Errorf("post: %w", ErrNotAMember), CodeNotAMember},
		{"not_found", &OpError{Op: "deliver", Err: ErrTargetNotFound}, CodeTargetNotFound},
		{"unreachable", ErrTargetUnreachable, CodeTargetUnreachable},
		{"other", errors.New("boom"), CodeInternal},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Code(tc.err); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
