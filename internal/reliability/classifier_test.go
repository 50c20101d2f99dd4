package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryableUnwrapsStatusError(t *testing.T) {
	err := fmt.Errorf("start avatar: %w", &StatusError{Service: "avatar", Code: 503, Body: "busy"})
	if !IsRetryable(err) {
		t.Fatalf("IsRetryable(%v) = false, want true", err)
	}
	if IsRetryable(&StatusError{Service: "avatar", Code: 401}) {
		t.Fatalf("IsRetryable(401) = true, want false")
	}
	if IsRetryable(errors.New("boom")) {
		t.Fatalf("IsRetryable(plain error) = true, want false")
	}
	if IsRetryable(context.Canceled) {
		t.Fatalf("IsRetryable(context.Canceled) = true, want false")
	}
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Service: "token", Code: 500, Body: " oops \n"}
	if got, want := err.Error(), "token http status 500: oops"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestStatusErrorRedactsCredentials(t *testing.T) {
	err := &StatusError{Service: "avatar", Code: 401, Body: `{"message":"bad token","token":"abc123"}`}
	if got, want := err.Error(), `avatar http status 401: {"message":"bad token","token":"[REDACTED]"}`; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
