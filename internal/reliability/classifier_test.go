package reliability

import (
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{0, true},
		{429, true},
		{500, true},
		{503, true},
		{200, false},
		{400, false},
		{401, false},
		{404, false},
	}
	for _, c := range cases {
		if got := IsRetryableHTTPStatus(c.code); got != c.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestIsRetryableModelErrorCode(t *testing.T) {
	if !IsRetryableModelErrorCode("rate_limited") {
		t.Fatalf("rate_limited should be retryable")
	}
	if IsRetryableModelErrorCode("invalid_request_error") {
		t.Fatalf("invalid_request_error should not be retryable")
	}
}

func TestExponentialBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	cap := time.Second

	if got := ExponentialBackoff(0, base, cap); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(1, base, cap); got != 200*time.Millisecond {
		t.Fatalf("attempt 1 = %v, want 200ms", got)
	}
	if got := ExponentialBackoff(2, base, cap); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want 400ms", got)
	}
	if got := ExponentialBackoff(10, base, cap); got != cap {
		t.Fatalf("attempt 10 = %v, want cap %v", got, cap)
	}
}
