package toolerr

import "testing"

func TestNewIsNonRetryable(t *testing.T) {
	err := New(FileAccessDenied, "path escapes session directory", "use a path under the session directory")
	if err.CanRetry {
		t.Fatalf("New() should produce a non-retryable error")
	}
	if err.ErrCode != FileAccessDenied {
		t.Fatalf("got code %s, want %s", err.ErrCode, FileAccessDenied)
	}
	if err.Error() == "" {
		t.Fatalf("Error() should not be empty")
	}
}

func TestRetryableCarriesDelay(t *testing.T) {
	err := Retryable(SearchRateLimited, "rate limited", "retry shortly", 2000)
	if !err.CanRetry {
		t.Fatalf("Retryable() should produce a retryable error")
	}
	if err.RetryAfterMs != 2000 {
		t.Fatalf("got retryAfterMs %d, want 2000", err.RetryAfterMs)
	}
}

func TestAsExtractsToolError(t *testing.T) {
	var err error = New(UnknownError, "boom", "")
	te, ok := As(err)
	if !ok || te == nil {
		t.Fatalf("As() should recognize *Error")
	}
}
