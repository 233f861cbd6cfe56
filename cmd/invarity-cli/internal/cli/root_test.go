package cli

import (
	"testing"

	"invarity/cmd/invarity-cli/internal/client"
)

func TestExitCodeOfMapsAPIErrorCodes(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{"STORE_UNAVAILABLE", ExitStoreUnavailable},
		{"DEADLINE_EXCEEDED", ExitDeadlineExceeded},
		{"VALIDATION_ERROR", ExitValidationError},
		{"SCHEMA_VALIDATION_ERROR", ExitValidationError},
	}
	for _, tc := range cases {
		err := &client.APIError{StatusCode: 500, Body: client.ErrorResponse{Code: tc.code}}
		got, ok := exitCodeOf(err)
		if !ok || got != tc.want {
			t.Errorf("code %s: got (%d, %v), want %d", tc.code, got, ok, tc.want)
		}
	}
}

func TestExitCodeOfIgnoresNonAPIErrors(t *testing.T) {
	if _, ok := exitCodeOf(errPlain("boom")); ok {
		t.Error("expected non-API error to not map to an exit code")
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
