package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/multiimport/internal/tabular"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"export keys", &InvalidKeysError{Keys: []string{"nope"}}, "IMP001"},
		{"limiter", ErrTooManyImports, "IMP003"},
		{"file type", tabular.ErrInvalidFileType, "FILE002"},
		{"encoding", tabular.ErrEncoding, "FILE003"},
		{"empty file", tabular.ErrEmptyFile, "FILE005"},
		{"cycle", fmt.Errorf("cycle detected between entities: %v", []string{"a", "b", "a"}), "CFG001"},
		{"wrapped connection", fmt.Errorf("begin import: %w", errors.New("dial tcp: connection refused")), "DB001"},
		{"case insensitive", errors.New("RATE LIMIT exceeded"), "RATE001"},
		{"unknown", errors.New("some random internal error"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapError(tt.err); got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrTooManyImports)
	want := "System is busy processing other imports (Code: IMP003). Please wait a moment and try again"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
}

func TestNewUserError(t *testing.T) {
	if got := NewUserError(nil); got != nil {
		t.Errorf("NewUserError(nil) = %v, want nil", got)
	}

	techErr := errors.New("deadlock detected")
	userErr := NewUserError(techErr)
	if userErr.Error() != "Database was busy with conflicting operations" {
		t.Errorf("Error() = %q", userErr.Error())
	}
	if !errors.Is(userErr, techErr) {
		t.Error("Unwrap() should return the technical error")
	}
	if IsUserFacing(errors.New("xyz")) {
		t.Error("unknown errors are not user facing")
	}
}
