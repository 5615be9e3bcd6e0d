package utils_test

import (
	"errors"
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/crm_backend/utils"
)

func TestDomainErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{utils.NewNotFoundError("lead"), utils.ErrCodeNotFound},
		{utils.NewValidationError("title is required"), utils.ErrCodeValidation},
		{utils.NewInvalidStateError("lead is won"), utils.ErrCodeInvalidState},
		{utils.NewConflictError("lock contended"), utils.ErrCodeConflict},
		{utils.NewStorageError(errors.New("connection reset")), utils.ErrCodeStorage},
	}
	for _, tc := range cases {
		if got := utils.ErrorCode(tc.err); got != tc.code {
			t.Fatalf("expected code %s; got %s", tc.code, got)
		}
	}
}

func TestErrorCodeWrapped(t *testing.T) {
	err := fmt.Errorf("attach: %w", utils.NewNotFoundError("property"))
	if !utils.IsNotFound(err) {
		t.Fatalf("wrapped not-found error should stay NOT_FOUND")
	}
}

func TestErrorCodeRecordNotFoundSentinel(t *testing.T) {
	if got := utils.ErrorCode(utils.ErrorRecordNotFound); got != utils.ErrCodeNotFound {
		t.Fatalf("expected NOT_FOUND for record-not-found sentinel; got %s", got)
	}
}

func TestErrorCodeUnknownDefaultsToStorage(t *testing.T) {
	if got := utils.ErrorCode(errors.New("boom")); got != utils.ErrCodeStorage {
		t.Fatalf("expected STORAGE_ERROR for unknown errors; got %s", got)
	}
	if !utils.IsStorage(errors.New("boom")) {
		t.Fatalf("IsStorage should be true for unknown errors")
	}
}

func TestNewStorageErrorUnwraps(t *testing.T) {
	cause := errors.New("deadlock found")
	err := utils.NewStorageError(cause)
	if !errors.Is(err, cause) {
		t.Fatalf("storage error should wrap its cause")
	}
}
