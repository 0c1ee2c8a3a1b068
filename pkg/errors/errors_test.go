package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDotstateError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DotstateError
		expected string
	}{
		{
			name:     "without wrapped error",
			err:      New(ErrUnsafePath, "cannot add storage repository"),
			expected: "[UNSAFE_PATH] cannot add storage repository",
		},
		{
			name:     "with wrapped error",
			err:      Wrap(fmt.Errorf("permission denied"), ErrFileAccess, "failed to read manifest"),
			expected: "[FILE_ACCESS] failed to read manifest: permission denied",
		},
		{
			name:     "formatted message",
			err:      Newf(ErrProfileNotFound, "profile %q not found", "work"),
			expected: `[PROFILE_NOT_FOUND] profile "work" not found`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestWrap_NilError(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrInternal, "should be nil"))
	assert.Nil(t, Wrapf(nil, ErrInternal, "should be %s", "nil"))
}

func TestErrorCode_Matching(t *testing.T) {
	base := New(ErrAlreadySynced, "already synced")
	wrapped := fmt.Errorf("outer: %w", base)

	assert.True(t, IsErrorCode(base, ErrAlreadySynced))
	assert.True(t, IsErrorCode(wrapped, ErrAlreadySynced))
	assert.False(t, IsErrorCode(wrapped, ErrNotSynced))
	assert.False(t, IsErrorCode(errors.New("plain"), ErrAlreadySynced))

	assert.Equal(t, ErrAlreadySynced, GetErrorCode(wrapped))
	assert.Equal(t, ErrUnknown, GetErrorCode(errors.New("plain")))
}

func TestErrorIs(t *testing.T) {
	err := Wrap(fmt.Errorf("io"), ErrMalformedStore, "bad manifest")
	assert.True(t, errors.Is(err, New(ErrMalformedStore, "anything")))
	assert.False(t, errors.Is(err, New(ErrProfileExists, "anything")))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrTargetOccupied, "destination exists").
		WithDetail("path", "/repo/default/.zshrc")
	assert.Equal(t, "/repo/default/.zshrc", err.Details["path"])
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("disk full")
	err := Wrap(inner, ErrFileWrite, "failed to save tracking")
	assert.Equal(t, inner, errors.Unwrap(err))
}
