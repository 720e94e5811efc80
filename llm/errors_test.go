package llm

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		kind      Kind
		retryable bool
	}{
		{400, KindInvalidRequest, false},
		{401, KindAuthentication, false},
		{403, KindAccessDenied, false},
		{404, KindNotFound, false},
		{408, KindTimeout, true},
		{413, KindContextLength, false},
		{422, KindInvalidRequest, false},
		{429, KindRateLimit, true},
		{503, KindServer, true},
		{418, KindUnknown, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := ErrorFromStatusCode(tt.status, "msg", "p", 0)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestIsRetryable_Wrapped(t *testing.T) {
	base := ErrorFromStatusCode(401, "bad key", "p", 0)
	assert.False(t, IsRetryable(fmt.Errorf("reason with p: %w", base)))
	assert.False(t, IsRetryable(NewUnavailableError("p")))
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("connection reset")))
}

func TestIsUnavailable(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewUnavailableError("openai"))
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsUnavailable(errors.New("other")))
	assert.Contains(t, err.Error(), "openai")
}

func TestErrorUnwrapAndIs(t *testing.T) {
	cause := errors.New("root cause")
	err := fmt.Errorf("call: %w", newError(KindNetwork, "openai", "dial failed", cause))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.False(t, errors.Is(err, ErrUnavailable))
	assert.True(t, errors.Is(ErrorFromStatusCode(429, "slow", "a", time.Second), ErrRateLimited))
}

func TestErrorMessage(t *testing.T) {
	err := ErrorFromStatusCode(503, "overloaded", "anthropic", 0)
	assert.Equal(t, "anthropic: server (503): overloaded", err.Error())

	wrapped := newError(KindTimeout, "", "", errors.New("deadline exceeded"))
	assert.Equal(t, "timeout: deadline exceeded", wrapped.Error())
	assert.Equal(t, "kind(99)", Kind(99).String())
}
