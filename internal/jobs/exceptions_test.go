package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"martingalian/internal/exchange"
)

func TestClassifyAdapterErrors(t *testing.T) {
	tests := []struct {
		name string
		kind exchange.ErrorKind
		want ExceptionKind
	}{
		{"transient", exchange.KindTransient, KindTransient},
		{"rate limited", exchange.KindRateLimited, KindRateLimited},
		{"order not found", exchange.KindOrderNotFound, KindStatePrecondition},
		{"auth", exchange.KindAuth, KindFatal},
		{"invalid request", exchange.KindInvalidRequest, KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &exchange.APIError{Exchange: "binance", Kind: tt.kind, Message: "boom"}
			assert.Equal(t, tt.want, Classify(err).Kind)
		})
	}
}

func TestClassifyRateLimitRetryAfter(t *testing.T) {
	err := &exchange.APIError{Kind: exchange.KindRateLimited, RetryAfter: 3 * time.Second}
	ex := Classify(err)
	assert.Equal(t, KindRateLimited, ex.Kind)
	assert.Equal(t, 3*time.Second, ex.RetryAfter)

	// Missing hint falls back to one second.
	ex = Classify(&exchange.APIError{Kind: exchange.KindRateLimited})
	assert.Equal(t, time.Second, ex.RetryAfter)
}

func TestClassifyPassesThroughExceptions(t *testing.T) {
	original := JustResolve(errors.New("already done"))
	assert.Same(t, original, Classify(original))
}

func TestClassifyContextErrors(t *testing.T) {
	assert.Equal(t, KindTransient, Classify(context.Canceled).Kind)
	assert.Equal(t, KindTransient, Classify(context.DeadlineExceeded).Kind)
}

func TestClassifyUnknownIsFatal(t *testing.T) {
	assert.Equal(t, KindFatal, Classify(errors.New("mystery")).Kind)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(Transient(errors.New("net"))))
	assert.Equal(t, KindFatal, KindOf(errors.New("raw")))
}

func TestExceptionUnwrap(t *testing.T) {
	inner := errors.New("inner")
	assert.ErrorIs(t, Fatal(inner), inner)
}
