package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceHookStampsContext(t *testing.T) {
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}

	ctx, _, _, err := NewHookChain(TraceHook{}).BeforeHandle(context.Background(), "t", km, nil)
	require.NoError(t, err)

	assert.Equal(t, "abc", TraceID(ctx))
	_, ok := StartTime(ctx)
	assert.True(t, ok)
}

func TestHookChainPanicBecomesError(t *testing.T) {
	var seen error
	chain := NewHookChain(
		HookFuncs{Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
			panic("boom")
		}},
		HookFuncs{Err: func(_ context.Context, _ string, _ kafka.Message, _ []byte, err error) { seen = err }},
	)

	_, _, _, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var he *HookError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "ERR_PANIC", he.Code)
	assert.Equal(t, err, seen)
}

func TestHookChainAfterRunsInReverse(t *testing.T) {
	var order []int
	mk := func(i int) ConsumerHook {
		return HookFuncs{After: func(context.Context, string, kafka.Message, []byte, error) { order = append(order, i) }}
	}
	NewHookChain(mk(1), mk(2), mk(3)).AfterHandle(context.Background(), "t", kafka.Message{}, nil, nil)
	assert.Equal(t, []int{3, 2, 1}, order)
}
