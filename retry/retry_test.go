package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	attempts := 0
	v, err := Do(context.Background(), "test op", NewBackoffLimited(), func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, attempts)
}

func TestDoGivesUpWhenLimited(t *testing.T) {
	b := &exponential{base: time.Millisecond, max: 2 * time.Millisecond, limit: 3}
	_, err := Do(context.Background(), "always fails", b, func() (int, error) {
		return 0, errors.New("permanent")
	})
	require.Error(t, err)
	var gaveUp *ErrGaveUp
	assert.ErrorAs(t, err, &gaveUp)
}

func TestDoRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, "cancelled op", NewBackoffUnlimited(), func() (int, error) {
		return 0, errors.New("fails forever")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
