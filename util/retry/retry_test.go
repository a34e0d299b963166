package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/ulogger"
)

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Millisecond, Backoff(0, 2, time.Millisecond))
	assert.Equal(t, 3*time.Millisecond, Backoff(1, 2, time.Millisecond))
	assert.Equal(t, 5*time.Second, Backoff(4, 1, time.Second))
}

func TestDo(t *testing.T) {
	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0

		err := Do(context.Background(), ulogger.TestLogger{}, func() error {
			calls++
			if calls < 3 {
				return errors.NewStorageError("disk busy")
			}

			return nil
		}, 5, 2, time.Millisecond, "save")

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up with the last error", func(t *testing.T) {
		calls := 0

		err := Do(context.Background(), ulogger.TestLogger{}, func() error {
			calls++
			return errors.NewStorageError("disk full %d", calls)
		}, 3, 1, time.Millisecond, "save")

		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.Contains(t, err.Error(), "disk full 3")
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0

		err := Do(ctx, ulogger.TestLogger{}, func() error {
			calls++
			cancel()

			return errors.NewStorageError("disk busy")
		}, 5, 1, time.Hour, "save")

		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
