package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/strategy-cli/internal/apperr"
)

func TestUntil_NotFoundKeepsPolling(t *testing.T) {
	calls := 0
	ticks := 0
	got, err := Until(context.Background(),
		func(context.Context) (string, error) {
			calls++
			switch calls {
			case 1:
				return "", apperr.ErrNotFound
			case 2:
				return "pending", nil
			}
			return "completed", nil
		},
		func(s string) bool { return s == "completed" },
		WithInterval(time.Millisecond),
		OnTick(func(int) { ticks++ }),
	)
	require.NoError(t, err)
	assert.Equal(t, "completed", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, ticks)
}

func TestUntil_OtherErrorStops(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Until(context.Background(),
		func(context.Context) (int, error) { calls++; return 0, boom },
		func(int) bool { return true },
		WithInterval(time.Millisecond),
	)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestUntil_Timeout(t *testing.T) {
	_, err := Until(context.Background(),
		func(context.Context) (int, error) { return 0, nil },
		func(int) bool { return false },
		WithInterval(time.Millisecond),
		WithTimeout(20*time.Millisecond),
	)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
