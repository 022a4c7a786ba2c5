package thumbs

import (
	"context"
	"time"

	"github.com/dedupfs/dupview/internal/http"
)

// Clock is the time source for every engine wait.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the real clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	return http.SleepContext(ctx, d)
}
