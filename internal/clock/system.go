package clock

import (
	"context"
	"time"
)

type fixedKey struct{}

// WithFixed pins the clock for the remainder of the request. Used by tests
// and the replay tooling; production requests never set it.
func WithFixed(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, fixedKey{}, t.UTC())
}

type SystemClock struct{}

func (SystemClock) Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(fixedKey{}).(time.Time); ok {
		return t
	}
	return time.Now().UTC()
}
