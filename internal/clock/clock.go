package clock

import (
	"context"
	"time"

	"go.uber.org/fx"
)

// Clock abstracts "now" so billing period math is deterministic in tests.
type Clock interface {
	Now(ctx context.Context) time.Time
}

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return SystemClock{} }),
)
