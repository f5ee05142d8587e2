package clock

import (
	"time"

	"go.uber.org/fx"
)

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return System{} }),
)

type Clock interface {
	Now() time.Time
}

// System reads wall-clock time in UTC.
type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}
