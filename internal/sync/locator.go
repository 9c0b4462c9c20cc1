package sync

import (
	"context"
	"time"

	"github.com/aegisfield/aegis/internal/types"
)

// Locator resolves the device's current position. Implementations wrap
// whatever positioning source the host exposes; an error means no fix was
// available in time.
type Locator interface {
	Locate(ctx context.Context) (*types.Location, error)
}

// LocatorFunc adapts a function to the Locator interface.
type LocatorFunc func(ctx context.Context) (*types.Location, error)

func (f LocatorFunc) Locate(ctx context.Context) (*types.Location, error) {
	return f(ctx)
}

// captureSyncLocation attempts a position fix within the given timeout.
// It is strictly best effort: any error, including no locator being
// configured, yields nil and the sync attempt proceeds without it.
func captureSyncLocation(ctx context.Context, locator Locator, timeout time.Duration) *types.Location {
	if locator == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	loc, err := locator.Locate(ctx)
	if err != nil {
		return nil
	}
	return loc
}
