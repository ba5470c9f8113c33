// Package marketdata supplies historical bars to the simulator, the
// optimization scheduler and the live engine.
package marketdata

import (
	"context"
	"time"

	"github.com/tradeforge/tradeforge/internal/core"
)

// Provider fetches bars for a symbol and interval. Implementations must
// return bars in strictly increasing time order.
type Provider interface {
	GetBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]core.Bar, error)
}
