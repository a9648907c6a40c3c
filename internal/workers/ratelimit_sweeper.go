package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper removes expired rate limit windows.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// RateLimitSweeper periodically drops expired windows so the in-memory
// limiter does not grow without bound.
type RateLimitSweeper struct {
	sweeper  Sweeper
	interval time.Duration
}

// NewRateLimitSweeper creates a new RateLimitSweeper worker
func NewRateLimitSweeper(s Sweeper, interval time.Duration) *RateLimitSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &RateLimitSweeper{
		sweeper:  s,
		interval: interval,
	}
}

// Start runs the sweep loop until ctx is done
func (w *RateLimitSweeper) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("Starting rate limit sweeper")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Rate limit sweeper stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *RateLimitSweeper) sweep(ctx context.Context) {
	start := time.Now()
	removed, err := w.sweeper.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Rate limit sweep failed")
		return
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Dur("took", time.Since(start)).Msg("Swept expired rate limit windows")
	}
}
