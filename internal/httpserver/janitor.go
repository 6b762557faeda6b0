package httpserver

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StartJanitor drops sessions idle for longer than ttl, checking every
// interval until ctx is done. A non-positive interval or ttl disables it.
func (s *Server) StartJanitor(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 || ttl <= 0 {
		return
	}
	s.clock.TickerFunc(ctx, interval, func() error {
		if n := s.store.Sweep(ctx, s.clock.Now().Add(-ttl)); n > 0 {
			log.Info().Int("removed", n).Int("remaining", s.store.Len()).Msg("idle sessions swept")
		}
		return nil
	}, "janitor")
	log.Debug().Dur("interval", interval).Dur("ttl", ttl).Msg("session janitor started")
}
