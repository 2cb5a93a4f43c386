package attendance

import (
	"context"
	"log"
	"time"
)

// Sweep deactivates expired sessions every interval until ctx is done.
// observe, if set, receives the number of sessions closed by each pass.
// Marks never depend on the sweep; it only keeps isActive honest for listings.
func (s *Service) Sweep(ctx context.Context, interval time.Duration, observe func(n int64)) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ExpireStale(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("expiry sweep failed: %v", err)
				}
				continue
			}
			if n > 0 {
				log.Printf("expiry sweep closed %d session(s)", n)
				if observe != nil {
					observe(n)
				}
			}
		}
	}
}
