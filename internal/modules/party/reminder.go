// README: Departure reminder scheduler.
package party

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"unipool/internal/config"
)

// RunReminderScheduler periodically scans for parties whose departure falls
// inside the reminder window and pushes a reminder to every member. Each
// party is reminded at most once; the sent flag is persisted before the
// pushes go out so a crashed dispatch is never repeated.
func (s *Service) RunReminderScheduler(ctx context.Context, cfg config.ReminderConfig) {
	tick := time.Duration(cfg.TickSeconds) * time.Second
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.remindDepartures(ctx, cfg)
		}
	}
}

func (s *Service) remindDepartures(ctx context.Context, cfg config.ReminderConfig) {
	now := s.now()
	windowStart := now.Add(cfg.Lead)
	windowEnd := windowStart.Add(cfg.Width)

	candidates, err := s.store.ReminderCandidates(ctx, windowStart, windowEnd)
	if err != nil {
		s.logger.Warn("reminder candidate scan failed", zap.Error(err))
		return
	}

	for _, p := range candidates {
		if err := s.store.MarkReminderSent(ctx, p.ID); err != nil {
			// A lost claim means another scheduler instance got there first.
			if !errors.Is(err, ErrReminderAlreadySent) {
				s.logger.Warn("reminder mark failed", zap.Int64("party_id", int64(p.ID)), zap.Error(err))
			}
			continue
		}
		if s.notify == nil {
			continue
		}
		title := fmt.Sprintf("Departure at %s", p.DepartureAt.Format("15:04"))
		body := fmt.Sprintf("Your party to %s leaves soon.", placeName(p.EndPlace))
		for _, m := range p.Members {
			if err := s.notify.Dispatch(ctx, m.MemberID, title, body, "DEPARTURE_REMINDER"); err != nil {
				s.logger.Warn("reminder push failed",
					zap.Int64("party_id", int64(p.ID)),
					zap.Int64("member_id", int64(m.MemberID)),
					zap.Error(err))
			}
		}
	}
}
