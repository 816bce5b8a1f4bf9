package jobs

import (
	"context"
	"sync"
	"time"

	"consenthub/services"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// OverdueSweeper refreshes the overdue gauge and raises one overdue event per
// request per day
type OverdueSweeper struct {
	DSAR *services.DSARService

	mu      sync.Mutex
	alerted map[string]string // requestId -> day of last alert
}

func NewOverdueSweeper(dsar *services.DSARService) *OverdueSweeper {
	return &OverdueSweeper{DSAR: dsar, alerted: make(map[string]string)}
}

// Sweep returns how many overdue events were published
func (s *OverdueSweeper) Sweep(ctx context.Context) (int, error) {
	requests, err := s.DSAR.ListOverdue(ctx)
	if err != nil {
		return 0, err
	}
	s.DSAR.Metrics.SetOverdue(len(requests))

	now := s.DSAR.Clock()
	today := now.Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]struct{}, len(requests))
	published := 0
	for i := range requests {
		r := &requests[i]
		current[r.RequestID] = struct{}{}
		if s.alerted[r.RequestID] == today {
			continue
		}
		if s.DSAR.Events != nil {
			e := services.NewEvent(services.EventDSAROverdue, r, "", r.Status, services.SystemActor.Label(), now)
			if err := s.DSAR.Events.Publish(ctx, e); err != nil {
				zap.S().Warnw("failed to publish overdue event", "request_id", r.RequestID, "error", err)
				continue
			}
		}
		s.alerted[r.RequestID] = today
		published++
	}

	// Forget requests that are no longer overdue
	for id := range s.alerted {
		if _, ok := current[id]; !ok {
			delete(s.alerted, id)
		}
	}

	zap.S().Infow("overdue sweep completed", "overdue", len(requests), "alerts", published)
	return published, nil
}

// StartScheduler runs the sweep on spec (standard cron or descriptors like @hourly)
// until the returned cron is stopped
func StartScheduler(sweeper *OverdueSweeper, spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := sweeper.Sweep(ctx); err != nil {
			zap.S().Errorw("overdue sweep failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	zap.S().Infow("scheduler started", "job", "overdue_sweep", "spec", spec)
	return c, nil
}
