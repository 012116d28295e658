package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hanna4328/chat-bot/internal/logging"
)

// Purger deletes entries older than the retention horizon on a cron schedule.
type Purger struct {
	store     Store
	retention time.Duration
	cron      *cron.Cron
	now       func() time.Time
}

func NewPurger(store Store, retention time.Duration, schedule string) (*Purger, error) {
	p := &Purger{
		store:     store,
		retention: retention,
		cron:      cron.New(),
		now:       time.Now,
	}
	if _, err := p.cron.AddFunc(schedule, p.run); err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	return p, nil
}

func (p *Purger) Start() { p.cron.Start() }

// Stop waits for a running purge to finish.
func (p *Purger) Stop() {
	<-p.cron.Stop().Done()
}

// PurgeOnce deletes entries older than the retention horizon.
func (p *Purger) PurgeOnce(ctx context.Context) (int64, error) {
	return p.store.DeleteOlderThan(ctx, p.now().Add(-p.retention))
}

func (p *Purger) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := p.PurgeOnce(ctx)
	if err != nil {
		slog.Error("audit purge failed", logging.Err(err))
		return
	}
	slog.Info("audit purge complete", "deleted", n)
}
