package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type Pruneable interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// Pruner periodically drops audit entries older than the retention window.
type Pruner struct {
	store     Pruneable
	retention time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
	now       func() time.Time
}

func NewPruner(store Pruneable, retention time.Duration, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		store:     store,
		retention: retention,
		logger:    logger,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		now:       time.Now,
	}
}

func (p *Pruner) Schedule(spec string) error {
	_, err := p.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		p.RunOnce(ctx)
	})
	return err
}

func (p *Pruner) Start() { p.cron.Start() }

// Stop waits for a running prune to finish or ctx to expire.
func (p *Pruner) Stop(ctx context.Context) {
	done := p.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (p *Pruner) RunOnce(ctx context.Context) {
	cutoff := p.now().UTC().Add(-p.retention)
	removed, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		p.logger.Error("audit prune failed", "error", err)
		return
	}
	p.logger.Info("audit pruned", "removed", removed, "cutoff", cutoff.Format(time.RFC3339))
}
