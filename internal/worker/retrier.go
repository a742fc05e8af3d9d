package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultBatchSize = 50

type RetryRunner interface {
	RetryDue(ctx context.Context, limit int) (int, error)
}

// AffiliateRetrier replays failed affiliate provisioning on a fixed interval.
type AffiliateRetrier struct {
	Runner    RetryRunner
	Interval  time.Duration
	BatchSize int
	Logger    logrus.FieldLogger
}

func NewAffiliateRetrier(runner RetryRunner, interval time.Duration, logger logrus.FieldLogger) *AffiliateRetrier {
	if interval <= 0 {
		interval = time.Minute
	}
	return &AffiliateRetrier{
		Runner:    runner,
		Interval:  interval,
		BatchSize: defaultBatchSize,
		Logger:    logger,
	}
}

// Start runs one cycle immediately and then one per interval until ctx is done.
func (w *AffiliateRetrier) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.Logger.WithField("interval", w.Interval).Info("affiliate retry worker started")

	w.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("affiliate retry worker stopped")
			return nil
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

func (w *AffiliateRetrier) runCycle(ctx context.Context) {
	done, err := w.Runner.RetryDue(ctx, w.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.Logger.WithError(err).Error("affiliate retry cycle failed")
		}
		return
	}
	if done > 0 {
		w.Logger.WithField("provisioned", done).Info("affiliate retry cycle finished")
	}
}
