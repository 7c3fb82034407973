package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// cleanupEvery is how often the syncer prunes old synced rows.
const cleanupEvery = 24 * time.Hour

// QueueSyncer drains the offline check-in queue on a fixed interval and
// prunes old synced rows once a day.
type QueueSyncer struct {
	Queue         *CheckinQueueService
	Sync          SyncFunc
	Interval      time.Duration
	RetentionDays int

	lastCleanup time.Time
}

// NewQueueSyncer constructs a QueueSyncer.
func NewQueueSyncer(queue *CheckinQueueService, sync SyncFunc, interval time.Duration, retentionDays int) *QueueSyncer {
	return &QueueSyncer{Queue: queue, Sync: sync, Interval: interval, RetentionDays: retentionDays}
}

// Run blocks, running a pass immediately and then every Interval, until ctx
// is done.
func (w *QueueSyncer) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	log.Info().Dur("interval", interval).Msg("check-in queue syncer started")

	w.RunOnce(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("check-in queue syncer stopped")
			return
		case <-t.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sync pass and, when due, one cleanup of old synced
// rows and expired idempotency keys.
func (w *QueueSyncer) RunOnce(ctx context.Context) {
	if _, err := w.Queue.SyncQueue(ctx, w.Sync); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("check-in queue sync pass failed")
	}

	now := w.Queue.now()
	if !w.lastCleanup.IsZero() && now.Sub(w.lastCleanup) < cleanupEvery {
		return
	}
	if _, err := w.Queue.ClearOldSyncedCheckins(ctx, w.RetentionDays); err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("check-in queue cleanup failed")
		}
		return
	}
	if _, err := w.Queue.PruneIdempotency(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("idempotency cleanup failed")
	}
	w.lastCleanup = now
}
