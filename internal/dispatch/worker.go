package dispatch

import (
	"context"

	"ensnotify/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job, idx int) {
	for {
		// fast-exit so stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execJob(ctx, j)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job) {
	if j.wg != nil {
		defer j.wg.Done()
	}
	if lim := s.currentLimiter(); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return
		}
	}

	sctx, cancel := context.WithTimeout(ctx, s.sendTimeout())
	err := j.send(sctx)
	cancel()
	if err != nil {
		// No ledger record on failure: the next cycle sees the item as
		// undelivered on this channel and tries again.
		s.log.Warn("send failed",
			logx.String("content_id", j.key.ContentID),
			logx.String("channel", string(j.key.Channel)),
			logx.String("category", string(j.key.Category)),
			logx.Err(err))
		return
	}

	if err := s.store.RecordDelivery(ctx, j.key); err != nil {
		// Delivered but unrecorded: the item may be re-sent next cycle.
		s.log.Error("delivery made but ledger write failed",
			logx.String("content_id", j.key.ContentID),
			logx.String("channel", string(j.key.Channel)),
			logx.Err(err))
	}
}
