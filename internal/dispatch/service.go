// Package dispatch is the fan-out engine: it pulls fresh content from the
// fetchers, renders it per channel, and delivers each item to each channel
// exactly once. Chat channels go through a bounded worker pool; email goes
// through a persistent digest queue drained on its own cycle.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ensnotify/internal/content"
	"ensnotify/internal/fetch"
	"ensnotify/internal/format"
	"ensnotify/internal/notify"
	"ensnotify/internal/storage"
	"ensnotify/pkg/logx"
)

func New(cfg Config, targets Targets, store storage.Store, fetchers []fetch.Fetcher,
	chat notify.ChatSender, webhook notify.WebhookSender, mail notify.MailSender,
	log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 20 * time.Second
	}
	return &Service{
		cfg:      cfg,
		targets:  targets,
		store:    store,
		chat:     chat,
		webhook:  webhook,
		mail:     mail,
		log:      log,
		fetchers: fetchers,
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		queue:    make(chan job, queueSize),
	}
}

// Apply swaps in updated targets and rate limit without restarting workers.
func (s *Service) Apply(cfg Config, targets Targets) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 20 * time.Second
	}
	s.cfg.RatePerSec = cfg.RatePerSec
	s.cfg.SendTimeout = cfg.SendTimeout
	s.targets = targets
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
}

func (s *Service) Start(ctx context.Context) {
	// If a Stop() is in progress, wait for it to complete so two worker
	// pools never coexist.
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	queue := s.queue
	stopCh := s.stopCh
	runCtx := s.runCtx

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in dispatch worker",
						logx.Int("worker", idx), logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue, idx)
		}()
	}
	s.log.Info("dispatcher started", logx.Int("workers", workers))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("dispatcher stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

// RunBroadcastCycle fetches every category and fans each unseen item out to
// its channels. Fetch failures skip that category for this cycle; storage
// failures abort the cycle so a flaky database cannot cause double sends.
//
// The cycle holds broadcastMu until every send it queued has finished and
// written its ledger row. Without that, a back-to-back invocation would
// re-read the ledger while jobs are still in flight and queue duplicates.
func (s *Service) RunBroadcastCycle(ctx context.Context) error {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	start := time.Now()
	var inflight sync.WaitGroup
	var queued, skipped int
	for _, f := range s.fetchers {
		q, sk, err := s.broadcastOne(ctx, f, &inflight)
		if err != nil {
			return errors.Join(err, s.waitInflight(ctx, &inflight))
		}
		queued += q
		skipped += sk
	}
	if err := s.waitInflight(ctx, &inflight); err != nil {
		return err
	}
	s.log.Info("broadcast cycle finished",
		logx.Int("queued", queued), logx.Int("skipped", skipped),
		logx.Duration("took", time.Since(start)))
	return nil
}

// RunBroadcastCategory runs the broadcast pass for a single category.
func (s *Service) RunBroadcastCategory(ctx context.Context, cat content.Category) error {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	var inflight sync.WaitGroup
	for _, f := range s.fetchers {
		if f.Category() != cat {
			continue
		}
		_, _, err := s.broadcastOne(ctx, f, &inflight)
		return errors.Join(err, s.waitInflight(ctx, &inflight))
	}
	return fmt.Errorf("dispatch: no fetcher for category %q", cat)
}

// waitInflight blocks until every job the cycle queued has completed, or the
// context ends first.
func (s *Service) waitInflight(ctx context.Context, inflight *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) broadcastOne(ctx context.Context, f fetch.Fetcher, inflight *sync.WaitGroup) (queued, skipped int, err error) {
	items, err := f.Fetch(ctx)
	if err != nil {
		// A fetch error means the category contributes nothing this cycle.
		s.log.Warn("fetch failed, category skipped this cycle",
			logx.String("category", string(f.Category())), logx.Err(err))
		return 0, 0, nil
	}
	for _, item := range items {
		q, sk, err := s.dispatchItem(ctx, item, inflight)
		if err != nil {
			return queued, skipped, err
		}
		queued += q
		skipped += sk
	}
	return queued, skipped, nil
}

// dispatchItem routes one item to each channel it has not reached yet.
// Returns counts of queued and already-delivered sends.
func (s *Service) dispatchItem(ctx context.Context, item content.Item, inflight *sync.WaitGroup) (queued, skipped int, err error) {
	cat := item.ItemCategory()
	for _, ch := range content.Channels() {
		key := storage.DeliveryKey{ContentID: item.ContentID(), Channel: ch, Category: cat}
		seen, err := s.store.SeenDelivery(ctx, key)
		if err != nil {
			return queued, skipped, err
		}
		if seen {
			skipped++
			continue
		}

		msg, err := format.Render(item, ch)
		if err != nil {
			// A render failure is a bug, not a transient fault; skip the
			// item rather than abort the cycle.
			s.log.Error("render failed", logx.String("content_id", key.ContentID),
				logx.String("channel", string(ch)), logx.Err(err))
			continue
		}

		switch ch {
		case content.ChannelEmail:
			// Email is recorded at enqueue time: once a fragment is in the
			// digest queue the item has "reached" the email channel.
			if err := s.store.EnqueueDigest(ctx, cat, msg.Text); err != nil {
				return queued, skipped, err
			}
			if err := s.store.RecordDelivery(ctx, key); err != nil {
				return queued, skipped, err
			}
			queued++

		case content.ChannelTelegram:
			dest := s.telegramChannel(cat)
			if dest == "" {
				skipped++
				continue
			}
			text := msg.Text
			if err := s.enqueue(ctx, job{key: key, wg: inflight, send: func(ctx context.Context) error {
				return s.chat.SendText(ctx, dest, text)
			}}); err != nil {
				return queued, skipped, err
			}
			queued++

		case content.ChannelDiscord:
			url := s.discordWebhook(cat)
			if url == "" {
				skipped++
				continue
			}
			embed := notify.Embed{Title: msg.Title, Description: msg.Description, Footer: msg.Footer}
			if err := s.enqueue(ctx, job{key: key, wg: inflight, send: func(ctx context.Context) error {
				return s.webhook.SendEmbed(ctx, url, embed)
			}}); err != nil {
				return queued, skipped, err
			}
			queued++
		}
	}
	return queued, skipped, nil
}

func (s *Service) enqueue(ctx context.Context, j job) error {
	if j.wg != nil {
		j.wg.Add(1)
	}
	select {
	case s.queue <- j:
		return nil
	case <-ctx.Done():
		if j.wg != nil {
			j.wg.Done()
		}
		return ctx.Err()
	}
}

func (s *Service) telegramChannel(cat content.Category) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets.TelegramChannels.For(cat)
}

func (s *Service) discordWebhook(cat content.Category) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets.DiscordWebhooks.For(cat)
}

func (s *Service) sendTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.SendTimeout
}

func (s *Service) currentLimiter() *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limiter
}
