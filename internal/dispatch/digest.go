package dispatch

import (
	"context"
	"strings"
	"time"

	"ensnotify/internal/content"
	"ensnotify/pkg/logx"
)

var digestSubjects = map[content.Category]string{
	content.CategoryOnChain:  "ENS Domains OnChain Proposals",
	content.CategoryOffChain: "ENS Domains Offchain Proposals",
	content.CategoryCalendar: "ENS Domains Calendar Events",
}

// RunDigestCycle drains each category's unsent digest entries, sends the
// combined body to every verified opted-in subscriber, and marks exactly the
// drained entries as sent. Entries enqueued while a cycle runs stay unsent
// until the next cycle.
func (s *Service) RunDigestCycle(ctx context.Context) error {
	s.digestMu.Lock()
	defer s.digestMu.Unlock()

	start := time.Now()
	for _, cat := range content.Categories() {
		if err := s.sendDigest(ctx, cat); err != nil {
			return err
		}
	}
	s.log.Info("digest cycle finished", logx.Duration("took", time.Since(start)))
	return nil
}

// RunDigestCategory drains and sends a single category's digest.
func (s *Service) RunDigestCategory(ctx context.Context, cat content.Category) error {
	s.digestMu.Lock()
	defer s.digestMu.Unlock()
	return s.sendDigest(ctx, cat)
}

func (s *Service) sendDigest(ctx context.Context, cat content.Category) error {
	entries, err := s.store.UnsentDigests(ctx, cat)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	var b strings.Builder
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		b.WriteString(e.Body)
		b.WriteString("\n\n\n")
		ids = append(ids, e.ID)
	}
	body := b.String()

	recipients, err := s.store.Recipients(ctx, cat)
	if err != nil {
		return err
	}

	var failed int
	for _, to := range recipients {
		sctx, cancel := context.WithTimeout(ctx, s.sendTimeout())
		err := s.mail.SendMail(sctx, to, digestSubjects[cat], body)
		cancel()
		if err != nil {
			failed++
		}
	}

	// The drained entries are marked regardless of per-recipient errors:
	// a digest is one shot, not a retried delivery.
	if err := s.store.MarkDigestsSent(ctx, ids); err != nil {
		return err
	}

	fields := []logx.Field{
		logx.String("category", string(cat)),
		logx.Int("entries", len(entries)),
		logx.Int("recipients", len(recipients)),
	}
	if failed > 0 {
		fields = append(fields, logx.Int("failed", failed))
		s.log.Warn("digest sent with failures", fields...)
	} else {
		s.log.Info("digest sent", fields...)
	}
	return nil
}
