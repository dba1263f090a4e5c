package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ensnotify/internal/config"
	"ensnotify/internal/content"
	"ensnotify/internal/fetch"
	"ensnotify/internal/notify"
	"ensnotify/internal/storage"
	"ensnotify/pkg/logx"
)

type fakeFetcher struct {
	cat   content.Category
	items []content.Item
	err   error
}

func (f *fakeFetcher) Category() content.Category { return f.cat }
func (f *fakeFetcher) Fetch(ctx context.Context) ([]content.Item, error) {
	return f.items, f.err
}

type fakeChat struct {
	mu    sync.Mutex
	sends []string
	fail  bool
}

func (c *fakeChat) SendText(ctx context.Context, dest, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("chat unavailable")
	}
	c.sends = append(c.sends, dest+"|"+text)
	return nil
}

func (c *fakeChat) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

func (c *fakeChat) setFail(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = v
}

type fakeWebhook struct {
	mu    sync.Mutex
	sends []notify.Embed
}

func (w *fakeWebhook) SendEmbed(ctx context.Context, url string, e notify.Embed) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sends = append(w.sends, e)
	return nil
}

func (w *fakeWebhook) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sends)
}

type mailMsg struct {
	to, subject, body string
}

type fakeMail struct {
	mu    sync.Mutex
	sends []mailMsg
}

func (m *fakeMail) SendMail(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, mailMsg{to, subject, body})
	return nil
}

func (m *fakeMail) all() []mailMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailMsg(nil), m.sends...)
}

func testTargets() Targets {
	return Targets{
		TelegramChannels: config.CategoryValues{OnChain: "@oc", OffChain: "@off", Calendar: "@cal"},
		DiscordWebhooks:  config.CategoryValues{OnChain: "https://d/oc", OffChain: "https://d/off", Calendar: "https://d/cal"},
	}
}

func testStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "d.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func proposal(id string) content.OnChainProposal {
	return content.OnChainProposal{ID: id, TxnHash: "0x" + id, State: "ACTIVE", Description: "desc " + id}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func newTestService(t *testing.T, st storage.Store, fetchers []fetch.Fetcher,
	chat *fakeChat, wh *fakeWebhook, mail *fakeMail) *Service {
	t.Helper()
	svc := New(Config{Workers: 2, RatePerSec: 1000}, testTargets(), st, fetchers, chat, wh, mail, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		svc.Stop(sctx)
		scancel()
		cancel()
	})
	return svc
}

func TestBroadcastDeliversOncePerChannel(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	chat := &fakeChat{}
	wh := &fakeWebhook{}
	mail := &fakeMail{}
	ff := &fakeFetcher{cat: content.CategoryOnChain, items: []content.Item{proposal("p1")}}
	svc := newTestService(t, st, []fetch.Fetcher{ff}, chat, wh, mail)

	ctx := context.Background()
	if err := svc.RunBroadcastCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	waitFor(t, func() bool { return chat.count() == 1 && wh.count() == 1 })

	// A second cycle with the same upstream content sends nothing new.
	if err := svc.RunBroadcastCycle(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if chat.count() != 1 || wh.count() != 1 {
		t.Fatalf("duplicate broadcast: chat=%d webhook=%d", chat.count(), wh.count())
	}

	// Email fragment was queued once, exactly one ledger row per channel.
	entries, err := st.UnsentDigests(ctx, content.CategoryOnChain)
	if err != nil {
		t.Fatalf("unsent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want 1 digest entry, got %d", len(entries))
	}
	// The cycle waits for its sends, so ledger rows exist by the time it
	// returns.
	for _, ch := range content.Channels() {
		key := storage.DeliveryKey{ContentID: "p1", Channel: ch, Category: content.CategoryOnChain}
		n, err := st.CountDeliveries(ctx, key)
		if err != nil || n != 1 {
			t.Fatalf("ledger rows for %s: n=%d err=%v", ch, n, err)
		}
	}
}

func TestBroadcastRetriesFailedChannelOnly(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	chat := &fakeChat{fail: true}
	wh := &fakeWebhook{}
	mail := &fakeMail{}
	ff := &fakeFetcher{cat: content.CategoryOnChain, items: []content.Item{proposal("p2")}}
	svc := newTestService(t, st, []fetch.Fetcher{ff}, chat, wh, mail)

	ctx := context.Background()
	if err := svc.RunBroadcastCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	// Discord delivery lands and gets its ledger row; telegram fails and
	// stays unrecorded.
	waitFor(t, func() bool {
		n, err := st.CountDeliveries(ctx, storage.DeliveryKey{
			ContentID: "p2", Channel: content.ChannelDiscord, Category: content.CategoryOnChain})
		return err == nil && n == 1
	})
	waitFor(t, func() bool {
		seen, err := st.SeenDelivery(ctx, storage.DeliveryKey{
			ContentID: "p2", Channel: content.ChannelTelegram, Category: content.CategoryOnChain})
		return err == nil && !seen
	})

	// Telegram recovers; the next cycle resends only the failed channel.
	chat.setFail(false)
	if err := svc.RunBroadcastCycle(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	waitFor(t, func() bool { return chat.count() == 1 })
	time.Sleep(100 * time.Millisecond)
	if wh.count() != 1 {
		t.Fatalf("discord resent after success: %d sends", wh.count())
	}
}

// gatedChat holds every send until the gate channel is closed.
type gatedChat struct {
	fakeChat
	gate chan struct{}
}

func (c *gatedChat) SendText(ctx context.Context, dest, text string) error {
	select {
	case <-c.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.fakeChat.SendText(ctx, dest, text)
}

func TestCycleWaitsForQueuedSends(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	chat := &gatedChat{gate: make(chan struct{})}
	wh := &fakeWebhook{}
	ff := &fakeFetcher{cat: content.CategoryOnChain, items: []content.Item{proposal("slow")}}

	svc := New(Config{Workers: 1, RatePerSec: 1000}, testTargets(), st,
		[]fetch.Fetcher{ff}, chat, wh, &fakeMail{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		svc.Stop(sctx)
		scancel()
		cancel()
	})

	first := make(chan error, 1)
	go func() { first <- svc.RunBroadcastCycle(context.Background()) }()

	// While the telegram send is held up, the cycle must not return; if it
	// did, a follow-up cycle would read the ledger before the row exists
	// and queue the same send again.
	select {
	case err := <-first:
		t.Fatalf("cycle returned with a send still pending: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(chat.gate)
	if err := <-first; err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if err := svc.RunBroadcastCycle(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if chat.count() != 1 {
		t.Fatalf("duplicate telegram send: %d", chat.count())
	}
	if wh.count() != 1 {
		t.Fatalf("duplicate discord send: %d", wh.count())
	}
}

func TestFetchErrorSkipsCategory(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	chat := &fakeChat{}
	wh := &fakeWebhook{}
	mail := &fakeMail{}
	broken := &fakeFetcher{cat: content.CategoryOffChain, err: errors.New("upstream 502")}
	healthy := &fakeFetcher{cat: content.CategoryOnChain, items: []content.Item{proposal("p3")}}
	svc := newTestService(t, st, []fetch.Fetcher{broken, healthy}, chat, wh, mail)

	if err := svc.RunBroadcastCycle(context.Background()); err != nil {
		t.Fatalf("cycle should survive a fetch error: %v", err)
	}
	waitFor(t, func() bool { return chat.count() == 1 })
}

func TestRunBroadcastCategory(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	chat := &fakeChat{}
	wh := &fakeWebhook{}
	mail := &fakeMail{}
	oc := &fakeFetcher{cat: content.CategoryOnChain, items: []content.Item{proposal("c1")}}
	off := &fakeFetcher{cat: content.CategoryOffChain, items: []content.Item{
		content.OffChainProposal{ID: "o1", Title: "t", Space: content.Space{ID: "s"}},
	}}
	svc := newTestService(t, st, []fetch.Fetcher{oc, off}, chat, wh, mail)

	ctx := context.Background()
	if err := svc.RunBroadcastCategory(ctx, content.CategoryOnChain); err != nil {
		t.Fatalf("category cycle: %v", err)
	}
	waitFor(t, func() bool { return chat.count() == 1 })
	time.Sleep(100 * time.Millisecond)
	// The other category was not touched.
	if chat.count() != 1 {
		t.Fatalf("offchain dispatched too: %d chat sends", chat.count())
	}
	entries, _ := st.UnsentDigests(ctx, content.CategoryOffChain)
	if len(entries) != 0 {
		t.Fatalf("offchain digest enqueued: %+v", entries)
	}

	if err := svc.RunBroadcastCategory(ctx, content.Category("weird")); err == nil {
		t.Fatal("want error for unknown category")
	}
}

func TestDigestFanOut(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	chat := &fakeChat{}
	wh := &fakeWebhook{}
	mail := &fakeMail{}
	ff := &fakeFetcher{cat: content.CategoryOnChain, items: []content.Item{proposal("a"), proposal("b")}}
	svc := newTestService(t, st, []fetch.Fetcher{ff}, chat, wh, mail)

	ctx := context.Background()
	for _, sub := range []storage.Subscriber{
		{Email: "one@example.org", Token: "t1", OnChain: true},
		{Email: "two@example.org", Token: "t2", OnChain: true},
		{Email: "cal@example.org", Token: "t3", Calendar: true},
	} {
		if _, err := st.CreateSubscriber(ctx, sub); err != nil {
			t.Fatalf("subscriber: %v", err)
		}
	}
	for _, tok := range []string{"t1", "t2", "t3"} {
		if err := st.MarkVerified(ctx, tok); err != nil {
			t.Fatalf("verify: %v", err)
		}
	}

	if err := svc.RunBroadcastCycle(ctx); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if err := svc.RunDigestCycle(ctx); err != nil {
		t.Fatalf("digest: %v", err)
	}

	sends := mail.all()
	// Two onchain subscribers get the digest; the calendar-only one does
	// not, and the empty calendar queue sends nothing.
	if len(sends) != 2 {
		t.Fatalf("want 2 digest emails, got %d: %+v", len(sends), sends)
	}
	for _, msg := range sends {
		if msg.subject != "ENS Domains OnChain Proposals" {
			t.Fatalf("subject = %q", msg.subject)
		}
		if !strings.Contains(msg.body, "desc a") || !strings.Contains(msg.body, "desc b") {
			t.Fatalf("digest body missing fragments:\n%s", msg.body)
		}
	}
	if sends[0].body != sends[1].body {
		t.Fatal("subscribers received different digest bodies")
	}

	// The drained entries are marked; a second digest cycle is a no-op.
	if err := svc.RunDigestCycle(ctx); err != nil {
		t.Fatalf("second digest: %v", err)
	}
	if len(mail.all()) != 2 {
		t.Fatalf("second digest cycle resent mail: %d total", len(mail.all()))
	}
}

func TestDigestEmptyQueueNoop(t *testing.T) {
	t.Parallel()
	st := testStore(t)
	mail := &fakeMail{}
	svc := New(Config{}, testTargets(), st, nil, &fakeChat{}, &fakeWebhook{}, mail, logx.Nop())

	ctx := context.Background()
	if _, err := st.CreateSubscriber(ctx, storage.Subscriber{Email: "x@example.org", Token: "tx", OnChain: true}); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkVerified(ctx, "tx"); err != nil {
		t.Fatal(err)
	}
	if err := svc.RunDigestCycle(ctx); err != nil {
		t.Fatalf("digest: %v", err)
	}
	if len(mail.all()) != 0 {
		t.Fatalf("empty queue produced %d emails", len(mail.all()))
	}
}
