package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ensnotify/internal/config"
	"ensnotify/internal/fetch"
	"ensnotify/internal/notify"
	"ensnotify/internal/storage"
	"ensnotify/pkg/logx"
)

type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
	// SendTimeout bounds a single outbound send, broadcast or digest.
	SendTimeout time.Duration
}

// Targets maps each category to its broadcast destinations.
type Targets struct {
	TelegramChannels config.CategoryValues
	DiscordWebhooks  config.CategoryValues
}

// job is one broadcast send. send performs the delivery; the worker records
// the ledger entry only after send returns nil. wg is the owning cycle's
// in-flight counter, released when the job finishes either way.
type job struct {
	key  storage.DeliveryKey
	send func(ctx context.Context) error
	wg   *sync.WaitGroup
}

type Service struct {
	mu sync.Mutex

	cfg     Config
	targets Targets
	store   storage.Store
	chat    notify.ChatSender
	webhook notify.WebhookSender
	mail    notify.MailSender
	log     logx.Logger

	fetchers []fetch.Fetcher

	limiter *rate.Limiter
	queue   chan job
	stopCh  chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when
	// workers fully exit.
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// Cycle serialization: a broadcast cycle never overlaps another
	// broadcast cycle, and a digest cycle never overlaps another digest
	// cycle. The two kinds may interleave; the delivery ledger keeps that
	// safe.
	broadcastMu sync.Mutex
	digestMu    sync.Mutex
}
