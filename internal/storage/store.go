package storage

import (
	"context"

	"ensnotify/internal/content"
	"ensnotify/pkg/logx"
)

// Store is the persistence API used by the dispatcher and HTTP surface.
type Store interface {
	// SeenDelivery reports whether the triple already has a ledger record.
	SeenDelivery(ctx context.Context, key DeliveryKey) (bool, error)
	// RecordDelivery appends a ledger record for the triple. Inserting a
	// triple that already exists is a no-op, not an error.
	RecordDelivery(ctx context.Context, key DeliveryKey) error
	// CountDeliveries returns the number of ledger records for the triple
	// (0 or 1 under the uniqueness constraint; used by tests and health).
	CountDeliveries(ctx context.Context, key DeliveryKey) (int, error)

	// EnqueueDigest adds a formatted fragment to the category's queue.
	EnqueueDigest(ctx context.Context, cat content.Category, body string) error
	// UnsentDigests returns the category's unsent entries in insertion order.
	UnsentDigests(ctx context.Context, cat content.Category) ([]DigestEntry, error)
	// MarkDigestsSent flips exactly the given entries to sent.
	MarkDigestsSent(ctx context.Context, ids []int64) error

	CreateSubscriber(ctx context.Context, sub Subscriber) (Subscriber, error)
	SubscriberByToken(ctx context.Context, token string) (Subscriber, error)
	MarkVerified(ctx context.Context, token string) error
	DeleteByToken(ctx context.Context, token string) error
	// Recipients returns verified subscriber emails opted into cat.
	Recipients(ctx context.Context, cat content.Category) ([]string, error)

	Close() error
}

// Open initializes the SQLite store at cfg.Path, creating the schema if
// needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
