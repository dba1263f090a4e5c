package storage

import (
	"errors"
	"time"

	"ensnotify/internal/content"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail is returned when a subscription for the email
	// already exists.
	ErrDuplicateEmail = errors.New("email already subscribed")
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// DeliveryKey is the composite identity of one delivery obligation.
type DeliveryKey struct {
	ContentID string
	Channel   content.Channel
	Category  content.Category
}

// DigestEntry is a pre-formatted email fragment waiting for the next
// digest cycle. Entries are write-once text blobs; they are not keyed
// back to the originating content after creation.
type DigestEntry struct {
	ID        int64
	Category  content.Category
	Body      string
	Sent      bool
	CreatedAt time.Time
}

// Subscriber is one email recipient with per-category opt-ins.
type Subscriber struct {
	ID        int64
	Email     string
	Token     string
	Verified  bool
	OnChain   bool
	OffChain  bool
	Calendar  bool
	CreatedAt time.Time
}

// OptedIn reports whether the subscriber receives the given category.
func (s Subscriber) OptedIn(cat content.Category) bool {
	switch cat {
	case content.CategoryOnChain:
		return s.OnChain
	case content.CategoryOffChain:
		return s.OffChain
	case content.CategoryCalendar:
		return s.Calendar
	}
	return false
}
