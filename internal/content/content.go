// Package content defines the items the notifier fans out and the closed
// set of categories and channels they travel through.
//
// Category and Channel are small closed enums; the formatter and
// dispatcher switch over them exhaustively instead of keying behavior
// off free-form strings.
package content

import "fmt"

// Category identifies a content source.
type Category string

const (
	CategoryOnChain  Category = "onchain"
	CategoryOffChain Category = "offchain"
	CategoryCalendar Category = "calendar"
)

// Categories lists every category in a stable order.
func Categories() []Category {
	return []Category{CategoryOnChain, CategoryOffChain, CategoryCalendar}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryOnChain, CategoryOffChain, CategoryCalendar:
		return true
	}
	return false
}

// Channel identifies a delivery surface.
//
// Telegram and Discord are broadcast channels (one message reaches the
// whole audience immediately); Email is a digest channel (items are
// batched and sent per subscriber).
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelDiscord  Channel = "discord"
	ChannelEmail    Channel = "email"
)

// Channels lists every channel in a stable order.
func Channels() []Channel {
	return []Channel{ChannelTelegram, ChannelDiscord, ChannelEmail}
}

// Item is a single piece of content produced by a fetcher.
// Implementations are immutable value types.
type Item interface {
	// ContentID is the source-native identifier, unique within the category.
	ContentID() string
	// ItemCategory reports which category the item belongs to.
	ItemCategory() Category
}

// OnChainProposal is a governance proposal submitted on chain.
type OnChainProposal struct {
	ID            string `json:"id"`
	TxnHash       string `json:"txnHash"`
	State         string `json:"state"`
	CreationTime  int64  `json:"creationTime"`
	ExecutionTime int64  `json:"executionTime"`
	Description   string `json:"description"`
}

func (p OnChainProposal) ContentID() string      { return p.ID }
func (p OnChainProposal) ItemCategory() Category { return CategoryOnChain }

// Space is the off-chain voting space a proposal belongs to.
type Space struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s Space) String() string {
	return fmt.Sprintf("{id: %s, name: %s}", s.ID, s.Name)
}

// OffChainProposal is a proposal from the off-chain voting hub.
type OffChainProposal struct {
	ID      string   `json:"id"`
	IPFS    string   `json:"ipfs"`
	Link    string   `json:"link"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Choices []string `json:"choices"`
	Created int64    `json:"created"`
	Start   int64    `json:"start"`
	End     int64    `json:"end"`
	State   string   `json:"state"`
	Author  string   `json:"author"`
	Type    string   `json:"type"`
	App     string   `json:"app"`
	Space   Space    `json:"space"`
}

func (p OffChainProposal) ContentID() string      { return p.ID }
func (p OffChainProposal) ItemCategory() Category { return CategoryOffChain }

// EventTime is a calendar event boundary as reported by the feed.
type EventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// CalendarEvent is a public governance calendar event.
type CalendarEvent struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Status      string    `json:"status"`
	Start       EventTime `json:"start"`
	End         EventTime `json:"end"`
	HTMLLink    string    `json:"htmlLink"`
	HangoutLink string    `json:"hangoutLink"`
}

func (e CalendarEvent) ContentID() string      { return e.ID }
func (e CalendarEvent) ItemCategory() Category { return CategoryCalendar }
