// Package format renders content items into channel-shaped messages.
//
// Every (category, channel) pair has exactly one renderer registered in the
// dispatch table; both enums are closed, so a missing entry is a programming
// error surfaced at init.
package format

import (
	"fmt"
	"strings"

	"ensnotify/internal/content"
)

// Per-channel truncation caps, in runes. Email digests carry full bodies.
const (
	onChainTelegramDescCap  = 3200
	offChainTelegramBodyCap = 3100
	offChainChoicesCap      = 500
	telegramMessageCap      = 4000
	discordFieldCap         = 2000
)

// Message is a rendered item. Chat and email renderers fill Text; discord
// renderers fill Title, Description and Footer for the embed.
type Message struct {
	Text        string
	Title       string
	Description string
	Footer      string
}

type renderFunc func(content.Item) (Message, error)

var renderers = map[content.Category]map[content.Channel]renderFunc{
	content.CategoryOnChain: {
		content.ChannelTelegram: onChainTelegram,
		content.ChannelDiscord:  onChainDiscord,
		content.ChannelEmail:    onChainMail,
	},
	content.CategoryOffChain: {
		content.ChannelTelegram: offChainTelegram,
		content.ChannelDiscord:  offChainDiscord,
		content.ChannelEmail:    offChainMail,
	},
	content.CategoryCalendar: {
		content.ChannelTelegram: calendarTelegram,
		content.ChannelDiscord:  calendarDiscord,
		content.ChannelEmail:    calendarMail,
	},
}

func init() {
	for _, cat := range content.Categories() {
		for _, ch := range content.Channels() {
			if renderers[cat][ch] == nil {
				panic(fmt.Sprintf("format: no renderer for (%s, %s)", cat, ch))
			}
		}
	}
}

// Render formats item for the given channel.
func Render(item content.Item, ch content.Channel) (Message, error) {
	byChannel, ok := renderers[item.ItemCategory()]
	if !ok {
		return Message{}, fmt.Errorf("format: unknown category %q", item.ItemCategory())
	}
	fn, ok := byChannel[ch]
	if !ok {
		return Message{}, fmt.Errorf("format: unknown channel %q", ch)
	}
	return fn(item)
}

// truncate cuts s to at most n runes. Cap positions are counted in runes so
// multi-byte text never lands a cut mid-character.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var markdownEscaper = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"`", "\\`",
	"[", "\\[",
)

// escapeMarkdown escapes the four legacy-Markdown control characters that
// Telegram treats as formatting. Discord and email bodies go out raw.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func wrongType(item content.Item) error {
	return fmt.Errorf("format: unexpected item type %T for category %s", item, item.ItemCategory())
}

func onChainTelegram(item content.Item) (Message, error) {
	p, ok := item.(content.OnChainProposal)
	if !ok {
		return Message{}, wrongType(item)
	}
	text := fmt.Sprintf(`
%s
-----------------------------
*id*: %q
*txnHash*: %q
*state*: %q
*creationTime*: %d
*executionTime*: %d
`,
		escapeMarkdown(truncate(p.Description, onChainTelegramDescCap)),
		p.ID, p.TxnHash, p.State, p.CreationTime, p.ExecutionTime)
	return Message{Text: text}, nil
}

func onChainMail(item content.Item) (Message, error) {
	p, ok := item.(content.OnChainProposal)
	if !ok {
		return Message{}, wrongType(item)
	}
	text := fmt.Sprintf(`
%s
*id*: %q
*txnHash*: %q
*state*: %q
*creationTime*: %d
*executionTime*: %d
`,
		p.Description, p.ID, p.TxnHash, p.State, p.CreationTime, p.ExecutionTime)
	return Message{Text: text}, nil
}

func onChainDiscord(item content.Item) (Message, error) {
	p, ok := item.(content.OnChainProposal)
	if !ok {
		return Message{}, wrongType(item)
	}
	footer := fmt.Sprintf(`
*id*: %q
*txnHash*: %q
*state*: %q
*creationTime*: %d
*executionTime*: %d
`,
		p.ID, p.TxnHash, p.State, p.CreationTime, p.ExecutionTime)
	return Message{
		Title:       "Proposal",
		Description: truncate(p.Description, discordFieldCap),
		Footer:      truncate(footer, discordFieldCap),
	}, nil
}

func offChainTelegram(item content.Item) (Message, error) {
	p, ok := item.(content.OffChainProposal)
	if !ok {
		return Message{}, wrongType(item)
	}
	text := fmt.Sprintf(`
*%s* _(state:%s)_
*space*: %s ,*type*: %s
*app*: %s, *author*: %s
*start*: %d ,*end*: %d ,*created*: %d

%s
*choices*: %s
--------
*ipfs*: %s
*link*: %s
*id*: %s
`,
		escapeMarkdown(p.Title), p.State,
		p.Space.String(), p.Type,
		p.App, p.Author,
		p.Start, p.End, p.Created,
		escapeMarkdown(truncate(p.Body, offChainTelegramBodyCap)),
		truncate(strings.Join(p.Choices, ""), offChainChoicesCap),
		p.IPFS, p.Link, p.ID)
	// The whole message is capped, not just the body.
	return Message{Text: truncate(text, telegramMessageCap)}, nil
}

func offChainMail(item content.Item) (Message, error) {
	p, ok := item.(content.OffChainProposal)
	if !ok {
		return Message{}, wrongType(item)
	}
	text := fmt.Sprintf(`
*%s* _(state:%s)_
*space*: %s ,*type*: %s
*app*: %s, *author*: %s
*start*: %d ,*end*: %d ,*created*: %d
%s
*choices*: %s
--------
*ipfs*: %s
*link*: %s
*id*: %s
`,
		p.Title, p.State,
		p.Space.String(), p.Type,
		p.App, p.Author,
		p.Start, p.End, p.Created,
		p.Body,
		strings.Join(p.Choices, ""),
		p.IPFS, p.Link, p.ID)
	return Message{Text: text}, nil
}

func offChainDiscord(item content.Item) (Message, error) {
	p, ok := item.(content.OffChainProposal)
	if !ok {
		return Message{}, wrongType(item)
	}
	footer := fmt.Sprintf(`
*choices*: %v
*ipfs*: %s
*link*: %s
*id*: %s
`,
		p.Choices, p.IPFS, p.Link, p.ID)
	return Message{
		Title:       fmt.Sprintf("*%s* _(state:%s)_", p.Title, p.State),
		Description: truncate(p.Body, discordFieldCap),
		Footer:      truncate(footer, discordFieldCap),
	}, nil
}

// rewriteCalendarLink turns the read-only event link into the editable copy
// form so recipients can add the event to their own calendar.
func rewriteCalendarLink(link string) string {
	return strings.Replace(link, "/calendar/event?eid=", "/calendar/u/0/r/eventedit/copy/", 1)
}

func calendarBody(e content.CalendarEvent) string {
	return fmt.Sprintf(`
%s _(Status: %s)_
Start: %s (timeZone:%s)
End: %s (timeZone:%s)
Event Link: %s
hangoutLink: %s
`,
		e.Summary, e.Status,
		e.Start.DateTime, e.Start.TimeZone,
		e.End.DateTime, e.End.TimeZone,
		rewriteCalendarLink(e.HTMLLink),
		e.HangoutLink)
}

// Calendar text goes to telegram without markdown escaping.
func calendarTelegram(item content.Item) (Message, error) {
	e, ok := item.(content.CalendarEvent)
	if !ok {
		return Message{}, wrongType(item)
	}
	return Message{Text: calendarBody(e)}, nil
}

func calendarMail(item content.Item) (Message, error) {
	e, ok := item.(content.CalendarEvent)
	if !ok {
		return Message{}, wrongType(item)
	}
	return Message{Text: calendarBody(e)}, nil
}

func calendarDiscord(item content.Item) (Message, error) {
	e, ok := item.(content.CalendarEvent)
	if !ok {
		return Message{}, wrongType(item)
	}
	desc := fmt.Sprintf(`
Start: %s (timeZone:%s)
End: %s (timeZone:%s)
Event Link: %s
hangoutLink: %s
`,
		e.Start.DateTime, e.Start.TimeZone,
		e.End.DateTime, e.End.TimeZone,
		rewriteCalendarLink(e.HTMLLink),
		e.HangoutLink)
	return Message{
		Title:       fmt.Sprintf("%s _(Status: %s)_", e.Summary, e.Status),
		Description: desc,
	}, nil
}
