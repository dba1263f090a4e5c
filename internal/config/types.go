package config

import (
	"errors"
	"fmt"
	"strings"

	"ensnotify/internal/content"
)

// Config is the single explicit configuration object for the process.
// It is constructed once at startup and passed by reference into
// constructors; there is no package-level settings state.
type Config struct {
	App       AppConfig       `json:"app"`
	Mail      MailConfig      `json:"mail"`
	Telegram  TelegramConfig  `json:"telegram"`
	Discord   DiscordConfig   `json:"discord"`
	Sources   SourcesConfig   `json:"sources"`
	Dispatch  DispatchConfig  `json:"dispatch,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

type AppConfig struct {
	// PublicURL is the externally reachable base URL used in
	// verification/unsubscribe links (no trailing slash).
	PublicURL string `json:"public_url"`
	Listen    string `json:"listen,omitempty"` // default ":8000"

	// AuthToken guards the trigger endpoints. Any non-empty string.
	AuthToken string `json:"auth_token"`
}

type MailConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"` // default 587
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
	FromName string `json:"from_name,omitempty"`
	StartTLS bool   `json:"starttls,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// Channel usernames (e.g. "@ens_onchain") or numeric chat ids, one
	// broadcast channel per category.
	Channels CategoryValues `json:"channels"`
}

type DiscordConfig struct {
	// Webhook URLs, one per category.
	Webhooks CategoryValues `json:"webhooks"`
}

// CategoryValues holds one string value per content category.
// An exhaustive struct rather than a map keeps the category set closed.
type CategoryValues struct {
	OnChain  string `json:"onchain"`
	OffChain string `json:"offchain"`
	Calendar string `json:"calendar"`
}

// For returns the value configured for cat ("" for unknown categories).
func (v CategoryValues) For(cat content.Category) string {
	switch cat {
	case content.CategoryOnChain:
		return v.OnChain
	case content.CategoryOffChain:
		return v.OffChain
	case content.CategoryCalendar:
		return v.Calendar
	}
	return ""
}

type SourcesConfig struct {
	OffChain GraphQLSource  `json:"offchain"`
	OnChain  GraphQLSource  `json:"onchain"`
	Calendar CalendarSource `json:"calendar"`
}

type GraphQLSource struct {
	URL   string `json:"url"`
	Limit int    `json:"limit,omitempty"`
}

type CalendarSource struct {
	// URL overrides the Calendar API base URL; empty means the public
	// Google endpoint.
	URL        string `json:"url,omitempty"`
	APIKey     string `json:"api_key"`
	CalendarID string `json:"calendar_id"`
	MaxResults int    `json:"max_results,omitempty"` // default 10
}

// DispatchConfig controls the fan-out worker pool.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type DispatchConfig struct {
	Workers    int    `json:"workers,omitempty"`      // default 4
	QueueSize  int    `json:"queue_size,omitempty"`   // default 64
	RatePerSec int    `json:"rate_per_sec,omitempty"` // default 10
	// SendTimeout bounds each outbound network call. Default "20s",
	// matching observed upstream behavior.
	SendTimeout string `json:"send_timeout,omitempty"`
}

type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// BroadcastSpec/DigestSpec are cron specs (robfig/cron, 5-field or
	// descriptor). Defaults: hourly broadcast, daily 12:00 digest.
	BroadcastSpec string `json:"broadcast_spec,omitempty"`
	DigestSpec    string `json:"digest_spec,omitempty"`
	Timezone      string `json:"timezone,omitempty"` // IANA TZ
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console *bool             `json:"console,omitempty"` // default true
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// ConsoleEnabled resolves the Console pointer (nil means enabled).
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

// Validate checks the fields without which the process cannot run.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var problems []string
	if strings.TrimSpace(c.Storage.Path) == "" {
		problems = append(problems, "storage.path is required")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		problems = append(problems, "telegram.token is required")
	}
	if strings.TrimSpace(c.App.AuthToken) == "" {
		problems = append(problems, "app.auth_token is required")
	}
	if strings.TrimSpace(c.Sources.OffChain.URL) == "" {
		problems = append(problems, "sources.offchain.url is required")
	}
	if strings.TrimSpace(c.Sources.OnChain.URL) == "" {
		problems = append(problems, "sources.onchain.url is required")
	}
	if strings.TrimSpace(c.Sources.Calendar.APIKey) == "" || strings.TrimSpace(c.Sources.Calendar.CalendarID) == "" {
		problems = append(problems, "sources.calendar needs api_key and calendar_id")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
