package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
app:
  public_url: "https://notify.example.org"
  auth_token: "secret"
mail:
  host: "smtp.example.org"
  username: "u"
  password: "p"
  from: "notify@example.org"
telegram:
  token: "123:abc"
  channels:
    onchain: "@oc"
    offchain: "@off"
    calendar: "@cal"
discord:
  webhooks:
    onchain: "https://discord.com/api/webhooks/a"
    offchain: "https://discord.com/api/webhooks/b"
    calendar: "https://discord.com/api/webhooks/c"
sources:
  offchain:
    url: "https://hub.snapshot.org/graphql"
  onchain:
    url: "https://api.thegraph.com/subgraphs/name/ensdomains/governance"
  calendar:
    api_key: "k"
    calendar_id: "cal@group.calendar.google.com"
storage:
  path: "./test.db"
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, t.TempDir(), validYAML)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Channels.OnChain != "@oc" {
		t.Fatalf("channels not decoded: %+v", cfg.Telegram.Channels)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get returned a different config than Load committed")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, t.TempDir(), validYAML+"\nmystery_knob: true\n")
	m := NewManager(path)
	if _, err := m.Load(); err == nil {
		t.Fatal("want error for unknown top-level field")
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("empty config passed validation")
	}
	for _, want := range []string{"storage.path", "telegram.token", "app.auth_token"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("dispatch.send_timeout", "", 20*time.Second)
	if err != nil || d != 20*time.Second {
		t.Fatalf("default: %v %v", d, err)
	}
	d, err = ParseDurationOrDefault("dispatch.send_timeout", "500ms", 0)
	if err != nil || d != 500*time.Millisecond {
		t.Fatalf("parse: %v %v", d, err)
	}
	if _, err := ParseDurationField("storage.busy_timeout", "soon"); err == nil {
		t.Fatal("want error for garbage duration")
	}
}

func TestWatchPublishesOnChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, dir, validYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchDone := make(chan error, 1)
	go func() { watchDone <- m.Watch(ctx) }()

	// Let the watcher attach before touching the file.
	time.Sleep(200 * time.Millisecond)
	changed := strings.Replace(validYAML, `onchain: "@oc"`, `onchain: "@oc2"`, 1)
	writeConfig(t, dir, changed)

	select {
	case cfg := <-sub:
		if cfg.Telegram.Channels.OnChain != "@oc2" {
			t.Fatalf("stale config published: %+v", cfg.Telegram.Channels)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after file change")
	}

	// An invalid rewrite must not dislodge the committed config.
	writeConfig(t, dir, "telegram: []\n")
	time.Sleep(600 * time.Millisecond)
	if got := m.Get(); got.Telegram.Channels.OnChain != "@oc2" {
		t.Fatalf("invalid file replaced committed config: %+v", got.Telegram.Channels)
	}

	cancel()
	select {
	case err := <-watchDone:
		if err != nil {
			t.Fatalf("watch returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on context cancel")
	}
}
