package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
logging:
  level: DEBUG
  console: true
storage:
  driver: file
  path: ./store
push:
  timezone: Asia/Shanghai
  feed_interval: 30m
  max_backlog: 5
sources:
  bilibili:
    cookie: "SESSDATA=x"
  weather:
    key: "k"
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Logging.Level != "DEBUG" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Push.FeedInterval != "30m" || cfg.Push.MaxBacklog != 5 {
		t.Fatalf("push = %+v", cfg.Push)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: "t"
  typo_field: true
logging:
  level: INFO
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json",
		`{"telegram":{"token":"t"},"logging":{"level":"INFO","console":true,"file":{"enabled":false,"path":""}},"push":{},"sources":{"bilibili":{},"weather":{},"rss":{}}}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "t" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", " 90s ")
	if err != nil || d != 90*time.Second {
		t.Fatalf("= (%v, %v)", d, err)
	}
	if d, err = ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = (%v, %v)", d, err)
	}
	if d, err = ParseDurationField("x", "30"); err != nil || d != 30*time.Second {
		t.Fatalf("bare seconds = (%v, %v)", d, err)
	}
	if _, err = ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative accepted")
	}
	if _, err = ParseDurationField("x", "-5"); err == nil {
		t.Fatal("negative seconds accepted")
	}
	if _, err = ParseDurationField("x", "soon"); err == nil {
		t.Fatal("garbage accepted")
	}
	if d, err = ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default = (%v, %v)", d, err)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging: LoggingConfig{Level: "INFO"},
		Push:    PushConfig{MaxBacklog: 10},
	}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "DEBUG"},
		Push:    PushConfig{MaxBacklog: 20},
		Sources: SourcesConfig{Weather: WeatherConfig{Key: "k"}},
	}
	changed, _ := SummarizeChange(oldCfg, newCfg)
	want := []string{"logging", "push", "sources"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}

	changed, _ = SummarizeChange(newCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("identical configs reported %v", changed)
	}
}
