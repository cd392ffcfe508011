package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	// No config file at all: every field falls back to its default.
	cfg, err := Load(&CLI{Config: writeConfig(t, "")})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Upstream.ConnectTimeoutSeconds != 10 {
		t.Errorf("ConnectTimeoutSeconds = %d, want 10", cfg.Upstream.ConnectTimeoutSeconds)
	}
	if cfg.Upstream.IdleConnections != 100 {
		t.Errorf("IdleConnections = %d, want 100", cfg.Upstream.IdleConnections)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v, want info/json", cfg.Log)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want /metrics", cfg.Metrics.Path)
	}
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 2345

[origins]
allow = ["http://localhost:4200"]
allow_all = false

[log]
level = "warn"
format = "text"
`)

	cfg, err := Load(&CLI{Config: path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr() != "127.0.0.1:2345" {
		t.Errorf("Addr() = %q, want 127.0.0.1:2345", cfg.Server.Addr())
	}
	if !cfg.AllowList().Contains("http://localhost:4200") {
		t.Error("configured origin should be allowed")
	}
	if cfg.Log.Level != "warn" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want warn/text", cfg.Log)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 2345
`)

	cli := &CLI{
		Config:      path,
		Bind:        "127.0.0.1",
		Port:        9000,
		AllowOrigin: []string{"https://example.test"},
		AllowAll:    true,
		LogLevel:    "error",
	}
	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want CLI override 9000", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want CLI override 127.0.0.1", cfg.Server.Host)
	}
	if !cfg.AllowList().Contains("https://example.test") {
		t.Error("CLI origin should be allowed")
	}
	if !cfg.AllowList().AllowAll() {
		t.Error("AllowAll should be set from CLI")
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want error", cfg.Log.Level)
	}
}

func TestLoad_VerboseForcesDebug(t *testing.T) {
	cfg, err := Load(&CLI{Config: writeConfig(t, ""), Verbose: true, LogLevel: "warn"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug (verbose wins)", cfg.Log.Level)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		cli     CLI
		substr  string
	}{
		{
			name:    "port out of range",
			content: "[server]\nport = 99999\n",
			substr:  "server.port",
		},
		{
			name:    "negative timeout",
			content: "[upstream]\nconnect_timeout_seconds = -1\n",
			substr:  "connect_timeout_seconds",
		},
		{
			name:    "origin with path",
			content: "[origins]\nallow = [\"http://localhost:3000/app\"]\n",
			substr:  "no path",
		},
		{
			name:    "origin with bad scheme",
			content: "[origins]\nallow = [\"ftp://example.com\"]\n",
			substr:  "http or https",
		},
		{
			name:    "bad log level",
			content: "[log]\nlevel = \"loud\"\n",
			substr:  "log.level",
		},
		{
			name:    "metrics path without slash",
			content: "[metrics]\nenabled = true\npath = \"metrics\"\n",
			substr:  "metrics.path",
		},
		{
			name:    "metrics path reserved",
			content: "[metrics]\nenabled = true\npath = \"/healthz\"\n",
			substr:  "reserved",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli := tt.cli
			cli.Config = writeConfig(t, tt.content)
			_, err := Load(&cli)
			if err == nil {
				t.Fatal("Load() error = nil, want validation error")
			}
			if !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("error = %q, want substring %q", err, tt.substr)
			}
		})
	}
}

func TestAllowList_Defaults(t *testing.T) {
	cfg, err := Load(&CLI{Config: writeConfig(t, "")})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	allow := cfg.AllowList()

	if !allow.Contains("http://localhost:3000") {
		t.Error("default dev origin http://localhost:3000 should be allowed")
	}
	if allow.Contains("https://evil.test") {
		t.Error("unknown origin should not be allowed")
	}
	if allow.AllowAll() {
		t.Error("AllowAll should default to false")
	}
}

func TestAllowList_AllowAll(t *testing.T) {
	allow := NewAllowListForTest(nil, true)
	if !allow.Contains("https://anything.test") {
		t.Error("allow-all should permit any origin")
	}
}

func TestAllowList_OriginsSorted(t *testing.T) {
	allow := NewAllowListForTest([]string{"https://b.test", "https://a.test"}, false)
	got := allow.Origins()
	if len(got) != 2 || got[0] != "https://a.test" || got[1] != "https://b.test" {
		t.Errorf("Origins() = %v, want sorted [https://a.test https://b.test]", got)
	}
}

func TestFindConfigInPaths(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "present.toml")
	if err := os.WriteFile(existing, []byte(""), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := findConfigInPaths([]string{filepath.Join(dir, "missing.toml"), existing})
	if got != existing {
		t.Errorf("findConfigInPaths = %q, want %q", got, existing)
	}

	if got := findConfigInPaths([]string{filepath.Join(dir, "missing.toml")}); got != "" {
		t.Errorf("findConfigInPaths = %q, want empty", got)
	}
}
