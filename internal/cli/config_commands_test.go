package cli

import (
	"bufio"
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dedupfs/dupview/internal/config"
)

// TestConfigCmd tests the config command group
func TestConfigCmd(t *testing.T) {
	cmd := newConfigCmd()
	if cmd == nil {
		t.Fatal("newConfigCmd() returned nil")
	}

	if cmd.Use != "config" {
		t.Errorf("Expected Use='config', got '%s'", cmd.Use)
	}

	expectedSubs := []string{"init", "show", "path"}
	subcommands := cmd.Commands()
	if len(subcommands) != len(expectedSubs) {
		t.Errorf("Expected %d subcommands, got %d", len(expectedSubs), len(subcommands))
	}

	foundSubs := make(map[string]bool)
	for _, sub := range subcommands {
		foundSubs[sub.Name()] = true
		if sub.RunE == nil {
			t.Errorf("Subcommand '%s' has no RunE", sub.Name())
		}
	}
	for _, expected := range expectedSubs {
		if !foundSubs[expected] {
			t.Errorf("Subcommand '%s' not found", expected)
		}
	}
}

// TestConfigPath tests that the path command honours --config
func TestConfigPath(t *testing.T) {
	want := filepath.Join(t.TempDir(), "custom")
	root := NewRootCmd()
	AddCommands(root)
	root.SetArgs([]string{"--config", want, "config", "path"})

	var out bytes.Buffer
	root.SetOut(&out)
	if err := root.Execute(); err != nil {
		t.Fatalf("config path: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != want {
		t.Errorf("config path = %q, want %q", got, want)
	}
}

// TestPromptConfig tests answers, defaults and the proxy branch of the prompt
func TestPromptConfig(t *testing.T) {
	tests := []struct {
		name    string
		answers []string
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name:    "all defaults",
			answers: []string{"", "", "", "", "", "", "", ""},
			check: func(t *testing.T, cfg *config.Config) {
				def := config.New()
				if cfg.APIBaseURL != def.APIBaseURL || cfg.GroupPageSize != def.GroupPageSize {
					t.Errorf("defaults changed: %q %d", cfg.APIBaseURL, cfg.GroupPageSize)
				}
				if cfg.ProxyMode != "no-proxy" {
					t.Errorf("ProxyMode = %q, want no-proxy", cfg.ProxyMode)
				}
			},
		},
		{
			name:    "invalid number keeps default",
			answers: []string{"", "", "lots", "-3", "", "", "", ""},
			check: func(t *testing.T, cfg *config.Config) {
				def := config.New()
				if cfg.GroupPageSize != def.GroupPageSize || cfg.FilePageSize != def.FilePageSize {
					t.Errorf("page sizes = %d %d", cfg.GroupPageSize, cfg.FilePageSize)
				}
			},
		},
		{
			name: "ntlm proxy",
			answers: []string{
				"", "", "", "", "", "", "",
				"yes", "ntlm", "proxy.corp", "3128", "CORP\\me", "localhost,.internal",
			},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.ProxyMode != "ntlm" || cfg.ProxyHost != "proxy.corp" || cfg.ProxyPort != 3128 {
					t.Errorf("proxy = %s %s:%d", cfg.ProxyMode, cfg.ProxyHost, cfg.ProxyPort)
				}
				if cfg.ProxyUser != "CORP\\me" || cfg.NoProxy != "localhost,.internal" {
					t.Errorf("proxy user/bypass = %q %q", cfg.ProxyUser, cfg.NoProxy)
				}
			},
		},
		{
			name:    "system proxy skips host",
			answers: []string{"", "", "", "", "", "", "", "y", "system", ""},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.ProxyMode != "system" || cfg.ProxyHost != "" {
					t.Errorf("proxy = %s %q", cfg.ProxyMode, cfg.ProxyHost)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := bufio.NewReader(strings.NewReader(strings.Join(tt.answers, "\n") + "\n"))
			var out bytes.Buffer
			cfg, err := promptConfig(in, &out, config.New())
			if err != nil {
				t.Fatalf("promptConfig() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

// TestPrintConfig tests that the printed configuration never leaks secrets
func TestPrintConfig(t *testing.T) {
	cfg := config.New()
	cfg.APIToken = "tok-123456"
	cfg.ProxyMode = "basic"
	cfg.ProxyHost = "proxy.local"
	cfg.ProxyPassword = "hunter2"

	var out bytes.Buffer
	printConfig(&out, cfg, filepath.Join(t.TempDir(), "missing"))
	s := out.String()

	for _, secret := range []string{"tok-123456", "hunter2"} {
		if strings.Contains(s, secret) {
			t.Errorf("output contains secret %q", secret)
		}
	}
	for _, want := range []string{"<set (10 chars)>", "Host: proxy.local:8080", "Cache:      <disabled>", "file does not exist"} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}
}
