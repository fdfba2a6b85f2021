package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sync.Debounce != 3*time.Second {
		t.Errorf("Sync.Debounce = %v, want 3s", cfg.Sync.Debounce)
	}
	if cfg.Remote.BaseURL != "https://api.github.com" {
		t.Errorf("Remote.BaseURL = %q", cfg.Remote.BaseURL)
	}
	if cfg.Dashboard.Port != 8080 {
		t.Errorf("Dashboard.Port = %d, want 8080", cfg.Dashboard.Port)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	content := "data_dir: " + dir + "\nsync:\n  debounce: 5s\ndashboard:\n  port: 9000\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("ORGANIZER_DASHBOARD_PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DataDir != dir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, dir)
	}
	if cfg.Sync.Debounce != 5*time.Second {
		t.Errorf("Sync.Debounce = %v, want 5s from file", cfg.Sync.Debounce)
	}
	if cfg.Dashboard.Port != 9100 {
		t.Errorf("Dashboard.Port = %d, want 9100 from env", cfg.Dashboard.Port)
	}
	if cfg.DatabasePath() != filepath.Join(dir, "organizer.db") {
		t.Errorf("DatabasePath() = %q", cfg.DatabasePath())
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero debounce", "sync:\n  debounce: 0s\n"},
		{"port out of range", "dashboard:\n  port: 70000\n"},
		{"bad base url", "remote:\n  base_url: not-a-url\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestSetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)

	if _, err := Set(path, "sync.debounce", "10s"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := Set(path, "user.name", "Lucía"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sync.Debounce != 10*time.Second {
		t.Errorf("Sync.Debounce = %v, want 10s", cfg.Sync.Debounce)
	}
	if cfg.User.Name != "Lucía" {
		t.Errorf("User.Name = %q, want Lucía", cfg.User.Name)
	}

	got, err := Get(path, "sync.debounce")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "10s" {
		t.Errorf("Get(sync.debounce) = %q, want 10s", got)
	}
}

func TestSetRejectsUnknownAndInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	if _, err := Set(path, "nope", "1"); err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("Set(nope) error = %v, want unknown key", err)
	}
	if _, err := Set(path, "dashboard.port", "-1"); err == nil {
		t.Error("expected a validation error for a negative port")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("rejected Set wrote the config file")
	}
}
