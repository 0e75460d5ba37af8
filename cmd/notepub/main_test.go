package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"notepub/internal/noteapi"
	"notepub/internal/publish"
)

func TestAskYesNo(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		var out bytes.Buffer

		got, err := askYesNo(strings.NewReader(tt.input), &out, "ok? ")
		if err != nil {
			t.Fatalf("askYesNo(%q) failed: %v", tt.input, err)
		}

		if got != tt.want {
			t.Errorf("askYesNo(%q) = %v, want %v", tt.input, got, tt.want)
		}

		if out.String() != "ok? " {
			t.Errorf("Expected prompt to be written, got %q", out.String())
		}
	}
}

func TestConfirmPublish_Yes(t *testing.T) {
	ok, err := confirmPublish("T", true)
	if err != nil || !ok {
		t.Errorf("Expected --yes to confirm, got (%v, %v)", ok, err)
	}
}

func TestCookieDomain(t *testing.T) {
	tests := map[string]string{
		"https://note.com":       "note.com",
		"https://www.note.com/":  "note.com",
		"http://127.0.0.1:8080":  "127.0.0.1",
		"not a url at all \x7f": "",
	}

	for origin, want := range tests {
		if got := cookieDomain(origin); got != want {
			t.Errorf("cookieDomain(%q) = %q, want %q", origin, got, want)
		}
	}
}

func TestSummaryLine(t *testing.T) {
	line := summaryLine(&publish.Result{
		URL:        "https://note.com/alice/n/nabc",
		Status:     noteapi.StatusDraft,
		Mode:       publish.ModeAPI,
		ArticleID:  42,
		ArticleKey: "nabc",
	})

	for _, want := range []string{"draft", "https://note.com/alice/n/nabc", "id=42", "key=nabc", "mode=api"} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected summary to contain %q, got %q", want, line)
		}
	}

	if strings.Contains(line, "\n") {
		t.Errorf("Expected a single line, got %q", line)
	}
}

func TestLoadConfig_FallsBackToDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if cfg.API.Origin != "https://note.com" {
		t.Errorf("Expected default origin, got %s", cfg.API.Origin)
	}

	if err := os.WriteFile(filepath.Join(".", defaultConfigFile), []byte("api:\n  origin: https://example.test\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err = loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if cfg.API.Origin != "https://example.test" {
		t.Errorf("Expected origin from notepub.yaml, got %s", cfg.API.Origin)
	}
}

func TestLoadDotEnv_ExistingWins(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("NOTE_USERNAME", "from-env")

	if err := loadDotEnv(); err != nil {
		t.Fatalf("Expected missing .env to be fine, got %v", err)
	}

	if err := os.WriteFile(".env", []byte("NOTE_USERNAME=from-file\nNOTEPUB_TEST_EXTRA=1\n"), 0600); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("NOTEPUB_TEST_EXTRA") })

	if err := loadDotEnv(); err != nil {
		t.Fatalf("loadDotEnv failed: %v", err)
	}

	if got := os.Getenv("NOTE_USERNAME"); got != "from-env" {
		t.Errorf("Expected existing env to win, got %s", got)
	}

	if got := os.Getenv("NOTEPUB_TEST_EXTRA"); got != "1" {
		t.Errorf("Expected .env value to be loaded, got %q", got)
	}
}

func TestResolveTags(t *testing.T) {
	fromDoc := []string{"front", "matter"}

	if got := resolveTags("", fromDoc); strings.Join(got, ",") != "front,matter" {
		t.Errorf("Expected front matter tags without a flag, got %v", got)
	}

	if got := resolveTags("#AI, note", fromDoc); strings.Join(got, ",") != "AI,note" {
		t.Errorf("Expected flag tags to win, got %v", got)
	}
}

func TestSummaryLine_Hashtags(t *testing.T) {
	line := summaryLine(&publish.Result{
		URL:      "https://note.com/alice/n/ntag",
		Status:   noteapi.StatusPublished,
		Mode:     publish.ModeUI,
		Hashtags: []string{"AI", "note"},
	})

	for _, want := range []string{"published", "tags=#AI,#note", "mode=ui"} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected summary to contain %q, got %q", want, line)
		}
	}
}
