package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearVendorEnv isolates tests from credentials present on the host.
func clearVendorEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_ORGANIZATION", "ANTHROPIC_API_KEY",
		"ANTHROPIC_BASE_URL", "ANTHROPIC_VERSION", "GOOGLE_API_KEY", "GEMINI_BASE_URL", "HUGGINGFACE_TOKEN",
		"HUGGINGFACE_BASE_URL", "MISTRAL_API_KEY", "MISTRAL_BASE_URL", "UPSTAGE_API_KEY", "UPSTAGE_BASE_URL",
		"CHATSTREAM_ENV", "CHATSTREAM_HTTP_ADDRESS", "CHATSTREAM_LOG_LEVEL", "CHATSTREAM_HISTORY_BACKEND"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, root, setting, envFile string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, "config", "dev"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if setting != "" {
		if err := os.WriteFile(filepath.Join(root, "config", "setting.ini"), []byte(setting), 0o644); err != nil {
			t.Fatalf("write setting: %v", err)
		}
	}
	if envFile != "" {
		if err := os.WriteFile(filepath.Join(root, "config", "dev", "chatstream.ini"), []byte(envFile), 0o644); err != nil {
			t.Fatalf("write env config: %v", err)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearVendorEnv(t)
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("unexpected environment %s", cfg.Environment)
	}
	if cfg.HTTPAddress != "127.0.0.1:8000" {
		t.Fatalf("unexpected http address %s", cfg.HTTPAddress)
	}
	if cfg.HistoryBackend != "sqlite" || cfg.AttachmentDir != "temp_attachments" {
		t.Fatalf("unexpected storage defaults %+v", cfg)
	}
	if cfg.AttachmentCacheSessions != 1000 || cfg.AttachmentCacheIdleTTL != time.Hour {
		t.Fatalf("unexpected cache defaults %d %v", cfg.AttachmentCacheSessions, cfg.AttachmentCacheIdleTTL)
	}
	if cfg.ProgressEvery != 10 || cfg.PersistWorkers != 4 || cfg.PersistQueue != 1024 {
		t.Fatalf("unexpected stream defaults %+v", cfg)
	}
	if cfg.FallbackAdapter != "loopback" || !cfg.LoopbackEnabled {
		t.Fatalf("unexpected routing defaults %+v", cfg)
	}
	if cfg.RateLimitRPS != 0 || cfg.WatchPrompts {
		t.Fatalf("rate limiting and prompt watching should be off by default %+v", cfg)
	}
	if len(cfg.Vendors.ConfiguredList()) != 0 {
		t.Fatalf("expected no vendors, got %v", cfg.Vendors.ConfiguredList())
	}
}

func TestLoadLayering(t *testing.T) {
	clearVendorEnv(t)
	tmp := t.TempDir()
	writeConfig(t, tmp,
		"environment=dev\nlog_level=debug\nhttp_address=:7000\nprogress_every=5\n",
		"http_address=:9090\nhistory_path=/tmp/h.db\nrate_limit_rps=2.5\nrate_limit_burst=4\nroutes=gpt-*=openai, claude*=>anthropic\ncors_origins=http://a.test, http://b.test\nopenai_api_key=ini-key\n")
	t.Setenv("CHATSTREAM_LOG_LEVEL", "WARN")
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("MISTRAL_API_KEY", "m-key")

	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddress != ":9090" {
		t.Fatalf("env file should override setting.ini, got %s", cfg.HTTPAddress)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("environment variable should win, got %s", cfg.LogLevel)
	}
	if cfg.ProgressEvery != 5 {
		t.Fatalf("setting.ini default not applied, got %d", cfg.ProgressEvery)
	}
	if cfg.RateLimitRPS != 2.5 || cfg.RateLimitBurst != 4 {
		t.Fatalf("unexpected rate limit %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.HistoryPath != "/tmp/h.db" {
		t.Fatalf("unexpected history path %s", cfg.HistoryPath)
	}
	if cfg.Routes["gpt-*"] != "openai" || cfg.Routes["claude*"] != "anthropic" {
		t.Fatalf("unexpected routes %v", cfg.Routes)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSOrigins)
	}
	if cfg.Vendors.OpenAIAPIKey != "env-key" {
		t.Fatalf("vendor env var should win over ini, got %s", cfg.Vendors.OpenAIAPIKey)
	}
	got := cfg.Vendors.ConfiguredList()
	if len(got) != 2 || got[0] != VendorOpenAI || got[1] != VendorMistral {
		t.Fatalf("unexpected configured vendors %v", got)
	}
}

func TestLoadVendorFallsBackToINI(t *testing.T) {
	clearVendorEnv(t)
	tmp := t.TempDir()
	writeConfig(t, tmp, "", "upstage_api_key=up-key\nupstage_base_url=http://upstage.local\n")
	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Vendors.Configured(VendorUpstage) || cfg.Vendors.UpstageBaseURL != "http://upstage.local" {
		t.Fatalf("ini credentials not applied: %+v", cfg.Vendors)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		envFile string
	}{
		{"bad backend", "history_backend=mongo\n"},
		{"postgres without dsn", "history_backend=postgres\n"},
		{"bad ttl", "attachment_cache_idle_ttl=soon\n"},
		{"bad workers", "persist_workers=0\n"},
		{"bad queue", "persist_queue=many\n"},
		{"negative rate", "rate_limit_rps=-1\n"},
		{"bad burst", "rate_limit_burst=lots\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearVendorEnv(t)
			tmp := t.TempDir()
			writeConfig(t, tmp, "", tt.envFile)
			if _, err := Load(tmp); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestCatalog(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "models.yaml")
	content := "vendors:\n  - vendor: openai\n    models:\n      - {code: gpt-4o, name: GPT-4o}\n  - vendor: anthropic\n    label: Anthropic\n    models:\n      - {code: claude-3.7-sonnet-latest, name: Claude 3.7 Sonnet}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	avail := c.Available(Vendors{OpenAIAPIKey: "k"})
	if len(avail) != 1 {
		t.Fatalf("expected only configured vendors, got %v", avail)
	}
	models := avail["openai"]
	if len(models) != 1 || models[0].Code != "gpt-4o" {
		t.Fatalf("label should default to the vendor id, got %v", avail)
	}

	def, err := LoadCatalog(filepath.Join(tmp, "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if len(def.Available(Vendors{UpstageAPIKey: "k"})["Upstage"]) != 2 {
		t.Fatalf("default catalog missing upstage models")
	}

	bad := filepath.Join(tmp, "bad.yaml")
	_ = os.WriteFile(bad, []byte("vendors:\n  - label: x\n"), 0o644)
	if _, err := LoadCatalog(bad); err == nil {
		t.Fatalf("expected error for group without vendor")
	}
}
