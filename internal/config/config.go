package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/chatstream.ini"
	envPrefix        = "CHATSTREAM_"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// Config describes runtime options for the daemon.
type Config struct {
	Environment string
	HTTPAddress string
	LogFile     string
	LogLevel    string
	// History storage: sqlite (HistoryPath) or postgres (HistoryDSN)
	HistoryBackend string
	HistoryPath    string
	HistoryDSN     string
	// Attachments and their per-session caches
	AttachmentDir           string
	AttachmentCacheSessions int
	AttachmentCacheIdleTTL  time.Duration
	// Streaming and persistence
	ProgressEvery  int
	PersistWorkers int
	PersistQueue   int
	// HTTP surface
	StaticDir   string
	CORSOrigins []string
	// Per-session throttling of stream and summary calls; 0 disables it
	RateLimitRPS   float64
	RateLimitBurst int
	// Auxiliary files; WatchPrompts reloads PromptsFile when it changes
	PromptsFile  string
	ModelsFile   string
	WatchPrompts bool
	// Routing for the model-routed endpoint: pattern=adapter pairs, comma-separated
	Routes          map[string]string
	FallbackAdapter string
	LoopbackEnabled bool
	// Upstream credentials
	Vendors Vendors
}

// Load reads the current environment and loads the appropriate config file.
// Values resolve as CHATSTREAM_* environment variable, then the environment
// file, then config/setting.ini, then the built-in default.
func Load(root string) (Config, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return Config{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return Config{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}
	get := func(key string, fallback ...string) string {
		values := append([]string{os.Getenv(envPrefix + strings.ToUpper(key)), merged[key]}, fallback...)
		return strings.TrimSpace(firstNonEmpty(values...))
	}

	cfg := Config{
		Environment:     s.Environment,
		HTTPAddress:     get("http_address", "127.0.0.1:8000"),
		LogFile:         get("log_file"),
		LogLevel:        strings.ToLower(get("log_level", "info")),
		HistoryBackend:  strings.ToLower(get("history_backend", "sqlite")),
		HistoryPath:     get("history_path", DefaultHistoryPath()),
		HistoryDSN:      get("history_dsn"),
		AttachmentDir:   get("attachment_dir", "temp_attachments"),
		StaticDir:       get("static_dir", "../front"),
		CORSOrigins:     parseCSV(get("cors_origins", "*")),
		PromptsFile:     get("prompts_file", filepath.Join(root, "config", "prompts.toml")),
		ModelsFile:      get("models_file", filepath.Join(root, "config", "models.yaml")),
		Routes:          parseRoutes(get("routes")),
		FallbackAdapter: get("fallback_adapter", "loopback"),
		LoopbackEnabled: parseOptionalBool(get("loopback_enabled"), true),
		WatchPrompts:    parseOptionalBool(get("watch_prompts"), false),
	}
	switch cfg.HistoryBackend {
	case "sqlite":
	case "postgres":
		if cfg.HistoryDSN == "" {
			return Config{}, errors.New("history_backend=postgres requires history_dsn")
		}
	default:
		return Config{}, fmt.Errorf("invalid history_backend %q", cfg.HistoryBackend)
	}

	ints := []struct {
		key      string
		fallback int
		dst      *int
	}{
		{"attachment_cache_sessions", 1000, &cfg.AttachmentCacheSessions},
		{"progress_every", 10, &cfg.ProgressEvery},
		{"persist_workers", 4, &cfg.PersistWorkers},
		{"persist_queue", 1024, &cfg.PersistQueue},
	}
	for _, it := range ints {
		v := get(it.key)
		if v == "" {
			*it.dst = it.fallback
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s %q", it.key, v)
		}
		*it.dst = parsed
	}

	if v := get("attachment_cache_idle_ttl", "1h"); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid attachment_cache_idle_ttl %q: %w", v, err)
		}
		cfg.AttachmentCacheIdleTTL = dur
	}

	if v := get("rate_limit_rps"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps < 0 {
			return Config{}, fmt.Errorf("invalid rate_limit_rps %q", v)
		}
		cfg.RateLimitRPS = rps
	}
	if v := get("rate_limit_burst"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil || burst < 0 {
			return Config{}, fmt.Errorf("invalid rate_limit_burst %q", v)
		}
		cfg.RateLimitBurst = burst
	}

	vendors, err := loadVendors(merged)
	if err != nil {
		return Config{}, err
	}
	cfg.Vendors = vendors
	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: firstNonEmpty(os.Getenv(envPrefix+"ENV"), defaultEnv), Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv(envPrefix+"ENV"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseRoutes accepts "pattern=adapter" or "pattern=>adapter" entries
// separated by commas or newlines.
func parseRoutes(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	routes := make(map[string]string)
	for _, line := range strings.Split(input, "\n") {
		for _, e := range strings.Split(line, ",") {
			e = strings.TrimSpace(e)
			if e == "" {
				continue
			}
			var kv []string
			if strings.Contains(e, "=>") {
				kv = strings.SplitN(e, "=>", 2)
			} else {
				kv = strings.SplitN(e, "=", 2)
			}
			if len(kv) != 2 {
				continue
			}
			key := strings.TrimSpace(kv[0])
			val := strings.TrimSpace(kv[1])
			if key != "" && val != "" {
				routes[key] = val
			}
		}
	}
	if len(routes) == 0 {
		return nil
	}
	return routes
}

// DefaultHistoryPath is the SQLite file used when history_path is unset.
func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatstream.db"
	}
	return filepath.Join(home, ".chatstream", "history.db")
}
