package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hamed0406/waitprobe/internal/probe"
)

// DefaultRetryTags are retried when PROBE_RETRY_TAGS is not set.
var DefaultRetryTags = []probe.Tag{
	probe.TagUnavailable, probe.TagTimeout, probe.TagNotReady, probe.TagTemporary,
}

type Config struct {
	LogDir          string        // empty logs to stderr
	LogLevel        string        // zap level name
	Timeout         time.Duration // default probe timeout
	Pause           time.Duration // default pause between attempts
	RetryTags       []probe.Tag   // default retryable tags
	APIAddr         string        // watch mode API bind address
	SlackWebhook    string        // empty disables alerts
	PublicAPIKeys   []string
	AdminAPIKeys    []string
	AllowedOrigins  []string // empty allows any origin
	RateLimitPerMin int      // API requests per caller; 0 disables
	AlertCooldown   time.Duration
	AlertOnRecovery bool
}

func FromEnv() Config {
	cfg := Config{
		LogDir:          os.Getenv("LOG_DIR"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		Timeout:         30 * time.Second,
		Pause:           time.Second,
		RetryTags:       append([]probe.Tag(nil), DefaultRetryTags...),
		APIAddr:         os.Getenv("API_ADDR"),
		SlackWebhook:    os.Getenv("SLACK_WEBHOOK"),
		PublicAPIKeys:   splitList(os.Getenv("PUBLIC_API_KEYS")),
		AdminAPIKeys:    splitList(os.Getenv("ADMIN_API_KEYS")),
		AllowedOrigins:  splitList(os.Getenv("ALLOWED_ORIGINS")),
		RateLimitPerMin: 120,
		AlertCooldown:   5 * time.Minute,
		AlertOnRecovery: true,
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = "127.0.0.1:8080"
	}

	// Probe timing, as float seconds ("2.5") or durations ("2500ms")
	if d, err := ParseSeconds(os.Getenv("PROBE_TIMEOUT")); err == nil && d > 0 {
		cfg.Timeout = d
	}
	if d, err := ParseSeconds(os.Getenv("PROBE_PAUSE")); err == nil {
		cfg.Pause = d
	}
	if v := os.Getenv("PROBE_RETRY_TAGS"); v != "" {
		if tags, err := probe.ParseTags(v); err == nil {
			cfg.RetryTags = tags
		}
	}

	if v := os.Getenv("RATE_LIMIT_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RateLimitPerMin = n
		}
	}

	// Alerts
	if d, err := ParseSeconds(os.Getenv("ALERT_COOLDOWN")); err == nil {
		cfg.AlertCooldown = d
	}
	if v := os.Getenv("ALERT_ON_RECOVERY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AlertOnRecovery = b
		}
	}
	return cfg
}

// ParseSeconds reads a float number of seconds or a Go duration string.
func ParseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return probe.ParseSeconds(f)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, &strconv.NumError{Func: "ParseSeconds", Num: s, Err: strconv.ErrRange}
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
