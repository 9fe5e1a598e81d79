package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the bridge.
type Profile struct {
	Mode    string
	Data    string
	Driver  string
	DSN     string
	Version string

	// Automation sidecar
	BridgeURL    string
	BridgeAPIKey string

	// SecretKey encrypts generation credentials at rest. Empty disables encryption.
	SecretKey string

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9464".
	MetricsAddr string

	// Pipeline tuning
	QueueSize             int
	IdleInterval          time.Duration // sleep while nothing is monitored
	PollInterval          time.Duration // pause between fetches
	DisconnectedBackoff   time.Duration // client unavailable
	FetchErrorBackoff     time.Duration // fetch call failed
	IterationErrorBackoff time.Duration // iteration panicked
	PopTimeout            time.Duration // processor wake-up interval

	// Generation collaborator (OpenAI-compatible protocol)
	LLMBaseURL      string
	LLMFallbackURLs []string
	LLMTimeout      time.Duration

	// Outbound send pacing
	SendRate  float64
	SendBurst int

	// HistoryLoadAttempts bounds load-more calls during a history refresh.
	HistoryLoadAttempts int
}

// Defaults for the pipeline and the generation collaborator.
const (
	DefaultQueueSize             = 1000
	DefaultIdleInterval          = time.Second
	DefaultPollInterval          = time.Second
	DefaultDisconnectedBackoff   = 3 * time.Second
	DefaultFetchErrorBackoff     = 2 * time.Second
	DefaultIterationErrorBackoff = 5 * time.Second
	DefaultPopTimeout            = 60 * time.Second
	DefaultLLMBaseURL            = "https://api.openai-proxy.com/v1"
	DefaultLLMTimeout            = 30 * time.Second
	DefaultSendRate              = 1.0
	DefaultSendBurst             = 1
	DefaultHistoryLoadAttempts   = 2
)

// DefaultLLMFallbackURLs are tried in order when the primary endpoint fails.
var DefaultLLMFallbackURLs = []string{
	"https://api.openai.com/v1",
	"https://openai.wndbac.cn/v1",
	"https://proxy.geekai.co/v1",
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvOrDefaultDuration accepts Go durations ("1500ms") or plain seconds ("3").
func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	slog.Warn("invalid duration in environment, using default", "key", key, "value", value)
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FromEnv fills unset fields from REPLYBRIDGE_* environment variables and defaults.
// Values already set (from flags) win over the environment.
func (p *Profile) FromEnv() {
	if p.BridgeURL == "" {
		p.BridgeURL = getEnvOrDefault("REPLYBRIDGE_BRIDGE_URL", "http://127.0.0.1:8765")
	}
	if p.BridgeAPIKey == "" {
		p.BridgeAPIKey = getEnvOrDefault("REPLYBRIDGE_BRIDGE_API_KEY", "")
	}
	if p.SecretKey == "" {
		p.SecretKey = getEnvOrDefault("REPLYBRIDGE_SECRET_KEY", "")
	}
	if p.MetricsAddr == "" {
		p.MetricsAddr = getEnvOrDefault("REPLYBRIDGE_METRICS_ADDR", "")
	}

	if p.QueueSize <= 0 {
		p.QueueSize = getEnvOrDefaultInt("REPLYBRIDGE_QUEUE_SIZE", DefaultQueueSize)
	}
	if p.IdleInterval <= 0 {
		p.IdleInterval = getEnvOrDefaultDuration("REPLYBRIDGE_MONITOR_IDLE_INTERVAL", DefaultIdleInterval)
	}
	if p.PollInterval <= 0 {
		p.PollInterval = getEnvOrDefaultDuration("REPLYBRIDGE_MONITOR_POLL_INTERVAL", DefaultPollInterval)
	}
	if p.DisconnectedBackoff <= 0 {
		p.DisconnectedBackoff = getEnvOrDefaultDuration("REPLYBRIDGE_MONITOR_DISCONNECTED_BACKOFF", DefaultDisconnectedBackoff)
	}
	if p.FetchErrorBackoff <= 0 {
		p.FetchErrorBackoff = getEnvOrDefaultDuration("REPLYBRIDGE_MONITOR_FETCH_ERROR_BACKOFF", DefaultFetchErrorBackoff)
	}
	if p.IterationErrorBackoff <= 0 {
		p.IterationErrorBackoff = getEnvOrDefaultDuration("REPLYBRIDGE_MONITOR_ERROR_BACKOFF", DefaultIterationErrorBackoff)
	}
	if p.PopTimeout <= 0 {
		p.PopTimeout = getEnvOrDefaultDuration("REPLYBRIDGE_PROCESSOR_POP_TIMEOUT", DefaultPopTimeout)
	}

	if p.LLMBaseURL == "" {
		p.LLMBaseURL = getEnvOrDefault("REPLYBRIDGE_LLM_BASE_URL", DefaultLLMBaseURL)
	}
	if len(p.LLMFallbackURLs) == 0 {
		if v := os.Getenv("REPLYBRIDGE_LLM_FALLBACK_URLS"); v != "" {
			p.LLMFallbackURLs = splitList(v)
		} else {
			p.LLMFallbackURLs = append([]string(nil), DefaultLLMFallbackURLs...)
		}
	}
	if p.LLMTimeout <= 0 {
		p.LLMTimeout = getEnvOrDefaultDuration("REPLYBRIDGE_LLM_TIMEOUT", DefaultLLMTimeout)
	}

	if p.SendRate <= 0 {
		p.SendRate = getEnvOrDefaultFloat("REPLYBRIDGE_SEND_RATE", DefaultSendRate)
	}
	if p.SendBurst <= 0 {
		p.SendBurst = getEnvOrDefaultInt("REPLYBRIDGE_SEND_BURST", DefaultSendBurst)
	}
	if p.HistoryLoadAttempts <= 0 {
		p.HistoryLoadAttempts = getEnvOrDefaultInt("REPLYBRIDGE_HISTORY_LOAD_ATTEMPTS", DefaultHistoryLoadAttempts)
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "replybridge")
		} else {
			p.Data = "/var/opt/replybridge"
		}
	}
	if p.Data == "" {
		p.Data = "."
	}
	if _, err := os.Stat(p.Data); os.IsNotExist(err) {
		if err := os.MkdirAll(p.Data, 0770); err != nil {
			slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("replybridge_%s.db", p.Mode))
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn required for postgres driver")
	}

	if p.QueueSize <= 0 {
		return errors.Errorf("queue size must be positive, got %d", p.QueueSize)
	}
	if p.SecretKey != "" && len(p.SecretKey) < 16 {
		return errors.New("secret key must be at least 16 characters")
	}
	return nil
}
