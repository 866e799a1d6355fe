// Package webhook posts retirement events (purge, sweep, restore) to
// configured HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jvs-project/hookctl/pkg/logging"
)

// EventType names a retirement event.
type EventType string

const (
	EventPurgeComplete   EventType = "purge.complete"
	EventPurgeDeclined   EventType = "purge.declined"
	EventSweepComplete   EventType = "sweep.complete"
	EventRestoreComplete EventType = "restore.complete"
	EventRestoreFailed   EventType = "restore.failed"
)

// Event is the JSON payload sent to an endpoint.
type Event struct {
	Event       EventType      `json:"event"`
	Timestamp   string         `json:"timestamp"`
	ProjectRoot string         `json:"project_root,omitempty"`
	RunID       string         `json:"run_id,omitempty"`
	DryRun      bool           `json:"dry_run,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// HookConfig is one endpoint. Events may contain "*".
type HookConfig struct {
	URL     string      `yaml:"url" json:"url"`
	Secret  string      `yaml:"secret,omitempty" json:"-"`
	Events  []EventType `yaml:"events" json:"events"`
	Enabled bool        `yaml:"enabled" json:"enabled"`
}

// Config is the webhooks section of hookctl.yaml.
type Config struct {
	Hooks      []HookConfig  `yaml:"hooks" json:"hooks"`
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns the default webhook configuration: enabled, with no endpoints.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
		Timeout:    10 * time.Second,
	}
}

// Client delivers events synchronously. Delivery failures are logged and
// returned but never change the outcome of the operation that raised them.
type Client struct {
	config Config
	http   *http.Client
	log    *logging.Logger
}

// NewClient creates a webhook client.
func NewClient(cfg Config, log *logging.Logger) *Client {
	if log == nil {
		log = logging.Discard()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{config: cfg, http: &http.Client{Timeout: timeout}, log: log}
}

// Send posts event to every enabled endpoint subscribed to it and returns
// the last delivery error.
func (c *Client) Send(ctx context.Context, event Event) error {
	if c == nil || !c.config.Enabled {
		return nil
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	var lastErr error
	for _, hook := range c.config.Hooks {
		if !hook.Enabled || !matchesEvent(hook, event.Event) {
			continue
		}
		if err := c.deliver(ctx, hook, event); err != nil {
			c.log.ErrorErr("webhook delivery failed", err, map[string]any{"url": hook.URL, "event": string(event.Event)})
			lastErr = err
			continue
		}
		c.log.Debug("webhook delivered", map[string]any{"url": hook.URL, "event": string(event.Event)})
	}
	return lastErr
}

// deliver posts one event with retries.
func (c *Client) deliver(ctx context.Context, hook HookConfig, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "hookctl-webhook/1.0")
		req.Header.Set("X-Hookctl-Event", string(event.Event))
		if hook.Secret != "" {
			req.Header.Set("X-Hookctl-Signature", Sign(payload, hook.Secret))
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return lastErr // not worth retrying
		}
	}
	return lastErr
}

// Sign returns the HMAC-SHA256 signature header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func matchesEvent(hook HookConfig, event EventType) bool {
	for _, e := range hook.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}
