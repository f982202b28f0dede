package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"

	"world-archivist/internal/logging"
)

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, message string) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, message string) error {
	return f(ctx, message)
}

// MultiNotifier fans a message out to every notifier. All notifiers are
// attempted; their errors are combined.
type MultiNotifier []Notifier

// Notify implements Notifier
func (m MultiNotifier) Notify(ctx context.Context, message string) error {
	var err error
	for _, n := range m {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Notify(ctx, message))
	}
	return err
}

// LogNotifier writes announcements to the log.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a log notifier
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier
func (n *LogNotifier) Notify(ctx context.Context, message string) error {
	n.logger.WithContext(ctx).WithField("announcement", message).Info("Announcement")
	return nil
}

// WebhookConfig for generic webhook notifications
type WebhookConfig struct {
	URL     string            `mapstructure:"url" yaml:"url"`
	Method  string            `mapstructure:"method" yaml:"method,omitempty"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
	Timeout time.Duration     `mapstructure:"timeout" yaml:"timeout"`
}

// webhookPayload is the JSON body posted to the webhook.
type webhookPayload struct {
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookNotifier posts announcements as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	config WebhookConfig
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a webhook notifier
func NewWebhookNotifier(config WebhookConfig) *WebhookNotifier {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &WebhookNotifier{
		config: config,
		client: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// Notify implements Notifier
func (wn *WebhookNotifier) Notify(ctx context.Context, message string) error {
	if wn.config.URL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	payload, err := json.Marshal(webhookPayload{
		Message:   message,
		Source:    "archivist",
		Timestamp: wn.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	method := wn.config.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, wn.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range wn.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := wn.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}

	return nil
}
