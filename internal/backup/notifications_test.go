package backup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestMultiNotifier(t *testing.T) {
	var got []string
	record := func(prefix string, err error) Notifier {
		return NotifierFunc(func(ctx context.Context, message string) error {
			got = append(got, prefix+message)
			return err
		})
	}

	m := MultiNotifier{
		record("a:", nil),
		nil,
		record("b:", errors.New("b failed")),
		record("c:", errors.New("c failed")),
	}

	err := m.Notify(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, []string{"a:hello", "b:hello", "c:hello"}, got, "every notifier is attempted")

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	assert.EqualError(t, errs[0], "b failed")
	assert.EqualError(t, errs[1], "c failed")
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLogNotifier(testLogger()).Notify(context.Background(), "Backup started."))
	assert.NoError(t, NewLogNotifier(nil).Notify(context.Background(), "Backup started."))
}

func TestWebhookNotifier(t *testing.T) {
	var (
		gotMethod  string
		gotType    string
		gotToken   string
		gotPayload webhookPayload
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		gotToken = r.Header.Get("X-Token")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(WebhookConfig{
		URL:     server.URL,
		Headers: map[string]string{"X-Token": "secret"},
		Timeout: 5 * time.Second,
	})
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	notifier.now = func() time.Time { return fixed }

	require.NoError(t, notifier.Notify(context.Background(), "Backup ended."))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "secret", gotToken)
	assert.Equal(t, "Backup ended.", gotPayload.Message)
	assert.Equal(t, "archivist", gotPayload.Source)
	assert.True(t, gotPayload.Timestamp.Equal(fixed))
}

func TestWebhookNotifierErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewWebhookNotifier(WebhookConfig{URL: server.URL, Method: http.MethodPut}).Notify(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	err = NewWebhookNotifier(WebhookConfig{}).Notify(context.Background(), "x")
	assert.EqualError(t, err, "webhook URL not configured")
}
