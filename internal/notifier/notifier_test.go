package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/colonyops/crew/internal/core/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_Notify(t *testing.T) {
	var (
		gotBody        webhookPayload
		gotContentType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhook(srv.URL, time.Second)
	err := n.Notify(context.Background(), notify.Notification{
		Level:   notify.LevelWarning,
		Message: "task t1 blocked: need creds",
		TaskID:  "t1",
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "[warning] (t1) task t1 blocked: need creds", gotBody.Text)
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second).Notify(context.Background(), notify.Notification{Message: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWriter_Notify(t *testing.T) {
	var buf bytes.Buffer
	n := NewWriter(&buf)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, n.Notify(context.Background(), notify.Notification{Message: "hello", CreatedAt: at}))
	assert.Equal(t, "2026-01-02 03:04:05 hello\n", buf.String())
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		in   notify.Notification
		want string
	}{
		{"info", notify.Notification{Level: notify.LevelInfo, Message: "done"}, "done"},
		{"error with task", notify.Notification{Level: notify.LevelError, TaskID: "a", Message: "bad"}, "[error] (a) bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.in))
		})
	}
}
