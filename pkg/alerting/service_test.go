package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService(t *testing.T) {
	t.Run("returns nil when webhook URL empty", func(t *testing.T) {
		assert.Nil(t, NewService(""))
	})

	t.Run("returns service when configured", func(t *testing.T) {
		assert.NotNil(t, NewService("https://example.test/webhook"))
	})
}

func TestService_NilReceiver(t *testing.T) {
	var s *Service

	assert.NotPanics(t, func() {
		s.Emit(context.Background(), Alert{Reason: ReasonRetryExhausted, TaskID: "t1"})
		s.RetryExhausted(context.Background(), "t1", "c1", "audio", "boom")
		s.CredentialRefreshFailed(context.Background(), "c1", "upload", "expired")
		s.StaleClaimRecovered(context.Background(), "t1", "c1")
	})
}

func TestService_RetryExhaustedPostsAlert(t *testing.T) {
	var received Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := NewService(srv.URL)
	require.NotNil(t, svc)

	svc.RetryExhausted(context.Background(), "task-1", "channel-1", "audio", "quota exceeded")

	assert.Equal(t, ReasonRetryExhausted, received.Reason)
	assert.Equal(t, "task-1", received.TaskID)
	assert.Equal(t, "channel-1", received.ChannelID)
	assert.Equal(t, "audio", received.Stage)
	assert.Equal(t, "quota exceeded", received.Message)
}
