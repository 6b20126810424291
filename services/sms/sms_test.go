package smssvc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/backoffice/core"
)

func TestGatewayService_Send(t *testing.T) {
	var (
		calls atomic.Int32
		got   gatewayMessage
		auth  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusBadGateway)
		case 2:
			auth = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid number"}`))
		}
	}))
	defer srv.Close()

	conf := core.NewTestConfig()
	conf.SMS.GatewayURL = srv.URL
	conf.SMS.APIKey = "secret"
	conf.SMS.Sender = "Backoffice"
	svc := NewGatewayService(conf)

	require.NoError(t, svc.Send(context.Background(), "+243810000000", "Backoffice code: 123456"))
	assert.EqualValues(t, 2, calls.Load(), "retried once")
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, gatewayMessage{From: "Backoffice", To: "+243810000000", Text: "Backoffice code: 123456"}, got)

	err := svc.Send(context.Background(), "nope", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status: 400")
	assert.Contains(t, err.Error(), "invalid number")
	assert.EqualValues(t, 3, calls.Load(), "client errors are not retried")
}

func TestConsoleService(t *testing.T) {
	svc := NewConsoleService(nil)
	ctx := context.Background()
	require.NoError(t, svc.Send(ctx, "+1", "first"))
	require.NoError(t, svc.Send(ctx, "+2", "other"))
	require.NoError(t, svc.Send(ctx, "+1", "second"))

	assert.Len(t, svc.Sent(), 3)
	last, ok := svc.Last("+1")
	require.True(t, ok)
	assert.Equal(t, "second", last.Text)
	_, ok = svc.Last("+3")
	assert.False(t, ok)
}
