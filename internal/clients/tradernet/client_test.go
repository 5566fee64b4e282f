package tradernet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantgate/signalgate/internal/domain"
)

func envelope(data any) serviceResponse {
	b, _ := json.Marshal(data)
	return serviceResponse{Success: true, Data: b}
}

func TestConnectMarksHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/session/connect", r.URL.Path)
		json.NewEncoder(w).Encode(envelope(map[string]string{}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	assert.False(t, c.Healthy())

	err := c.Connect(context.Background(), domain.BrokerCredential{Login: "user1", Server: "srv1"})
	require.NoError(t, err)
	assert.True(t, c.Healthy())
}

func TestConnectFailureMarksUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errMsg := "bad credentials"
		json.NewEncoder(w).Encode(serviceResponse{Success: false, Error: &errMsg})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	err := c.Connect(context.Background(), domain.BrokerCredential{Login: "user1"})
	assert.Error(t, err)
	assert.False(t, c.Healthy())
}

func TestListPositionsParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/positions", r.URL.Path)
		json.NewEncoder(w).Encode(envelope([]domain.BrokerPosition{{Ticket: "t-1", Symbol: "EURUSD"}}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	positions, err := c.ListPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "t-1", positions[0].Ticket)
}

func TestSubmitOrderPostsExpectedPayload(t *testing.T) {
	var gotBody orderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(envelope(domain.BrokerOrderResult{Ticket: "t-2"}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	sl := 1.1
	res, err := c.SubmitOrder(context.Background(), "EURUSD", "buy", 1.0, &sl, nil)
	require.NoError(t, err)
	assert.Equal(t, "t-2", res.Ticket)
	assert.Equal(t, "EURUSD", gotBody.Symbol)
	assert.Equal(t, "buy", gotBody.Side)
}

func TestFactoryNewClientUsesBaseURL(t *testing.T) {
	f := NewFactory("http://example.invalid", zerolog.Nop())
	client := f.NewClient("profile-1")
	require.NotNil(t, client)
}
