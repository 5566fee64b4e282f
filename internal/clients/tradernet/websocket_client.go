package tradernet

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/quantgate/signalgate/internal/domain"
)

const (
	dialTimeout        = 30 * time.Second
	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute
)

// createHTTP1Client forces HTTP/1.1 on the dial: some broker gateways sit
// behind edges that negotiate HTTP/2 via ALPN, but the websocket upgrade
// handshake needs HTTP/1.1.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   dialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig:   &tls.Config{NextProtos: []string{"http/1.1"}},
			ForceAttemptHTTP2: false,
		},
	}
}

type tickMessage struct {
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Timestamp int64   `json:"timestamp"`
}

// subscribeTicks opens a websocket to the gateway's tick stream and forwards
// decoded ticks on the returned channel, reconnecting with exponential
// backoff on drop until ctx is cancelled. The channel is closed when ctx
// ends or the caller's context is done.
func (c *Client) subscribeTicks(ctx context.Context, symbols []string) (<-chan domain.BrokerTick, error) {
	out := make(chan domain.BrokerTick, 64)
	wsURL := toWSURL(c.baseURL) + "/ws/ticks"

	go func() {
		defer close(out)
		attempt := 0
		for {
			if ctx.Err() != nil {
				return
			}
			conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: createHTTP1Client()})
			if err != nil {
				c.log.Warn().Err(err).Int("attempt", attempt).Msg("tick stream dial failed")
				if !sleepBackoff(ctx, attempt) {
					return
				}
				attempt++
				continue
			}
			attempt = 0
			if err := wsjson.Write(ctx, conn, map[string]any{"op": "subscribe", "symbols": symbols}); err != nil {
				conn.Close(websocket.StatusInternalError, "subscribe failed")
				continue
			}

			for {
				var msg tickMessage
				if err := wsjson.Read(ctx, conn, &msg); err != nil {
					conn.Close(websocket.StatusNormalClosure, "")
					break
				}
				select {
				case out <- domain.BrokerTick{
					Symbol: msg.Symbol, Bid: msg.Bid, Ask: msg.Ask,
					Timestamp: time.UnixMilli(msg.Timestamp).UTC(),
				}:
				case <-ctx.Done():
					return
				}
			}
			if !sleepBackoff(ctx, attempt) {
				return
			}
			attempt++
		}
	}()

	return out, nil
}

func sleepBackoff(ctx context.Context, attempt int) bool {
	delay := time.Duration(float64(baseReconnectDelay) * math.Pow(2, float64(attempt)))
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func toWSURL(baseURL string) string {
	switch {
	case len(baseURL) >= 8 && baseURL[:8] == "https://":
		return "wss://" + baseURL[8:]
	case len(baseURL) >= 7 && baseURL[:7] == "http://":
		return "ws://" + baseURL[7:]
	default:
		return baseURL
	}
}
