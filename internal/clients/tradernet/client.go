// Package tradernet implements the Broker Capability (domain.BrokerClient)
// against a REST trading microservice, following the same post/get +
// envelope pattern the rest of this codebase's external clients use.
package tradernet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantgate/signalgate/internal/domain"
)

// Client talks to one broker-gateway microservice instance over REST. One
// Client is minted per profile by Factory.NewClient; it holds no credential
// until Connect is called.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	login   string
	healthy bool
}

// serviceResponse is the standard envelope the gateway wraps every reply in.
type serviceResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
}

// NewClient builds a broker REST client against baseURL.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "tradernet").Logger(),
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) (*serviceResponse, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.login != "" {
		req.Header.Set("X-Broker-Login", c.login)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.healthy = false
		return nil, fmt.Errorf("broker request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var out serviceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if !out.Success {
		msg := "unknown broker error"
		if out.Error != nil {
			msg = *out.Error
		}
		return &out, fmt.Errorf("broker error: %s", msg)
	}
	c.healthy = true
	return &out, nil
}

func (c *Client) Connect(ctx context.Context, cred domain.BrokerCredential) error {
	c.login = cred.Login
	_, err := c.do(ctx, http.MethodPost, "/api/session/connect", map[string]string{
		"login": cred.Login, "password": cred.Password, "server": cred.Server,
	})
	if err != nil {
		c.healthy = false
		return err
	}
	c.healthy = true
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/api/session/disconnect", nil)
	c.healthy = false
	return err
}

func (c *Client) Healthy() bool { return c.healthy }

func (c *Client) QueryAccount(ctx context.Context) (domain.BrokerAccount, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/account", nil)
	if err != nil {
		return domain.BrokerAccount{}, err
	}
	var acct domain.BrokerAccount
	if err := json.Unmarshal(resp.Data, &acct); err != nil {
		return domain.BrokerAccount{}, fmt.Errorf("parse account: %w", err)
	}
	return acct, nil
}

func (c *Client) ListPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/positions", nil)
	if err != nil {
		return nil, err
	}
	var positions []domain.BrokerPosition
	if err := json.Unmarshal(resp.Data, &positions); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}
	return positions, nil
}

type orderRequest struct {
	Symbol string   `json:"symbol"`
	Side   string   `json:"side"`
	Size   float64  `json:"size"`
	SL     *float64 `json:"stop_loss,omitempty"`
	TP     *float64 `json:"take_profit,omitempty"`
}

func (c *Client) SubmitOrder(ctx context.Context, symbol, side string, size float64, sl, tp *float64) (domain.BrokerOrderResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/orders", orderRequest{Symbol: symbol, Side: side, Size: size, SL: sl, TP: tp})
	if err != nil {
		return domain.BrokerOrderResult{}, err
	}
	return parseOrderResult(resp)
}

func (c *Client) CloseOrder(ctx context.Context, ticket string) (domain.BrokerOrderResult, error) {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/orders/%s/close", ticket), nil)
	if err != nil {
		return domain.BrokerOrderResult{}, err
	}
	return parseOrderResult(resp)
}

func (c *Client) ModifyOrder(ctx context.Context, ticket string, sl, tp *float64) (domain.BrokerOrderResult, error) {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/orders/%s/modify", ticket), map[string]any{"stop_loss": sl, "take_profit": tp})
	if err != nil {
		return domain.BrokerOrderResult{}, err
	}
	return parseOrderResult(resp)
}

func parseOrderResult(resp *serviceResponse) (domain.BrokerOrderResult, error) {
	var res domain.BrokerOrderResult
	if err := json.Unmarshal(resp.Data, &res); err != nil {
		return domain.BrokerOrderResult{}, fmt.Errorf("parse order result: %w", err)
	}
	return res, nil
}

// SubscribeTicks delegates to the websocket tick stream (see
// websocket_client.go); it is defined there because it owns the connection
// lifecycle independently from the REST session.
func (c *Client) SubscribeTicks(ctx context.Context, symbols []string) (<-chan domain.BrokerTick, error) {
	return c.subscribeTicks(ctx, symbols)
}

// Factory mints one Client per profile, all pointed at the same broker
// gateway base URL. Satisfies domain.BrokerAdapterFactory.
type Factory struct {
	baseURL string
	log     zerolog.Logger
}

func NewFactory(baseURL string, log zerolog.Logger) *Factory {
	return &Factory{baseURL: baseURL, log: log}
}

func (f *Factory) NewClient(profileID string) domain.BrokerClient {
	return NewClient(f.baseURL, f.log.With().Str("profile_id", profileID).Logger())
}
