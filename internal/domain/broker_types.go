package domain

import "time"

// Broker-agnostic types for the connection pool and reconcilers.
// These abstract away the specific terminal/wire protocol (MT5, Tradernet,
// IBKR, ...) behind the narrow BrokerClient capability below.

// BrokerCredential is an already-decrypted credential handed to the adapter.
// Credential-at-rest encryption/decryption is out of scope for this module.
type BrokerCredential struct {
	Login    string
	Password string
	Server   string
}

// BrokerPosition is a position as reported by the broker.
type BrokerPosition struct {
	Ticket       string
	Symbol       string
	Side         string // "buy" or "sell"
	Size         float64
	OpenPrice    float64
	CurrentPrice float64
	StopLoss     *float64
	TakeProfit   *float64
	RealizedPnL  float64
	UnrealizedPnL float64
	Swap         float64
	Commission   float64
	OpenTime     time.Time
}

// BrokerAccount is an account snapshot as reported by the broker.
type BrokerAccount struct {
	Balance    float64
	Equity     float64
	Margin     float64
	FreeMargin float64
	Currency   string
	AsOf       time.Time
}

// BrokerOrderResult is the outcome of a submit/close/modify order call.
type BrokerOrderResult struct {
	Ticket   string
	Symbol   string
	Side     string
	Size     float64
	Price    float64
	Accepted bool
	Message  string
}

// BrokerTick is a streamed price update from SubscribeTicks.
type BrokerTick struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Timestamp time.Time
}
