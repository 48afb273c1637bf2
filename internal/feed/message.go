package feed

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"factor-lab/internal/domain"
)

// Message types on the wire.
const (
	TypeBar        = "bar"
	TypeSubscribed = "subscribed"
	TypeError      = "error"
)

var (
	// ErrServer is returned for an error message sent by the feed server.
	ErrServer = errors.New("feed server error")

	// ErrBadMessage is returned for a message that cannot be decoded.
	ErrBadMessage = errors.New("bad feed message")
)

// Subscription selects the series a client receives.
type Subscription struct {
	Symbols  []string
	Interval string
}

type subscribeRequest struct {
	Op       string   `json:"op"`
	Symbols  []string `json:"symbols"`
	Interval string   `json:"interval,omitempty"`
}

// message is one server frame. Prices may be JSON strings or numbers.
type message struct {
	Type         string          `json:"type"`
	Symbol       string          `json:"symbol,omitempty"`
	Exchange     string          `json:"exchange,omitempty"`
	Interval     string          `json:"interval,omitempty"`
	Timestamp    int64           `json:"ts,omitempty"`
	Open         decimal.Decimal `json:"open"`
	High         decimal.Decimal `json:"high"`
	Low          decimal.Decimal `json:"low"`
	Close        decimal.Decimal `json:"close"`
	Volume       decimal.Decimal `json:"volume"`
	Turnover     decimal.Decimal `json:"turnover"`
	OpenInterest decimal.Decimal `json:"open_interest"`
	Message      string          `json:"message,omitempty"`
}

// decodeBar parses a frame. It returns (nil, nil) for control frames.
func decodeBar(data []byte, defaultInterval string) (*domain.Bar, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	switch m.Type {
	case TypeBar:
	case TypeError:
		return nil, fmt.Errorf("%w: %s", ErrServer, m.Message)
	case TypeSubscribed, "pong":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrBadMessage, m.Type)
	}

	if m.Symbol == "" || m.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: bar without symbol or ts", ErrBadMessage)
	}
	if m.High.LessThan(m.Low) {
		return nil, fmt.Errorf("%w: %s high %s below low %s", ErrBadMessage, m.Symbol, m.High, m.Low)
	}

	interval := m.Interval
	if interval == "" {
		interval = defaultInterval
	}
	turnover := m.Turnover
	if turnover.IsZero() {
		// Feeds without turnover: approximate with close * volume so vwap stays defined
		turnover = m.Close.Mul(m.Volume)
	}

	return &domain.Bar{
		Symbol:       m.Symbol,
		Exchange:     m.Exchange,
		Interval:     interval,
		TimestampMs:  m.Timestamp,
		Open:         m.Open.InexactFloat64(),
		High:         m.High.InexactFloat64(),
		Low:          m.Low.InexactFloat64(),
		Close:        m.Close.InexactFloat64(),
		Volume:       m.Volume.InexactFloat64(),
		Turnover:     turnover.InexactFloat64(),
		OpenInterest: m.OpenInterest.InexactFloat64(),
	}, nil
}
