package stream

import (
	"context"
	"strings"

	"github.com/tylerebowers/schwab-go/internal/param"
)

// Command is a streaming request command.
type Command string

const (
	Add    Command = "ADD"
	Subs   Command = "SUBS"
	Unsubs Command = "UNSUBS"
	View   Command = "VIEW"
	Login  Command = "LOGIN"
	Logout Command = "LOGOUT"
)

// A Request is a single streaming API request. Build them with the service
// helpers on Session so the request id and client identifiers are stamped.
type Request struct {
	Service    string            `json:"service"`
	Command    Command           `json:"command"`
	RequestID  int               `json:"requestid"`
	CustomerID string            `json:"SchwabClientCustomerId"`
	CorrelID   string            `json:"SchwabClientCorrelId"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// batch is the wire envelope; every send carries one or more requests.
type batch struct {
	Requests []Request `json:"requests"`
}

// Request builds a subscription request for an arbitrary service. Most
// callers want one of the named helpers below.
func (s *Session) Request(ctx context.Context, service string, command Command, keys, fields []string) (Request, error) {
	info, err := s.streamerInfo(ctx)
	if err != nil {
		return Request{}, err
	}
	return s.stamp(strings.ToUpper(service), command, map[string]string{
		"keys":   param.List(keys),
		"fields": param.List(fields),
	}, info), nil
}

// LevelOneEquities subscribes to level one equity quotes, e.g. keys
// ["AAPL", "GOOG"].
func (s *Session) LevelOneEquities(ctx context.Context, keys, fields []string, command Command) (Request, error) {
	return s.Request(ctx, "LEVELONE_EQUITIES", command, keys, fields)
}

// LevelOneOptions subscribes to level one option quotes. Keys are contract
// symbols: underlying padded to 6 characters, expiry, call/put, strike.
func (s *Session) LevelOneOptions(ctx context.Context, keys, fields []string, command Command) (Request, error) {
	return s.Request(ctx, "LEVELONE_OPTIONS", command, keys, fields)
}

// LevelOneFutures subscribes to level one futures quotes, e.g. ["/ESF24"].
func (s *Session) LevelOneFutures(ctx context.Context, keys, fields []string, command Command) (Request, error) {
	return s.Request(ctx, "LEVELONE_FUTURES", command, keys, fields)
}

// LevelOneFuturesOptions subscribes to level one futures option quotes,
// e.g. ["./OZCZ23C565"].
func (s *Session) LevelOneFuturesOptions(ctx context.Context, keys, fields []string, command Command) (Request, error) {
	return s.Request(ctx, "LEVELONE_FUTURES_OPTIONS", command, keys, fields)
}

// LevelOneForex subscribes to level one forex quotes, e.g. ["EUR/USD"].
func (s *Session) LevelOneForex(ctx context.Context, keys, fields []string, command Command) (Request, error) {
	return s.Request(ctx, "LEVELONE_FOREX", command, keys, fields)
}

// NYSEBook subscribes to NYSE book orders.
func (s *Session) NYSEBook(ctx context.Context, keys, fields []string, command Command) (Request, error) {
	return s.Request(ctx, "NYSE_BOOK", command, keys, fields)
}

// NasdaqBook subscribes to NASDAQ book orders.
func (s *Session) NasdaqBook(ctx context.Context, keys, fields []string, command Command) (Request, error) {
	return s.Request(ctx, "NASDAQ_BOOK", command, keys, fields)
}

// OptionsBook subscribes to option book orders.
func (s *Session) OptionsBook(ctx context.Context, keys, fields []string, command Command) (Request, error) {
	return s.Request(ctx, "OPTIONS_BOOK", command, keys, fields)
}

// ChartEquity subscribes to minute candles for equities.
func (s *Session) ChartEquity(ctx context.Context, keys, fields []string, command Command) (Request, error) {
	return s.Request(ctx, "CHART_EQUITY", command, keys, fields)
}

// ChartFutures subscribes to minute candles for futures.
func (s *Session) ChartFutures(ctx context.Context, keys, fields []string, command Command) (Request, error) {
	return s.Request(ctx, "CHART_FUTURES", command, keys, fields)
}

// ScreenerEquity subscribes to equity screener results. Keys take the form
// (PREFIX)_(SORTFIELD)_(FREQUENCY), e.g. "$DJI_PERCENT_CHANGE_UP_60".
func (s *Session) ScreenerEquity(ctx context.Context, keys, fields []string, command Command) (Request, error) {
	return s.Request(ctx, "SCREENER_EQUITY", command, keys, fields)
}

// ScreenerOptions subscribes to option screener results, e.g.
// "OPTION_CALL_TRADES_30".
func (s *Session) ScreenerOptions(ctx context.Context, keys, fields []string, command Command) (Request, error) {
	return s.Request(ctx, "SCREENER_OPTION", command, keys, fields)
}

// AccountActivity subscribes to order and account activity events. The
// service has a single fixed key.
func (s *Session) AccountActivity(ctx context.Context, command Command) (Request, error) {
	return s.Request(ctx, "ACCT_ACTIVITY", command, []string{"Account Activity"}, []string{"0", "1", "2", "3"})
}

// stamp assigns the next request id and fills in the client identifiers.
func (s *Session) stamp(service string, command Command, params map[string]string, info *StreamerInfo) Request {
	s.mu.Lock()
	s.requestID++
	id := s.requestID
	s.mu.Unlock()
	return Request{
		Service:    service,
		Command:    command,
		RequestID:  id,
		CustomerID: info.CustomerID,
		CorrelID:   info.CorrelID,
		Parameters: params,
	}
}
