package schwab

import (
	"context"
	"net/http"
	"time"

	"github.com/tylerebowers/schwab-go/internal/param"
)

// The wrappers below are thin parameter-to-query mappings over the trader and
// market data APIs. Each decodes the JSON response into v, which is usually a
// caller-defined struct or a map[string]any.

// LinkedAccounts returns the plain/encrypted account number pairs. The
// encrypted values are required by every other account endpoint.
func (c *Client) LinkedAccounts(ctx context.Context, v any) error {
	return c.get(ctx, "/trader/v1/accounts/accountNumbers", nil, v)
}

// AccountDetailsAll returns details for every linked account. fields may be
// "positions" to include positions.
func (c *Client) AccountDetailsAll(ctx context.Context, fields string, v any) error {
	q := param.New().String("fields", fields)
	return c.get(ctx, "/trader/v1/accounts/", q.Values, v)
}

// AccountDetails returns details for one account by its encrypted hash.
func (c *Client) AccountDetails(ctx context.Context, accountHash, fields string, v any) error {
	q := param.New().String("fields", fields)
	return c.get(ctx, "/trader/v1/accounts/"+accountHash, q.Values, v)
}

// Orders returns orders for an account between from and to, optionally
// filtered by status.
func (c *Client) Orders(ctx context.Context, accountHash string, from, to time.Time, maxResults int, status string, v any) error {
	q := param.New().
		Time("fromEnteredTime", from, param.ISO8601).
		Time("toEnteredTime", to, param.ISO8601).
		Int("maxResults", maxResults).
		String("status", status)
	return c.get(ctx, "/trader/v1/accounts/"+accountHash+"/orders", q.Values, v)
}

// PlaceOrder submits an order for the account. order is marshalled as the
// JSON request body.
func (c *Client) PlaceOrder(ctx context.Context, accountHash string, order any) error {
	return c.builder(ctx, "/trader/v1/accounts/"+accountHash+"/orders").
		BodyJSON(order).
		Fetch(ctx)
}

// CancelOrder cancels an order by id.
func (c *Client) CancelOrder(ctx context.Context, accountHash string, orderID string) error {
	return c.builder(ctx, "/trader/v1/accounts/"+accountHash+"/orders/"+orderID).
		Method(http.MethodDelete).
		Fetch(ctx)
}

// Transactions returns transactions for an account in the date range. types
// filters by transaction type, symbol by instrument.
func (c *Client) Transactions(ctx context.Context, accountHash string, from, to time.Time, types, symbol string, v any) error {
	q := param.New().
		Time("startDate", from, param.ISO8601).
		Time("endDate", to, param.ISO8601).
		String("types", types).
		String("symbol", symbol)
	return c.get(ctx, "/trader/v1/accounts/"+accountHash+"/transactions", q.Values, v)
}

// UserPreference returns the raw user preference document, including the
// streamer info consumed by StreamerInfo.
func (c *Client) UserPreference(ctx context.Context, v any) error {
	return c.get(ctx, "/trader/v1/userPreference", nil, v)
}

// Quotes returns quotes for a list of symbols.
func (c *Client) Quotes(ctx context.Context, symbols []string, fields string, indicative bool, v any) error {
	q := param.New().
		String("symbols", param.List(symbols)).
		String("fields", fields).
		Bool("indicative", indicative)
	return c.get(ctx, "/marketdata/v1/quotes", q.Values, v)
}

// Quote returns the quote for a single symbol.
func (c *Client) Quote(ctx context.Context, symbol, fields string, v any) error {
	q := param.New().String("fields", fields)
	return c.get(ctx, "/marketdata/v1/"+symbol+"/quotes", q.Values, v)
}

// PriceHistoryOptions are the optional knobs on PriceHistory. Zero values are
// omitted from the query.
type PriceHistoryOptions struct {
	PeriodType            string // day, month, year, ytd
	Period                int
	FrequencyType         string // minute, daily, weekly, monthly
	Frequency             int
	Start, End            time.Time
	NeedExtendedHoursData bool
	NeedPreviousClose     bool
}

// PriceHistory returns candles for a symbol.
func (c *Client) PriceHistory(ctx context.Context, symbol string, opts PriceHistoryOptions, v any) error {
	q := param.New().
		String("symbol", symbol).
		String("periodType", opts.PeriodType).
		Int("period", opts.Period).
		String("frequencyType", opts.FrequencyType).
		Int("frequency", opts.Frequency).
		EpochMilli("startDate", opts.Start).
		EpochMilli("endDate", opts.End).
		Bool("needExtendedHoursData", opts.NeedExtendedHoursData).
		Bool("needPreviousClose", opts.NeedPreviousClose)
	return c.get(ctx, "/marketdata/v1/pricehistory", q.Values, v)
}

// OptionChains returns the option chain for a symbol. contractType is CALL,
// PUT or ALL.
func (c *Client) OptionChains(ctx context.Context, symbol, contractType string, strikeCount int, v any) error {
	q := param.New().
		String("symbol", symbol).
		String("contractType", contractType).
		Int("strikeCount", strikeCount)
	return c.get(ctx, "/marketdata/v1/chains", q.Values, v)
}

// OptionExpirationChain returns the expiration dates for a symbol's options.
func (c *Client) OptionExpirationChain(ctx context.Context, symbol string, v any) error {
	q := param.New().String("symbol", symbol)
	return c.get(ctx, "/marketdata/v1/expirationchain", q.Values, v)
}

// MarketHours returns hours for the given markets (equity, option, bond,
// future, forex) on date.
func (c *Client) MarketHours(ctx context.Context, markets []string, date time.Time, v any) error {
	q := param.New().
		String("markets", param.List(markets)).
		Time("date", date, param.Date)
	return c.get(ctx, "/marketdata/v1/markets", q.Values, v)
}

// Movers returns movers for an index, e.g. "$DJI".
func (c *Client) Movers(ctx context.Context, index, sort string, frequency int, v any) error {
	q := param.New().
		String("sort", sort).
		Int("frequency", frequency)
	return c.get(ctx, "/marketdata/v1/movers/"+index, q.Values, v)
}

// Instruments searches instruments by symbol. projection is e.g.
// "symbol-search" or "fundamental".
func (c *Client) Instruments(ctx context.Context, symbol, projection string, v any) error {
	q := param.New().
		String("symbol", symbol).
		String("projection", projection)
	return c.get(ctx, "/marketdata/v1/instruments", q.Values, v)
}
