package schwab

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tylerebowers/schwab-go/tokens"
)

const (
	testAppKey    = "01234567890123456789012345678901"
	testAppSecret = "0123456789012345"
)

type recorded struct {
	method string
	path   string
	query  url.Values
	auth   string
	body   []byte
}

// apiStub records the last request and serves canned JSON per path.
type apiStub struct {
	srv *httptest.Server

	mu      sync.Mutex
	last    recorded
	replies map[string]string
}

func newAPIStub(t *testing.T) *apiStub {
	t.Helper()
	stub := &apiStub{replies: map[string]string{}}
	stub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		stub.mu.Lock()
		stub.last = recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			auth:   r.Header.Get("Authorization"),
			body:   body,
		}
		reply, ok := stub.replies[r.URL.Path]
		stub.mu.Unlock()
		if !ok {
			reply = "{}"
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, reply)
	}))
	t.Cleanup(stub.srv.Close)
	return stub
}

func (s *apiStub) Reply(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[path] = body
}

func (s *apiStub) Last() recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// newTestClient builds a client over the stub with fresh tokens already in
// the store, so no renewal traffic happens during the test.
func newTestClient(t *testing.T, stub *apiStub) *Client {
	t.Helper()

	db, err := gorm.Open(&sqlite.Dialector{DSN: filepath.Join(t.TempDir(), "tokens.db")}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store, err := tokens.NewStore(db, nil)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, store.Exclusive(func(tx *tokens.Tx) error {
		return tx.Replace(&tokens.Record{
			AccessTokenIssued:  now,
			RefreshTokenIssued: now,
			AccessToken:        "AT1",
			RefreshToken:       "RT1",
			ExpiresIn:          1800,
			TokenType:          "Bearer",
			Scope:              "api",
		})
	}))

	c, err := NewClient(Config{
		AppKey:      testAppKey,
		AppSecret:   testAppSecret,
		CallbackURL: "https://127.0.0.1",
		DB:          db,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		BaseURL:     stub.srv.URL,
	})
	require.NoError(t, err)
	return c
}

func TestQuotes(t *testing.T) {
	require := require.New(t)
	stub := newAPIStub(t)
	stub.Reply("/marketdata/v1/quotes", `{"AAPL":{"symbol":"AAPL"}}`)
	c := newTestClient(t, stub)

	var out map[string]struct {
		Symbol string `json:"symbol"`
	}
	require.NoError(c.Quotes(context.Background(), []string{"AAPL", "GOOG"}, "quote", true, &out))
	require.Equal("AAPL", out["AAPL"].Symbol)

	last := stub.Last()
	require.Equal(http.MethodGet, last.method)
	require.Equal("/marketdata/v1/quotes", last.path)
	require.Equal("Bearer AT1", last.auth)
	require.Equal("AAPL,GOOG", last.query.Get("symbols"))
	require.Equal("quote", last.query.Get("fields"))
	require.Equal("true", last.query.Get("indicative"))
}

func TestOrdersQuery(t *testing.T) {
	require := require.New(t)
	stub := newAPIStub(t)
	c := newTestClient(t, stub)

	from := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	to := time.Date(2026, 8, 31, 16, 0, 0, 0, time.UTC)
	require.NoError(c.Orders(context.Background(), "HASH1", from, to, 50, "", nil))

	last := stub.Last()
	require.Equal("/trader/v1/accounts/HASH1/orders", last.path)
	require.Equal("2026-08-01T09:30:00.000Z", last.query.Get("fromEnteredTime"))
	require.Equal("2026-08-31T16:00:00.000Z", last.query.Get("toEnteredTime"))
	require.Equal("50", last.query.Get("maxResults"))
	// Unset optional parameters stay off the wire.
	require.False(last.query.Has("status"))
}

func TestPlaceAndCancelOrder(t *testing.T) {
	require := require.New(t)
	stub := newAPIStub(t)
	c := newTestClient(t, stub)
	ctx := context.Background()

	order := map[string]any{"orderType": "MARKET", "quantity": 1}
	require.NoError(c.PlaceOrder(ctx, "HASH1", order))
	last := stub.Last()
	require.Equal(http.MethodPost, last.method)
	require.Equal("/trader/v1/accounts/HASH1/orders", last.path)
	require.Contains(string(last.body), `"orderType":"MARKET"`)

	require.NoError(c.CancelOrder(ctx, "HASH1", "42"))
	last = stub.Last()
	require.Equal(http.MethodDelete, last.method)
	require.Equal("/trader/v1/accounts/HASH1/orders/42", last.path)
}

func TestPriceHistoryQuery(t *testing.T) {
	require := require.New(t)
	stub := newAPIStub(t)
	c := newTestClient(t, stub)

	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(c.PriceHistory(context.Background(), "AAPL", PriceHistoryOptions{
		PeriodType:    "day",
		Period:        10,
		FrequencyType: "minute",
		Frequency:     5,
		Start:         start,
	}, nil))

	last := stub.Last()
	require.Equal("/marketdata/v1/pricehistory", last.path)
	require.Equal("AAPL", last.query.Get("symbol"))
	require.Equal("day", last.query.Get("periodType"))
	require.Equal("5", last.query.Get("frequency"))
	require.Equal("1767312000000", last.query.Get("startDate"))
	require.False(last.query.Has("endDate"))
	require.False(last.query.Has("needExtendedHoursData"))
}

func TestStreamerInfo(t *testing.T) {
	t.Run("returns the first entry", func(t *testing.T) {
		require := require.New(t)
		stub := newAPIStub(t)
		stub.Reply("/trader/v1/userPreference", `{"streamerInfo":[{
			"streamerSocketUrl":"wss://example.invalid/ws",
			"schwabClientCustomerId":"CUST1",
			"schwabClientCorrelId":"CORREL1",
			"schwabClientChannel":"N9",
			"schwabClientFunctionId":"APIAPP"}]}`)
		c := newTestClient(t, stub)

		info, err := c.StreamerInfo(context.Background())
		require.NoError(err)
		require.Equal("wss://example.invalid/ws", info.SocketURL)
		require.Equal("CUST1", info.CustomerID)
		require.Equal("CORREL1", info.CorrelID)
	})

	t.Run("fills a missing correlation id", func(t *testing.T) {
		require := require.New(t)
		stub := newAPIStub(t)
		stub.Reply("/trader/v1/userPreference", `{"streamerInfo":[{
			"streamerSocketUrl":"wss://example.invalid/ws",
			"schwabClientCustomerId":"CUST1"}]}`)
		c := newTestClient(t, stub)

		info, err := c.StreamerInfo(context.Background())
		require.NoError(err)
		_, err = uuid.Parse(info.CorrelID)
		require.NoError(err)
	})

	t.Run("empty preference is an error", func(t *testing.T) {
		require := require.New(t)
		stub := newAPIStub(t)
		stub.Reply("/trader/v1/userPreference", `{"streamerInfo":[]}`)
		c := newTestClient(t, stub)

		_, err := c.StreamerInfo(context.Background())
		require.ErrorContains(err, "streamer info")
	})
}

func TestNewStream(t *testing.T) {
	require := require.New(t)
	stub := newAPIStub(t)
	stub.Reply("/trader/v1/userPreference", `{"streamerInfo":[{
		"streamerSocketUrl":"wss://example.invalid/ws",
		"schwabClientCustomerId":"CUST1",
		"schwabClientCorrelId":"CORREL1",
		"schwabClientChannel":"N9",
		"schwabClientFunctionId":"APIAPP"}]}`)
	c := newTestClient(t, stub)

	s, err := c.NewStream()
	require.NoError(err)

	// The session builds requests from the client's streamer metadata.
	got, err := s.LevelOneEquities(context.Background(), []string{"AAPL"}, []string{"0", "1"}, "ADD")
	require.NoError(err)
	require.Equal("CUST1", got.CustomerID)
	require.Equal("CORREL1", got.CorrelID)
}
