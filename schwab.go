// Package schwab is a client for the Charles Schwab trader and market data
// APIs. It wraps OAuth token lifecycle management (see the tokens package), a
// set of REST endpoints, and real-time streaming (see the stream package).
package schwab

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"

	"github.com/tylerebowers/schwab-go/stream"
	"github.com/tylerebowers/schwab-go/tokens"
)

// Config carries everything a Client needs. There is no process-wide client;
// construct one per credential set.
type Config struct {
	AppKey      string
	AppSecret   string
	CallbackURL string

	// DB is the shared sqlite token store, opened with gorm.
	DB *gorm.DB

	// Encryption optionally seals token material at rest; see tokens.Config.
	Encryption string

	// Authorize optionally replaces the interactive authorization flow.
	Authorize tokens.AuthorizeFunc

	Logger  *slog.Logger
	Timeout time.Duration // per-request timeout, defaults to 10 seconds

	// BaseURL overrides the API host, for tests.
	BaseURL string
}

// Client calls the Schwab REST APIs with a managed bearer token.
type Client struct {
	base   string
	hc     *http.Client
	log    *slog.Logger
	tokens *tokens.Manager
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Timeout < 0 {
		return nil, errors.New("schwab: timeout must be positive")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = tokens.DefaultBaseURL
	}
	mgr, err := tokens.NewManager(tokens.Config{
		AppKey:      cfg.AppKey,
		AppSecret:   cfg.AppSecret,
		CallbackURL: cfg.CallbackURL,
		DB:          cfg.DB,
		Encryption:  cfg.Encryption,
		Authorize:   cfg.Authorize,
		Logger:      cfg.Logger,
		BaseURL:     cfg.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		base:   cfg.BaseURL,
		hc:     &http.Client{Timeout: cfg.Timeout},
		log:    cfg.Logger,
		tokens: mgr,
	}, nil
}

// Tokens returns the client's token manager, e.g. to force a renewal.
func (c *Client) Tokens() *tokens.Manager { return c.tokens }

// builder returns a request builder for path with a fresh bearer token.
func (c *Client) builder(ctx context.Context, path string) *requests.Builder {
	c.tokens.Update(ctx, false, false)
	return requests.URL(c.base + path).
		Client(c.hc).
		Header("Authorization", "Bearer "+c.tokens.AccessToken())
}

func (c *Client) get(ctx context.Context, path string, q url.Values, v any) error {
	rb := c.builder(ctx, path)
	for key, vals := range q {
		rb.Param(key, vals...)
	}
	if v != nil {
		rb.ToJSON(v)
	}
	return rb.Fetch(ctx)
}

// userPreference mirrors the /trader/v1/userPreference response shape we
// care about.
type userPreference struct {
	StreamerInfo []stream.StreamerInfo `json:"streamerInfo"`
}

// StreamerInfo fetches fresh streaming endpoint metadata. It satisfies
// stream.StreamerInfoFunc; the stream session calls it on every connection
// attempt because the values rotate.
func (c *Client) StreamerInfo(ctx context.Context) (*stream.StreamerInfo, error) {
	var pref userPreference
	if err := c.get(ctx, "/trader/v1/userPreference", nil, &pref); err != nil {
		return nil, err
	}
	if len(pref.StreamerInfo) == 0 {
		return nil, errors.New("schwab: user preference response has no streamer info")
	}
	info := pref.StreamerInfo[0]
	if info.CorrelID == "" {
		info.CorrelID = uuid.NewString()
	}
	return &info, nil
}

// NewStream returns a streaming session wired to this client. The session
// receives only the two narrow capabilities it needs — current access token
// and fresh streamer info — not the client itself.
func (c *Client) NewStream() (*stream.Session, error) {
	return stream.NewSession(stream.Config{
		StreamerInfo: c.StreamerInfo,
		AccessToken: func(ctx context.Context) (string, error) {
			c.tokens.Update(ctx, false, false)
			return c.tokens.AccessToken(), nil
		},
		Logger: c.log,
	})
}
