// Package tokens manages the Schwab OAuth token lifecycle: the authorization
// code flow, access token refresh, and a persistent store that can be shared
// safely between processes.
package tokens

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/carlmjohnson/requests"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

// DefaultBaseURL is the production Schwab API host.
const DefaultBaseURL = "https://api.schwabapi.com"

const (
	defaultAccessLifetime   = 30 * time.Minute
	defaultRefreshLifetime  = 7 * 24 * time.Hour
	defaultRefreshThreshold = 60*time.Minute + 30*time.Second
	defaultAccessThreshold  = 61 * time.Second
)

// AuthorizeFunc completes the authorization flow for the given authorize URL
// and returns the resulting callback URL, or the bare authorization code.
// Supplying one makes the flow non-interactive; see CaptureServer.
type AuthorizeFunc func(ctx context.Context, authURL string) (string, error)

// Config carries the constructor-injected state for a Manager. There are no
// process-wide defaults beyond the documented zero-value fallbacks.
type Config struct {
	AppKey      string // 32 or 48 characters
	AppSecret   string // 16 or 64 characters
	CallbackURL string // must be https and must not end with "/"

	// DB holds the shared token store. sqlite is the supported dialect; the
	// cross-process locking discipline depends on its exclusive transactions.
	DB *gorm.DB

	// Encryption, when non-empty, is the passphrase used to seal access and
	// refresh tokens at rest.
	Encryption string

	// Authorize, when set, replaces the interactive browser-and-paste flow.
	Authorize AuthorizeFunc

	Logger *slog.Logger

	// BaseURL overrides the OAuth host, for tests.
	BaseURL string

	// Lifetimes and renewal thresholds. Zero values take the Schwab defaults:
	// 30 minute access tokens renewed 61 seconds before expiry, 7 day refresh
	// tokens renewed 60.5 minutes before expiry.
	AccessLifetime   time.Duration
	RefreshLifetime  time.Duration
	AccessThreshold  time.Duration
	RefreshThreshold time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Manager owns the in-memory token state and keeps it consistent with the
// persistent store across processes. All renewal decisions go through Update.
type Manager struct {
	cfg   Config
	store *Store
	log   *slog.Logger
	now   func() time.Time

	mu            sync.Mutex
	accessToken   string
	refreshToken  string
	idToken       string
	accessIssued  time.Time
	refreshIssued time.Time
	expiresIn     time.Duration
}

// NewManager validates cfg, opens the store and loads any persisted tokens.
// Configuration problems (bad credential lengths, non-https callback,
// encrypted store without a passphrase) are returned as errors and are never
// retried.
func NewManager(cfg Config) (*Manager, error) {
	switch len(cfg.AppKey) {
	case 32, 48:
	default:
		return nil, fmt.Errorf("tokens: app key must be 32 or 48 characters, got %d", len(cfg.AppKey))
	}
	switch len(cfg.AppSecret) {
	case 16, 64:
	default:
		return nil, fmt.Errorf("tokens: app secret must be 16 or 64 characters, got %d", len(cfg.AppSecret))
	}
	cb, err := url.Parse(cfg.CallbackURL)
	if err != nil {
		return nil, fmt.Errorf("tokens: invalid callback url: %w", err)
	}
	if cb.Scheme != "https" {
		return nil, errors.New("tokens: callback url must be https")
	}
	if strings.HasSuffix(cfg.CallbackURL, "/") {
		return nil, errors.New(`tokens: callback url must not end with "/"`)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AccessLifetime == 0 {
		cfg.AccessLifetime = defaultAccessLifetime
	}
	if cfg.RefreshLifetime == 0 {
		cfg.RefreshLifetime = defaultRefreshLifetime
	}
	if cfg.AccessThreshold == 0 {
		cfg.AccessThreshold = defaultAccessThreshold
	}
	if cfg.RefreshThreshold == 0 {
		cfg.RefreshThreshold = defaultRefreshThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	store, err := NewStore(cfg.DB, NewCipher(cfg.Encryption))
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:   cfg,
		store: store,
		log:   cfg.Logger,
		now:   cfg.Now,
	}

	rec, err := store.Load()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		m.log.Warn("no tokens found in store, authorization flow required")
		return m, nil
	}
	m.adopt(rec)
	now := m.now()
	m.log.Info("loaded tokens",
		"access_expires_in", m.accessLifetime()-now.Sub(m.accessIssued),
		"refresh_expires_in", cfg.RefreshLifetime-now.Sub(m.refreshIssued))
	return m, nil
}

// AccessToken returns the current in-memory access token. Call Update first
// to make sure it is fresh.
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessToken
}

// IDToken returns the identity token from the last authorization.
func (m *Manager) IDToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idToken
}

// AccessTokenIssued returns when the current access token was issued.
func (m *Manager) AccessTokenIssued() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessIssued
}

// RefreshTokenIssued returns when the current refresh token was issued.
func (m *Manager) RefreshTokenIssued() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshIssued
}

// AuthorizeURL returns the URL a user must visit to authorize the app.
func (m *Manager) AuthorizeURL() string {
	return m.cfg.BaseURL + "/v1/oauth/authorize?client_id=" + url.QueryEscape(m.cfg.AppKey) +
		"&redirect_uri=" + url.QueryEscape(m.cfg.CallbackURL)
}

// Update renews token material as needed and reports whether the in-memory
// tokens changed. Renewal failures are logged and leave the previous tokens
// in place; the caller's next request will surface the auth error.
func (m *Manager) Update(ctx context.Context, forceAccess, forceRefresh bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	refreshLeft := m.cfg.RefreshLifetime - now.Sub(m.refreshIssued)
	accessLeft := m.accessLifetime() - now.Sub(m.accessIssued)

	switch {
	case forceRefresh || refreshLeft < m.cfg.RefreshThreshold:
		if refreshLeft < 0 {
			m.log.Warn("refresh token has expired")
		}
		return m.renewRefreshToken(ctx)
	case forceAccess || accessLeft < m.cfg.AccessThreshold:
		m.log.Debug("access token expiring, renewing")
		return m.renewAccessToken(ctx)
	default:
		return false
	}
}

// accessLifetime is the fixed 30 minute lifetime unless the server reported
// expires_in. Callers must hold mu.
func (m *Manager) accessLifetime() time.Duration {
	if m.expiresIn > 0 {
		return m.expiresIn
	}
	return m.cfg.AccessLifetime
}

// adopt installs rec as the in-memory state. Callers must hold mu.
func (m *Manager) adopt(rec *Record) {
	m.accessToken = rec.AccessToken
	m.refreshToken = rec.RefreshToken
	m.idToken = rec.IDToken
	m.accessIssued = rec.AccessTokenIssued
	m.refreshIssued = rec.RefreshTokenIssued
	m.expiresIn = time.Duration(rec.ExpiresIn) * time.Second
}

// renewAccessToken exchanges the refresh token for a new access token under
// the store's exclusive lock. If another process renewed first, its result is
// adopted without a network call. Callers must hold mu.
func (m *Manager) renewAccessToken(ctx context.Context) bool {
	updated := false
	err := m.store.Exclusive(func(tx *Tx) error {
		rec, err := tx.Load()
		if err != nil {
			return err
		}
		if rec != nil && rec.AccessTokenIssued.After(m.accessIssued) {
			m.adopt(rec)
			updated = true
			m.log.Info("access token updated elsewhere", "issued", rec.AccessTokenIssued)
			return nil
		}
		payload, err := m.postToken(ctx, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {m.refreshToken},
		})
		if err != nil {
			return fmt.Errorf("could not get new access token, refresh token likely invalid: %w", err)
		}
		rec = m.makeRecord(payload, m.now(), m.refreshIssued)
		if err := tx.Replace(rec); err != nil {
			return err
		}
		m.adopt(rec)
		updated = true
		m.log.Info("access token updated", "issued", rec.AccessTokenIssued)
		return nil
	})
	if err != nil {
		m.log.Error("access token renewal failed", "err", err)
		return false
	}
	return updated
}

// renewRefreshToken runs the full authorization code flow. User interaction
// happens before the exclusive lock is taken so the store is never held
// across a prompt; the issued timestamp is re-checked both before and after.
// Callers must hold mu.
func (m *Manager) renewRefreshToken(ctx context.Context) bool {
	// Cheap pre-check: another process may already have re-authorized.
	if rec, err := m.store.Load(); err == nil && rec != nil && rec.RefreshTokenIssued.After(m.refreshIssued) {
		m.adopt(rec)
		m.log.Info("refresh token updated elsewhere", "issued", rec.RefreshTokenIssued)
		return true
	}

	urlOrCode, err := m.obtainCode(ctx)
	if err != nil {
		m.log.Error("authorization flow failed", "err", err)
		return false
	}
	code, err := ParseCode(urlOrCode)
	if err != nil {
		m.log.Error("could not parse authorization code", "err", err)
		return false
	}

	updated := false
	err = m.store.Exclusive(func(tx *Tx) error {
		rec, err := tx.Load()
		if err != nil {
			return err
		}
		if rec != nil && rec.RefreshTokenIssued.After(m.refreshIssued) {
			m.adopt(rec)
			updated = true
			m.log.Info("refresh token updated elsewhere (did you authorize twice?)")
			return nil
		}
		now := m.now()
		payload, err := m.postToken(ctx, url.Values{
			"grant_type":   {"authorization_code"},
			"code":         {code},
			"redirect_uri": {m.cfg.CallbackURL},
		})
		if err != nil {
			return fmt.Errorf("could not exchange authorization code"+
				" (check that the app is Ready For Use, the credentials are valid,"+
				" and the url was pasted within 30 seconds): %w", err)
		}
		rec = m.makeRecord(payload, now, now)
		if err := tx.Replace(rec); err != nil {
			return err
		}
		m.adopt(rec)
		updated = true
		m.log.Info("refresh and access tokens updated")
		return nil
	})
	if err != nil {
		m.log.Error("refresh token renewal failed", "err", err)
		return false
	}
	return updated
}

// obtainCode runs the configured Authorize callback, or falls back to opening
// a browser and prompting for the pasted callback URL.
func (m *Manager) obtainCode(ctx context.Context) (string, error) {
	authURL := m.AuthorizeURL()
	if m.cfg.Authorize != nil {
		return m.cfg.Authorize(ctx, authURL)
	}

	fmt.Printf("Open to authenticate: %s\n", authURL)
	if err := openBrowser(authURL); err != nil {
		m.log.Warn("could not open browser for authorization, open the link manually", "err", err)
	}
	fmt.Print("After authorizing, paste the address bar url here: ")
	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", errors.New("tokens: no input")
	}
	return strings.TrimSpace(sc.Text()), nil
}

// ParseCode extracts the authorization code from a pasted callback URL. Bare
// codes pass through untouched.
func ParseCode(urlOrCode string) (string, error) {
	urlOrCode = strings.TrimSpace(urlOrCode)
	if !strings.HasPrefix(urlOrCode, "https://") {
		return urlOrCode, nil
	}
	u, err := url.Parse(urlOrCode)
	if err != nil {
		return "", fmt.Errorf("tokens: malformed callback url: %w", err)
	}
	code := u.Query().Get("code")
	if code == "" {
		return "", errors.New("tokens: callback url has no code parameter")
	}
	return code, nil
}

// tokenPayload is the OAuth token endpoint response.
type tokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

func (m *Manager) postToken(ctx context.Context, form url.Values) (*tokenPayload, error) {
	var payload tokenPayload
	err := requests.URL(m.cfg.BaseURL + "/v1/oauth/token").
		BasicAuth(m.cfg.AppKey, m.cfg.AppSecret).
		BodyForm(form).
		ToJSON(&payload).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return &payload, nil
}

func (m *Manager) makeRecord(p *tokenPayload, atIssued, rtIssued time.Time) *Record {
	expires := p.ExpiresIn
	if expires == 0 {
		expires = int(defaultAccessLifetime / time.Second)
	}
	tokenType := p.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	scope := p.Scope
	if scope == "" {
		scope = "api"
	}
	return &Record{
		AccessTokenIssued:  atIssued.UTC(),
		RefreshTokenIssued: rtIssued.UTC(),
		AccessToken:        p.AccessToken,
		RefreshToken:       p.RefreshToken,
		IDToken:            p.IDToken,
		ExpiresIn:          expires,
		TokenType:          tokenType,
		Scope:              scope,
	}
}
