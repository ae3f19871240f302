// Package stream maintains a subscription-oriented websocket session against
// the Schwab streamer, reconnecting with backoff and replaying recorded
// subscriptions after every successful login.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/slog"

	"github.com/tylerebowers/schwab-go/internal/param"
)

// StreamerInfo is the streaming endpoint metadata from the user preference
// endpoint. The socket URL and identifiers can rotate, so a fresh copy is
// fetched on every connection attempt.
type StreamerInfo struct {
	SocketURL  string `json:"streamerSocketUrl"`
	CustomerID string `json:"schwabClientCustomerId"`
	CorrelID   string `json:"schwabClientCorrelId"`
	Channel    string `json:"schwabClientChannel"`
	FunctionID string `json:"schwabClientFunctionId"`
}

// StreamerInfoFunc fetches current streamer metadata. It must not serve a
// stale cache; the session caches within a single connection itself.
type StreamerInfoFunc func(ctx context.Context) (*StreamerInfo, error)

// TokenFunc returns a fresh access token for the login request.
type TokenFunc func(ctx context.Context) (string, error)

// Handler receives every message from the socket in arrival order. Delivery
// is synchronous: the next frame is not read until the handler returns, so a
// slow handler backpressures the socket but never drops or reorders.
type Handler func(ctx context.Context, message []byte)

type Config struct {
	StreamerInfo StreamerInfoFunc
	AccessToken  TokenFunc
	Logger       *slog.Logger

	// PingInterval and PingTimeout control the client keepalive. Defaults:
	// ping every 20 seconds, give up 30 seconds after a missed pong.
	PingInterval time.Duration
	PingTimeout  time.Duration

	// EarlyCrashWindow is how soon after connecting an abnormal close is
	// treated as a login or subscription problem rather than a network blip,
	// and therefore not retried. Defaults to 90 seconds.
	EarlyCrashWindow time.Duration

	// DialTimeout bounds the websocket handshake. Defaults to 10 seconds.
	DialTimeout time.Duration
}

type state int

const (
	disconnected state = iota
	connecting
	loggedIn
	active
	stopping
)

const (
	backoffInitial = 2 * time.Second
	backoffMax     = 120 * time.Second
	writeWait      = 10 * time.Second
	stopWait       = 5 * time.Second
)

var errNotConnected = errors.New("stream: not connected")

// Session owns one websocket connection at a time and the ledger of
// subscriptions to replay across reconnects. Construct with NewSession; the
// zero value is not usable.
type Session struct {
	cfg    Config
	log    *slog.Logger
	ledger *Ledger

	writeMu sync.Mutex // serializes data frames onto the socket

	mu        sync.Mutex
	state     state
	conn      *websocket.Conn
	info      *StreamerInfo
	requestID int
	backoff   time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewSession(cfg Config) (*Session, error) {
	if cfg.StreamerInfo == nil {
		return nil, errors.New("stream: Config.StreamerInfo is required")
	}
	if cfg.AccessToken == nil {
		return nil, errors.New("stream: Config.AccessToken is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = 30 * time.Second
	}
	if cfg.EarlyCrashWindow == 0 {
		cfg.EarlyCrashWindow = 90 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Session{
		cfg:     cfg,
		log:     cfg.Logger,
		ledger:  NewLedger(),
		backoff: backoffInitial,
	}, nil
}

// Ledger returns the session's subscription ledger.
func (s *Session) Ledger() *Ledger { return s.ledger }

// Active reports whether the session is logged in with subscriptions
// replayed and delivering messages.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == active
}

// Running reports whether a receive loop exists, in any state.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// Start runs the session on its own goroutine and returns immediately.
// Starting a running session is a no-op.
func (s *Session) Start(handler Handler) {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		s.log.Warn("stream already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.mu.Unlock()
	go s.loop(ctx, handler, done)
}

// Run drives the session on the caller's goroutine until ctx is cancelled,
// Stop is called, or the connection reaches a terminal failure. The state
// machine is identical to Start; only where the loop executes differs.
func (s *Session) Run(ctx context.Context, handler Handler) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return errors.New("stream: session already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.mu.Unlock()
	s.loop(ctx, handler, done)
	return nil
}

func (s *Session) loop(ctx context.Context, handler Handler, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.state = disconnected
		s.conn = nil
		s.mu.Unlock()
		close(done)
	}()
	for {
		retry := s.connectOnce(ctx, handler)
		if !retry || ctx.Err() != nil {
			return
		}
		wait := s.nextBackoff()
		s.log.Warn("stream reconnecting", "backoff", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// connectOnce runs one full connection: fetch metadata, dial, login, replay,
// then receive until the connection dies. It reports whether the failure is
// retryable.
func (s *Session) connectOnce(ctx context.Context, handler Handler) (retry bool) {
	s.setState(connecting)

	info, err := s.cfg.StreamerInfo(ctx)
	if err != nil {
		s.log.Error("could not get streamer info", "err", err)
		return ctx.Err() == nil
	}
	if info == nil || info.SocketURL == "" {
		s.log.Error("streamer info is missing the socket url")
		return true
	}
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()

	token, err := s.cfg.AccessToken(ctx)
	if err != nil {
		s.log.Error("could not get access token for login", "err", err)
		return true
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, info.SocketURL, nil)
	if err != nil {
		s.log.Error("could not connect to streaming server", "err", err)
		return ctx.Err() == nil
	}
	start := time.Now()
	s.log.Debug("connected to streaming server")

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		conn.Close()
	}()

	deadline := s.cfg.PingInterval + s.cfg.PingTimeout
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})
	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.keepalive(conn, pingDone)

	login := s.stamp("ADMIN", Login, map[string]string{
		"Authorization":          token,
		"SchwabClientChannel":    info.Channel,
		"SchwabClientFunctionId": info.FunctionID,
	}, info)
	if err := s.write(login); err != nil {
		s.log.Error("could not send login request", "err", err)
		return s.verdict(ctx, start, err)
	}
	msg, err := readMessage(conn)
	if err != nil {
		return s.verdict(ctx, start, err)
	}
	handler(ctx, msg)
	s.setState(loggedIn)

	for _, svc := range s.ledger.replay() {
		reqs := make([]Request, 0, len(svc.groups))
		for _, g := range svc.groups {
			reqs = append(reqs, s.stamp(svc.service, Add, map[string]string{
				"keys":   param.List(g.keys),
				"fields": param.List(g.fields),
			}, info))
		}
		if len(reqs) == 0 {
			continue
		}
		s.log.Debug("replaying subscriptions", "service", svc.service, "requests", len(reqs))
		if err := s.write(reqs...); err != nil {
			s.log.Error("could not replay subscriptions", "err", err)
			return s.verdict(ctx, start, err)
		}
		msg, err := readMessage(conn)
		if err != nil {
			return s.verdict(ctx, start, err)
		}
		handler(ctx, msg)
	}

	s.resetBackoff()
	s.setState(active)

	for {
		msg, err := readMessage(conn)
		if err != nil {
			return s.verdict(ctx, start, err)
		}
		handler(ctx, msg)
	}
}

// Send records reqs in the ledger and, when the session is active, transmits
// them immediately. Requests sent while disconnected are not lost: the ledger
// replays them (at field-set granularity) on the next successful login.
func (s *Session) Send(reqs ...Request) error {
	if len(reqs) == 0 {
		return nil
	}
	for _, req := range reqs {
		s.ledger.Record(req)
	}
	if !s.Active() {
		s.log.Info("stream is not active, request queued for replay")
		return nil
	}
	err := s.write(reqs...)
	if errors.Is(err, errNotConnected) {
		s.log.Info("stream is not connected, request queued for replay")
		return nil
	}
	return err
}

// Stop sends a best effort LOGOUT (not retried, errors logged), closes the
// socket and waits for the receive loop to exit, bounded by a timeout so it
// can never hang. clearSubscriptions empties the ledger so nothing replays on
// a later Start; scheduled stops keep it. Stop is idempotent.
func (s *Session) Stop(clearSubscriptions bool) {
	if clearSubscriptions {
		s.ledger.Clear()
	}

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	conn, info := s.conn, s.info
	wasActive := s.state == active
	if done != nil {
		s.state = stopping
	}
	s.mu.Unlock()

	if wasActive && conn != nil && info != nil {
		if err := s.write(s.stamp("ADMIN", Logout, nil, info)); err != nil {
			s.log.Error("error sending logout", "err", err)
		}
	}
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		if err := conn.Close(); err != nil {
			s.log.Error("error closing websocket", "err", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(stopWait):
			s.log.Error("stream did not shut down in time, abandoning receive loop")
		}
	}
}

// verdict decides whether a connection failure is retryable. Clean closes
// and abnormal closes within the early crash window are terminal; everything
// else backs off and retries.
func (s *Session) verdict(ctx context.Context, start time.Time, err error) (retry bool) {
	s.mu.Lock()
	stopRequested := s.state == stopping
	s.mu.Unlock()
	if ctx.Err() != nil || stopRequested {
		return false
	}
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		s.log.Info("stream connection closed", "err", err)
		return false
	case isAbnormalClose(err) && time.Since(start) <= s.cfg.EarlyCrashWindow:
		s.log.Warn("stream crashed shortly after connecting, likely an invalid login or subscription, not restarting", "err", err)
		return false
	default:
		s.log.Error("stream connection lost", "err", err)
		return true
	}
}

func isAbnormalClose(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}

func readMessage(conn *websocket.Conn) ([]byte, error) {
	_, msg, err := conn.ReadMessage()
	return msg, err
}

func (s *Session) write(reqs ...Request) error {
	payload, err := json.Marshal(batch{Requests: reqs})
	if err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Session) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// streamerInfo returns the metadata cached from the current connection, or
// fetches a fresh copy when not connected yet (for building requests before
// the first start).
func (s *Session) streamerInfo(ctx context.Context) (*StreamerInfo, error) {
	s.mu.Lock()
	info := s.info
	s.mu.Unlock()
	if info != nil {
		return info, nil
	}
	info, err := s.cfg.StreamerInfo(ctx)
	if err != nil {
		return nil, err
	}
	if info == nil || info.SocketURL == "" {
		return nil, errors.New("stream: streamer info unavailable")
	}
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
	return info, nil
}

func (s *Session) setState(st state) {
	s.mu.Lock()
	if s.state != stopping || st == disconnected {
		s.state = st
	}
	s.mu.Unlock()
}

// nextBackoff returns the current wait and doubles it, capped at two
// minutes.
func (s *Session) nextBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	wait := s.backoff
	s.backoff *= 2
	if s.backoff > backoffMax {
		s.backoff = backoffMax
	}
	return wait
}

// resetBackoff restores the initial schedule after a successful login.
func (s *Session) resetBackoff() {
	s.mu.Lock()
	s.backoff = backoffInitial
	s.mu.Unlock()
}
