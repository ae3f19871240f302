package tokens

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/schema"
	"golang.org/x/exp/slog"
)

// CaptureServer completes the authorization flow without any pasting: it
// listens on the local callback address over TLS, opens the browser, and
// captures the redirect carrying the authorization code. Its Authorize method
// satisfies AuthorizeFunc.
//
// Schwab requires an https callback, so the server presents a self-signed
// certificate; the browser will warn once.
type CaptureServer struct {
	// Addr is the host:port to listen on. It must match the host and port of
	// the registered callback URL, e.g. "127.0.0.1:8443".
	Addr string

	Logger *slog.Logger

	// ready, when set, receives the bound listener address. Test hook.
	ready chan<- net.Addr

	// openBrowser, when set, replaces the real browser launch. Test hook.
	openBrowser func(url string) error
}

type callbackParams struct {
	Code    string `schema:"code"`
	Session string `schema:"session"`
}

// Authorize starts the listener, opens authURL in a browser and blocks until
// the callback arrives or ctx is done. It returns the bare authorization
// code.
func (s *CaptureServer) Authorize(ctx context.Context, authURL string) (string, error) {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}

	got := make(chan string, 1)
	dec := schema.NewDecoder()
	dec.IgnoreUnknownKeys(true)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		var params callbackParams
		if err := dec.Decode(&params, req.URL.Query()); err != nil || params.Code == "" {
			http.Error(w, "missing authorization code", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<!DOCTYPE html><html><body>Authorization received, you can close this window.</body></html>")
		select {
		case got <- params.Code:
		default:
		}
	})

	host, _, err := net.SplitHostPort(s.Addr)
	if err != nil {
		host = s.Addr
	}
	cert, err := selfSignedCert(host)
	if err != nil {
		return "", fmt.Errorf("tokens: could not create callback certificate: %w", err)
	}
	ln, err := tls.Listen("tcp", s.Addr, &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		return "", fmt.Errorf("tokens: could not listen on callback address: %w", err)
	}
	srv := &http.Server{Handler: r}
	go srv.Serve(ln)
	defer srv.Close()

	if s.ready != nil {
		s.ready <- ln.Addr()
	}

	open := s.openBrowser
	if open == nil {
		open = openBrowser
	}
	log.Info("waiting for authorization callback", "addr", ln.Addr().String())
	if err := open(authURL); err != nil {
		log.Warn("could not open browser, open the link manually", "url", authURL, "err", err)
	}

	select {
	case code := <-got:
		return code, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// selfSignedCert generates a throwaway certificate for host, valid for one
// day.
func selfSignedCert(host string) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(host); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{host}
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}
