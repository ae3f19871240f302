// Command schwab-auth bootstraps and inspects the shared token store used by
// schwab-go clients.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/exp/slog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tylerebowers/schwab-go/tokens"
)

type Context struct {
	Manager *tokens.Manager
	Logger  *slog.Logger
}

var cli struct {
	Debug bool `help:"Enable debug logging."`

	AppKey      string `required:"" env:"SCHWAB_APP_KEY" help:"App key credential."`
	AppSecret   string `required:"" env:"SCHWAB_APP_SECRET" help:"App secret credential."`
	CallbackURL string `default:"https://127.0.0.1" env:"SCHWAB_CALLBACK_URL" help:"Registered callback URL."`
	TokensDB    string `default:"~/.schwab-go/tokens.db" env:"SCHWAB_TOKENS_DB" help:"Path to the sqlite token store."`
	Encryption  string `env:"SCHWAB_TOKENS_PASSPHRASE" help:"Optional passphrase to seal tokens at rest."`

	Login  LoginCmd  `cmd:"" help:"Run the authorization flow and store fresh tokens."`
	Status StatusCmd `cmd:"" help:"Show stored token ages and expiries."`
}

type LoginCmd struct {
	Capture string `help:"Listen on this host:port and capture the callback instead of prompting, e.g. 127.0.0.1:8443."`
}

func (c *LoginCmd) Run(ctx *Context) error {
	mctx := context.Background()
	if !ctx.Manager.Update(mctx, false, true) {
		return fmt.Errorf("authorization flow did not produce tokens")
	}
	fmt.Println("tokens stored")
	return nil
}

type StatusCmd struct{}

func (c *StatusCmd) Run(ctx *Context) error {
	at, rt := ctx.Manager.AccessTokenIssued(), ctx.Manager.RefreshTokenIssued()
	if rt.IsZero() {
		fmt.Println("no tokens stored; run: schwab-auth login")
		return nil
	}
	fmt.Printf("access token issued  %s (expires %s)\n", at.Format(time.RFC3339), at.Add(30*time.Minute).Format(time.RFC3339))
	fmt.Printf("refresh token issued %s (expires %s)\n", rt.Format(time.RFC3339), rt.Add(7*24*time.Hour).Format(time.RFC3339))
	return nil
}

func main() {
	kctx := kong.Parse(&cli)

	level := slog.LevelInfo
	if cli.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	db, err := openDB(cli.TokensDB)
	kctx.FatalIfErrorf(err)

	cfg := tokens.Config{
		AppKey:      cli.AppKey,
		AppSecret:   cli.AppSecret,
		CallbackURL: cli.CallbackURL,
		DB:          db,
		Encryption:  cli.Encryption,
		Logger:      log,
	}
	if cli.Login.Capture != "" {
		capture := &tokens.CaptureServer{Addr: cli.Login.Capture, Logger: log}
		cfg.Authorize = capture.Authorize
	}
	mgr, err := tokens.NewManager(cfg)
	kctx.FatalIfErrorf(err)

	err = kctx.Run(&Context{Manager: mgr, Logger: log})
	kctx.FatalIfErrorf(err)
}

func openDB(path string) (*gorm.DB, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, path[2:])
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return gorm.Open(&sqlite.Dialector{DSN: path}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}
