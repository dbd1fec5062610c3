package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"parley/cmd/internal/app"
	"parley/cmd/internal/chat"

	"aidanwoods.dev/go-paseto"
	"github.com/docopt/docopt-go"
	"gopkg.in/yaml.v3"
)

var usage = `Parley chat server.

usage:
  parley [serve]
  parley keygen
  parley token <account-id>
  parley config

Commands:
  serve     Run the HTTP API and subscription gateway (default).
  keygen    Print a fresh PASETO v4 secret key for PARLEY_PASETO_V4_SECRET_KEY_HEX.
  token     Issue an access token for a verified account in the configured store.
  config    Print the effective configuration as YAML.
`

type opts struct {
	Serve     bool   `docopt:"serve"`
	Keygen    bool   `docopt:"keygen"`
	Token     bool   `docopt:"token"`
	Config    bool   `docopt:"config"`
	AccountID string `docopt:"<account-id>"`
}

func main() {
	o, err := docopt.ParseDoc(usage)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var opts opts
	if err := o.Bind(&opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts opts) error {
	switch {
	case opts.Keygen:
		key := paseto.NewV4AsymmetricSecretKey()
		fmt.Println("PARLEY_PASETO_V4_SECRET_KEY_HEX=" + key.ExportHex())
		fmt.Println("# public key: " + key.Public().ExportHex())
		return nil

	case opts.Config:
		cfg, err := app.LoadConfig()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL != "" {
			cfg.DatabaseURL = "<redacted>"
		}
		return yaml.NewEncoder(os.Stdout).Encode(cfg)

	case opts.Token:
		return issueToken(opts.AccountID)

	default:
		return app.Run()
	}
}

func issueToken(raw string) error {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid account id %q", raw)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Store == app.StoreMemory {
		return fmt.Errorf("token needs a persistent store (PARLEY_STORE=pebble or postgres)")
	}

	a, err := app.New(cfg, app.NewLogger("error", cfg.LogFormat))
	if err != nil {
		return err
	}
	defer a.Close()

	issued, err := a.Sessions().IssueSession(context.Background(), chat.RecipientID(id))
	if err != nil {
		return err
	}
	fmt.Println(issued.AccessToken)
	fmt.Fprintf(os.Stderr, "session %s expires %s\n", issued.SessionID, issued.AccessExp.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}
