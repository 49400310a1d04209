package poolsd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"ratebook/config"
	"ratebook/crypto"
	"ratebook/services/poolsd/server"
)

// runToken prints a bearer token signed with the configured secret.
func runToken(args []string, out io.Writer) error {
	flags := pflag.NewFlagSet(serviceName+" token", pflag.ContinueOnError)
	cfgPath := flags.StringP("config", "c", defaultConfigPath, "path to the poolsd config")
	caller := flags.String("caller", "", "caller address (0x hex or rb1 bech32)")
	roles := flags.StringSlice("roles", nil, "roles to grant, e.g. governance")
	ttl := flags.Duration("ttl", defaultTokenLifetime, "token lifetime")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *caller == "" {
		return errors.New("--caller is required")
	}
	addr, err := crypto.ParseAddress(*caller)
	if err != nil {
		return err
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	token, err := server.IssueToken(cfg.Auth.Secret(), cfg.Auth.Issuer, addr, *roles, *ttl, time.Now())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
