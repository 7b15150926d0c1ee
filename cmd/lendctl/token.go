package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lendmarket/crypto"
	"lendmarket/services/lendingd/server"
)

func newTokenCommand() *cobra.Command {
	var (
		subject      string
		keystorePath string
		passEnv      string
		secretEnv    string
		issuer       string
		scopes       []string
		ttl          time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a principal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := strings.TrimSpace(os.Getenv(secretEnv))
			if secret == "" {
				return fmt.Errorf("%s must hold the daemon hmac secret", secretEnv)
			}
			var (
				addr crypto.Address
				err  error
			)
			switch {
			case subject != "" && keystorePath != "":
				return fmt.Errorf("--subject and --keystore are mutually exclusive")
			case subject != "":
				addr, err = crypto.DecodeAddress(subject)
			case keystorePath != "":
				addr, err = keystoreAddress(keystorePath, passEnv)
			default:
				return fmt.Errorf("one of --subject or --keystore is required")
			}
			if err != nil {
				return err
			}
			for _, scope := range scopes {
				if scope != server.ScopeGovernance && scope != server.ScopeFeeder {
					return fmt.Errorf("unknown scope %q", scope)
				}
			}
			tok, err := server.IssueToken(secret, addr, scopes, issuer, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&subject, "subject", "", "Principal address (lend1...)")
	flags.StringVar(&keystorePath, "keystore", "", "Derive the subject from a keystore")
	flags.StringVar(&passEnv, "pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	flags.StringVar(&secretEnv, "secret-env", "LEND_HMAC_SECRET", "Environment variable containing the hmac secret")
	flags.StringVar(&issuer, "issuer", "", "Token issuer claim")
	flags.StringSliceVar(&scopes, "scope", nil, "Granted scopes (governance, feeder)")
	flags.DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
