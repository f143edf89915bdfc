package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/deltanet/internal/auth"
	"github.com/vango-dev/deltanet/internal/config"
	"github.com/vango-dev/deltanet/internal/errors"
)

func tokenCmd() *cobra.Command {
	var (
		path     string
		ttl      time.Duration
		observer bool
		issuer   string
	)

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Sign a connection token",
		Long: `Sign an HS256 token that clients pass in connectUser.

The secret is read from the environment variable named by
auth.jwt_secret_env (DELTANET_JWT_SECRET by default) or from
auth.jwt_secret.

Examples:
  deltanet token alice
  deltanet token dashboard --observer --ttl 24h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			secret := cfg.Secret()
			if secret == nil {
				return errors.New("E120").
					WithSuggestion(fmt.Sprintf("Export %s or set auth.jwt_secret", cfg.Auth.JWTSecretEnv))
			}
			if issuer == "" {
				issuer = cfg.Auth.Issuer
			}

			token, err := auth.IssueToken(secret, args[0], auth.TokenOptions{
				Issuer:   issuer,
				TTL:      ttl,
				Observer: observer,
			})
			if err != nil {
				return errors.New("E121").Wrap(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "", "Path to "+config.ConfigFileName)
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.Flags().BoolVar(&observer, "observer", false, "Only allow joining as an observer")
	cmd.Flags().StringVar(&issuer, "issuer", "", "Issuer claim (default auth.issuer)")

	return cmd
}
