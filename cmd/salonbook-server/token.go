package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"salonbook/backend/internal/auth"
	"salonbook/backend/internal/domain"
)

func tokenCmd(load loader) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("auth.jwt_secret is required")
			}

			r := domain.Role(role)
			if !r.Valid() || r == domain.RoleSystem {
				return fmt.Errorf("unsupported role %q", role)
			}

			token, err := auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer).
				Issue(domain.Actor{ID: subject, Role: r}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Actor id (customer or provider id)")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleCustomer), "customer, provider or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
