package main

import (
	"fmt"
	"os"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/auth"
	"github.com/spf13/cobra"
)

func tokenCmd(opts *options) *cobra.Command {
	var (
		secret     string
		businessID string
		subject    string
		role       string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 admin token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}
			if businessID == "" {
				return fmt.Errorf("--business is required")
			}
			if role != auth.RoleOwner && role != auth.RoleAdmin {
				return fmt.Errorf("--role must be %s or %s", auth.RoleOwner, auth.RoleAdmin)
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}
			now := time.Now()
			token, err := auth.SignHS256(auth.Claims{
				Sub:        subject,
				BusinessID: businessID,
				Role:       role,
				Iat:        now.Unix(),
				Exp:        now.Add(ttl).Unix(),
			}, secret)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"token": token})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "HS256 signing secret (defaults to JWT_SECRET)")
	cmd.Flags().StringVar(&businessID, "business", "", "Business the token is scoped to")
	cmd.Flags().StringVar(&subject, "sub", "slotctl", "Token subject")
	cmd.Flags().StringVar(&role, "role", auth.RoleOwner, "Role claim (owner or admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
