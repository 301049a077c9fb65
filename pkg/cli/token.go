package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/getmockd/gqlgateway/pkg/auth"
	"github.com/getmockd/gqlgateway/pkg/cli/internal/output"
	"github.com/spf13/cobra"
)

type tokenFlags struct {
	secret string
	issuer string
	user   string
	name   string
	roles  []string
	access []string
	ttl    time.Duration
}

func newTokenCmd(root *rootOptions) *cobra.Command {
	f := &tokenFlags{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development JWT",
		Long: `Issue an HS256 token accepted by a gateway running with auth.mode jwt. The
secret and issuer default to the configured auth.secret and auth.issuer.`,
		Example: `  gqlgateway token --user u1 --roles admin,viewer --ttl 1h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.secret == "" || f.issuer == "" {
				cfg, err := loadConfig(root, nil)
				if err != nil {
					return err
				}
				if f.secret == "" {
					f.secret = cfg.Auth.Secret
				}
				if f.issuer == "" {
					f.issuer = cfg.Auth.Issuer
				}
			}
			if f.secret == "" {
				return errors.New("a signing secret is required (--secret or auth.secret)")
			}

			a, err := auth.NewJWTAuthenticator(f.secret, f.issuer)
			if err != nil {
				return err
			}
			token, err := a.IssueToken(auth.Identity{
				UserID: f.user,
				Name:   f.name,
				Roles:  f.roles,
				Access: f.access,
			}, f.ttl)
			if err != nil {
				return err
			}

			if root.jsonOutput {
				return output.JSON(cmd.OutOrStdout(), map[string]string{
					"token":     token,
					"expiresAt": time.Now().Add(f.ttl).UTC().Format(time.RFC3339),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.secret, "secret", "", "HMAC signing secret")
	cmd.Flags().StringVar(&f.issuer, "issuer", "", "Token issuer")
	cmd.Flags().StringVar(&f.user, "user", "dev", "User id (subject)")
	cmd.Flags().StringVar(&f.name, "name", "", "Display name")
	cmd.Flags().StringSliceVar(&f.roles, "roles", nil, "Comma-separated roles")
	cmd.Flags().StringSliceVar(&f.access, "access", nil, "Comma-separated access entries")
	cmd.Flags().DurationVar(&f.ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
