package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/titan-sync/internal/config"
	"github.com/sells-group/titan-sync/pkg/servicetitan"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "ServiceTitan credential commands",
}

var authCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Exchange the configured credentials for a token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate(config.ModeAuth); err != nil {
			return err
		}
		return runAuthCheck(cmd.Context(), cfg, os.Stdout)
	},
}

func runAuthCheck(ctx context.Context, c *config.Config, out io.Writer) error {
	tm := newTokenManager(c, nil)
	tok, err := tm.Acquire(ctx, c.ServiceTitan.Credentials())
	if err != nil {
		return eris.Wrap(err, "auth check")
	}

	_, _ = fmt.Fprintf(out, "Token acquired for client %s (tenant %s)\n",
		servicetitan.MaskSecret(c.ServiceTitan.ClientID), c.ServiceTitan.TenantID)
	_, _ = fmt.Fprintf(out, "Expires in %ds at %s\n", tok.ExpiresIn, tok.ExpiresAt.UTC().Format(time.RFC3339))
	return nil
}

func init() {
	authCmd.AddCommand(authCheckCmd)
	rootCmd.AddCommand(authCmd)
}
