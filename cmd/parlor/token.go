package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/parlor/internal/app"
)

func newTokenCmd() *cobra.Command {
	var (
		timeout time.Duration
		reveal  bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Fetch a streaming access token with the configured credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			src, mode, err := app.SessionTokens(cfg, log)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			tok, err := src.Token(ctx)
			if err != nil {
				return fmt.Errorf("fetch token (%s): %w", mode, err)
			}
			if !reveal {
				tok = maskToken(tok)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the raw token instead of a redacted form")
	return cmd
}

func maskToken(tok string) string {
	if len(tok) <= 8 {
		return strings.Repeat("*", len(tok))
	}
	return tok[:4] + strings.Repeat("*", len(tok)-8) + tok[len(tok)-4:]
}
