package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/trendchat/trendchat/auth"
	"github.com/trendchat/trendchat/config"
)

func tokenCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is required (set JWT_SECRET)")
			}
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			token, err := auth.NewVerifier(cfg.Auth.JWTSecret).Issue(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id to embed as the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
