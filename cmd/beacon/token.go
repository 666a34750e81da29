package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/beacon/internal/api"
)

var (
	tokenUser string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token",
	Long: `Issue a JWT signed with api.jwt_secret. The token authenticates
requests to the campaign API as the given user.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "User ID the token is issued for (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime (0 = no expiry)")
	tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	token, err := api.IssueToken(cfg.API.JWTSecret, tokenUser, tokenTTL)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Println(token)
	return nil
}
