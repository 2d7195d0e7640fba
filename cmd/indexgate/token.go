package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alecgard/indexgate/internal/config"
	"github.com/alecgard/indexgate/internal/crypto"
	"github.com/alecgard/indexgate/internal/user"
	"github.com/spf13/cobra"
)

var (
	tokenUserID string
	tokenEmail  string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage MCP access tokens",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue an access token for a user and print it once",
	RunE:  runTokenCreate,
}

func init() {
	tokenCreateCmd.Flags().StringVar(&tokenUserID, "user", "", "user id")
	tokenCreateCmd.Flags().StringVar(&tokenEmail, "email", "", "user email (alternative to --user)")
	tokenCreateCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "token lifetime")
	tokenCmd.AddCommand(tokenCreateCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenCreate(cmd *cobra.Command, args []string) error {
	if (tokenUserID == "") == (tokenEmail == "") {
		return errors.New("exactly one of --user or --email is required")
	}
	if tokenTTL <= 0 {
		return errors.New("--ttl must be positive")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := openPool(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	cipher, err := crypto.NewCipher(cfg.Security.EncryptionSecret)
	if err != nil {
		return err
	}
	users := user.NewStore(pool, cipher)

	userID, err := resolveUserID(ctx, users, tokenUserID, tokenEmail)
	if err != nil {
		return err
	}

	plaintext, tok, err := users.CreateAccessToken(ctx, userID, tokenTTL)
	if err != nil {
		return err
	}

	fmt.Printf("Access token for user %s (expires %s):\n%s\n", userID, tok.ExpiresAt.Format(time.RFC3339), plaintext)
	return nil
}
