package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alecgard/indexgate/internal/config"
	"github.com/alecgard/indexgate/internal/crypto"
	"github.com/alecgard/indexgate/internal/user"
	"github.com/spf13/cobra"
)

var (
	credUserID         string
	credEmail          string
	credAPIKey         string
	credOrganizationID string
	credProjectID      string
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage a user's upstream search credentials",
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Replace a user's upstream API key, organization and project",
	RunE:  runCredentialsSet,
}

func init() {
	credentialsSetCmd.Flags().StringVar(&credUserID, "user", "", "user id")
	credentialsSetCmd.Flags().StringVar(&credEmail, "email", "", "user email (alternative to --user)")
	credentialsSetCmd.Flags().StringVar(&credAPIKey, "api-key", "", "upstream API key")
	credentialsSetCmd.Flags().StringVar(&credOrganizationID, "organization-id", "", "upstream organization id")
	credentialsSetCmd.Flags().StringVar(&credProjectID, "project-id", "", "upstream project id")
	credentialsCmd.AddCommand(credentialsSetCmd)
	rootCmd.AddCommand(credentialsCmd)
}

func runCredentialsSet(cmd *cobra.Command, args []string) error {
	if (credUserID == "") == (credEmail == "") {
		return errors.New("exactly one of --user or --email is required")
	}
	if strings.TrimSpace(credAPIKey) == "" {
		return errors.New("--api-key is required")
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

	userID, err := resolveUserID(ctx, users, credUserID, credEmail)
	if err != nil {
		return err
	}

	err = users.SetCredentials(ctx, userID, user.Credentials{
		APIKey:         strings.TrimSpace(credAPIKey),
		OrganizationID: strings.TrimSpace(credOrganizationID),
		ProjectID:      strings.TrimSpace(credProjectID),
	})
	if errors.Is(err, user.ErrNotFound) {
		return fmt.Errorf("user %s not found", userID)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Updated upstream credentials for user %s\n", userID)
	return nil
}

// resolveUserID returns userID, or the id of the user with the given email
// when userID is empty.
func resolveUserID(ctx context.Context, users *user.Store, userID, email string) (string, error) {
	if email == "" {
		return userID, nil
	}
	u, err := users.GetByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("looking up %s: %w", email, err)
	}
	return u.ID, nil
}
