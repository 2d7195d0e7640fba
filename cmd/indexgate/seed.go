package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecgard/indexgate/internal/config"
	"github.com/alecgard/indexgate/internal/crypto"
	"github.com/alecgard/indexgate/internal/registry"
	"github.com/alecgard/indexgate/internal/user"
	"github.com/spf13/cobra"
)

const demoEmail = "demo@indexgate.local"

var demoTool = registry.ToolConfig{
	ToolName:                  "search_product_docs",
	ToolDescription:           "Search the product documentation for answers about setup, configuration and troubleshooting.",
	PresetRetrievalParameters: json.RawMessage(`{"dense_similarity_top_k":5}`),
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a demo user with one enabled index and an access token",
	Long: "Seed creates " + demoEmail + " with upstream credentials read from " +
		"INDEXGATE_SEED_API_KEY, INDEXGATE_SEED_ORGANIZATION_ID, INDEXGATE_SEED_PROJECT_ID " +
		"and INDEXGATE_SEED_INDEX_ID, enables the index as a tool and prints an access token.",
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
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
	tools := registry.NewService(registry.NewStore(pool))

	if _, err := users.GetByEmail(ctx, demoEmail); err == nil {
		slog.Info("demo data already exists, skipping seed", "email", demoEmail)
		return nil
	} else if !errors.Is(err, user.ErrNotFound) {
		return fmt.Errorf("checking for demo user: %w", err)
	}

	u, err := users.Create(ctx, user.CreateUserInput{
		Email: demoEmail,
		Credentials: user.Credentials{
			APIKey:         os.Getenv("INDEXGATE_SEED_API_KEY"),
			OrganizationID: os.Getenv("INDEXGATE_SEED_ORGANIZATION_ID"),
			ProjectID:      os.Getenv("INDEXGATE_SEED_PROJECT_ID"),
		},
	})
	if err != nil {
		return err
	}
	slog.Info("created demo user", "id", u.ID, "email", u.Email)

	indexID := os.Getenv("INDEXGATE_SEED_INDEX_ID")
	if indexID == "" {
		indexID = "00000000-0000-0000-0000-000000000000"
	}
	raw, err := json.Marshal(demoTool)
	if err != nil {
		return err
	}
	if _, err := tools.Enable(ctx, u.ID, indexID, raw); err != nil {
		return fmt.Errorf("enabling demo tool: %w", err)
	}

	plaintext, tok, err := users.CreateAccessToken(ctx, u.ID, 30*24*time.Hour)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== Demo Data Seeded ===\n")
	fmt.Printf("User:      %s (%s)\n", u.Email, u.ID)
	fmt.Printf("Tool:      %s -> index %s\n", demoTool.ToolName, indexID)
	fmt.Printf("Token:     %s\n", plaintext)
	fmt.Printf("Expires:   %s\n", tok.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl -X POST http://localhost:%d%s/mcp \\\n", cfg.Server.Port, cfg.Transport.BasePath)
	fmt.Printf("    -H 'Authorization: Bearer %s' \\\n", plaintext)
	fmt.Printf("    -H 'Content-Type: application/json' -H 'Accept: application/json, text/event-stream' \\\n")
	fmt.Printf("    -d '{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"tools/list\",\"params\":{}}'\n")

	return nil
}
