package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/wattmon/internal/api/auth"
)

var (
	tokenUsername string
	tokenSecret   string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API access token for a user",
	Long: `Mint a signed access token for an existing user. Useful for devices
and scripts that post readings to the admin ingest endpoints.

The JWT secret must match the server's and is read from --secret or
WATTMON_JWT_SECRET.

Example:
  WATTMON_JWT_SECRET=... wattctl token --username admin --ttl 720h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = os.Getenv("WATTMON_JWT_SECRET")
		}
		if len(secret) < 32 {
			return fmt.Errorf("a JWT secret of at least 32 characters is required")
		}
		if tokenTTL <= 0 {
			return fmt.Errorf("--ttl must be positive")
		}

		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		user, err := resolveUser(context.Background(), store, tokenUsername)
		if err != nil {
			return err
		}

		token, err := auth.NewJWTService([]byte(secret), tokenTTL).GenerateToken(user)
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		PrintVerbose("Token for %s (%s) expires in %s", user.Username, user.Role, tokenTTL)
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&dbPath, "db", defaultDBPath, "path to SQLite database file")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "user the token is issued to (required)")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "JWT signing secret")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.MarkFlagRequired("username")
}
