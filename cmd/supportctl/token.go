package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dakael7/gravitylabs/internal/middleware"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/dakael7/gravitylabs/internal/validation"
	"github.com/spf13/cobra"
)

var (
	tokenRole   string
	tokenName   string
	tokenSecret string
	tokenTTL    time.Duration
	tokenSave   bool
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenRole, "role", "", "customer, staff or admin (default from config, else customer)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name carried in the token")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "signing secret (default auth.jwt_secret, then $JWT_SECRET)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().BoolVar(&tokenSave, "save", false, "store the token and identity in the config file")
}

var tokenCmd = &cobra.Command{
	Use:   "token [actor-id]",
	Short: "Sign an access token",
	Long:  "Sign an access token with the server's secret. Customers are identified by their email, which is also their conversation key.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		actor := middleware.Actor{ID: cfg.Auth.ActorID, Role: models.Role(cfg.Auth.Role), Name: cfg.Auth.Name}
		if len(args) == 1 {
			actor.ID = args[0]
		}
		if tokenRole != "" {
			actor.Role = models.Role(tokenRole)
		}
		if actor.Role == "" {
			actor.Role = models.RoleCustomer
		}
		if tokenName != "" {
			actor.Name = tokenName
		}
		if !actor.Role.Valid() {
			return fmt.Errorf("invalid role %q", actor.Role)
		}
		if actor.ID == "" {
			return fmt.Errorf("actor id is required")
		}
		if !actor.Role.IsStaff() {
			actor.ID = validation.NormalizeConversationKey(actor.ID)
			if !validation.ValidateConversationKey(actor.ID) {
				return fmt.Errorf("customer actor id must be an email address")
			}
		}

		secret := tokenSecret
		if secret == "" {
			secret = cfg.Auth.JWTSecret
		}
		if secret == "" {
			secret = os.Getenv("JWT_SECRET")
		}
		if secret == "" {
			return fmt.Errorf("no signing secret, pass --secret or set auth.jwt_secret")
		}

		token, err := middleware.IssueToken(secret, actor, tokenTTL)
		if err != nil {
			return err
		}

		if tokenSave {
			cfg.Auth.Token = token
			cfg.Auth.ActorID = actor.ID
			cfg.Auth.Role = string(actor.Role)
			cfg.Auth.Name = actor.Name
			if err := saveConfig(cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved token for %s (%s), expires %s\n", actor.ID, actor.Role, time.Now().Add(tokenTTL).Format(time.RFC3339))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
