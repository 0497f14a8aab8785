package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/btouchard/courier/internal/auth"
	"github.com/btouchard/courier/internal/invite"
	"github.com/btouchard/courier/internal/notify"
)

func userCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(userAddCmd(configPath))
	return cmd
}

func userAddCmd(configPath *string) *cobra.Command {
	var username, name string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			// No notification is sent when creating users.
			svc := invite.NewService(db, notify.NotifierFunc(func(context.Context, string, notify.Event) (int, error) {
				return 0, nil
			}))
			u, err := svc.CreateUser(ctx, username, name)
			if err != nil {
				return err
			}

			fmt.Printf("id=%s username=%s\n", u.ID, u.Username)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "unique login name")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func tokenCmd(configPath *string) *cobra.Command {
	var userID string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if _, err := db.GetUser(ctx, userID); err != nil {
				return fmt.Errorf("looking up user %s: %w", userID, err)
			}

			key, err := sessionKey(cfg)
			if err != nil {
				return err
			}
			sessions := auth.NewSessions(key, cfg.Auth.SessionTTL)
			if ttl <= 0 {
				ttl = cfg.Auth.SessionTTL
			}
			token, err := sessions.IssueWithTTL(userID, ttl)
			if err != nil {
				return err
			}

			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user ID")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.session_ttl)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func rotateKeyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-key",
		Short: "Replace the session signing key, revoking every token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.Secret != "" {
				return fmt.Errorf("auth.secret is set; change it in the configuration instead")
			}
			if _, err := auth.RotateKey(cfg.Auth.SecretDir); err != nil {
				return err
			}
			fmt.Println("session key rotated; restart courier to apply")
			return nil
		},
	}
}
