package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/offlinesync/internal/client/auth"
)

func (c *Cli) runRegister(ctx context.Context) error {
	c.io.Println("=== Registration ===")
	c.io.Println()

	username, err := c.io.ReadInput("Username: ")
	if err != nil {
		return fmt.Errorf("failed to read username: %w", err)
	}

	password, err := c.io.ReadPassword("Password (min 12 chars): ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	confirm, err := c.io.ReadPassword("Confirm password: ")
	if err != nil {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}

	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	userID, err := c.auth.Register(ctx, username, password)
	if err != nil {
		return err
	}

	c.io.Println()
	c.io.Println("✓ Registration successful!")
	c.io.Printf("User ID: %s\n", userID)
	c.io.Println()
	c.io.Println("Run 'offlinesync login' to start syncing.")
	return nil
}

func (c *Cli) runLogin(ctx context.Context) error {
	c.io.Println("=== Login ===")
	c.io.Println()

	username, err := c.io.ReadInput("Username: ")
	if err != nil {
		return fmt.Errorf("failed to read username: %w", err)
	}

	password, err := c.io.ReadPassword("Password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	if err := c.auth.Login(ctx, username, password); err != nil {
		return err
	}

	c.io.Println()
	c.io.Println("✓ Login successful!")
	c.io.Printf("Username: %s\n", username)
	return nil
}

func (c *Cli) runLogout(ctx context.Context) error {
	if err := c.auth.Logout(ctx); err != nil {
		if errors.Is(err, auth.ErrNotLoggedIn) {
			c.io.Println("Not logged in.")
			return nil
		}
		return err
	}

	c.io.Println("✓ Logged out. Local records are kept.")
	return nil
}

func (c *Cli) runStatus(ctx context.Context) error {
	c.io.Println("=== Status ===")
	c.io.Println()

	session, err := c.auth.Session(ctx)
	switch {
	case errors.Is(err, auth.ErrNotLoggedIn):
		c.io.Println("Session: anonymous")
	case err != nil:
		return fmt.Errorf("failed to check authentication: %w", err)
	default:
		c.io.Printf("Session: %s\n", session.Username)
		expiresAt := time.Unix(session.ExpiresAt, 0)
		if c.auth.IsAuthenticated(ctx) {
			c.io.Printf("Token expires: %s\n", expiresAt.Format(time.RFC3339))
		} else {
			c.io.Println("⚠️  Session has expired. Please login again.")
		}
	}

	c.io.Println()
	pending, err := c.engine.Pending(ctx)
	if err != nil {
		// не прерываем вывод статуса
		c.io.Printf("Warning: failed to get pending mutations: %v\n", err)
	} else if pending > 0 {
		c.io.Printf("⚠️  Pending sync: %d mutation(s) waiting to be sent\n", pending)
		c.io.Println("Run 'offlinesync sync' to synchronize with server.")
	} else {
		c.io.Println("✓ No local changes waiting")
	}

	c.io.Println()
	c.io.Println("Models:")
	for _, name := range c.models {
		syncedAt, err := c.store.GetModelSyncedAt(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to get sync time of %s: %w", name, err)
		}
		if syncedAt == 0 {
			c.io.Printf("  %-20s never synced\n", name)
			continue
		}
		c.io.Printf("  %-20s synced %s\n", name, time.UnixMilli(syncedAt).Format(time.RFC3339))
	}
	return nil
}
