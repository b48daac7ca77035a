package store

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureProfile creates the profile if it does not exist. Profiles are
// read-mostly identity records created out of band of the gateway.
func EnsureProfile(ctx context.Context, tx *sql.Tx, profileID, displayName, timezone string) error {
	if displayName == "" {
		displayName = profileID
	}
	if timezone == "" {
		timezone = "America/Chicago"
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO profiles (profile_id, display_name, timezone)
		VALUES (?, ?, ?)
		ON CONFLICT(profile_id) DO NOTHING`,
		profileID, displayName, timezone,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure profile: %w", err)
	}
	return nil
}

// EnsureSession creates the session if it does not exist
func EnsureSession(ctx context.Context, tx *sql.Tx, sessionID, profileID, channel string) error {
	if channel == "" {
		channel = "cli"
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, profile_id, channel)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		sessionID, profileID, channel,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}
	return nil
}
