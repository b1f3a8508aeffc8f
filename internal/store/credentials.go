package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Credential is a user's encrypted mailbox login and server endpoints
type Credential struct {
	Email             string     `db:"email"`
	EncryptedPassword string     `db:"encrypted_password"`
	IMAPHost          string     `db:"imap_host"`
	IMAPPort          int        `db:"imap_port"`
	IMAPTLS           bool       `db:"imap_tls"`
	SMTPHost          string     `db:"smtp_host"`
	SMTPPort          int        `db:"smtp_port"`
	LastConnectionAt  *time.Time `db:"last_connection_at"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// UpsertCredential stores or replaces the credential for cred.Email
func (s *Store) UpsertCredential(ctx context.Context, cred *Credential) error {
	if cred.Email == "" {
		return fmt.Errorf("credential email must not be empty")
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO user_credentials (email, encrypted_password, imap_host, imap_port, imap_tls, smtp_host, smtp_port, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			encrypted_password = excluded.encrypted_password,
			imap_host = excluded.imap_host,
			imap_port = excluded.imap_port,
			imap_tls = excluded.imap_tls,
			smtp_host = excluded.smtp_host,
			smtp_port = excluded.smtp_port,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		cred.Email, cred.EncryptedPassword, cred.IMAPHost, cred.IMAPPort, cred.IMAPTLS,
		cred.SMTPHost, cred.SMTPPort, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// GetCredential returns the stored credential, or nil when the user has none
func (s *Store) GetCredential(ctx context.Context, email string) (*Credential, error) {
	var cred Credential
	err := s.db.GetContext(ctx, &cred, `
		SELECT email, encrypted_password, imap_host, imap_port, imap_tls, smtp_host, smtp_port,
		       last_connection_at, created_at, updated_at
		FROM user_credentials WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

// RecordLastConnection stamps the time of the last successful connection
func (s *Store) RecordLastConnection(ctx context.Context, email string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE user_credentials SET last_connection_at = ? WHERE email = ?", at.UTC(), email)
	if err != nil {
		return fmt.Errorf("failed to record last connection: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("credential %s not found", email)
	}
	return nil
}

// DeleteCredential removes a user's credential
func (s *Store) DeleteCredential(ctx context.Context, email string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM user_credentials WHERE email = ?", email); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
