package store

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/brandon/mail-engine/pkg/types"
)

const suggestionLimit = 10

// RecordInteraction counts one exchange between userEmail and contactEmail
func (s *Store) RecordInteraction(ctx context.Context, userEmail, contactEmail, contactName string) error {
	contactEmail = strings.ToLower(strings.TrimSpace(contactEmail))
	if contactEmail == "" || contactEmail == strings.ToLower(userEmail) {
		return nil
	}
	contactName = strings.TrimSpace(contactName)

	query := `
		INSERT INTO contacts (user_email, contact_email, contact_name, frequency, last_contacted)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(user_email, contact_email) DO UPDATE SET
			frequency = frequency + 1,
			contact_name = CASE WHEN excluded.contact_name != '' THEN excluded.contact_name ELSE contact_name END,
			last_contacted = excluded.last_contacted
	`
	if _, err := s.db.ExecContext(ctx, query, userEmail, contactEmail, contactName, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record contact: %w", err)
	}
	return nil
}

// RecordInteractions records every distinct address once
func (s *Store) RecordInteractions(ctx context.Context, userEmail string, addresses []string) error {
	seen := make(map[string]bool)
	for _, addr := range addresses {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" || !strings.Contains(addr, "@") || seen[addr] {
			continue
		}
		seen[addr] = true
		if err := s.RecordInteraction(ctx, userEmail, addr, ""); err != nil {
			return err
		}
	}
	return nil
}

// Suggestions returns up to ten contact addresses matching a typed prefix
func (s *Store) Suggestions(ctx context.Context, userEmail, query string) ([]string, error) {
	contacts, err := s.SearchContacts(ctx, userEmail, query, suggestionLimit)
	if err != nil {
		return nil, err
	}
	emails := make([]string, 0, len(contacts))
	for _, c := range contacts {
		emails = append(emails, c.ContactEmail)
	}
	return emails, nil
}

// SearchContacts performs a prefix full-text search using FTS5.
// A blank query lists the most frequent contacts.
func (s *Store) SearchContacts(ctx context.Context, userEmail, query string, limit int) ([]types.Contact, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	match := ftsPrefixQuery(query)
	if match == "" {
		return s.TopContacts(ctx, userEmail, limit)
	}

	contacts := []types.Contact{}
	err := s.db.SelectContext(ctx, &contacts, `
		SELECT c.user_email, c.contact_email, c.contact_name, c.frequency, c.last_contacted
		FROM contacts c
		WHERE c.user_email = ?
		  AND c.id IN (SELECT rowid FROM contacts_fts WHERE contacts_fts MATCH ?)
		ORDER BY c.frequency DESC, c.last_contacted DESC
		LIMIT ?`,
		userEmail, match, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to perform FTS search: %w", err)
	}
	return contacts, nil
}

// TopContacts lists contacts by frequency, then recency
func (s *Store) TopContacts(ctx context.Context, userEmail string, limit int) ([]types.Contact, error) {
	contacts := []types.Contact{}
	err := s.db.SelectContext(ctx, &contacts, `
		SELECT user_email, contact_email, contact_name, frequency, last_contacted
		FROM contacts
		WHERE user_email = ?
		ORDER BY frequency DESC, last_contacted DESC
		LIMIT ?`,
		userEmail, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, nil
}

// ftsPrefixQuery turns free text into an FTS5 query of quoted prefix terms
func ftsPrefixQuery(q string) string {
	words := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(words))
	for _, w := range words {
		terms = append(terms, `"`+strings.ReplaceAll(w, `"`, `""`)+`"*`)
	}
	return strings.Join(terms, " ")
}
