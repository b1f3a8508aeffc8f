package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brandon/mail-engine/pkg/types"
)

// ErrLabelNotFound is returned when a label does not exist or belongs to another user
var ErrLabelNotFound = errors.New("label not found or does not belong to user")

// ErrLabelExists is returned when a user already has a label with the same name
var ErrLabelExists = errors.New("label already exists")

// CreateLabel adds a label for a user
func (s *Store) CreateLabel(ctx context.Context, userID, name, color string) (*types.Label, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("label name must not be empty")
	}

	exists, err := s.labelNameTaken(ctx, userID, name, 0)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("label %q: %w", name, ErrLabelExists)
	}

	label := &types.Label{
		UserID:    userID,
		Name:      name,
		Color:     color,
		CreatedAt: time.Now().UTC(),
	}
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO labels (user_id, name, color, created_at) VALUES (?, ?, ?, ?)",
		label.UserID, label.Name, label.Color, label.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create label: %w", err)
	}
	label.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read label id: %w", err)
	}
	return label, nil
}

// UpdateLabel renames or recolors a label
func (s *Store) UpdateLabel(ctx context.Context, userID string, labelID int64, name, color string) (*types.Label, error) {
	label, err := s.GetLabel(ctx, userID, labelID)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("label name must not be empty")
	}
	if name != label.Name {
		taken, err := s.labelNameTaken(ctx, userID, name, labelID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fmt.Errorf("label %q: %w", name, ErrLabelExists)
		}
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE labels SET name = ?, color = ? WHERE id = ? AND user_id = ?",
		name, color, labelID, userID,
	); err != nil {
		return nil, fmt.Errorf("failed to update label %d: %w", labelID, err)
	}

	label.Name = name
	label.Color = color
	return label, nil
}

// DeleteLabel removes a label and, by cascade, its message assignments
func (s *Store) DeleteLabel(ctx context.Context, userID string, labelID int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM labels WHERE id = ? AND user_id = ?", labelID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete label %d: %w", labelID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrLabelNotFound
	}
	return nil
}

// GetLabel returns one of the user's labels
func (s *Store) GetLabel(ctx context.Context, userID string, labelID int64) (*types.Label, error) {
	var label types.Label
	err := s.db.GetContext(ctx, &label,
		"SELECT id, user_id, name, color, created_at FROM labels WHERE id = ? AND user_id = ?",
		labelID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLabelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get label %d: %w", labelID, err)
	}
	return &label, nil
}

// ListLabels returns the user's labels ordered by name
func (s *Store) ListLabels(ctx context.Context, userID string) ([]types.Label, error) {
	labels := []types.Label{}
	err := s.db.SelectContext(ctx, &labels,
		"SELECT id, user_id, name, color, created_at FROM labels WHERE user_id = ? ORDER BY name ASC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	return labels, nil
}

// ApplyLabel assigns a label to a message; applying it twice is a no-op
func (s *Store) ApplyLabel(ctx context.Context, userID, messageUID, folder string, labelID int64) error {
	if _, err := s.GetLabel(ctx, userID, labelID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_labels (user_id, message_uid, folder, label_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, message_uid, folder, label_id) DO NOTHING`,
		userID, messageUID, folder, labelID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to apply label: %w", err)
	}
	return nil
}

// RemoveLabel unassigns a label from a message
func (s *Store) RemoveLabel(ctx context.Context, userID, messageUID, folder string, labelID int64) error {
	if _, err := s.GetLabel(ctx, userID, labelID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM message_labels WHERE user_id = ? AND message_uid = ? AND folder = ? AND label_id = ?",
		userID, messageUID, folder, labelID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove label: %w", err)
	}
	return nil
}

// ListLabelsForMessage returns the labels assigned to one message
func (s *Store) ListLabelsForMessage(ctx context.Context, userID, messageUID, folder string) ([]types.Label, error) {
	labels := []types.Label{}
	err := s.db.SelectContext(ctx, &labels, `
		SELECT l.id, l.user_id, l.name, l.color, l.created_at
		FROM message_labels ml
		JOIN labels l ON l.id = ml.label_id
		WHERE ml.user_id = ? AND ml.message_uid = ? AND ml.folder = ?
		ORDER BY l.name ASC`,
		userID, messageUID, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to list message labels: %w", err)
	}
	return labels, nil
}

// MessageUIDsWithLabel lists the message uids carrying a label within a folder
func (s *Store) MessageUIDsWithLabel(ctx context.Context, userID string, labelID int64, folder string) ([]string, error) {
	if _, err := s.GetLabel(ctx, userID, labelID); err != nil {
		return nil, err
	}

	uids := []string{}
	err := s.db.SelectContext(ctx, &uids, `
		SELECT message_uid FROM message_labels
		WHERE user_id = ? AND label_id = ? AND folder = ?
		ORDER BY created_at DESC`,
		userID, labelID, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to list labelled messages: %w", err)
	}
	return uids, nil
}

// LabelUsageCount counts the messages carrying a label
func (s *Store) LabelUsageCount(ctx context.Context, userID string, labelID int64) (int, error) {
	if _, err := s.GetLabel(ctx, userID, labelID); err != nil {
		return 0, err
	}

	var count int
	if err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM message_labels WHERE user_id = ? AND label_id = ?", userID, labelID); err != nil {
		return 0, fmt.Errorf("failed to count label usage: %w", err)
	}
	return count, nil
}

func (s *Store) labelNameTaken(ctx context.Context, userID, name string, exceptID int64) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM labels WHERE user_id = ? AND name = ? AND id != ?", userID, name, exceptID)
	if err != nil {
		return false, fmt.Errorf("failed to check label name: %w", err)
	}
	return count > 0, nil
}
