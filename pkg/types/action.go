package types

import (
	"fmt"
	"strings"
	"time"
)

// Action is a list or mutate operation applied to conversations
type Action string

const (
	ActionMarkAsRead      Action = "MARK_AS_READ"
	ActionMarkAsUnread    Action = "MARK_AS_UNREAD"
	ActionDelete          Action = "DELETE"
	ActionArchive         Action = "ARCHIVE"
	ActionApplyLabel      Action = "APPLY_LABEL"
	ActionRemoveLabel     Action = "REMOVE_LABEL"
	ActionStar            Action = "STAR"
	ActionUnstar          Action = "UNSTAR"
	ActionMarkImportant   Action = "MARK_IMPORTANT"
	ActionUnmarkImportant Action = "UNMARK_IMPORTANT"
	ActionMoveToSpam      Action = "MOVE_TO_SPAM"
	ActionMoveToInbox     Action = "MOVE_TO_INBOX"
	ActionMoveToTrash     Action = "MOVE_TO_TRASH"
)

var allActions = []Action{
	ActionMarkAsRead, ActionMarkAsUnread, ActionDelete, ActionArchive,
	ActionApplyLabel, ActionRemoveLabel, ActionStar, ActionUnstar,
	ActionMarkImportant, ActionUnmarkImportant, ActionMoveToSpam,
	ActionMoveToInbox, ActionMoveToTrash,
}

// ParseAction accepts the upper-case wire name or its lower-case form
func ParseAction(s string) (Action, error) {
	norm := Action(strings.ToUpper(strings.TrimSpace(s)))
	for _, a := range allActions {
		if a == norm {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action: %s", s)
}

// IsLabel reports whether the action is handled by the label store
func (a Action) IsLabel() bool {
	return a == ActionApplyLabel || a == ActionRemoveLabel
}

// ActionRequest is a batch of thread ids and one action
type ActionRequest struct {
	Action    Action   `json:"action"`
	ThreadIDs []string `json:"thread_ids"`
	LabelID   int64    `json:"label_id,omitempty"`
	Folder    string   `json:"folder,omitempty"`
}

// ActionResult reports how much of a batch was actually applied
type ActionResult struct {
	Requested      int      `json:"requested"`
	Processed      int      `json:"processed"`
	MatchedThreads int      `json:"matched_threads"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Label is a user-defined label
type Label struct {
	ID        int64     `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	Color     string    `json:"color" db:"color"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NotificationType classifies mailbox events
type NotificationType string

const (
	NotificationNewEmail     NotificationType = "NEW_EMAIL"
	NotificationEmailRead    NotificationType = "EMAIL_READ"
	NotificationEmailDeleted NotificationType = "EMAIL_DELETED"
)

// Notification is an event emitted for a user's mailbox
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	MessageID string           `json:"message_id,omitempty"`
	From      string           `json:"from,omitempty"`
	Subject   string           `json:"subject,omitempty"`
	Folder    string           `json:"folder,omitempty"`
	Preview   string           `json:"preview,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Contact is an address the user has corresponded with
type Contact struct {
	UserEmail     string    `json:"user_email" db:"user_email"`
	ContactEmail  string    `json:"contact_email" db:"contact_email"`
	ContactName   string    `json:"contact_name" db:"contact_name"`
	Frequency     int       `json:"frequency" db:"frequency"`
	LastContacted time.Time `json:"last_contacted" db:"last_contacted"`
}
