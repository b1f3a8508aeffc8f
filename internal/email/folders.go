package email

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logical folder names every account is expected to have
const (
	FolderInbox     = "INBOX"
	FolderSent      = "SENT"
	FolderDrafts    = "DRAFTS"
	FolderTrash     = "TRASH"
	FolderStarred   = "STARRED"
	FolderImportant = "IMPORTANT"
	FolderSpam      = "SPAM"
)

// StandardFolders is the scan order used by cross-folder operations
var StandardFolders = []string{
	FolderInbox, FolderSent, FolderDrafts, FolderTrash,
	FolderStarred, FolderImportant, FolderSpam,
}

var folderAliases = map[string][]string{
	FolderSent:      {"Sent", "Sent Items", "Sent Messages", "SENT"},
	FolderDrafts:    {"Drafts", "Draft", "DRAFTS"},
	FolderTrash:     {"Trash", "Deleted", "Deleted Items", "TRASH"},
	FolderInbox:     {"INBOX", "Inbox"},
	FolderStarred:   {"Starred", "STARRED", "Star"},
	FolderImportant: {"Important", "IMPORTANT"},
	FolderSpam:      {"Spam", "SPAM", "Junk", "Junk Email"},
}

// IsStandard reports whether name is one of the logical folders
func IsStandard(name string) bool {
	_, ok := folderAliases[strings.ToUpper(name)]
	return ok
}

// Resolver maps logical folder names to the real mailbox names of an account
type Resolver struct {
	logger *logrus.Logger
}

// NewResolver creates a folder resolver
func NewResolver(logger *logrus.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve returns the real mailbox for name, creating standard folders that
// are missing. The caller must hold the session lock.
func (r *Resolver) Resolve(ctx context.Context, sess *Session, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = FolderInbox
	}
	if mailbox, ok := sess.folders[name]; ok {
		return mailbox, nil
	}

	available, err := sess.conn.List(ctx)
	if err != nil {
		return "", err
	}

	mailbox, tried, ok := match(name, available)
	if !ok {
		logical := strings.ToUpper(name)
		if IsStandard(logical) && logical != FolderInbox {
			if err := sess.conn.Create(ctx, logical); err != nil {
				r.logger.WithError(err).WithField("folder", logical).Warn("Failed to create folder")
			} else {
				r.logger.WithFields(logrus.Fields{
					"user":   maskEmail(sess.User),
					"folder": logical,
				}).Info("Created missing folder")
				mailbox, ok = logical, true
			}
		}
	}

	if !ok {
		r.logger.WithFields(logrus.Fields{
			"folder":    name,
			"tried":     tried,
			"available": available,
		}).Warn("Folder not found")
		return "", &FolderNotFoundError{Name: name, Tried: tried, Available: available}
	}

	sess.folders[name] = mailbox
	return mailbox, nil
}

// EnsureStandardFolders resolves every standard folder once, creating the
// ones the server lacks. Failures are logged.
func (r *Resolver) EnsureStandardFolders(ctx context.Context, sess *Session) {
	for _, f := range StandardFolders {
		if _, err := r.Resolve(ctx, sess, f); err != nil {
			r.logger.WithError(err).WithField("folder", f).Debug("Standard folder unavailable")
		}
	}
}

// match finds name among available mailboxes, exactly or through aliases
func match(name string, available []string) (string, []string, bool) {
	exists := make(map[string]bool, len(available))
	for _, a := range available {
		exists[a] = true
	}

	tried := []string{name}
	if exists[name] {
		return name, tried, true
	}
	if strings.EqualFold(name, FolderInbox) {
		for _, a := range available {
			if strings.EqualFold(a, FolderInbox) {
				return a, tried, true
			}
		}
	}

	for _, alias := range folderAliases[strings.ToUpper(name)] {
		if alias == name {
			continue
		}
		tried = append(tried, alias)
		if exists[alias] {
			return alias, tried, true
		}
	}
	return "", tried, false
}
