package email

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brandon/mail-engine/pkg/types"
)

var (
	// ErrNotAuthenticated is returned when no usable session can be built for a user
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNoCredentials is returned when the credential store has no record for a user
	ErrNoCredentials = errors.New("no stored credentials")
	// ErrFolderNotFound is returned when a folder cannot be resolved or created
	ErrFolderNotFound = errors.New("folder not found")
	// ErrNotFound is returned when a message or conversation does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest is returned for malformed operation parameters
	ErrInvalidRequest = errors.New("invalid request")
)

// ProtocolError wraps a failed IMAP command
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("imap %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// FolderNotFoundError lists the names tried while resolving a logical folder
type FolderNotFoundError struct {
	Name      string
	Tried     []string
	Available []string
}

func (e *FolderNotFoundError) Error() string {
	return fmt.Sprintf("folder %s not found (tried %s)", e.Name, strings.Join(e.Tried, ", "))
}

func (e *FolderNotFoundError) Is(target error) bool {
	return target == ErrFolderNotFound
}

// PartialActionFailure records an action whose first step committed on the
// server while a later step failed. Nothing is rolled back.
type PartialActionFailure struct {
	Action    types.Action
	MessageID string
	Folder    string
	Step      string
	Err       error
}

func (f PartialActionFailure) Error() string {
	return fmt.Sprintf("%s partially applied to %s in %s: %s failed: %v",
		f.Action, f.MessageID, f.Folder, f.Step, f.Err)
}

func (f PartialActionFailure) Unwrap() error {
	return f.Err
}
