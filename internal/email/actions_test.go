package email

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-engine/internal/thread"
	"github.com/brandon/mail-engine/pkg/types"
)

func perform(t *testing.T, h *harness, action types.Action, ids ...string) *types.ActionResult {
	t.Helper()
	res, err := h.service.PerformActions(context.Background(), testUser, types.ActionRequest{
		Action:    action,
		ThreadIDs: ids,
	})
	require.NoError(t, err)
	return res
}

func TestPerformActionsRequiresIDs(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.PerformActions(context.Background(), testUser, types.ActionRequest{Action: types.ActionStar})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestMarkAsReadAndUnread(t *testing.T) {
	h := newHarness(t)
	h.srv.add("INBOX", fixture{id: "<a@x>", subject: "Hello"}.raw())
	h.srv.add("INBOX", fixture{id: "<b@x>", subject: "Other"}.raw())
	id := thread.Hash("<a@x>")

	res := perform(t, h, types.ActionMarkAsRead, id)
	assert.Equal(t, 1, res.Requested)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.MatchedThreads)
	assert.Empty(t, res.Warnings)

	inbox := h.srv.messages("INBOX")
	assert.True(t, inbox[0].hasFlag(imap.SeenFlag))
	assert.False(t, inbox[1].hasFlag(imap.SeenFlag))

	events := h.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, types.NotificationEmailRead, events[0].Type)
	assert.Equal(t, "<a@x>", events[0].MessageID)
	assert.Equal(t, "Hello", events[0].Subject)

	perform(t, h, types.ActionMarkAsUnread, id)
	assert.False(t, h.srv.messages("INBOX")[0].hasFlag(imap.SeenFlag))
	assert.Len(t, h.notifier.all(), 1)
}

func TestUnknownThreadIsNotProcessed(t *testing.T) {
	h := newHarness(t)
	h.srv.add("INBOX", fixture{id: "<a@x>"}.raw())

	res := perform(t, h, types.ActionArchive, "ffffffffffffffff")
	assert.Equal(t, 1, res.Requested)
	assert.Zero(t, res.Processed)
	assert.Zero(t, res.MatchedThreads)
}

func TestStarThenUnstar(t *testing.T) {
	h := newHarness(t)
	h.srv.add("INBOX", fixture{id: "<a@x>", subject: "Starred"}.raw())
	id := thread.Hash("<a@x>")

	res := perform(t, h, types.ActionStar, id)
	assert.Equal(t, 1, res.Processed)
	assert.True(t, h.srv.messages("INBOX")[0].hasFlag(imap.FlaggedFlag))
	require.Len(t, h.srv.messages("STARRED"), 1)

	res = perform(t, h, types.ActionUnstar, id)
	assert.Equal(t, 1, res.Processed)
	assert.Empty(t, res.Warnings)
	assert.False(t, h.srv.messages("INBOX")[0].hasFlag(imap.FlaggedFlag))
	assert.Empty(t, h.srv.messages("STARRED"))
}

func TestMarkImportantUsesKeyword(t *testing.T) {
	h := newHarness(t)
	h.srv.add("INBOX", fixture{id: "<a@x>"}.raw())
	id := thread.Hash("<a@x>")

	perform(t, h, types.ActionMarkImportant, id)
	assert.True(t, h.srv.messages("INBOX")[0].hasFlag(keywordImportant))
	require.Len(t, h.srv.messages("IMPORTANT"), 1)

	perform(t, h, types.ActionUnmarkImportant, id)
	assert.False(t, h.srv.messages("INBOX")[0].hasFlag(keywordImportant))
	assert.Empty(t, h.srv.messages("IMPORTANT"))
}

func TestDeleteMovesToTrashThenPurges(t *testing.T) {
	h := newHarness(t)
	h.srv.add("INBOX", fixture{id: "<a@x>", subject: "Bye"}.raw())
	h.srv.add("INBOX", fixture{id: "<b@x>", subject: "Stay"}.raw())
	id := thread.Hash("<a@x>")

	res := perform(t, h, types.ActionDelete, id)
	assert.Equal(t, 1, res.Processed)

	inbox := h.srv.messages("INBOX")
	require.Len(t, inbox, 1)
	trash := h.srv.messages("TRASH")
	require.Len(t, trash, 1)
	assert.Contains(t, string(trash[0].raw), "<a@x>")

	events := h.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, types.NotificationEmailDeleted, events[0].Type)

	// deleting from the trash is permanent
	perform(t, h, types.ActionDelete, id)
	assert.Empty(t, h.srv.messages("TRASH"))
	assert.Len(t, h.srv.messages("INBOX"), 1)
}

func TestMoveToSpamAndBack(t *testing.T) {
	h := newHarness(t, "Junk")
	h.srv.add("INBOX", fixture{id: "<a@x>"}.raw())
	id := thread.Hash("<a@x>")

	perform(t, h, types.ActionMoveToSpam, id)
	assert.Empty(t, h.srv.messages("INBOX"))
	require.Len(t, h.srv.messages("Junk"), 1)

	perform(t, h, types.ActionMoveToInbox, id)
	assert.Empty(t, h.srv.messages("Junk"))
	assert.Len(t, h.srv.messages("INBOX"), 1)
}

func TestMoveToInboxKeepsStarredCopy(t *testing.T) {
	h := newHarness(t)
	h.srv.add("SPAM", fixture{id: "<a@x>"}.raw())
	h.srv.add("STARRED", fixture{id: "<a@x>"}.raw(), imap.FlaggedFlag)
	id := thread.Hash("<a@x>")

	perform(t, h, types.ActionMoveToInbox, id)
	assert.Len(t, h.srv.messages("INBOX"), 1)
	assert.Empty(t, h.srv.messages("SPAM"))
	assert.Len(t, h.srv.messages("STARRED"), 1)
}

func TestMoveReportsPartialFailure(t *testing.T) {
	h := newHarness(t)
	h.srv.add("INBOX", fixture{id: "<a@x>"}.raw())
	id := thread.Hash("<a@x>")
	h.srv.failOn("store:INBOX", errors.New("flag rejected"))

	res := perform(t, h, types.ActionMoveToSpam, id)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "<a@x>")
	assert.Contains(t, res.Warnings[0], "flag rejected")

	assert.Len(t, h.srv.messages("INBOX"), 1, "the original stays when the source flag fails")
	assert.Len(t, h.srv.messages("SPAM"), 1)
}

func TestStarReportsPartialFailure(t *testing.T) {
	h := newHarness(t)
	h.srv.add("INBOX", fixture{id: "<a@x>"}.raw())
	id := thread.Hash("<a@x>")
	h.srv.failOn("store:INBOX", errors.New("flag rejected"))

	res := perform(t, h, types.ActionStar, id)
	assert.Equal(t, 1, res.Processed)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "<a@x>")
	assert.Contains(t, res.Warnings[0], "flag rejected")

	assert.False(t, h.srv.messages("INBOX")[0].hasFlag(imap.FlaggedFlag))
	assert.Len(t, h.srv.messages("STARRED"), 1, "the copy is kept when flagging fails")
}

// noIDThread is the thread id of a message that carries no Message-ID
func noIDThread(subject string) string {
	return thread.ID(&types.EmailHeader{Subject: subject})
}

func TestDeleteWithoutMessageIDLandsInTrash(t *testing.T) {
	h := newHarness(t)
	h.srv.add("INBOX", fixture{subject: "No id", text: "keep me"}.raw())

	res := perform(t, h, types.ActionDelete, noIDThread("No id"))
	assert.Equal(t, 1, res.Processed)
	assert.Empty(t, res.Warnings)
	assert.Empty(t, h.srv.messages("INBOX"))
	require.Len(t, h.srv.messages("TRASH"), 1, "the copy moved into the trash is not purged")
	assert.Contains(t, string(h.srv.messages("TRASH")[0].raw), "keep me")
}

func TestMoveToSpamWithoutMessageIDCountsOnce(t *testing.T) {
	h := newHarness(t)
	h.srv.add("INBOX", fixture{subject: "No id"}.raw())

	res := perform(t, h, types.ActionMoveToSpam, noIDThread("No id"))
	assert.Equal(t, 1, res.Processed)
	assert.Empty(t, h.srv.messages("INBOX"))
	assert.Len(t, h.srv.messages("SPAM"), 1)
}

func TestStarThenUnstarWithoutMessageID(t *testing.T) {
	h := newHarness(t)
	h.srv.add("INBOX", fixture{subject: "No id"}.raw())
	id := noIDThread("No id")

	res := perform(t, h, types.ActionStar, id)
	assert.Equal(t, 1, res.Processed)
	require.Len(t, h.srv.messages("STARRED"), 1)

	res = perform(t, h, types.ActionUnstar, id)
	assert.Equal(t, 1, res.Processed)
	assert.Empty(t, res.Warnings)
	assert.False(t, h.srv.messages("INBOX")[0].hasFlag(imap.FlaggedFlag))
	assert.Empty(t, h.srv.messages("STARRED"))
}

func TestDedupeKey(t *testing.T) {
	date := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	withID := &types.EmailHeader{HeaderMessageID: "<a@x>", Folder: "INBOX", UID: 1}
	assert.Equal(t, "a@x", dedupeKey(withID))

	original := &types.EmailHeader{Folder: "INBOX", UID: 1, Subject: "Plan", From: "Alice <alice@example.com>", Date: date}
	copied := &types.EmailHeader{Folder: "TRASH", UID: 9, Subject: "Plan", From: "alice@example.com", Date: date.In(time.FixedZone("x", 3600))}
	assert.Equal(t, dedupeKey(original), dedupeKey(copied))

	other := &types.EmailHeader{Folder: "INBOX", UID: 2, Subject: "Plan", From: "Alice <alice@example.com>", Date: date.Add(time.Minute)}
	assert.NotEqual(t, dedupeKey(original), dedupeKey(other))
}

func TestActionLimitedToFolder(t *testing.T) {
	h := newHarness(t)
	h.srv.add("INBOX", fixture{id: "<a@x>"}.raw())
	h.srv.add("ARCHIVE", fixture{id: "<a@x>"}.raw())
	id := thread.Hash("<a@x>")

	_, err := h.service.PerformActions(context.Background(), testUser, types.ActionRequest{
		Action:    types.ActionMarkAsRead,
		ThreadIDs: []string{id},
		Folder:    "ARCHIVE",
	})
	require.NoError(t, err)
	assert.True(t, h.srv.messages("ARCHIVE")[0].hasFlag(imap.SeenFlag))
	assert.False(t, h.srv.messages("INBOX")[0].hasFlag(imap.SeenFlag))
}

func TestLabelActions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.service.PerformActions(ctx, testUser, types.ActionRequest{
		Action:    types.ActionApplyLabel,
		ThreadIDs: []string{"7", "9"},
		LabelID:   3,
		Folder:    "INBOX",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, int64(3), h.labels.applied["INBOX/7"])
	assert.Zero(t, h.dialer.dialCount(), "labels never touch the server")

	_, err = h.service.PerformActions(ctx, testUser, types.ActionRequest{
		Action:    types.ActionRemoveLabel,
		ThreadIDs: []string{"7"},
		LabelID:   3,
		Folder:    "INBOX",
	})
	require.NoError(t, err)
	assert.NotContains(t, h.labels.applied, "INBOX/7")

	_, err = h.service.PerformActions(ctx, testUser, types.ActionRequest{
		Action:    types.ActionApplyLabel,
		ThreadIDs: []string{"7"},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	h.labels.err = errors.New("no such label")
	res, err = h.service.PerformActions(ctx, testUser, types.ActionRequest{
		Action:    types.ActionApplyLabel,
		ThreadIDs: []string{"7"},
		LabelID:   99,
		Folder:    "INBOX",
	})
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Len(t, res.Warnings, 1)
}
