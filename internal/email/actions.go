package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-engine/internal/thread"
	"github.com/brandon/mail-engine/pkg/types"
)

// Keywords used where IMAP has no system flag
const (
	keywordArchived  = "$Archived"
	keywordImportant = "$Important"
)

// actionRun carries the state of one PerformActions call across folders
type actionRun struct {
	action  types.Action
	targets map[string]bool

	processed      map[string]bool
	matchedThreads map[string]bool
	// dedupe keys of messages whose copies the target folder should drop
	pendingRemoval map[string]bool
	warnings       []string
	log            *logrus.Entry
}

func (r *actionRun) warn(f PartialActionFailure) {
	r.log.WithError(f.Err).WithFields(logrus.Fields{
		"message_id": f.MessageID,
		"folder":     f.Folder,
		"step":       f.Step,
	}).Warn("Action partially applied")
	r.warnings = append(r.warnings, f.Error())
}

func (r *actionRun) warnAll(headers []*types.EmailHeader, folder, step string, err error) {
	for _, h := range headers {
		r.warn(PartialActionFailure{
			Action:    r.action,
			MessageID: h.MessageID,
			Folder:    folder,
			Step:      step,
			Err:       err,
		})
	}
}

func (r *actionRun) markProcessed(headers []*types.EmailHeader) {
	for _, h := range headers {
		r.processed[dedupeKey(h)] = true
		r.matchedThreads[thread.ID(h)] = true
	}
}

// PerformActions applies one action to every message of the given threads.
// Label actions treat the ids as message uids and never touch the server.
func (s *Service) PerformActions(ctx context.Context, user string, req types.ActionRequest) (*types.ActionResult, error) {
	if len(req.ThreadIDs) == 0 {
		return nil, fmt.Errorf("%w: no ids given", ErrInvalidRequest)
	}
	if req.Action.IsLabel() {
		return s.performLabelAction(ctx, user, req)
	}

	run := &actionRun{
		action:         req.Action,
		targets:        make(map[string]bool, len(req.ThreadIDs)),
		processed:      make(map[string]bool),
		matchedThreads: make(map[string]bool),
		pendingRemoval: make(map[string]bool),
		log: s.logger.WithFields(logrus.Fields{
			"user":   maskEmail(user),
			"action": req.Action,
		}),
	}
	for _, id := range req.ThreadIDs {
		run.targets[strings.TrimSpace(id)] = true
	}

	folders := StandardFolders
	if strings.TrimSpace(req.Folder) != "" {
		folders = []string{req.Folder}
	}

	sess, err := s.session(ctx, user)
	if err != nil {
		return nil, err
	}

	var affected []*types.EmailHeader
	for _, folder := range folders {
		headers, err := s.applyInFolder(ctx, sess, run, folder)
		if err != nil {
			run.log.WithError(err).WithField("folder", folder).Warn("Skipping folder")
			continue
		}
		affected = append(affected, headers...)
	}

	switch req.Action {
	case types.ActionUnstar:
		s.removeCopies(ctx, sess, run, FolderStarred)
	case types.ActionUnmarkImportant:
		s.removeCopies(ctx, sess, run, FolderImportant)
	}
	sess.Unlock()

	s.notifyAction(user, req.Action, affected)

	result := &types.ActionResult{
		Requested:      len(req.ThreadIDs),
		Processed:      len(run.processed),
		MatchedThreads: len(run.matchedThreads),
		Warnings:       run.warnings,
	}
	run.log.WithFields(logrus.Fields{
		"processed": result.Processed,
		"threads":   result.MatchedThreads,
	}).Info("Action performed")
	return result, nil
}

// applyInFolder runs the action against the matching messages of one folder
// and closes it, expunging anything flagged \Deleted
func (s *Service) applyInFolder(ctx context.Context, sess *Session, run *actionRun, folder string) ([]*types.EmailHeader, error) {
	mailbox, matches, err := s.scanFolder(ctx, sess, folder, func(h *types.EmailHeader) bool {
		return run.targets[thread.ID(h)]
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	var fresh, duplicate []*types.EmailHeader
	for _, h := range matches {
		if run.processed[dedupeKey(h)] {
			duplicate = append(duplicate, h)
		} else {
			fresh = append(fresh, h)
		}
	}

	conn := sess.conn
	var acted []*types.EmailHeader
	purge := false

	switch run.action {
	case types.ActionMarkAsRead, types.ActionMarkAsUnread, types.ActionArchive:
		flag, add := imap.SeenFlag, run.action != types.ActionMarkAsUnread
		if run.action == types.ActionArchive {
			flag = keywordArchived
		}
		if err := conn.Store(ctx, seqSetOf(seqNums(matches)...), add, []string{flag}); err != nil {
			return nil, fmt.Errorf("failed to update flags: %w", err)
		}
		acted = matches

	case types.ActionStar, types.ActionMarkImportant:
		target, flag := FolderStarred, imap.FlaggedFlag
		if run.action == types.ActionMarkImportant {
			target, flag = FolderImportant, keywordImportant
		}
		if len(fresh) == 0 {
			break
		}
		if err := s.copyThenFlag(ctx, sess, run, mailbox, target, flag, fresh); err != nil {
			return nil, err
		}
		acted = fresh

	case types.ActionUnstar, types.ActionUnmarkImportant:
		target, flag := FolderStarred, imap.FlaggedFlag
		if run.action == types.ActionUnmarkImportant {
			target, flag = FolderImportant, keywordImportant
		}
		set := seqSetOf(seqNums(matches)...)
		if err := conn.Store(ctx, set, false, []string{flag}); err != nil {
			return nil, fmt.Errorf("failed to update flags: %w", err)
		}
		for _, h := range matches {
			run.pendingRemoval[dedupeKey(h)] = true
		}
		acted = matches

		// copies found in the copy folder itself go right away
		if copyBox, err := s.resolver.Resolve(ctx, sess, target); err == nil && copyBox == mailbox {
			if err := conn.Store(ctx, set, true, []string{imap.DeletedFlag}); err != nil {
				run.warnAll(matches, mailbox, "remove copy", err)
			} else {
				purge = true
			}
		}

	case types.ActionDelete, types.ActionMoveToTrash, types.ActionMoveToSpam, types.ActionMoveToInbox:
		acted, purge, err = s.move(ctx, sess, run, mailbox, fresh, duplicate)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: unsupported action %s", ErrInvalidRequest, run.action)
	}

	run.markProcessed(acted)

	if err := conn.CloseMailbox(ctx); err != nil {
		if purge {
			run.warnAll(acted, mailbox, "expunge", err)
		} else {
			run.log.WithError(err).WithField("folder", mailbox).Debug("Failed to close folder")
		}
	}
	return acted, nil
}

// copyThenFlag copies headers into the target folder and flags the
// originals. A flag failure after a successful copy is reported, not undone.
func (s *Service) copyThenFlag(ctx context.Context, sess *Session, run *actionRun, mailbox, target, flag string, headers []*types.EmailHeader) error {
	set := seqSetOf(seqNums(headers)...)

	targetBox, err := s.resolver.Resolve(ctx, sess, target)
	if err != nil {
		return err
	}
	if targetBox != mailbox {
		if err := sess.conn.Copy(ctx, set, targetBox); err != nil {
			return fmt.Errorf("failed to copy to %s: %w", targetBox, err)
		}
	}

	if err := sess.conn.Store(ctx, set, true, []string{flag}); err != nil {
		if targetBox == mailbox {
			return fmt.Errorf("failed to update flags: %w", err)
		}
		run.warnAll(headers, mailbox, "flag", err)
	}
	return nil
}

// move copies fresh messages to the action's target and flags them
// \Deleted at the source. Other copies of messages already moved by this
// call are only flagged, except when restoring to the inbox, which also
// leaves the STARRED and IMPORTANT copies in place. The returned bool
// tells whether the source needs a purge.
func (s *Service) move(ctx context.Context, sess *Session, run *actionRun, mailbox string, fresh, duplicate []*types.EmailHeader) ([]*types.EmailHeader, bool, error) {
	target := FolderTrash
	switch run.action {
	case types.ActionMoveToSpam:
		target = FolderSpam
	case types.ActionMoveToInbox:
		target = FolderInbox
	}
	deleting := target == FolderTrash
	if target == FolderInbox && s.isCopyFolder(ctx, sess, mailbox) {
		return nil, false, nil
	}

	targetBox, err := s.resolver.Resolve(ctx, sess, target)
	if err != nil {
		if !deleting {
			return nil, false, err
		}
		// No trash folder: delete in place
		run.log.WithError(err).Warn("Trash unavailable, deleting permanently")
		all := append(append([]*types.EmailHeader{}, fresh...), duplicate...)
		if err := sess.conn.Store(ctx, seqSetOf(seqNums(all)...), true, []string{imap.DeletedFlag}); err != nil {
			return nil, false, fmt.Errorf("failed to flag messages deleted: %w", err)
		}
		return all, true, nil
	}

	if targetBox == mailbox {
		// Already in place. Deleting from the trash is permanent, except for
		// copies this call just moved in.
		if !deleting || len(fresh) == 0 {
			return fresh, false, nil
		}
		if err := sess.conn.Store(ctx, seqSetOf(seqNums(fresh)...), true, []string{imap.DeletedFlag}); err != nil {
			return nil, false, fmt.Errorf("failed to flag messages deleted: %w", err)
		}
		return fresh, true, nil
	}

	var acted []*types.EmailHeader
	if len(fresh) > 0 {
		set := seqSetOf(seqNums(fresh)...)
		if err := sess.conn.Copy(ctx, set, targetBox); err != nil {
			return nil, false, fmt.Errorf("failed to copy to %s: %w", targetBox, err)
		}
		if err := sess.conn.Store(ctx, set, true, []string{imap.DeletedFlag}); err != nil {
			run.warnAll(fresh, mailbox, "flag", err)
			return fresh, false, nil
		}
		acted = append(acted, fresh...)
	}

	if len(duplicate) > 0 && target != FolderInbox {
		if err := sess.conn.Store(ctx, seqSetOf(seqNums(duplicate)...), true, []string{imap.DeletedFlag}); err != nil {
			run.log.WithError(err).WithField("folder", mailbox).Warn("Failed to remove duplicate copies")
		} else {
			acted = append(acted, duplicate...)
		}
	}
	return acted, len(acted) > 0, nil
}

// isCopyFolder reports whether mailbox holds the copies made by star and mark-important
func (s *Service) isCopyFolder(ctx context.Context, sess *Session, mailbox string) bool {
	for _, f := range []string{FolderStarred, FolderImportant} {
		if box, err := s.resolver.Resolve(ctx, sess, f); err == nil && box == mailbox {
			return true
		}
	}
	return false
}

// removeCopies deletes the target-folder copies of messages whose flag was
// just cleared. Runs after the source folders are closed since only one
// mailbox can be selected at a time.
func (s *Service) removeCopies(ctx context.Context, sess *Session, run *actionRun, target string) {
	if len(run.pendingRemoval) == 0 {
		return
	}

	mailbox, copies, err := s.scanFolder(ctx, sess, target, func(h *types.EmailHeader) bool {
		return run.pendingRemoval[dedupeKey(h)]
	})
	if err != nil {
		if errors.Is(err, ErrFolderNotFound) {
			return
		}
		for id := range run.pendingRemoval {
			run.warn(PartialActionFailure{Action: run.action, MessageID: id, Folder: target, Step: "remove copy", Err: err})
		}
		return
	}
	if len(copies) == 0 {
		return
	}

	if err := sess.conn.Store(ctx, seqSetOf(seqNums(copies)...), true, []string{imap.DeletedFlag}); err != nil {
		run.warnAll(copies, mailbox, "remove copy", err)
		return
	}
	if err := sess.conn.CloseMailbox(ctx); err != nil {
		run.warnAll(copies, mailbox, "expunge", err)
	}
}

// performLabelAction applies or removes a user label. ThreadIDs carry
// message uids here.
func (s *Service) performLabelAction(ctx context.Context, user string, req types.ActionRequest) (*types.ActionResult, error) {
	if req.LabelID <= 0 || strings.TrimSpace(req.Folder) == "" {
		return nil, fmt.Errorf("%w: label actions need label_id and folder", ErrInvalidRequest)
	}
	if s.labels == nil {
		return nil, fmt.Errorf("%w: labels are not configured", ErrInvalidRequest)
	}

	result := &types.ActionResult{Requested: len(req.ThreadIDs)}
	for _, uid := range req.ThreadIDs {
		var err error
		if req.Action == types.ActionApplyLabel {
			err = s.labels.ApplyLabel(ctx, user, uid, req.Folder, req.LabelID)
		} else {
			err = s.labels.RemoveLabel(ctx, user, uid, req.Folder, req.LabelID)
		}
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"user":     maskEmail(user),
				"uid":      uid,
				"label_id": req.LabelID,
			}).Warn("Label action failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", uid, err))
			continue
		}
		result.Processed++
	}
	return result, nil
}

func (s *Service) notifyAction(user string, action types.Action, headers []*types.EmailHeader) {
	if s.notifier == nil {
		return
	}
	var kind types.NotificationType
	switch action {
	case types.ActionMarkAsRead:
		kind = types.NotificationEmailRead
	case types.ActionDelete, types.ActionMoveToTrash:
		kind = types.NotificationEmailDeleted
	default:
		return
	}
	seen := make(map[string]bool)
	for _, h := range headers {
		if seen[h.MessageID] {
			continue
		}
		seen[h.MessageID] = true
		s.notifier.Publish(user, types.Notification{
			Type:      kind,
			MessageID: h.MessageID,
			From:      h.From,
			Subject:   h.Subject,
			Folder:    h.Folder,
		})
	}
}
