package email

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-engine/internal/search"
	"github.com/brandon/mail-engine/internal/thread"
	"github.com/brandon/mail-engine/pkg/types"
)

const (
	defaultPageSize        = 20
	defaultMaxPageSize     = 100
	defaultConversationCap = 500
)

// LabelStore keeps user labels attached to messages
type LabelStore interface {
	ApplyLabel(ctx context.Context, userID, messageUID, folder string, labelID int64) error
	RemoveLabel(ctx context.Context, userID, messageUID, folder string, labelID int64) error
	ListLabelsForMessage(ctx context.Context, userID, messageUID, folder string) ([]types.Label, error)
}

// Notifier receives mailbox events. Delivery is best effort.
type Notifier interface {
	Publish(user string, n types.Notification)
}

// Options tunes the service
type Options struct {
	ConversationFetchCap int
	DefaultPageSize      int
	MaxPageSize          int
}

// Service answers mailbox queries and mutations over per-user sessions
type Service struct {
	sessions *SessionStore
	resolver *Resolver
	decoder  *Decoder
	labels   LabelStore
	notifier Notifier
	logger   *logrus.Logger
	opts     Options
}

// NewService wires the engine components together
func NewService(sessions *SessionStore, labels LabelStore, notifier Notifier, opts Options, logger *logrus.Logger) *Service {
	if opts.ConversationFetchCap <= 0 {
		opts.ConversationFetchCap = defaultConversationCap
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = defaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = defaultMaxPageSize
	}
	return &Service{
		sessions: sessions,
		resolver: NewResolver(logger),
		decoder:  NewDecoder(logger),
		labels:   labels,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
	}
}

// Sessions exposes the session store for lifecycle management
func (s *Service) Sessions() *SessionStore {
	return s.sessions
}

// session returns a locked, initialized session. Callers must Unlock it.
func (s *Service) session(ctx context.Context, user string) (*Session, error) {
	sess, err := s.sessions.Get(ctx, user)
	if err != nil {
		return nil, err
	}
	sess.Lock()
	sess.initOnce.Do(func() {
		s.resolver.EnsureStandardFolders(ctx, sess)
	})
	return sess, nil
}

func (s *Service) normalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = s.opts.DefaultPageSize
	}
	if size > s.opts.MaxPageSize {
		size = s.opts.MaxPageSize
	}
	return page, size
}

// pageRange returns the sequence range of page when the newest message is
// page 0. ok is false when the page lies beyond the mailbox.
func pageRange(count uint32, page, size int) (start, end uint32, ok bool) {
	skip := uint64(page) * uint64(size)
	if count == 0 || skip >= uint64(count) {
		return 0, 0, false
	}
	end = count - uint32(skip)
	start = 1
	if uint64(end) > uint64(size) {
		start = end - uint32(size) + 1
	}
	return start, end, true
}

// ListPage returns one page of folder headers, newest first
func (s *Service) ListPage(ctx context.Context, user, folder string, page, size int) (*types.PageResult, error) {
	page, size = s.normalizePage(page, size)

	sess, err := s.session(ctx, user)
	if err != nil {
		return nil, err
	}
	defer sess.Unlock()

	mailbox, err := s.resolver.Resolve(ctx, sess, folder)
	if err != nil {
		return nil, err
	}
	count, err := sess.conn.Select(ctx, mailbox)
	if err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", mailbox, err)
	}

	result := &types.PageResult{
		Emails:     []*types.EmailHeader{},
		TotalCount: int(count),
		Page:       page,
		Size:       size,
		HasMore:    (page+1)*size < int(count),
	}

	start, end, ok := pageRange(count, page, size)
	if !ok {
		return result, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(start, end)
	msgs, err := Prefetch(ctx, sess.conn, seqset, ProfileHeaders)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	headers := s.decoder.Headers(msgs, mailbox)
	sortBySeqDesc(headers)
	result.Emails = headers
	return result, nil
}

// ListConversations groups the newest messages of a folder into
// conversations and returns one page of them
func (s *Service) ListConversations(ctx context.Context, user, folder string, page, size int) (*types.ConversationPage, error) {
	page, size = s.normalizePage(page, size)

	headers, err := s.recentHeaders(ctx, user, folder)
	if err != nil {
		return nil, err
	}

	conversations := thread.Group(headers)
	total := len(conversations)
	result := &types.ConversationPage{
		Conversations: []*types.Conversation{},
		TotalCount:    total,
		Page:          page,
		Size:          size,
		HasMore:       (page+1)*size < total,
	}

	from := page * size
	if from >= total {
		return result, nil
	}
	to := from + size
	if to > total {
		to = total
	}
	result.Conversations = conversations[from:to]
	return result, nil
}

func (s *Service) recentHeaders(ctx context.Context, user, folder string) ([]*types.EmailHeader, error) {
	sess, err := s.session(ctx, user)
	if err != nil {
		return nil, err
	}
	defer sess.Unlock()

	mailbox, err := s.resolver.Resolve(ctx, sess, folder)
	if err != nil {
		return nil, err
	}
	count, err := sess.conn.Select(ctx, mailbox)
	if err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", mailbox, err)
	}
	if count == 0 {
		return nil, nil
	}

	start := uint32(1)
	if limit := uint32(s.opts.ConversationFetchCap); count > limit {
		start = count - limit + 1
	}
	seqset := new(imap.SeqSet)
	seqset.AddRange(start, count)

	msgs, err := Prefetch(ctx, sess.conn, seqset, ProfileHeaders)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return s.decoder.Headers(msgs, mailbox), nil
}

// GetConversation assembles a thread from every standard folder, oldest
// message first
func (s *Service) GetConversation(ctx context.Context, user, threadID string) (*types.Conversation, error) {
	var details []*types.EmailDetail
	err := s.forEachThreadMessage(ctx, user, threadID, func(msg *imap.Message, mailbox string) {
		d, err := s.decoder.ToDetail(msg, mailbox, detailView)
		if err != nil {
			s.logger.WithError(err).WithField("folder", mailbox).Debug("Skipping undecodable message")
			return
		}
		if d != nil {
			details = append(details, d)
		}
	})
	if err != nil {
		return nil, err
	}
	if len(details) == 0 {
		return nil, fmt.Errorf("conversation %s: %w", threadID, ErrNotFound)
	}

	sort.SliceStable(details, func(i, j int) bool {
		return details[i].Date.Before(details[j].Date)
	})

	headers := make([]*types.EmailHeader, len(details))
	var addresses []string
	for i, d := range details {
		headers[i] = &d.EmailHeader
		addresses = append(addresses, d.From)
		addresses = append(addresses, d.To...)
	}

	conv := thread.Summarize(threadID, headers)
	conv.Participants = thread.Participants(addresses...)
	conv.Messages = nil
	conv.Details = details
	return conv, nil
}

// forEachThreadMessage scans the standard folders for members of threadID
// and calls visit with each one fetched in full. A message present in
// several folders is visited once.
func (s *Service) forEachThreadMessage(ctx context.Context, user, threadID string, visit func(*imap.Message, string)) error {
	sess, err := s.session(ctx, user)
	if err != nil {
		return err
	}
	defer sess.Unlock()

	seen := make(map[string]bool)
	for _, folder := range StandardFolders {
		log := s.logger.WithFields(logrus.Fields{"user": maskEmail(user), "folder": folder})

		// copies count as seen only once their folder was fetched
		found := make(map[string]bool)
		mailbox, matches, err := s.scanFolder(ctx, sess, folder, func(h *types.EmailHeader) bool {
			key := dedupeKey(h)
			if thread.ID(h) != threadID || seen[key] || found[key] {
				return false
			}
			found[key] = true
			return true
		})
		if err != nil {
			log.WithError(err).Warn("Skipping folder during thread scan")
			continue
		}
		if len(matches) == 0 {
			continue
		}

		msgs, err := Prefetch(ctx, sess.conn, seqSetOf(seqNums(matches)...), ProfileDetail)
		if err != nil {
			log.WithError(err).Warn("Failed to fetch thread messages")
			continue
		}
		for key := range found {
			seen[key] = true
		}
		for _, m := range msgs {
			visit(m, mailbox)
		}
	}
	return nil
}

// scanFolder selects a folder and returns the headers accepted by keep.
// The folder stays selected on return.
func (s *Service) scanFolder(ctx context.Context, sess *Session, folder string, keep func(*types.EmailHeader) bool) (string, []*types.EmailHeader, error) {
	mailbox, err := s.resolver.Resolve(ctx, sess, folder)
	if err != nil {
		return "", nil, err
	}
	count, err := sess.conn.Select(ctx, mailbox)
	if err != nil {
		return mailbox, nil, fmt.Errorf("failed to select folder %s: %w", mailbox, err)
	}
	if count == 0 {
		return mailbox, nil, nil
	}

	all := new(imap.SeqSet)
	all.AddRange(1, count)
	msgs, err := Prefetch(ctx, sess.conn, all, ProfileHeaders)
	if err != nil {
		return mailbox, nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	var kept []*types.EmailHeader
	for _, h := range s.decoder.Headers(msgs, mailbox) {
		if keep(h) {
			kept = append(kept, h)
		}
	}
	return mailbox, kept, nil
}

// Search runs query against a folder and returns one page of matches, newest first
func (s *Service) Search(ctx context.Context, user, query, folder string, page, size int) (*types.SearchResult, error) {
	page, size = s.normalizePage(page, size)

	sess, err := s.session(ctx, user)
	if err != nil {
		return nil, err
	}
	defer sess.Unlock()

	mailbox, err := s.resolver.Resolve(ctx, sess, folder)
	if err != nil {
		return nil, err
	}
	if _, err := sess.conn.Select(ctx, mailbox); err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", mailbox, err)
	}

	criteria := search.Criteria(search.Parse(query))
	seqs, err := sess.conn.Search(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}

	result := &types.SearchResult{
		Emails:     []*types.EmailHeader{},
		TotalCount: len(seqs),
		Page:       page,
		Size:       size,
	}
	if len(seqs) == 0 {
		return result, nil
	}

	msgs, err := Prefetch(ctx, sess.conn, seqSetOf(seqs...), ProfileHeaders)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	headers := s.decoder.Headers(msgs, mailbox)
	sort.SliceStable(headers, func(i, j int) bool {
		if headers[i].Date.Equal(headers[j].Date) {
			return headers[i].SeqNum > headers[j].SeqNum
		}
		return headers[i].Date.After(headers[j].Date)
	})

	from := page * size
	if from >= len(headers) {
		return result, nil
	}
	to := from + size
	if to > len(headers) {
		to = len(headers)
	}
	result.Emails = headers[from:to]
	return result, nil
}

// GetDetail finds a message by Message-ID and returns its full content.
// Without a folder DRAFTS is searched first, then the other standard folders.
func (s *Service) GetDetail(ctx context.Context, user, messageID, folder string) (*types.EmailDetail, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, fmt.Errorf("%w: message id is required", ErrInvalidRequest)
	}

	folders := []string{folder}
	if strings.TrimSpace(folder) == "" {
		folders = append([]string{FolderDrafts}, withoutFolder(StandardFolders, FolderDrafts)...)
	}

	sess, err := s.session(ctx, user)
	if err != nil {
		return nil, err
	}
	defer sess.Unlock()

	for _, f := range folders {
		detail, err := s.findDetail(ctx, sess, f, messageID)
		if err != nil {
			if errors.Is(err, ErrFolderNotFound) && len(folders) == 1 {
				return nil, err
			}
			s.logger.WithError(err).WithField("folder", f).Debug("Message lookup failed in folder")
			continue
		}
		if detail != nil {
			return detail, nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
}

func (s *Service) findDetail(ctx context.Context, sess *Session, folder, messageID string) (*types.EmailDetail, error) {
	mailbox, seq, err := s.locate(ctx, sess, folder, messageID)
	if err != nil || seq == 0 {
		return nil, err
	}

	msgs, err := Prefetch(ctx, sess.conn, seqSetOf(seq), ProfileDetail)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	for _, m := range msgs {
		d, err := s.decoder.ToDetail(m, mailbox, detailEdit)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
	}
	return nil, nil
}

// locate selects folder and returns the sequence number of the live message
// whose Message-ID equals messageID, or 0 when absent
func (s *Service) locate(ctx context.Context, sess *Session, folder, messageID string) (string, uint32, error) {
	mailbox, err := s.resolver.Resolve(ctx, sess, folder)
	if err != nil {
		return "", 0, err
	}
	count, err := sess.conn.Select(ctx, mailbox)
	if err != nil {
		return mailbox, 0, fmt.Errorf("failed to select folder %s: %w", mailbox, err)
	}
	if count == 0 {
		return mailbox, 0, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-Id", bareMessageID(messageID))
	seqs, err := sess.conn.Search(ctx, criteria)
	if err != nil {
		return mailbox, 0, fmt.Errorf("failed to search emails: %w", err)
	}
	if len(seqs) == 0 {
		return mailbox, 0, nil
	}

	msgs, err := Prefetch(ctx, sess.conn, seqSetOf(seqs...), ProfileHeaders)
	if err != nil {
		return mailbox, 0, fmt.Errorf("failed to fetch messages: %w", err)
	}
	for _, h := range s.decoder.Headers(msgs, mailbox) {
		if sameMessageID(h.HeaderMessageID, messageID) {
			return mailbox, h.SeqNum, nil
		}
	}
	return mailbox, 0, nil
}

// ListFolders lists the account's mailboxes with their message counts
func (s *Service) ListFolders(ctx context.Context, user string) ([]types.Folder, error) {
	sess, err := s.session(ctx, user)
	if err != nil {
		return nil, err
	}
	defer sess.Unlock()

	names, err := sess.conn.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	sort.Strings(names)

	folders := make([]types.Folder, 0, len(names))
	for _, name := range names {
		count, err := sess.conn.Select(ctx, name)
		if err != nil {
			s.logger.WithError(err).WithField("folder", name).Debug("Failed to read folder status")
		}
		folders = append(folders, types.Folder{Name: name, MessageCount: int(count)})
	}
	return folders, nil
}

// Logout drops the user's session
func (s *Service) Logout(user string) {
	s.sessions.Logout(user)
}

func sortBySeqDesc(headers []*types.EmailHeader) {
	sort.SliceStable(headers, func(i, j int) bool {
		return headers[i].SeqNum > headers[j].SeqNum
	})
}

func seqNums(headers []*types.EmailHeader) []uint32 {
	nums := make([]uint32, len(headers))
	for i, h := range headers {
		nums[i] = h.SeqNum
	}
	return nums
}

// dedupeKey identifies one logical message across folders. Messages
// without a Message-ID fall back to a fingerprint of subject, sender and
// date, which COPY preserves.
func dedupeKey(h *types.EmailHeader) string {
	if h.HeaderMessageID != "" {
		return bareMessageID(h.HeaderMessageID)
	}
	return fmt.Sprintf("fp:%s|%s|%d", thread.NormalizeSubject(h.Subject), thread.BareAddress(h.From), h.Date.Unix())
}

func bareMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

func sameMessageID(a, b string) bool {
	return a != "" && bareMessageID(a) == bareMessageID(b)
}

func withoutFolder(folders []string, drop string) []string {
	out := make([]string, 0, len(folders))
	for _, f := range folders {
		if f != drop {
			out = append(out, f)
		}
	}
	return out
}
