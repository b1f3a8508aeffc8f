package email

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-mbox"
)

// ExportConversation writes every message of a thread to w in mbox format,
// oldest first, and returns how many were written
func (s *Service) ExportConversation(ctx context.Context, user, threadID string, w io.Writer) (int, error) {
	type entry struct {
		from string
		date time.Time
		raw  []byte
	}

	var entries []entry
	err := s.forEachThreadMessage(ctx, user, threadID, func(msg *imap.Message, mailbox string) {
		h, err := s.decoder.ToHeader(msg, mailbox)
		if err != nil || h == nil {
			return
		}
		raw := sectionBody(msg, false)
		if len(raw) == 0 {
			return
		}
		from := "MAILER-DAEMON"
		if len(msg.Envelope.From) > 0 && msg.Envelope.From[0].MailboxName != "" {
			from = msg.Envelope.From[0].Address()
		}
		entries = append(entries, entry{from: from, date: h.Date, raw: raw})
	})
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("conversation %s: %w", threadID, ErrNotFound)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].date.Before(entries[j].date)
	})

	mw := mbox.NewWriter(w)
	for _, e := range entries {
		mr, err := mw.CreateMessage(e.from, e.date)
		if err != nil {
			return 0, fmt.Errorf("failed to write mbox entry: %w", err)
		}
		if _, err := mr.Write(e.raw); err != nil {
			return 0, fmt.Errorf("failed to write mbox entry: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish mbox: %w", err)
	}
	return len(entries), nil
}
