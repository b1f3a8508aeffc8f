package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-engine/internal/thread"
	"github.com/brandon/mail-engine/pkg/types"
)

// EmailMessage is an outgoing message or draft
type EmailMessage struct {
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	BodyText    string
	BodyHTML    string
	Attachments []Attachment
	InReplyTo   string
	References  string
}

// Attachment is a file carried by an outgoing message
type Attachment struct {
	Filename string
	Content  []byte
	MimeType string
}

// ContactRecorder remembers who a user writes to
type ContactRecorder interface {
	RecordInteractions(ctx context.Context, userEmail string, addresses []string) error
}

// Composer sends mail and manages drafts
type Composer struct {
	service   *Service
	transport Transport
	contacts  ContactRecorder
	logger    *logrus.Logger
	now       func() time.Time
}

// NewComposer creates a composer. contacts may be nil.
func NewComposer(service *Service, transport Transport, contacts ContactRecorder, logger *logrus.Logger) *Composer {
	return &Composer{
		service:   service,
		transport: transport,
		contacts:  contacts,
		logger:    logger,
		now:       time.Now,
	}
}

func (m *EmailMessage) recipients() []string {
	var out []string
	for _, list := range [][]string{m.To, m.Cc, m.Bcc} {
		for _, entry := range list {
			for _, addr := range thread.SplitAddresses(entry) {
				if bare := thread.BareAddress(addr); bare != "" {
					out = append(out, bare)
				}
			}
		}
	}
	return out
}

func (m *EmailMessage) subject() string {
	if s := strings.TrimSpace(m.Subject); s != "" {
		return s
	}
	return noSubject
}

// Send delivers msg from user, files a copy in SENT and records the
// recipients as contacts. Returns the Message-ID.
func (c *Composer) Send(ctx context.Context, user string, msg *EmailMessage) (string, error) {
	recipients := msg.recipients()
	if len(recipients) == 0 {
		return "", fmt.Errorf("%w: at least one recipient is required", ErrInvalidRequest)
	}

	raw, messageID, err := c.buildOutgoing(user, msg)
	if err != nil {
		return "", err
	}

	if err := c.transport.Send(ctx, user, recipients, raw); err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}

	log := c.logger.WithField("user", maskEmail(user))
	if err := c.appendTo(ctx, user, FolderSent, []string{imap.SeenFlag}, raw); err != nil {
		log.WithError(err).Warn("Failed to save sent message")
	}
	if c.contacts != nil {
		if err := c.contacts.RecordInteractions(ctx, user, recipients); err != nil {
			log.WithError(err).Warn("Failed to record contacts")
		}
	}
	return messageID, nil
}

// SaveDraft stores msg in DRAFTS and returns its Message-ID
func (c *Composer) SaveDraft(ctx context.Context, user string, msg *EmailMessage) (string, error) {
	messageID := newMessageID(user)
	raw, err := c.buildDraft(user, messageID, msg)
	if err != nil {
		return "", err
	}
	if err := c.appendTo(ctx, user, FolderDrafts, []string{imap.DraftFlag}, raw); err != nil {
		return "", fmt.Errorf("failed to save draft: %w", err)
	}
	return "<" + messageID + ">", nil
}

// GetDraft returns a draft with its full content for editing
func (c *Composer) GetDraft(ctx context.Context, user, messageID string) (*types.EmailDetail, error) {
	return c.service.GetDetail(ctx, user, messageID, FolderDrafts)
}

// UpdateDraft replaces a draft and returns the new Message-ID
func (c *Composer) UpdateDraft(ctx context.Context, user, messageID string, msg *EmailMessage) (string, error) {
	newID := newMessageID(user)
	raw, err := c.buildDraft(user, newID, msg)
	if err != nil {
		return "", err
	}

	sess, err := c.service.session(ctx, user)
	if err != nil {
		return "", err
	}
	defer sess.Unlock()

	mailbox, seq, err := c.service.locate(ctx, sess, FolderDrafts, messageID)
	if err != nil {
		return "", err
	}
	if seq == 0 {
		return "", fmt.Errorf("draft %s: %w", messageID, ErrNotFound)
	}

	old := seqSetOf(seq)
	if err := sess.conn.Store(ctx, old, true, []string{imap.DeletedFlag}); err != nil {
		return "", fmt.Errorf("failed to replace draft: %w", err)
	}
	if err := sess.conn.Append(ctx, mailbox, []string{imap.DraftFlag}, c.now(), raw); err != nil {
		if restoreErr := sess.conn.Store(ctx, old, false, []string{imap.DeletedFlag}); restoreErr != nil {
			c.logger.WithError(restoreErr).Warn("Failed to restore old draft")
		}
		return "", fmt.Errorf("failed to save draft: %w", err)
	}
	if err := sess.conn.CloseMailbox(ctx); err != nil {
		c.logger.WithError(err).Warn("Failed to expunge replaced draft")
	}
	return "<" + newID + ">", nil
}

// DeleteDraft removes a draft. A missing draft is not an error.
func (c *Composer) DeleteDraft(ctx context.Context, user, messageID string) error {
	_, err := c.BulkDeleteDrafts(ctx, user, []string{messageID})
	return err
}

// BulkDeleteDrafts removes every draft whose Message-ID is listed, with or
// without angle brackets, and returns how many were removed
func (c *Composer) BulkDeleteDrafts(ctx context.Context, user string, messageIDs []string) (int, error) {
	wanted := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		if id = bareMessageID(id); id != "" {
			wanted[id] = true
		}
	}
	if len(wanted) == 0 {
		return 0, fmt.Errorf("%w: no draft ids given", ErrInvalidRequest)
	}

	sess, err := c.service.session(ctx, user)
	if err != nil {
		return 0, err
	}
	defer sess.Unlock()

	_, drafts, err := c.service.scanFolder(ctx, sess, FolderDrafts, func(h *types.EmailHeader) bool {
		return h.HeaderMessageID != "" && wanted[bareMessageID(h.HeaderMessageID)]
	})
	if err != nil {
		return 0, err
	}
	if len(drafts) == 0 {
		return 0, nil
	}

	if err := sess.conn.Store(ctx, seqSetOf(seqNums(drafts)...), true, []string{imap.DeletedFlag}); err != nil {
		return 0, fmt.Errorf("failed to delete drafts: %w", err)
	}
	if err := sess.conn.CloseMailbox(ctx); err != nil {
		return 0, fmt.Errorf("failed to expunge drafts: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"user":  maskEmail(user),
		"count": len(drafts),
	}).Info("Drafts deleted")
	return len(drafts), nil
}

func (c *Composer) appendTo(ctx context.Context, user, folder string, flags []string, raw []byte) error {
	sess, err := c.service.session(ctx, user)
	if err != nil {
		return err
	}
	defer sess.Unlock()

	mailbox, err := c.service.resolver.Resolve(ctx, sess, folder)
	if err != nil {
		return err
	}
	return sess.conn.Append(ctx, mailbox, flags, c.now(), raw)
}

// buildOutgoing encodes a message for delivery
func (c *Composer) buildOutgoing(user string, msg *EmailMessage) ([]byte, string, error) {
	messageID := "<" + newMessageID(user) + ">"

	b := enmime.Builder().
		From("", user).
		Subject(msg.subject()).
		Date(c.now()).
		Header("Message-ID", messageID)
	for _, a := range parseAddresses(msg.To) {
		b = b.To(a.Name, a.Address)
	}
	for _, a := range parseAddresses(msg.Cc) {
		b = b.CC(a.Name, a.Address)
	}
	for _, a := range parseAddresses(msg.Bcc) {
		b = b.BCC(a.Name, a.Address)
	}
	if msg.InReplyTo != "" {
		b = b.Header("In-Reply-To", msg.InReplyTo)
		refs := strings.TrimSpace(msg.References + " " + msg.InReplyTo)
		b = b.Header("References", refs)
	}

	if msg.BodyText != "" {
		b = b.Text([]byte(msg.BodyText))
	}
	if msg.BodyHTML != "" {
		b = b.HTML([]byte(msg.BodyHTML))
	}
	if msg.BodyText == "" && msg.BodyHTML == "" {
		b = b.Text([]byte{})
	}
	for _, att := range msg.Attachments {
		b = b.AddAttachment(att.Content, contentTypeOr(att.MimeType), att.Filename)
	}

	part, err := b.Build()
	if err != nil {
		return nil, "", fmt.Errorf("failed to create message: %w", err)
	}
	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, "", fmt.Errorf("failed to encode message: %w", err)
	}
	if id := part.Header.Get("Message-Id"); id != "" {
		messageID = id
	}
	return buf.Bytes(), messageID, nil
}

// buildDraft encodes a draft. Drafts may lack recipients and subject.
func (c *Composer) buildDraft(user, messageID string, msg *EmailMessage) ([]byte, error) {
	var h mail.Header
	h.SetDate(c.now())
	h.SetMessageID(messageID)
	h.SetSubject(msg.subject())
	h.SetAddressList("From", []*mail.Address{{Address: user}})
	if to := parseAddresses(msg.To); len(to) > 0 {
		h.SetAddressList("To", to)
	}
	if cc := parseAddresses(msg.Cc); len(cc) > 0 {
		h.SetAddressList("Cc", cc)
	}
	if bcc := parseAddresses(msg.Bcc); len(bcc) > 0 {
		h.SetAddressList("Bcc", bcc)
	}
	if msg.InReplyTo != "" {
		h.Set("In-Reply-To", msg.InReplyTo)
		h.Set("References", strings.TrimSpace(msg.References+" "+msg.InReplyTo))
	}

	var buf bytes.Buffer
	if err := writeDraftBody(&buf, h, msg); err != nil {
		return nil, fmt.Errorf("failed to create draft: %w", err)
	}
	return buf.Bytes(), nil
}

func writeDraftBody(buf *bytes.Buffer, h mail.Header, msg *EmailMessage) error {
	if len(msg.Attachments) == 0 && msg.BodyHTML == "" {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(buf, h)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, msg.BodyText); err != nil {
			return err
		}
		return w.Close()
	}

	if len(msg.Attachments) == 0 {
		iw, err := mail.CreateInlineWriter(buf, h)
		if err != nil {
			return err
		}
		if err := writeInlineParts(iw, msg); err != nil {
			return err
		}
		return iw.Close()
	}

	mw, err := mail.CreateWriter(buf, h)
	if err != nil {
		return err
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return err
	}
	if err := writeInlineParts(iw, msg); err != nil {
		return err
	}
	if err := iw.Close(); err != nil {
		return err
	}

	for _, att := range msg.Attachments {
		var ah mail.AttachmentHeader
		ah.SetContentType(contentTypeOr(att.MimeType), nil)
		ah.SetFilename(att.Filename)
		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return err
		}
		if _, err := w.Write(att.Content); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeInlineParts(iw *mail.InlineWriter, msg *EmailMessage) error {
	parts := []struct {
		mediaType string
		body      string
	}{
		{"text/plain", msg.BodyText},
		{"text/html", msg.BodyHTML},
	}
	for _, p := range parts {
		if p.body == "" && p.mediaType == "text/html" {
			continue
		}
		var ph mail.InlineHeader
		ph.SetContentType(p.mediaType, map[string]string{"charset": "utf-8"})
		w, err := iw.CreatePart(ph)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, p.body); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}

func parseAddresses(list []string) []*mail.Address {
	var out []*mail.Address
	for _, entry := range list {
		for _, raw := range thread.SplitAddresses(entry) {
			addr, err := mail.ParseAddress(raw)
			if err != nil {
				if bare := thread.BareAddress(raw); bare != "" {
					out = append(out, &mail.Address{Address: bare})
				}
				continue
			}
			out = append(out, addr)
		}
	}
	return out
}

func newMessageID(user string) string {
	domain := "localhost"
	if at := strings.LastIndexByte(user, '@'); at >= 0 && at < len(user)-1 {
		domain = user[at+1:]
	}
	return uuid.New().String() + "@" + domain
}

func contentTypeOr(ct string) string {
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}
