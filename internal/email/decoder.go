package email

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-engine/pkg/types"
)

const (
	noSubject     = "(No Subject)"
	unknownSender = "Unknown Sender"
	previewLength = 200
)

// detailMode selects how a detail view fills its bodies
type detailMode int

const (
	// detailView prefers plain text for reading
	detailView detailMode = iota
	// detailEdit keeps the full content for editing drafts and replies
	detailEdit
)

// Decoder converts fetched protocol messages into headers and details
type Decoder struct {
	logger *logrus.Logger
	now    func() time.Time
}

// NewDecoder creates a message decoder
func NewDecoder(logger *logrus.Logger) *Decoder {
	return &Decoder{logger: logger, now: time.Now}
}

// ToHeader builds the list projection of msg. Messages flagged \Deleted
// yield nil without error.
func (d *Decoder) ToHeader(msg *imap.Message, folder string) (*types.EmailHeader, error) {
	if msg == nil {
		return nil, errors.New("nil message")
	}
	if hasFlag(msg.Flags, imap.DeletedFlag) {
		return nil, nil
	}
	env := msg.Envelope
	if env == nil {
		return nil, fmt.Errorf("message %d has no envelope", msg.SeqNum)
	}

	fields := d.headerFields(msg)

	h := &types.EmailHeader{
		UID:       msg.Uid,
		SeqNum:    msg.SeqNum,
		Folder:    folder,
		Subject:   strings.TrimSpace(env.Subject),
		Unread:    !hasFlag(msg.Flags, imap.SeenFlag),
		InReplyTo: firstNonEmpty(fields.Get("In-Reply-To"), env.InReplyTo),
	}

	h.HeaderMessageID = firstNonEmpty(fields.Get("Message-Id"), env.MessageId)
	h.MessageID = h.HeaderMessageID
	if h.MessageID == "" {
		h.MessageID = fmt.Sprintf("msg-%d-%d", msg.SeqNum, d.now().UnixMilli())
	}
	h.References = strings.Join(strings.Fields(fields.Get("References")), " ")

	if h.Subject == "" {
		h.Subject = noSubject
	}

	h.From = unknownSender
	if len(env.From) > 0 {
		if from := formatAddress(env.From[0]); from != "" {
			h.From = from
		}
	}

	switch {
	case !env.Date.IsZero():
		h.Date = env.Date
	case !msg.InternalDate.IsZero():
		h.Date = msg.InternalDate
	default:
		h.Date = d.now()
	}

	ct := message.Header{Header: fields}
	if mediaType, _, err := ct.ContentType(); err == nil {
		h.HasAttachments = mediaType == "multipart/mixed" || mediaType == "multipart/related"
	}

	return h, nil
}

// ToDetail builds the full view of msg, which must have been fetched with ProfileDetail
func (d *Decoder) ToDetail(msg *imap.Message, folder string, mode detailMode) (*types.EmailDetail, error) {
	header, err := d.ToHeader(msg, folder)
	if err != nil || header == nil {
		return nil, err
	}

	raw := sectionBody(msg, false)
	if len(raw) == 0 {
		return nil, fmt.Errorf("message %d has no body", msg.SeqNum)
	}

	detail := &types.EmailDetail{
		EmailHeader: *header,
		To:          formatAddresses(msg.Envelope.To),
		Cc:          formatAddresses(msg.Envelope.Cc),
		Bcc:         formatAddresses(msg.Envelope.Bcc),
	}

	switch mode {
	case detailEdit:
		full, err := extractBody(raw, concatenate)
		if err != nil {
			return nil, err
		}
		if looksLikeHTML(full) {
			detail.HTMLContent = full
			detail.TextContent = htmlToText(full)
		} else {
			detail.TextContent = full
			detail.HTMLContent = preWrap(full)
		}
	default:
		text, err := extractBody(raw, plainPreferred)
		if err != nil {
			return nil, err
		}
		html, err := extractBody(raw, htmlFirst)
		if err != nil {
			return nil, err
		}
		if html == "" {
			html = preWrap(text)
		}
		detail.TextContent = text
		detail.HTMLContent = html
	}

	detail.Preview = snippet(detail.TextContent)
	detail.Attachments = d.attachments(raw)
	return detail, nil
}

// Headers decodes a batch, dropping messages that fail to decode
func (d *Decoder) Headers(msgs []*imap.Message, folder string) []*types.EmailHeader {
	headers := make([]*types.EmailHeader, 0, len(msgs))
	for _, msg := range msgs {
		h, err := d.ToHeader(msg, folder)
		if err != nil {
			d.logger.WithError(err).WithField("folder", folder).Debug("Skipping undecodable message")
			continue
		}
		if h != nil {
			headers = append(headers, h)
		}
	}
	return headers
}

func (d *Decoder) headerFields(msg *imap.Message) textproto.Header {
	raw := sectionBody(msg, true)
	if len(raw) == 0 {
		return textproto.Header{}
	}
	if !bytes.HasSuffix(raw, []byte("\r\n\r\n")) && !bytes.HasSuffix(raw, []byte("\n\n")) {
		raw = append(raw, '\r', '\n', '\r', '\n')
	}
	fields, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		d.logger.WithError(err).WithField("seq", msg.SeqNum).Debug("Failed to parse header fields")
		return textproto.Header{}
	}
	return fields
}

func (d *Decoder) attachments(raw []byte) []types.AttachmentInfo {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		d.logger.WithError(err).Debug("Failed to list attachments")
		return nil
	}

	var out []types.AttachmentInfo
	for _, part := range env.Attachments {
		out = append(out, types.AttachmentInfo{
			FileName:    part.FileName,
			ContentType: part.ContentType,
			Size:        len(part.Content),
		})
	}
	return out
}

func formatAddress(addr *imap.Address) string {
	if addr == nil || addr.MailboxName == "" {
		return ""
	}
	email := addr.Address()
	if addr.PersonalName != "" {
		return fmt.Sprintf("%s <%s>", addr.PersonalName, email)
	}
	return email
}

func formatAddresses(addrs []*imap.Address) []string {
	out := []string{}
	for _, a := range addrs {
		if s := formatAddress(a); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// snippet shortens text to a single-line preview
func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewLength]) + "..."
}
