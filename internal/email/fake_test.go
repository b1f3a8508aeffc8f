package email

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mail-engine/internal/credential"
	"github.com/brandon/mail-engine/internal/store"
	"github.com/brandon/mail-engine/pkg/types"
)

const testUser = "jane@example.com"

// fakeMessage is one stored message of the fake server
type fakeMessage struct {
	uid   uint32
	flags []string
	date  time.Time
	raw   []byte
}

func (m *fakeMessage) hasFlag(flag string) bool {
	return hasFlag(m.flags, flag)
}

// fakeServer is an in-memory IMAP account shared by the connections it hands out
type fakeServer struct {
	mu        sync.Mutex
	mailboxes map[string][]*fakeMessage
	nextUID   uint32
	failures  map[string]error
	fetches   int
	creates   []string
}

func newFakeServer(mailboxes ...string) *fakeServer {
	s := &fakeServer{
		mailboxes: make(map[string][]*fakeMessage),
		failures:  make(map[string]error),
	}
	for _, name := range append([]string{"INBOX"}, mailboxes...) {
		s.mailboxes[name] = nil
	}
	return s
}

// failOn makes op fail; key is "op" or "op:mailbox"
func (s *fakeServer) failOn(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key] = err
}

func (s *fakeServer) check(op, mailbox string) error {
	if err, ok := s.failures[op+":"+mailbox]; ok {
		return err
	}
	return s.failures[op]
}

func (s *fakeServer) add(mailbox string, raw []byte, flags ...string) *fakeMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUID++
	m := &fakeMessage{uid: s.nextUID, flags: flags, date: time.Now(), raw: raw}
	s.mailboxes[mailbox] = append(s.mailboxes[mailbox], m)
	return m
}

func (s *fakeServer) messages(mailbox string) []*fakeMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeMessage(nil), s.mailboxes[mailbox]...)
}

func (s *fakeServer) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// fakeConn implements Conn against a fakeServer
type fakeConn struct {
	srv      *fakeServer
	selected string
	dead     bool
}

func (c *fakeConn) Alive() bool { return !c.dead }

func (c *fakeConn) List(ctx context.Context) ([]string, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if err := c.srv.check("list", ""); err != nil {
		return nil, &ProtocolError{Op: "list", Err: err}
	}
	names := make([]string, 0, len(c.srv.mailboxes))
	for name := range c.srv.mailboxes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *fakeConn) Create(ctx context.Context, name string) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if err := c.srv.check("create", name); err != nil {
		return &ProtocolError{Op: "create", Err: err}
	}
	if _, ok := c.srv.mailboxes[name]; ok {
		return &ProtocolError{Op: "create", Err: errors.New("mailbox exists")}
	}
	c.srv.mailboxes[name] = nil
	c.srv.creates = append(c.srv.creates, name)
	return nil
}

func (c *fakeConn) Select(ctx context.Context, name string) (uint32, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if err := c.srv.check("select", name); err != nil {
		return 0, &ProtocolError{Op: "select", Err: err}
	}
	box, ok := c.srv.mailboxes[name]
	if !ok {
		return 0, &ProtocolError{Op: "select", Err: errors.New("no such mailbox")}
	}
	c.selected = name
	return uint32(len(box)), nil
}

func (c *fakeConn) box() ([]*fakeMessage, error) {
	if c.selected == "" {
		return nil, errors.New("no mailbox selected")
	}
	return c.srv.mailboxes[c.selected], nil
}

func (c *fakeConn) Fetch(ctx context.Context, seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.fetches++
	if err := c.srv.check("fetch", c.selected); err != nil {
		return nil, &ProtocolError{Op: "fetch", Err: err}
	}
	for _, item := range items {
		if item != fullSection.FetchItem() {
			continue
		}
		// "fetch-body" fails only fetches of the full message
		if err := c.srv.check("fetch-body", c.selected); err != nil {
			return nil, &ProtocolError{Op: "fetch", Err: err}
		}
	}
	box, err := c.box()
	if err != nil {
		return nil, &ProtocolError{Op: "fetch", Err: err}
	}

	var out []*imap.Message
	for i, m := range box {
		seq := uint32(i + 1)
		if !seqset.Contains(seq) {
			continue
		}
		msg, err := fakeFetch(seq, m, items)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func fakeFetch(seq uint32, m *fakeMessage, items []imap.FetchItem) (*imap.Message, error) {
	header, _ := splitRaw(m.raw)
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(header)))
	if err != nil {
		return nil, err
	}
	mh := mail.Header{Header: message.Header{Header: h}}

	msg := &imap.Message{
		SeqNum:       seq,
		Uid:          m.uid,
		Flags:        append([]string(nil), m.flags...),
		InternalDate: m.date,
		Body:         make(map[*imap.BodySectionName]imap.Literal),
	}

	env := &imap.Envelope{
		Subject:   h.Get("Subject"),
		MessageId: h.Get("Message-Id"),
		InReplyTo: h.Get("In-Reply-To"),
	}
	env.Date, _ = mh.Date()
	env.From = envelopeAddresses(mh, "From")
	env.To = envelopeAddresses(mh, "To")
	env.Cc = envelopeAddresses(mh, "Cc")
	msg.Envelope = env

	for _, item := range items {
		section, err := imap.ParseBodySectionName(item)
		if err != nil {
			continue
		}
		if section.Specifier == imap.HeaderSpecifier {
			var b strings.Builder
			for _, f := range section.Fields {
				if v := h.Get(f); v != "" {
					fmt.Fprintf(&b, "%s: %s\r\n", f, v)
				}
			}
			b.WriteString("\r\n")
			msg.Body[section] = bytes.NewBufferString(b.String())
		} else {
			msg.Body[section] = bytes.NewBuffer(append([]byte(nil), m.raw...))
		}
	}
	return msg, nil
}

func envelopeAddresses(h mail.Header, key string) []*imap.Address {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	var out []*imap.Address
	for _, a := range list {
		at := strings.LastIndexByte(a.Address, '@')
		if at < 0 {
			out = append(out, &imap.Address{PersonalName: a.Name, MailboxName: a.Address})
			continue
		}
		out = append(out, &imap.Address{
			PersonalName: a.Name,
			MailboxName:  a.Address[:at],
			HostName:     a.Address[at+1:],
		})
	}
	return out
}

func splitRaw(raw []byte) ([]byte, []byte) {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return raw[:i+4], raw[i+4:]
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return raw[:i+2], raw[i+2:]
	}
	return raw, nil
}

func (c *fakeConn) Search(ctx context.Context, criteria *imap.SearchCriteria) ([]uint32, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if err := c.srv.check("search", c.selected); err != nil {
		return nil, &ProtocolError{Op: "search", Err: err}
	}
	box, err := c.box()
	if err != nil {
		return nil, &ProtocolError{Op: "search", Err: err}
	}

	var seqs []uint32
	for i, m := range box {
		if matchesCriteria(m, criteria) {
			seqs = append(seqs, uint32(i+1))
		}
	}
	return seqs, nil
}

func matchesCriteria(m *fakeMessage, c *imap.SearchCriteria) bool {
	header, body := splitRaw(m.raw)
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(header)))
	if err != nil {
		return false
	}
	for key, values := range c.Header {
		for _, v := range values {
			if !strings.Contains(strings.ToLower(h.Get(key)), strings.ToLower(v)) {
				return false
			}
		}
	}
	for _, v := range c.Body {
		if !strings.Contains(strings.ToLower(string(body)), strings.ToLower(v)) {
			return false
		}
	}
	for _, pair := range c.Or {
		if !matchesCriteria(m, pair[0]) && !matchesCriteria(m, pair[1]) {
			return false
		}
	}
	return true
}

func (c *fakeConn) Store(ctx context.Context, seqset *imap.SeqSet, add bool, flags []string) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if err := c.srv.check("store", c.selected); err != nil {
		return &ProtocolError{Op: "store", Err: err}
	}
	box, err := c.box()
	if err != nil {
		return &ProtocolError{Op: "store", Err: err}
	}
	for i, m := range box {
		if !seqset.Contains(uint32(i + 1)) {
			continue
		}
		for _, f := range flags {
			if add && !m.hasFlag(f) {
				m.flags = append(m.flags, f)
			}
			if !add {
				kept := m.flags[:0]
				for _, existing := range m.flags {
					if !strings.EqualFold(existing, f) {
						kept = append(kept, existing)
					}
				}
				m.flags = kept
			}
		}
	}
	return nil
}

func (c *fakeConn) Copy(ctx context.Context, seqset *imap.SeqSet, dest string) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if err := c.srv.check("copy", c.selected); err != nil {
		return &ProtocolError{Op: "copy", Err: err}
	}
	if _, ok := c.srv.mailboxes[dest]; !ok {
		return &ProtocolError{Op: "copy", Err: errors.New("no such mailbox")}
	}
	box, err := c.box()
	if err != nil {
		return &ProtocolError{Op: "copy", Err: err}
	}
	for i, m := range box {
		if !seqset.Contains(uint32(i + 1)) {
			continue
		}
		c.srv.nextUID++
		c.srv.mailboxes[dest] = append(c.srv.mailboxes[dest], &fakeMessage{
			uid:   c.srv.nextUID,
			flags: append([]string(nil), m.flags...),
			date:  m.date,
			raw:   m.raw,
		})
	}
	return nil
}

func (c *fakeConn) Expunge(ctx context.Context) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if err := c.srv.check("expunge", c.selected); err != nil {
		return &ProtocolError{Op: "expunge", Err: err}
	}
	c.expungeLocked()
	return nil
}

func (c *fakeConn) expungeLocked() {
	box := c.srv.mailboxes[c.selected]
	kept := box[:0]
	for _, m := range box {
		if !m.hasFlag(imap.DeletedFlag) {
			kept = append(kept, m)
		}
	}
	c.srv.mailboxes[c.selected] = kept
}

func (c *fakeConn) CloseMailbox(ctx context.Context) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if err := c.srv.check("close", c.selected); err != nil {
		return &ProtocolError{Op: "close", Err: err}
	}
	if c.selected == "" {
		return &ProtocolError{Op: "close", Err: errors.New("no mailbox selected")}
	}
	c.expungeLocked()
	c.selected = ""
	return nil
}

func (c *fakeConn) Append(ctx context.Context, mailbox string, flags []string, date time.Time, raw []byte) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if err := c.srv.check("append", mailbox); err != nil {
		return &ProtocolError{Op: "append", Err: err}
	}
	if _, ok := c.srv.mailboxes[mailbox]; !ok {
		return &ProtocolError{Op: "append", Err: errors.New("no such mailbox")}
	}
	c.srv.nextUID++
	c.srv.mailboxes[mailbox] = append(c.srv.mailboxes[mailbox], &fakeMessage{
		uid:   c.srv.nextUID,
		flags: append([]string(nil), flags...),
		date:  date,
		raw:   raw,
	})
	return nil
}

func (c *fakeConn) Logout() error {
	c.dead = true
	return nil
}

// fakeDialer hands out connections to one fake server
type fakeDialer struct {
	srv   *fakeServer
	mu    sync.Mutex
	dials int
	err   error
	gate  chan struct{}
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	if ep.Password != "secret" {
		return nil, errors.New("authentication failed")
	}
	conn := &fakeConn{srv: d.srv}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// fakeCreds is a CredentialStore held in memory
type fakeCreds struct {
	mu        sync.Mutex
	creds     map[string]*store.Credential
	connected map[string]time.Time
}

func (f *fakeCreds) GetCredential(ctx context.Context, email string) (*store.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds[email], nil
}

func (f *fakeCreds) RecordLastConnection(ctx context.Context, email string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[email] = at
	return nil
}

// recordingNotifier keeps published notifications
type recordingNotifier struct {
	mu     sync.Mutex
	events []types.Notification
}

func (r *recordingNotifier) Publish(user string, n types.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, n)
}

func (r *recordingNotifier) all() []types.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Notification(nil), r.events...)
}

// fakeLabels records label calls
type fakeLabels struct {
	applied map[string]int64
	err     error
}

func (f *fakeLabels) ApplyLabel(ctx context.Context, userID, messageUID, folder string, labelID int64) error {
	if f.err != nil {
		return f.err
	}
	f.applied[folder+"/"+messageUID] = labelID
	return nil
}

func (f *fakeLabels) RemoveLabel(ctx context.Context, userID, messageUID, folder string, labelID int64) error {
	if f.err != nil {
		return f.err
	}
	delete(f.applied, folder+"/"+messageUID)
	return nil
}

func (f *fakeLabels) ListLabelsForMessage(ctx context.Context, userID, messageUID, folder string) ([]types.Label, error) {
	return nil, nil
}

// harness wires a Service to a fake server
type harness struct {
	srv      *fakeServer
	dialer   *fakeDialer
	creds    *fakeCreds
	notifier *recordingNotifier
	labels   *fakeLabels
	sessions *SessionStore
	service  *Service
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newHarness(t *testing.T, mailboxes ...string) *harness {
	t.Helper()
	logger := testLogger()

	cipher, err := credential.NewCipher("test-secret")
	require.NoError(t, err)
	encrypted, err := cipher.Encrypt("secret")
	require.NoError(t, err)

	h := &harness{
		srv: newFakeServer(mailboxes...),
		creds: &fakeCreds{
			creds: map[string]*store.Credential{
				testUser: {
					Email:             testUser,
					EncryptedPassword: encrypted,
					IMAPHost:          "imap.example.com",
					IMAPPort:          993,
					IMAPTLS:           true,
				},
			},
			connected: make(map[string]time.Time),
		},
		notifier: &recordingNotifier{},
		labels:   &fakeLabels{applied: make(map[string]int64)},
	}
	h.dialer = &fakeDialer{srv: h.srv}
	h.sessions = NewSessionStore(h.creds, cipher, h.dialer, logger)
	h.service = NewService(h.sessions, h.labels, h.notifier, Options{}, logger)
	return h
}

// fixture describes a test message
type fixture struct {
	id         string
	from       string
	to         string
	subject    string
	date       time.Time
	inReplyTo  string
	references string
	text       string
	html       string
	attachment bool
}

func (f fixture) raw() []byte {
	var b strings.Builder
	from := f.from
	if from == "" {
		from = "Alice <alice@example.com>"
	}
	to := f.to
	if to == "" {
		to = testUser
	}
	date := f.date
	if date.IsZero() {
		date = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	}
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", f.subject)
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	if f.id != "" {
		fmt.Fprintf(&b, "Message-ID: %s\r\n", f.id)
	}
	if f.inReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", f.inReplyTo)
	}
	if f.references != "" {
		fmt.Fprintf(&b, "References: %s\r\n", f.references)
	}
	b.WriteString("MIME-Version: 1.0\r\n")

	switch {
	case f.attachment:
		b.WriteString("Content-Type: multipart/mixed; boundary=\"mix\"\r\n\r\n")
		b.WriteString("--mix\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(f.text + "\r\n")
		b.WriteString("--mix\r\nContent-Type: application/pdf\r\nContent-Disposition: attachment; filename=\"report.pdf\"\r\nContent-Transfer-Encoding: base64\r\n\r\n")
		b.WriteString("JVBERi0xLjQK\r\n")
		b.WriteString("--mix--\r\n")
	case f.html != "":
		b.WriteString("Content-Type: multipart/alternative; boundary=\"alt\"\r\n\r\n")
		if f.text != "" {
			b.WriteString("--alt\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
			b.WriteString(f.text + "\r\n")
		}
		b.WriteString("--alt\r\nContent-Type: text/html; charset=utf-8\r\n\r\n")
		b.WriteString(f.html + "\r\n")
		b.WriteString("--alt--\r\n")
	default:
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(f.text + "\r\n")
	}
	return []byte(b.String())
}
