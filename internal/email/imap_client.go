package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/charset"
	"github.com/sirupsen/logrus"
)

func init() {
	imap.CharsetReader = charset.Reader
}

// Conn is one authenticated IMAP connection. Implementations are not safe
// for concurrent use; Session serializes access.
type Conn interface {
	// Alive reports whether the connection can still be used
	Alive() bool
	List(ctx context.Context) ([]string, error)
	Create(ctx context.Context, name string) error
	// Select opens a mailbox read-write and returns its message count
	Select(ctx context.Context, name string) (uint32, error)
	Fetch(ctx context.Context, seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error)
	Search(ctx context.Context, criteria *imap.SearchCriteria) ([]uint32, error)
	Store(ctx context.Context, seqset *imap.SeqSet, add bool, flags []string) error
	Copy(ctx context.Context, seqset *imap.SeqSet, dest string) error
	Expunge(ctx context.Context) error
	// CloseMailbox closes the selected mailbox, expunging \Deleted messages
	CloseMailbox(ctx context.Context) error
	Append(ctx context.Context, mailbox string, flags []string, date time.Time, raw []byte) error
	Logout() error
}

// Endpoint holds what is needed to open an IMAP connection
type Endpoint struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
}

func (e Endpoint) addr() string {
	return net.JoinHostPort(e.Host, fmt.Sprintf("%d", e.Port))
}

// Dialer opens authenticated connections
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// IMAPDialer dials real servers with go-imap
type IMAPDialer struct {
	Timeout time.Duration
	Logger  *logrus.Logger
}

// NewIMAPDialer creates a dialer whose connections bound every command by timeout
func NewIMAPDialer(timeout time.Duration, logger *logrus.Logger) *IMAPDialer {
	return &IMAPDialer{Timeout: timeout, Logger: logger}
}

// Dial connects and logs in
func (d *IMAPDialer) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	var cl *client.Client
	err := withTimeout(ctx, d.Timeout, func() error {
		nd := &net.Dialer{Timeout: d.Timeout}
		var err error
		if ep.TLS {
			cl, err = client.DialWithDialerTLS(nd, ep.addr(), &tls.Config{
				ServerName: ep.Host,
				MinVersion: tls.VersionTLS12,
			})
		} else {
			cl, err = client.DialWithDialer(nd, ep.addr())
		}
		if err != nil {
			return fmt.Errorf("failed to connect to IMAP server: %w", err)
		}

		if err := cl.Login(ep.Username, ep.Password); err != nil {
			cl.Logout() //nolint:errcheck
			return fmt.Errorf("failed to login to IMAP server: %w", err)
		}
		return nil
	})
	if err != nil {
		if cl != nil && errors.Is(err, errTimeout) {
			cl.Terminate() //nolint:errcheck
		}
		return nil, err
	}

	cl.Timeout = d.Timeout
	d.Logger.WithFields(logrus.Fields{
		"user": maskEmail(ep.Username),
		"host": ep.Host,
	}).Info("Connected to IMAP server")

	return &imapConn{client: cl, timeout: d.Timeout, logger: d.Logger}, nil
}

// imapConn adapts *client.Client to Conn
type imapConn struct {
	client  *client.Client
	timeout time.Duration
	broken  atomic.Bool
	logger  *logrus.Logger
}

func (c *imapConn) Alive() bool {
	if c.broken.Load() {
		return false
	}
	switch c.client.State() {
	case imap.AuthenticatedState, imap.SelectedState:
		return true
	default:
		return false
	}
}

// run executes one command under the connection timeout. A timed out
// connection is unusable because the response may still arrive later.
func (c *imapConn) run(ctx context.Context, op string, fn func() error) error {
	err := withTimeout(ctx, c.timeout, fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, errTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.broken.Store(true)
		c.client.Terminate() //nolint:errcheck
		c.logger.WithField("op", op).Warn("IMAP command timed out, connection dropped")
	}
	return &ProtocolError{Op: op, Err: err}
}

func (c *imapConn) List(ctx context.Context) ([]string, error) {
	var names []string
	err := c.run(ctx, "list", func() error {
		mailboxes := make(chan *imap.MailboxInfo, 10)
		done := make(chan error, 1)
		go func() {
			done <- c.client.List("", "*", mailboxes)
		}()

		for m := range mailboxes {
			names = append(names, m.Name)
		}
		return <-done
	})
	return names, err
}

func (c *imapConn) Create(ctx context.Context, name string) error {
	return c.run(ctx, "create", func() error {
		return c.client.Create(name)
	})
}

func (c *imapConn) Select(ctx context.Context, name string) (uint32, error) {
	var count uint32
	err := c.run(ctx, "select", func() error {
		mbox, err := c.client.Select(name, false)
		if err != nil {
			return err
		}
		count = mbox.Messages
		return nil
	})
	return count, err
}

func (c *imapConn) Fetch(ctx context.Context, seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	var msgs []*imap.Message
	err := c.run(ctx, "fetch", func() error {
		messages := make(chan *imap.Message, 10)
		done := make(chan error, 1)
		go func() {
			done <- c.client.Fetch(seqset, items, messages)
		}()

		for msg := range messages {
			msgs = append(msgs, msg)
		}
		return <-done
	})
	return msgs, err
}

func (c *imapConn) Search(ctx context.Context, criteria *imap.SearchCriteria) ([]uint32, error) {
	var seqNums []uint32
	err := c.run(ctx, "search", func() error {
		var err error
		seqNums, err = c.client.Search(criteria)
		return err
	})
	return seqNums, err
}

func (c *imapConn) Store(ctx context.Context, seqset *imap.SeqSet, add bool, flags []string) error {
	op := imap.FlagsOp(imap.RemoveFlags)
	if add {
		op = imap.AddFlags
	}
	values := make([]interface{}, len(flags))
	for i, f := range flags {
		values[i] = f
	}
	return c.run(ctx, "store", func() error {
		return c.client.Store(seqset, imap.FormatFlagsOp(op, true), values, nil)
	})
}

func (c *imapConn) Copy(ctx context.Context, seqset *imap.SeqSet, dest string) error {
	return c.run(ctx, "copy", func() error {
		return c.client.Copy(seqset, dest)
	})
}

func (c *imapConn) Expunge(ctx context.Context) error {
	return c.run(ctx, "expunge", func() error {
		return c.client.Expunge(nil)
	})
}

func (c *imapConn) CloseMailbox(ctx context.Context) error {
	return c.run(ctx, "close", func() error {
		return c.client.Close()
	})
}

func (c *imapConn) Append(ctx context.Context, mailbox string, flags []string, date time.Time, raw []byte) error {
	return c.run(ctx, "append", func() error {
		return c.client.Append(mailbox, flags, date, bytes.NewBuffer(raw))
	})
}

func (c *imapConn) Logout() error {
	if c.broken.Load() {
		return c.client.Terminate()
	}
	return c.client.Logout()
}
