package email

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/brandon/mail-engine/internal/store"
)

// CredentialStore supplies encrypted logins for reconnecting users
type CredentialStore interface {
	// GetCredential returns nil, nil when the user has no stored credential
	GetCredential(ctx context.Context, email string) (*store.Credential, error)
	RecordLastConnection(ctx context.Context, email string, at time.Time) error
}

// Decrypter recovers a stored password
type Decrypter interface {
	Decrypt(encoded string) (string, error)
}

// Session is a user's live IMAP connection. IMAP allows one selected
// mailbox per connection, so callers hold Lock for a whole command sequence.
type Session struct {
	User      string
	CreatedAt time.Time

	conn     Conn
	mu       sync.Mutex
	folders  map[string]string
	initOnce sync.Once
}

func newSession(user string, conn Conn, now time.Time) *Session {
	return &Session{
		User:      user,
		CreatedAt: now,
		conn:      conn,
		folders:   make(map[string]string),
	}
}

// Lock serializes protocol use of the session
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session
func (s *Session) Unlock() { s.mu.Unlock() }

// Alive reports whether the underlying connection is usable
func (s *Session) Alive() bool {
	return s.conn != nil && s.conn.Alive()
}

// Conn returns the session connection; hold Lock while using it
func (s *Session) Conn() Conn {
	return s.conn
}

// SessionStore keeps at most one live session per user and rebuilds dead
// ones from stored credentials.
type SessionStore struct {
	creds    CredentialStore
	cipher   Decrypter
	dialer   Dialer
	sessions sync.Map
	group    singleflight.Group
	logger   *logrus.Logger
	now      func() time.Time
}

// NewSessionStore creates a session store
func NewSessionStore(creds CredentialStore, cipher Decrypter, dialer Dialer, logger *logrus.Logger) *SessionStore {
	return &SessionStore{
		creds:  creds,
		cipher: cipher,
		dialer: dialer,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns the user's live session, reconnecting when needed. Concurrent
// reconnects for one user share a single dial.
func (s *SessionStore) Get(ctx context.Context, user string) (*Session, error) {
	if sess, ok := s.load(user); ok && sess.Alive() {
		return sess, nil
	}

	v, err, _ := s.group.Do(user, func() (interface{}, error) {
		if sess, ok := s.load(user); ok {
			if sess.Alive() {
				return sess, nil
			}
			s.evict(user, sess)
		}
		return s.connect(ctx, user)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (s *SessionStore) connect(ctx context.Context, user string) (*Session, error) {
	log := s.logger.WithField("user", maskEmail(user))

	cred, err := s.creds.GetCredential(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load credentials: %w", ErrNotAuthenticated, err)
	}
	if cred == nil {
		return nil, fmt.Errorf("%w: %w", ErrNotAuthenticated, ErrNoCredentials)
	}

	password, err := s.cipher.Decrypt(cred.EncryptedPassword)
	if err != nil {
		log.WithError(err).Error("Failed to decrypt stored password")
		return nil, fmt.Errorf("%w: failed to decrypt password: %w", ErrNotAuthenticated, err)
	}

	conn, err := s.dialer.Dial(ctx, Endpoint{
		Host:     cred.IMAPHost,
		Port:     cred.IMAPPort,
		TLS:      cred.IMAPTLS,
		Username: cred.Email,
		Password: password,
	})
	if err != nil {
		log.WithError(err).Warn("Failed to reconnect IMAP session")
		return nil, fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}

	now := s.now()
	sess := newSession(user, conn, now)
	s.sessions.Store(user, sess)

	if err := s.creds.RecordLastConnection(ctx, user, now.UTC()); err != nil {
		log.WithError(err).Warn("Failed to record last connection time")
	}
	log.Info("IMAP session established")
	return sess, nil
}

// Logout closes and forgets the user's session
func (s *SessionStore) Logout(user string) {
	v, ok := s.sessions.LoadAndDelete(user)
	if !ok {
		return
	}
	sess := v.(*Session)
	sess.Lock()
	defer sess.Unlock()
	if err := sess.conn.Logout(); err != nil {
		s.logger.WithError(err).WithField("user", maskEmail(user)).Debug("Logout failed")
	}
}

// ActiveUsers lists users that currently hold a live session
func (s *SessionStore) ActiveUsers() []string {
	var users []string
	s.sessions.Range(func(key, value interface{}) bool {
		if value.(*Session).Alive() {
			users = append(users, key.(string))
		}
		return true
	})
	sort.Strings(users)
	return users
}

// Close logs out every session
func (s *SessionStore) Close() {
	var users []string
	s.sessions.Range(func(key, _ interface{}) bool {
		users = append(users, key.(string))
		return true
	})
	for _, u := range users {
		s.Logout(u)
	}
}

func (s *SessionStore) load(user string) (*Session, bool) {
	v, ok := s.sessions.Load(user)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

func (s *SessionStore) evict(user string, sess *Session) {
	if s.sessions.CompareAndDelete(user, sess) {
		sess.conn.Logout() //nolint:errcheck
		s.logger.WithField("user", maskEmail(user)).Info("Evicted dead IMAP session")
	}
}
