package email

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/brandon/mail-engine/pkg/types"
)

// DefaultPollInterval is how often inboxes are checked for new mail
const DefaultPollInterval = 10 * time.Second

// Poller watches the inbox of every user with a live session and publishes
// a NEW_EMAIL notification per arrived message
type Poller struct {
	service  *Service
	notifier Notifier
	interval time.Duration
	logger   *logrus.Logger

	counts   sync.Map
	inflight singleflight.Group
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewPoller creates a poller
func NewPoller(service *Service, notifier Notifier, interval time.Duration, logger *logrus.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		service:  service,
		notifier: notifier,
		interval: interval,
		logger:   logger,
	}
}

// Start begins polling until ctx is done or Stop is called
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	stopCh := make(chan struct{})
	p.stopCh = stopCh

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()
	p.logger.WithField("interval", p.interval.String()).Info("Inbox poller started")
}

// Stop halts polling and waits for running checks to finish
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Inbox poller stopped")
}

// tick starts a check for every active user without waiting. A check for a
// user that is already being checked joins the running one.
func (p *Poller) tick(ctx context.Context) {
	for _, user := range p.service.sessions.ActiveUsers() {
		user := user
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			_, err, _ := p.inflight.Do(user, func() (interface{}, error) {
				return nil, p.Check(ctx, user)
			})
			if err != nil {
				p.logger.WithError(err).WithField("user", maskEmail(user)).Warn("Inbox check failed")
			}
		}()
	}
}

// Check compares the user's inbox size with the last seen count. The first
// check only records the count.
func (p *Poller) Check(ctx context.Context, user string) error {
	count, arrived, err := p.inboxDelta(ctx, user)
	if err != nil {
		return err
	}

	for _, h := range arrived {
		p.notifier.Publish(user, types.Notification{
			Type:      types.NotificationNewEmail,
			MessageID: h.MessageID,
			From:      h.From,
			Subject:   h.Subject,
			Folder:    FolderInbox,
			Preview:   h.Preview,
		})
	}
	if len(arrived) > 0 {
		p.logger.WithFields(logrus.Fields{
			"user":  maskEmail(user),
			"count": len(arrived),
		}).Info("New emails detected")
	}

	p.counts.Store(user, count)
	return nil
}

// Reset forgets the user's count so the next check starts over
func (p *Poller) Reset(user string) {
	p.counts.Delete(user)
}

func (p *Poller) inboxDelta(ctx context.Context, user string) (uint32, []*types.EmailHeader, error) {
	sess, err := p.service.session(ctx, user)
	if err != nil {
		return 0, nil, err
	}
	defer sess.Unlock()

	mailbox, err := p.service.resolver.Resolve(ctx, sess, FolderInbox)
	if err != nil {
		return 0, nil, err
	}
	count, err := sess.conn.Select(ctx, mailbox)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to select inbox: %w", err)
	}

	v, seen := p.counts.Load(user)
	if !seen {
		return count, nil, nil
	}
	last := v.(uint32)
	if count <= last {
		return count, nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(last+1, count)
	msgs, err := Prefetch(ctx, sess.conn, seqset, ProfileHeaders)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to fetch new messages: %w", err)
	}
	arrived := p.service.decoder.Headers(msgs, mailbox)
	sortBySeqDesc(arrived)
	return count, arrived, nil
}
