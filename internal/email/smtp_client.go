package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/sirupsen/logrus"
)

// Transport delivers an encoded message
type Transport interface {
	Send(ctx context.Context, user string, recipients []string, raw []byte) error
}

// SMTPTransport sends mail through the user's stored SMTP endpoint
type SMTPTransport struct {
	creds   CredentialStore
	cipher  Decrypter
	timeout time.Duration
	logger  *logrus.Logger
}

// NewSMTPTransport creates an SMTP transport
func NewSMTPTransport(creds CredentialStore, cipher Decrypter, timeout time.Duration, logger *logrus.Logger) *SMTPTransport {
	return &SMTPTransport{
		creds:   creds,
		cipher:  cipher,
		timeout: timeout,
		logger:  logger,
	}
}

// Send delivers raw to recipients. Port 465 uses implicit TLS, anything
// else upgrades with STARTTLS.
func (t *SMTPTransport) Send(ctx context.Context, user string, recipients []string, raw []byte) error {
	cred, err := t.creds.GetCredential(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if cred == nil {
		return fmt.Errorf("%w: %w", ErrNotAuthenticated, ErrNoCredentials)
	}
	if cred.SMTPHost == "" {
		return fmt.Errorf("%w: no SMTP server configured", ErrInvalidRequest)
	}
	password, err := t.cipher.Decrypt(cred.EncryptedPassword)
	if err != nil {
		return fmt.Errorf("%w: failed to decrypt password: %w", ErrNotAuthenticated, err)
	}

	addr := net.JoinHostPort(cred.SMTPHost, fmt.Sprintf("%d", cred.SMTPPort))
	tlsConfig := &tls.Config{ServerName: cred.SMTPHost, MinVersion: tls.VersionTLS12}

	err = withTimeout(ctx, t.timeout, func() error {
		dialer := &net.Dialer{Timeout: t.timeout}

		var conn net.Conn
		var err error
		if cred.SMTPPort == 465 {
			conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		} else {
			conn, err = dialer.Dial("tcp", addr)
		}
		if err != nil {
			return fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		defer conn.Close()

		client, err := smtp.NewClient(conn, cred.SMTPHost)
		if err != nil {
			return fmt.Errorf("failed to create SMTP client: %w", err)
		}
		defer client.Close()

		if cred.SMTPPort != 465 {
			if ok, _ := client.Extension("STARTTLS"); ok {
				if err := client.StartTLS(tlsConfig); err != nil {
					return fmt.Errorf("failed to start TLS: %w", err)
				}
			}
		}

		if password != "" {
			auth := smtp.PlainAuth("", cred.Email, password, cred.SMTPHost)
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("failed to authenticate: %w", err)
			}
		}

		if err := client.Mail(cred.Email); err != nil {
			return fmt.Errorf("failed to set sender: %w", err)
		}
		for _, to := range recipients {
			if err := client.Rcpt(to); err != nil {
				return fmt.Errorf("failed to set recipient %s: %w", to, err)
			}
		}

		w, err := client.Data()
		if err != nil {
			return fmt.Errorf("failed to send data command: %w", err)
		}
		if _, err := w.Write(raw); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("failed to close data writer: %w", err)
		}
		return client.Quit()
	})
	if err != nil {
		return err
	}

	t.logger.WithFields(logrus.Fields{
		"user":       maskEmail(user),
		"recipients": len(recipients),
	}).Info("Email sent")
	return nil
}
