// Package mail implements the mail transport client: IMAP polling for
// unseen messages and SMTP dispatch of replies. The pipeline worker is
// the only consumer; it treats this package as an opaque transport
// capability.
package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mailbot/internal/model"
)

// AuthError indicates that authentication has failed for the mail
// account. It is not retried by the pipeline's backoff path.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mail auth error: %s", e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Transport is the mail capability consumed by the pipeline worker:
// list unseen messages, send outgoing mail, and probe connectivity.
type Transport interface {
	// FetchUnread returns the unseen messages in the monitored mailbox,
	// oldest first. Fetching does not mark messages as seen.
	FetchUnread(ctx context.Context) ([]model.RawMessage, error)

	// Send dispatches a message. inReplyTo, when non-empty, is the
	// Message-ID of the message being answered and is reflected in the
	// In-Reply-To and References headers.
	Send(ctx context.Context, to, subject, body, inReplyTo string) error

	// MarkProcessed flags a message as seen and answered so the next
	// unseen search does not return it again.
	MarkProcessed(ctx context.Context, uid uint32) error

	// ConnectivityCheck performs a lightweight liveness probe.
	ConnectivityCheck(ctx context.Context) error
}

// Client implements Transport over IMAP (fetch) and SMTP (send).
type Client struct {
	imap *IMAPClient
	smtp SMTPConfig
	// address is the service's own sender address.
	address string
}

var _ Transport = (*Client)(nil)

// NewClient creates a mail transport client from the mail configuration
// and the account password.
func NewClient(cfg model.MailConfig, password string) *Client {
	return &Client{
		imap: NewIMAPClient(
			cfg.IMAPHost, cfg.IMAPPort,
			cfg.Username, password,
			cfg.TLS, cfg.Mailbox,
		),
		smtp: SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.Username,
			Password: password,
			TLS:      cfg.TLS,
		},
		address: cfg.Username,
	}
}

// Address returns the service's own sender address.
func (c *Client) Address() string { return c.address }

// FetchUnread lists unseen messages with their plain-text bodies.
func (c *Client) FetchUnread(ctx context.Context) ([]model.RawMessage, error) {
	parsed, err := c.imap.FetchUnseen(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching unread mail: %w", err)
	}

	msgs := make([]model.RawMessage, 0, len(parsed))
	for _, p := range parsed {
		body := p.TextBody
		if body == "" && p.HTMLBody != "" {
			body = stripHTML(p.HTMLBody)
		}
		msgs = append(msgs, model.RawMessage{
			From:       p.Envelope.From,
			Subject:    p.Envelope.Subject,
			Body:       body,
			MessageID:  p.Envelope.MessageID,
			UID:        p.Envelope.UID,
			ReceivedAt: p.Envelope.Date,
		})
	}
	return msgs, nil
}

// Send composes and dispatches a message via SMTP.
func (c *Client) Send(ctx context.Context, to, subject, body, inReplyTo string) error {
	if err := sendMessage(ctx, c.smtp, to, subject, body, inReplyTo); err != nil {
		return fmt.Errorf("sending mail to %s: %w", to, err)
	}
	return nil
}

// MarkProcessed marks the message as seen and answered.
func (c *Client) MarkProcessed(ctx context.Context, uid uint32) error {
	return c.imap.MarkProcessed(ctx, uid)
}

// ConnectivityCheck connects, authenticates, and selects the mailbox.
func (c *Client) ConnectivityCheck(ctx context.Context) error {
	return c.imap.Check(ctx)
}
