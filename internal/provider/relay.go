package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	mail "gopkg.in/mail.v2"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/crypto"
	apperrors "github.com/vhvplatform/go-notification-dispatch/internal/shared/errors"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
)

// RelayProvider sends through an organization-supplied SMTP relay. The
// connection password stays encrypted until the moment of dialing.
type RelayProvider struct {
	settings *domain.EmailSettings
	cipher   *crypto.Cipher
	timeout  time.Duration
	log      *logger.Logger
}

// NewRelayProvider creates the relay backend for one organization.
func NewRelayProvider(settings *domain.EmailSettings, cipher *crypto.Cipher, timeout time.Duration, log *logger.Logger) *RelayProvider {
	return &RelayProvider{settings: settings, cipher: cipher, timeout: timeout, log: log}
}

func (p *RelayProvider) dialer() (*mail.Dialer, error) {
	conn := p.settings.SMTP

	password := ""
	if conn.EncryptedPassword != "" {
		decrypted, err := p.cipher.Decrypt(conn.EncryptedPassword)
		if err != nil {
			return nil, apperrors.NewProviderError(apperrors.CodeProviderAuth, "failed to decrypt relay password", err)
		}
		password = decrypted
	}

	d := mail.NewDialer(conn.Host, conn.Port, conn.Username, password)
	d.SSL = conn.Secure
	d.Timeout = p.timeout
	if conn.RequireTLS {
		d.StartTLSPolicy = mail.MandatoryStartTLS
	}
	return d, nil
}

func (p *RelayProvider) compose(msg *Message) (*mail.Message, string) {
	m := mail.NewMessage()
	m.SetHeader("From", p.settings.Sender())
	m.SetHeader("To", msg.To...)
	if len(msg.Cc) > 0 {
		m.SetHeader("Cc", msg.Cc...)
	}
	if len(msg.Bcc) > 0 {
		m.SetHeader("Bcc", msg.Bcc...)
	}
	replyTo := msg.ReplyTo
	if replyTo == "" {
		replyTo = p.settings.ReplyToEmail
	}
	if replyTo != "" {
		m.SetHeader("Reply-To", replyTo)
	}
	m.SetHeader("Subject", msg.Subject)

	// The relay does not hand back an id, so one is minted and stamped on
	// the message before it leaves.
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), p.settings.SMTP.Host)
	m.SetHeader("Message-Id", messageID)

	if msg.TextBody != "" {
		m.SetBody("text/plain", msg.TextBody)
		m.AddAlternative("text/html", msg.HTMLBody)
	} else {
		m.SetBody("text/html", msg.HTMLBody)
	}

	for _, att := range msg.Attachments {
		att := att
		settings := []mail.FileSetting{
			mail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(att.Content)
				return err
			}),
		}
		if att.ContentType != "" {
			settings = append(settings, mail.SetHeader(map[string][]string{
				"Content-Type": {att.ContentType},
			}))
		}
		m.Attach(att.Filename, settings...)
	}

	return m, messageID
}

// Send transmits the message through the organization's relay.
func (p *RelayProvider) Send(ctx context.Context, msg *Message) (*Result, error) {
	d, err := p.dialer()
	if err != nil {
		return nil, err
	}

	m, messageID := p.compose(msg)

	done := make(chan error, 1)
	go func() {
		done <- d.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return nil, apperrors.NewProviderError(apperrors.CodeProviderTimeout, "relay send timed out", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, mapRelayError(err)
		}
	}

	return &Result{
		MessageID:        messageID,
		ProviderResponse: "accepted by " + p.settings.SMTP.Host,
	}, nil
}

// TestConnection sends a fixed verification email to testAddress.
func (p *RelayProvider) TestConnection(ctx context.Context, testAddress string) (*CheckResult, error) {
	_, err := p.Send(ctx, &Message{
		To:       []string{testAddress},
		Subject:  testEmailSubject,
		HTMLBody: "<p>" + testEmailBody + "</p>",
		TextBody: testEmailBody,
	})
	if err != nil {
		return &CheckResult{Success: false, Message: err.Error()}, nil
	}
	return &CheckResult{Success: true, Message: "test email sent to " + testAddress}, nil
}

// ValidateConnection performs the protocol handshake without sending mail.
func (p *RelayProvider) ValidateConnection(ctx context.Context) (*CheckResult, error) {
	d, err := p.dialer()
	if err != nil {
		return &CheckResult{Success: false, Message: err.Error()}, nil
	}

	type dialResult struct {
		closer mail.SendCloser
		err    error
	}
	done := make(chan dialResult, 1)
	go func() {
		closer, err := d.Dial()
		done <- dialResult{closer: closer, err: err}
	}()

	select {
	case <-ctx.Done():
		return &CheckResult{Success: false, Message: "relay handshake timed out"}, nil
	case res := <-done:
		if res.err != nil {
			return &CheckResult{Success: false, Message: mapRelayError(res.err).Error()}, nil
		}
		res.closer.Close()
	}

	return &CheckResult{Success: true, Message: "relay handshake with " + p.settings.SMTP.Host + " succeeded"}, nil
}

// mapRelayError classifies SMTP failures by reply code where one is present.
func mapRelayError(err error) error {
	msg := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout"):
		return apperrors.NewProviderError(apperrors.CodeProviderTimeout, "relay send timed out", err)
	case strings.Contains(msg, "535") || strings.Contains(msg, "authentication") || strings.Contains(msg, "username and password"):
		return apperrors.NewProviderError(apperrors.CodeProviderAuth, "relay rejected the credentials", err)
	case strings.Contains(msg, "421") || strings.Contains(msg, "too many") || strings.Contains(msg, "rate"):
		return apperrors.NewProviderError(apperrors.CodeProviderThrottled, "relay throttled the send", err)
	case strings.Contains(msg, "550") || strings.Contains(msg, "551") || strings.Contains(msg, "553") || strings.Contains(msg, "554"):
		return apperrors.NewProviderError(apperrors.CodeProviderRejected, "relay rejected the message", err)
	default:
		return apperrors.NewProviderError(apperrors.CodeProviderRejected, "relay send failed", err)
	}
}
