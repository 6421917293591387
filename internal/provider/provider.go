package provider

import (
	"context"
	"time"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/config"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/crypto"
	apperrors "github.com/vhvplatform/go-notification-dispatch/internal/shared/errors"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
)

// Attachment is one file carried by an outbound message.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// Message is a fully composed email handed to a delivery backend.
type Message struct {
	To          []string
	Cc          []string
	Bcc         []string
	ReplyTo     string
	Subject     string
	HTMLBody    string
	TextBody    string
	Attachments []Attachment
}

// Result reports a successful provider send.
type Result struct {
	MessageID        string `json:"message_id"`
	ProviderResponse string `json:"provider_response,omitempty"`
}

// CheckResult is the unified shape of TestConnection and ValidateConnection
// outcomes across backends.
type CheckResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Provider transmits composed messages through one concrete backend.
type Provider interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
	// TestConnection sends a fixed verification email to testAddress.
	TestConnection(ctx context.Context, testAddress string) (*CheckResult, error)
	// ValidateConnection performs a side-effect-free capability check.
	ValidateConnection(ctx context.Context) (*CheckResult, error)
}

// Factory builds the provider selected by an organization's email settings.
type Factory struct {
	platform config.PlatformConfig
	cipher   *crypto.Cipher
	timeout  time.Duration
	log      *logger.Logger
}

// NewFactory creates a provider factory. The cipher decrypts organization
// SMTP passwords just in time; platform credentials come from process
// configuration only.
func NewFactory(platform config.PlatformConfig, cipher *crypto.Cipher, timeout time.Duration, log *logger.Logger) *Factory {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Factory{platform: platform, cipher: cipher, timeout: timeout, log: log}
}

// ForSettings returns the backend configured for the organization.
func (f *Factory) ForSettings(ctx context.Context, settings *domain.EmailSettings) (Provider, error) {
	switch settings.Provider {
	case domain.ProviderPlatform:
		return NewPlatformProvider(ctx, f.platform, settings, f.timeout, f.log)
	case domain.ProviderSMTP:
		if settings.SMTP == nil {
			return nil, apperrors.NewNotConfiguredError("smtp provider selected but no connection is configured")
		}
		return NewRelayProvider(settings, f.cipher, f.timeout, f.log), nil
	default:
		return nil, apperrors.NewNotConfiguredError("unknown provider type " + string(settings.Provider))
	}
}

const testEmailSubject = "Notification dispatch test"

const testEmailBody = "This is a test message confirming your email delivery configuration is working."
