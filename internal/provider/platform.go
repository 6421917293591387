package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/vhvplatform/go-notification-dispatch/internal/domain"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/config"
	apperrors "github.com/vhvplatform/go-notification-dispatch/internal/shared/errors"
	"github.com/vhvplatform/go-notification-dispatch/internal/shared/logger"
)

// PlatformProvider sends through the managed transactional-email backend
// using process-level credentials. Messages with attachments go down the
// raw-MIME path; everything else uses the structured send call.
type PlatformProvider struct {
	client  *sesv2.Client
	sender  string
	from    string
	replyTo string
	timeout time.Duration
	log     *logger.Logger
}

// NewPlatformProvider builds the platform backend for one organization's
// sender identity.
func NewPlatformProvider(ctx context.Context, cfg config.PlatformConfig, settings *domain.EmailSettings, timeout time.Duration, log *logger.Logger) (*PlatformProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load platform mail credentials", err)
	}

	return &PlatformProvider{
		client:  sesv2.NewFromConfig(awsCfg),
		sender:  settings.Sender(),
		from:    settings.FromEmail,
		replyTo: settings.ReplyToEmail,
		timeout: timeout,
		log:     log,
	}, nil
}

// Send transmits the message and returns the backend message id.
func (p *PlatformProvider) Send(ctx context.Context, msg *Message) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(p.sender),
		Destination: &sestypes.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
	}

	replyTo := msg.ReplyTo
	if replyTo == "" {
		replyTo = p.replyTo
	}
	if replyTo != "" {
		input.ReplyToAddresses = []string{replyTo}
	}

	if len(msg.Attachments) > 0 {
		input.Content = &sestypes.EmailContent{
			Raw: &sestypes.RawMessage{Data: BuildRawMessage(p.sender, msg)},
		}
	} else {
		body := &sestypes.Body{
			Html: &sestypes.Content{Data: aws.String(msg.HTMLBody)},
		}
		if msg.TextBody != "" {
			body.Text = &sestypes.Content{Data: aws.String(msg.TextBody)}
		}
		input.Content = &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(msg.Subject)},
				Body:    body,
			},
		}
	}

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return nil, mapPlatformError(err)
	}

	return &Result{
		MessageID:        aws.ToString(out.MessageId),
		ProviderResponse: "accepted by platform backend",
	}, nil
}

// TestConnection sends a fixed verification email to testAddress.
func (p *PlatformProvider) TestConnection(ctx context.Context, testAddress string) (*CheckResult, error) {
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

// ValidateConnection checks the sender identity's verification status
// without sending anything.
func (p *PlatformProvider) ValidateConnection(ctx context.Context) (*CheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	identity := p.from
	if at := strings.LastIndex(identity, "@"); at >= 0 {
		identity = identity[at+1:]
	}

	out, err := p.client.GetEmailIdentity(ctx, &sesv2.GetEmailIdentityInput{
		EmailIdentity: aws.String(identity),
	})
	if err != nil {
		return &CheckResult{Success: false, Message: mapPlatformError(err).Error()}, nil
	}

	if !out.VerifiedForSendingStatus {
		return &CheckResult{Success: false, Message: "sender domain " + identity + " is not verified"}, nil
	}
	return &CheckResult{Success: true, Message: "sender domain " + identity + " is verified"}, nil
}

// mapPlatformError translates backend error codes into engine error kinds.
func mapPlatformError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewProviderError(apperrors.CodeProviderTimeout, "platform send timed out", err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "MessageRejected":
			return apperrors.NewProviderError(apperrors.CodeProviderRejected, "message rejected by platform backend", err)
		case "MailFromDomainNotVerifiedException", "MailFromDomainNotVerified":
			return apperrors.NewProviderError(apperrors.CodeProviderRejected, "sender domain is not verified", err)
		case "TooManyRequestsException", "Throttling", "ThrottlingException", "LimitExceededException":
			return apperrors.NewProviderError(apperrors.CodeProviderThrottled, "platform backend throttled the send", err)
		case "AccessDenied", "AccessDeniedException", "InvalidClientTokenId", "SignatureDoesNotMatch", "UnrecognizedClientException":
			return apperrors.NewProviderError(apperrors.CodeProviderAuth, "platform credentials were rejected", err)
		}
	}

	return apperrors.NewProviderError(apperrors.CodeProviderRejected, "platform send failed", err)
}
