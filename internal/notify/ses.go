package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/consult-escrow/pkg/logging"
)

// SESAPI is the part of *sesv2.Client the gateway uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailResolver maps a user id to an email address. found=false means the
// user has no address and the notification is skipped.
type EmailResolver interface {
	EmailFor(ctx context.Context, userID string) (email string, found bool, err error)
}

// EmailResolverFunc adapts a function to EmailResolver.
type EmailResolverFunc func(ctx context.Context, userID string) (string, bool, error)

func (f EmailResolverFunc) EmailFor(ctx context.Context, userID string) (string, bool, error) {
	return f(ctx, userID)
}

// SESConfig holds configuration for AWS SES.
type SESConfig struct {
	FromEmail string
	FromName  string
}

// SESGateway emails notifications via AWS SES.
type SESGateway struct {
	client    SESAPI
	resolver  EmailResolver
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

func NewSESGateway(client SESAPI, resolver EmailResolver, cfg SESConfig, logger *logging.Logger) *SESGateway {
	if client == nil || resolver == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Consult Desk"
	}
	return &SESGateway{
		client:    client,
		resolver:  resolver,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (g *SESGateway) Create(ctx context.Context, n Notification) error {
	to, found, err := g.resolver.EmailFor(ctx, n.ReceiverID)
	if err != nil {
		return fmt.Errorf("notify: resolve email: %w", err)
	}
	if !found || to == "" {
		g.logger.Debug("no email on file, skipping", "receiver_id", n.ReceiverID, "type", n.Type)
		return nil
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", g.fromName, g.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(n.Title), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(n.Content), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	output, err := g.client.SendEmail(ctx, input)
	if err != nil {
		g.logger.Error("SES send failed", "error", err, "receiver_id", n.ReceiverID)
		return fmt.Errorf("notify: SES send failed: %w", err)
	}
	g.logger.Info("email sent via SES", "receiver_id", n.ReceiverID, "type", n.Type, "message_id", aws.ToString(output.MessageId))
	return nil
}

var _ Gateway = (*SESGateway)(nil)
