package mainconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/consult-escrow/internal/config"
)

// overrideServices are routed to AWS_ENDPOINT_OVERRIDE (LocalStack).
var overrideServices = map[string]bool{
	sqs.ServiceID:   true,
	sesv2.ServiceID: true,
}

// LoadAWSConfig builds the SDK config shared by the binaries. Static keys
// win over the default chain when both are set.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("mainconfig: load aws config: %w", err)
	}

	if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				if !overrideServices[service] {
					return aws.Endpoint{}, &aws.EndpointNotFoundError{}
				}
				return aws.Endpoint{URL: endpoint, PartitionID: "aws", SigningRegion: cfg.AWSRegion}, nil
			},
		)
	}
	return awsCfg, nil
}

// NotificationClients returns the SQS and SES clients the notification
// fanout needs. A client is nil when its transport is not configured, and
// no AWS config is loaded when neither is.
func NotificationClients(ctx context.Context, cfg *appconfig.Config) (*sqs.Client, *sesv2.Client, error) {
	wantSQS := strings.TrimSpace(cfg.NotificationQueueURL) != ""
	wantSES := strings.TrimSpace(cfg.SESFromEmail) != ""
	if !wantSQS && !wantSES {
		return nil, nil, nil
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	var (
		queue *sqs.Client
		email *sesv2.Client
	)
	if wantSQS {
		queue = sqs.NewFromConfig(awsCfg)
	}
	if wantSES {
		email = sesv2.NewFromConfig(awsCfg)
	}
	return queue, email, nil
}
