package notifier

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSConfig holds AWS SNS configuration.
type SNSConfig struct {
	Region   string
	TopicARN string
}

// Validate validates the SNS configuration.
func (c *SNSConfig) Validate() error {
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	if c.TopicARN == "" {
		return fmt.Errorf("topic ARN is required")
	}
	return nil
}

type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes digests to an SNS topic.
type SNSNotifier struct {
	config    SNSConfig
	client    snsPublisher
	templates *Templates
}

// NewSNSNotifier creates an SNS notifier using the default AWS credential chain.
func NewSNSNotifier(ctx context.Context, config SNSConfig) (*SNSNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sns config: %w", err)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return newSNSNotifier(config, sns.NewFromConfig(cfg))
}

func newSNSNotifier(config SNSConfig, client snsPublisher) (*SNSNotifier, error) {
	templates, err := LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	return &SNSNotifier{
		config:    config,
		client:    client,
		templates: templates,
	}, nil
}

// Name returns "sns".
func (s *SNSNotifier) Name() string {
	return "sns"
}

// Send publishes the plain text digest to the topic.
func (s *SNSNotifier) Send(ctx context.Context, digest *Digest) error {
	body, err := s.templates.RenderPlain(DigestToTemplateData(digest))
	if err != nil {
		return fmt.Errorf("failed to render plain template: %w", err)
	}

	// SNS subjects are limited to 100 characters.
	input := &sns.PublishInput{
		TopicArn: aws.String(s.config.TopicARN),
		Subject:  aws.String(truncate(digest.Subject(), 100)),
		Message:  aws.String(body),
	}

	if _, err := s.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return nil
}

// Close is a no-op for SNS notifier.
func (s *SNSNotifier) Close() error {
	return nil
}
