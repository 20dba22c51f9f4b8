// Package alerts publishes operational notifications to an SNS topic.
package alerts

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/rs/zerolog"
)

// SNS caps subjects at 100 characters.
const maxSubject = 100

type snsAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSPublisher struct {
	client   snsAPI
	topicARN string
	logger   zerolog.Logger
}

func NewSNSPublisher(ctx context.Context, region, topicARN string, logger zerolog.Logger) (*SNSPublisher, error) {
	if topicARN == "" {
		return nil, fmt.Errorf("EXPIRY_ALERT_TOPIC_ARN is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return newSNSPublisher(sns.NewFromConfig(cfg), topicARN, logger), nil
}

func newSNSPublisher(client snsAPI, topicARN string, logger zerolog.Logger) *SNSPublisher {
	return &SNSPublisher{
		client:   client,
		topicARN: topicARN,
		logger:   logger.With().Str("component", "alerts").Logger(),
	}
}

// Publish sends message with attributes as SNS string message attributes so
// subscribers can filter on them.
func (p *SNSPublisher) Publish(ctx context.Context, subject, message string, attributes map[string]string) error {
	if len(subject) > maxSubject {
		subject = subject[:maxSubject]
	}
	in := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(message),
	}
	if subject != "" {
		in.Subject = aws.String(subject)
	}
	if len(attributes) > 0 {
		in.MessageAttributes = make(map[string]types.MessageAttributeValue, len(attributes))
		for k, v := range attributes {
			in.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}
	out, err := p.client.Publish(ctx, in)
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	keys := make([]string, 0, len(attributes))
	for k := range attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	p.logger.Debug().Str("message_id", aws.ToString(out.MessageId)).Strs("attributes", keys).Msg("alert published")
	return nil
}
