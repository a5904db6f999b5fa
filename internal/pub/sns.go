// Package pub delivers live match updates to external subscribers.
package pub

import (
	"context"
	"kickoff/internal/ports"
	"kickoff/internal/types"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	json "github.com/goccy/go-json"
)

const SNSEndpointKey = "SNS_ENDPOINT"

// SNS publishes JSON documents to an SNS topic.
type SNS struct{ cli *sns.Client }

func NewSNS(c *sns.Client) *SNS { return &SNS{cli: c} }

// SNSFromEnv builds the client from the default AWS config. SNS_ENDPOINT
// points it at a local mock with static test credentials.
func SNSFromEnv(ctx context.Context) (*SNS, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := os.Getenv(SNSEndpointKey)
	cli := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint == "" {
			return
		}
		o.BaseEndpoint = aws.String(endpoint)
		if o.Region == "" {
			o.Region = "us-east-1"
		}
		o.Credentials = credentials.NewStaticCredentialsProvider("test", "test", "")
	})
	return NewSNS(cli), nil
}

func (s *SNS) PublishRaw(ctx context.Context, arn string, payload []byte) error {
	_, err := s.cli.Publish(ctx, &sns.PublishInput{
		TopicArn: &arn,
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"content-type": {DataType: aws.String("String"), StringValue: aws.String("application/json")},
		},
	})
	return err
}

// PublishUpdate sends one live update. The match id and kind travel as
// message attributes so subscribers can filter without decoding the body.
func (s *SNS) PublishUpdate(ctx context.Context, arn string, u types.LiveUpdate) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = s.cli.Publish(ctx, &sns.PublishInput{
		TopicArn: &arn,
		Message:  aws.String(string(b)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"content-type": {DataType: aws.String("String"), StringValue: aws.String("application/json")},
			"kind":         {DataType: aws.String("String"), StringValue: aws.String(u.Kind)},
			"match-id":     {DataType: aws.String("Number"), StringValue: aws.String(strconv.Itoa(u.MatchID))},
		},
	})
	return err
}

// UpdatePublisher is implemented by publishers with native support for live updates.
type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, arn string, u types.LiveUpdate) error
}

// Update publishes u through p, as a raw JSON document unless p knows better.
func Update(ctx context.Context, p ports.Publisher, arn string, u types.LiveUpdate) error {
	if up, ok := p.(UpdatePublisher); ok {
		return up.PublishUpdate(ctx, arn, u)
	}
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return p.PublishRaw(ctx, arn, b)
}
