package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/pipeline"
)

// SQSConfig holds SQS configuration.
type SQSConfig struct {
	Region   string
	QueueURL string
	// RetryVisibility is how long a failed message stays hidden before
	// redelivery.
	RetryVisibility time.Duration
}

// sqsAPI is the subset of the SQS client used here.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSConsumer long-polls an SQS queue for order events.
type SQSConsumer struct {
	client   sqsAPI
	queueURL string
	retry    int32
	handler  Handler
	logger   *zap.Logger
}

// NewSQSConsumer creates a consumer from the default AWS credential chain.
func NewSQSConsumer(ctx context.Context, cfg SQSConfig, handler Handler, logger *zap.Logger) (*SQSConsumer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs consumer initialized", zap.String("queue_url", cfg.QueueURL))
	return newSQSConsumer(sqs.NewFromConfig(awsCfg), cfg, handler, logger), nil
}

func newSQSConsumer(client sqsAPI, cfg SQSConfig, handler Handler, logger *zap.Logger) *SQSConsumer {
	retry := int32(cfg.RetryVisibility / time.Second)
	if retry <= 0 {
		retry = 30
	}
	return &SQSConsumer{
		client:   client,
		queueURL: cfg.QueueURL,
		retry:    retry,
		handler:  handler,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled.
func (c *SQSConsumer) Run(ctx context.Context) error {
	c.logger.Info("sqs consumer started", zap.String("queue_url", c.queueURL))
	for {
		if err := ctx.Err(); err != nil {
			c.logger.Info("sqs consumer stopped")
			return nil
		}
		if err := c.poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			c.logger.Error("sqs receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// poll receives one batch and handles each message.
func (c *SQSConsumer) poll(ctx context.Context) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	})
	if err != nil {
		return fmt.Errorf("sqs receive failed: %w", err)
	}

	for _, m := range out.Messages {
		body := aws.ToString(m.Body)
		receipt := aws.ToString(m.ReceiptHandle)

		if c.handler.HandleMessage(ctx, "sqs", []byte(body)) == pipeline.Retry {
			c.changeVisibility(ctx, receipt)
			continue
		}
		c.deleteMessage(ctx, receipt)
	}
	return nil
}

func (c *SQSConsumer) deleteMessage(ctx context.Context, receipt string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		c.logger.Error("sqs delete failed", zap.Error(err))
	}
}

func (c *SQSConsumer) changeVisibility(ctx context.Context, receipt string) {
	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: c.retry,
	})
	if err != nil {
		c.logger.Warn("sqs change visibility failed", zap.Error(err))
	}
}

// Close is a no-op; AWS SDK v2 clients hold no connection state.
func (c *SQSConsumer) Close() error { return nil }
