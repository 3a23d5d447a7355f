// Package sns wraps AWS SNS for the two things the pipeline needs from it:
// direct SMS to a supplier's phone and mobile push endpoints.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/circuitbreaker"
)

// ErrPushDisabled is returned by push calls when no platform application is
// configured.
var ErrPushDisabled = errors.New("sns push not configured")

// Config holds SNS settings. Endpoint overrides the AWS endpoint (LocalStack).
type Config struct {
	Region         string
	Endpoint       string
	PlatformAppARN string
	// SenderID is shown as the SMS sender where carriers support it.
	SenderID string
}

// API is the subset of the SNS client used here.
type API interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	CreatePlatformEndpoint(ctx context.Context, in *sns.CreatePlatformEndpointInput, optFns ...func(*sns.Options)) (*sns.CreatePlatformEndpointOutput, error)
}

// Client sends SMS and mobile push through SNS. SMS calls go through a
// circuit breaker.
type Client struct {
	api     API
	cfg     Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// New loads the default AWS credential chain for cfg.Region.
func New(ctx context.Context, cfg Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) (*Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	api := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithAPI(api, cfg, breaker, logger), nil
}

// NewWithAPI builds a client on an existing API implementation.
func NewWithAPI(api API, cfg Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Client {
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.DefaultConfig("sns"), logger)
	}
	return &Client{api: api, cfg: cfg, breaker: breaker, logger: logger}
}

// SendSMS publishes a transactional SMS to phone (E.164).
func (c *Client) SendSMS(ctx context.Context, phone, message string) (string, error) {
	if phone == "" {
		return "", errors.New("sms: empty phone number")
	}
	if message == "" {
		return "", errors.New("sms: empty message")
	}

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
	}
	if c.cfg.SenderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(c.cfg.SenderID)}
	}

	var messageID string
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		out, err := c.api.Publish(ctx, &sns.PublishInput{
			PhoneNumber:       aws.String(phone),
			Message:           aws.String(message),
			MessageAttributes: attrs,
		})
		if err != nil {
			return fmt.Errorf("sns publish failed: %w", err)
		}
		messageID = aws.ToString(out.MessageId)
		return nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("sms sent via SNS", zap.String("message_id", messageID))
	return messageID, nil
}

// PushEnabled reports whether a platform application is configured.
func (c *Client) PushEnabled() bool {
	return c.cfg.PlatformAppARN != ""
}

// RequestToken registers a device token with the platform application and
// returns the endpoint ARN. It returns "" without error when push is not
// configured.
func (c *Client) RequestToken(ctx context.Context, deviceToken, supplierID string) (string, error) {
	if !c.PushEnabled() {
		return "", nil
	}
	if deviceToken == "" {
		return "", errors.New("push: empty device token")
	}

	out, err := c.api.CreatePlatformEndpoint(ctx, &sns.CreatePlatformEndpointInput{
		PlatformApplicationArn: aws.String(c.cfg.PlatformAppARN),
		Token:                  aws.String(deviceToken),
		CustomUserData:         aws.String(supplierID),
	})
	if err != nil {
		return "", fmt.Errorf("sns create endpoint failed: %w", err)
	}
	return aws.ToString(out.EndpointArn), nil
}

// PushMessage is the payload delivered to a mobile endpoint.
type PushMessage struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	NotificationID string `json:"notification_id"`
	Target         string `json:"target"`
}

// Push delivers msg to a registered endpoint.
func (c *Client) Push(ctx context.Context, endpointARN string, msg PushMessage) (string, error) {
	if !c.PushEnabled() {
		return "", ErrPushDisabled
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal push message: %w", err)
	}

	out, err := c.api.Publish(ctx, &sns.PublishInput{
		TargetArn: aws.String(endpointARN),
		Message:   aws.String(string(payload)),
	})
	if err != nil {
		return "", fmt.Errorf("sns push failed: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
