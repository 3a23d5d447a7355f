package email

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/google/uuid"
	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/circuitbreaker"
)

// ResendProvider sends through the Resend API. Config.PublicKey is the API
// key.
type ResendProvider struct {
	mu     sync.RWMutex
	client *resend.Client
	from   string
}

// NewResendProvider creates an uninitialized Resend provider.
func NewResendProvider() *ResendProvider {
	return &ResendProvider{}
}

func (p *ResendProvider) Name() string { return "resend" }

func (p *ResendProvider) Init(cfg Config) error {
	if cfg.PublicKey == "" {
		return errors.New("resend api key is empty")
	}
	from := cfg.From
	if from == "" {
		from = "onboarding@resend.dev"
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = resend.NewClient(cfg.PublicKey)
	p.from = from
	return nil
}

func (p *ResendProvider) Send(ctx context.Context, msg Message) (string, error) {
	p.mu.RLock()
	client, from := p.client, p.from
	p.mu.RUnlock()
	if client == nil {
		return "", ErrNotConfigured
	}

	resp, err := client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Body,
		Headers: map[string]string{
			"X-Courier-Template": msg.TemplateID,
			"X-Courier-Order":    msg.OrderID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("resend send failed: %w", err)
	}
	return resp.Id, nil
}

// SESConfig holds the AWS settings for SESProvider.
type SESConfig struct {
	Region    string
	FromEmail string
}

// sesAPI is the subset of the SES client used here.
type sesAPI interface {
	SendEmail(ctx context.Context, in *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESProvider sends plain-text email through AWS SES.
type SESProvider struct {
	client sesAPI
	from   string
}

// NewSESProvider loads the default AWS credential chain for cfg.Region.
func NewSESProvider(ctx context.Context, cfg SESConfig) (*SESProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESProvider{client: ses.NewFromConfig(awsCfg), from: cfg.FromEmail}, nil
}

func (p *SESProvider) Name() string { return "ses" }

// Init only requires a sender address; AWS credentials come from the
// environment.
func (p *SESProvider) Init(cfg Config) error {
	if cfg.From != "" {
		p.from = cfg.From
	}
	if p.from == "" {
		return errors.New("ses sender address is empty")
	}
	return nil
}

func (p *SESProvider) Send(ctx context.Context, msg Message) (string, error) {
	out, err := p.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(p.from),
		Destination: &types.Destination{ToAddresses: []string{msg.To}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("ses send failed: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// LogProvider writes emails to the log instead of sending them. Used in
// development and when no provider is configured.
type LogProvider struct {
	logger *zap.Logger
}

func NewLogProvider(logger *zap.Logger) *LogProvider {
	return &LogProvider{logger: logger}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Init(Config) error { return nil }

func (p *LogProvider) Send(_ context.Context, msg Message) (string, error) {
	id := uuid.NewString()
	p.logger.Info("email (log provider)",
		zap.String("message_id", id),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("order_id", msg.OrderID),
	)
	return id, nil
}

// ProtectedProvider fails fast while the wrapped provider's breaker is open.
type ProtectedProvider struct {
	Provider
	breaker *circuitbreaker.CircuitBreaker
}

// Protect wraps provider with breaker.
func Protect(provider Provider, breaker *circuitbreaker.CircuitBreaker) *ProtectedProvider {
	return &ProtectedProvider{Provider: provider, breaker: breaker}
}

func (p *ProtectedProvider) Send(ctx context.Context, msg Message) (string, error) {
	var id string
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		id, err = p.Provider.Send(ctx, msg)
		return err
	})
	return id, err
}

// Breaker exposes the breaker for the health endpoint.
func (p *ProtectedProvider) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}
