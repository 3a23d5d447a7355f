package sns

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/circuitbreaker"
)

type mockAPI struct {
	published  []*sns.PublishInput
	endpoints  []*sns.CreatePlatformEndpointInput
	publishErr error
}

func (m *mockAPI) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if m.publishErr != nil {
		return nil, m.publishErr
	}
	m.published = append(m.published, in)
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func (m *mockAPI) CreatePlatformEndpoint(_ context.Context, in *sns.CreatePlatformEndpointInput, _ ...func(*sns.Options)) (*sns.CreatePlatformEndpointOutput, error) {
	m.endpoints = append(m.endpoints, in)
	return &sns.CreatePlatformEndpointOutput{EndpointArn: aws.String("arn:endpoint/1")}, nil
}

func TestClient_SendSMS(t *testing.T) {
	api := &mockAPI{}
	c := NewWithAPI(api, Config{SenderID: "Courier"}, nil, zap.NewNop())

	id, err := c.SendSMS(context.Background(), "+33612345678", "Nouvelle commande")
	if err != nil || id != "msg-1" {
		t.Fatalf("unexpected result %q, %v", id, err)
	}
	in := api.published[0]
	if aws.ToString(in.PhoneNumber) != "+33612345678" {
		t.Fatalf("unexpected phone %q", aws.ToString(in.PhoneNumber))
	}
	if _, ok := in.MessageAttributes["AWS.SNS.SMS.SenderID"]; !ok {
		t.Fatal("expected sender id attribute")
	}
}

func TestClient_SendSMSValidates(t *testing.T) {
	c := NewWithAPI(&mockAPI{}, Config{}, nil, zap.NewNop())
	if _, err := c.SendSMS(context.Background(), "", "x"); err == nil {
		t.Error("expected error for empty phone")
	}
	if _, err := c.SendSMS(context.Background(), "+1", ""); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestClient_SendSMSTripsBreaker(t *testing.T) {
	api := &mockAPI{publishErr: errors.New("throttled")}
	cb := circuitbreaker.New(circuitbreaker.Config{Name: "sns", MaxFailures: 2}, zap.NewNop())
	c := NewWithAPI(api, Config{}, cb, zap.NewNop())
	ctx := context.Background()

	c.SendSMS(ctx, "+1", "a")
	c.SendSMS(ctx, "+1", "a")
	if _, err := c.SendSMS(ctx, "+1", "a"); !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestClient_RequestToken(t *testing.T) {
	api := &mockAPI{}
	disabled := NewWithAPI(api, Config{}, nil, zap.NewNop())
	arn, err := disabled.RequestToken(context.Background(), "device", "sup-1")
	if err != nil || arn != "" {
		t.Fatalf("expected empty token when push is off, got %q, %v", arn, err)
	}

	enabled := NewWithAPI(api, Config{PlatformAppARN: "arn:app"}, nil, zap.NewNop())
	arn, err = enabled.RequestToken(context.Background(), "device", "sup-1")
	if err != nil || arn != "arn:endpoint/1" {
		t.Fatalf("unexpected result %q, %v", arn, err)
	}
	if aws.ToString(api.endpoints[0].CustomUserData) != "sup-1" {
		t.Fatal("expected supplier id as custom user data")
	}
	if _, err := enabled.RequestToken(context.Background(), "", "sup-1"); err == nil {
		t.Fatal("expected error for empty device token")
	}
}

func TestClient_Push(t *testing.T) {
	api := &mockAPI{}
	c := NewWithAPI(api, Config{PlatformAppARN: "arn:app"}, nil, zap.NewNop())

	if _, err := c.Push(context.Background(), "arn:endpoint/1", PushMessage{Title: "t", NotificationID: "n-1"}); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	var got PushMessage
	if err := json.Unmarshal([]byte(aws.ToString(api.published[0].Message)), &got); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if got.NotificationID != "n-1" {
		t.Fatalf("unexpected payload %+v", got)
	}

	off := NewWithAPI(api, Config{}, nil, zap.NewNop())
	if _, err := off.Push(context.Background(), "arn", PushMessage{}); !errors.Is(err, ErrPushDisabled) {
		t.Fatalf("expected ErrPushDisabled, got %v", err)
	}
}
