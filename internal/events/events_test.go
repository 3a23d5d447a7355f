package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/pipeline"
)

// scriptedHandler returns Retry for a body until it has been seen retries
// times.
type scriptedHandler struct {
	mu      sync.Mutex
	retries map[string]int
	seen    []string
}

func (h *scriptedHandler) HandleMessage(_ context.Context, _ string, body []byte) pipeline.Disposition {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, string(body))
	if h.retries[string(body)] > 0 {
		h.retries[string(body)]--
		return pipeline.Retry
	}
	return pipeline.Ack
}

type mockSQS struct {
	messages   []types.Message
	deleted    []string
	visibility map[string]int32
}

func (m *mockSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	out := &sqs.ReceiveMessageOutput{Messages: m.messages}
	m.messages = nil
	return out, nil
}

func (m *mockSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.deleted = append(m.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (m *mockSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	m.visibility[aws.ToString(in.ReceiptHandle)] = in.VisibilityTimeout
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func TestSQSConsumer_AcksAndRetries(t *testing.T) {
	api := &mockSQS{
		messages: []types.Message{
			{Body: aws.String("ok"), ReceiptHandle: aws.String("r-1")},
			{Body: aws.String("flaky"), ReceiptHandle: aws.String("r-2")},
		},
		visibility: map[string]int32{},
	}
	h := &scriptedHandler{retries: map[string]int{"flaky": 1}}
	c := newSQSConsumer(api, SQSConfig{QueueURL: "q", RetryVisibility: 45 * time.Second}, h, zap.NewNop())

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "r-1" {
		t.Fatalf("expected only r-1 deleted, got %v", api.deleted)
	}
	if api.visibility["r-2"] != 45 {
		t.Fatalf("expected r-2 hidden for 45s, got %v", api.visibility)
	}
	if len(h.seen) != 2 {
		t.Fatalf("expected 2 messages handled, got %d", len(h.seen))
	}
}

func TestSQSConsumer_DefaultRetryVisibility(t *testing.T) {
	c := newSQSConsumer(&mockSQS{}, SQSConfig{QueueURL: "q"}, &scriptedHandler{}, zap.NewNop())
	if c.retry != 30 {
		t.Fatalf("expected 30s default, got %d", c.retry)
	}
}

func TestSQSConsumer_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newSQSConsumer(&mockSQS{}, SQSConfig{QueueURL: "q"}, &scriptedHandler{}, zap.NewNop())
	if err := c.Run(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

type mockReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	closed    bool
}

func (r *mockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		m := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *mockReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *mockReader) Close() error {
	r.closed = true
	return nil
}

func (r *mockReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestKafkaConsumer_RetriesInOrderThenCommits(t *testing.T) {
	reader := &mockReader{messages: []kafka.Message{
		{Offset: 1, Value: []byte("flaky")},
		{Offset: 2, Value: []byte("ok")},
	}}
	h := &scriptedHandler{retries: map[string]int{"flaky": 2}}
	c := newKafkaConsumer(reader, "orders", h, zap.NewNop())
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(reader.commits()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}

	got := reader.commits()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected offsets [1 2] committed in order, got %v", got)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	want := []string{"flaky", "flaky", "flaky", "ok"}
	if len(h.seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, h.seen)
	}
	for i := range want {
		if h.seen[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, h.seen)
		}
	}
}

func TestKafkaConsumer_Close(t *testing.T) {
	reader := &mockReader{}
	c := newKafkaConsumer(reader, "orders", &scriptedHandler{}, zap.NewNop())
	if err := c.Close(); err != nil || !reader.closed {
		t.Fatal("close should close the reader")
	}
}

func TestNewKafkaConsumer_RequiresBrokersAndTopic(t *testing.T) {
	if _, err := NewKafkaConsumer(KafkaConfig{Topic: "orders"}, &scriptedHandler{}, zap.NewNop()); err == nil {
		t.Fatal("expected error without brokers")
	}
}
