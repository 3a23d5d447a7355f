package email

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/circuitbreaker"
	"github.com/lalithlochan/courier/internal/notification"
)

type mockProvider struct {
	mu      sync.Mutex
	initErr error
	inits   int
	sent    []Message
	failFor map[string]bool
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Init(Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inits++
	return m.initErr
}

func (m *mockProvider) Send(_ context.Context, msg Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[msg.OrderID] {
		return "", errors.New("provider rejected")
	}
	m.sent = append(m.sent, msg)
	return "msg-" + msg.OrderID, nil
}

var testConfig = Config{ServiceID: "svc", TemplateID: "tpl", PublicKey: "key"}

func testOrder(id, status string) notification.Order {
	return notification.Order{
		ID:            id,
		UserName:      "Test Customer",
		UserEmail:     "customer@example.com",
		Total:         33.59,
		Status:        status,
		PaymentMethod: "cash",
		Items: []notification.OrderItem{
			{Name: "Tomates", Quantity: 2, Price: 4.5},
			{Name: "Olives", Quantity: 1, Price: 24.59},
		},
		DeliveryAddress: notification.Address{Street: "1 rue de la Paix", City: "Paris", PostalCode: "75002"},
	}
}

func newConfigured(t *testing.T) (*Dispatcher, *mockProvider) {
	t.Helper()
	p := &mockProvider{}
	d := NewDispatcher(p, zap.NewNop())
	if err := d.Init(testConfig); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	return d, p
}

func TestDispatcher_InitIsIdempotent(t *testing.T) {
	d, p := newConfigured(t)
	if err := d.Init(testConfig); err != nil {
		t.Fatalf("second init failed: %v", err)
	}
	if p.inits != 1 {
		t.Fatalf("expected provider init once, got %d", p.inits)
	}

	other := testConfig
	other.TemplateID = "tpl-2"
	if err := d.Init(other); err != nil {
		t.Fatalf("re-init failed: %v", err)
	}
	if p.inits != 2 {
		t.Fatalf("expected re-init with a new config, got %d", p.inits)
	}
}

func TestDispatcher_FailedInitLeavesUnconfigured(t *testing.T) {
	p := &mockProvider{initErr: errors.New("bad key")}
	d := NewDispatcher(p, zap.NewNop())

	if err := d.Init(testConfig); err == nil {
		t.Fatal("expected init error")
	}
	if d.Configured() {
		t.Fatal("dispatcher should be unconfigured")
	}
	if err := d.SendOrderNotification(context.Background(), testOrder("o-1", notification.OrderConfirmed)); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	p.initErr = nil
	if err := d.Init(testConfig); err != nil || !d.Configured() {
		t.Fatalf("re-init should recover, got %v", err)
	}

	if err := d.Init(Config{ServiceID: "svc"}); err == nil || d.Configured() {
		t.Fatal("incomplete config should unconfigure the dispatcher")
	}
}

func TestDispatcher_SendOrderNotification(t *testing.T) {
	d, p := newConfigured(t)

	if err := d.SendOrderNotification(context.Background(), testOrder("ord-abcdefgh1234", notification.OrderOutForDelivery)); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(p.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(p.sent))
	}

	msg := p.sent[0]
	if msg.To != "customer@example.com" || msg.ServiceID != "svc" || msg.TemplateID != "tpl" {
		t.Fatalf("unexpected envelope %+v", msg)
	}
	if msg.Subject != "Commande #EFGH1234 en livraison" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "1 rue de la Paix, Paris, 75002") {
		t.Fatalf("expected comma-joined address, got %q", msg.Body)
	}
	if strings.Contains(msg.Body, "{") {
		t.Fatalf("unrendered placeholder in %q", msg.Body)
	}
}

func TestDispatcher_NoTemplateHasNoSideEffects(t *testing.T) {
	d, p := newConfigured(t)

	err := d.SendOrderNotification(context.Background(), testOrder("o-1", "on_hold"))
	if !errors.Is(err, ErrNoTemplate) {
		t.Fatalf("expected ErrNoTemplate, got %v", err)
	}
	if len(p.sent) != 0 {
		t.Fatal("provider must not be called without a template")
	}
}

func TestDispatcher_BulkIsAllSettled(t *testing.T) {
	d, p := newConfigured(t)
	p.failFor = map[string]bool{"o-2": true}

	orders := []notification.Order{
		testOrder("o-1", notification.OrderConfirmed),
		testOrder("o-2", notification.OrderConfirmed),
		testOrder("o-3", "unknown"),
		testOrder("o-4", notification.OrderDelivered),
	}
	got := d.SendBulkOrderNotifications(context.Background(), orders)

	want := []bool{true, false, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if len(p.sent) != 2 {
		t.Fatalf("expected 2 successful sends, got %d", len(p.sent))
	}
}

func TestRender(t *testing.T) {
	params := OrderParams(testOrder("ord-1", notification.OrderPending))

	tests := []struct {
		in, want string
	}{
		{"Bonjour {customer_name}", "Bonjour Test Customer"},
		{"{order_total}", "33.59 €"},
		{"{items}", "- Tomates x2 : 9.00 €\n- Olives x1 : 24.59 €"},
		{"{unknown} stays", "{unknown} stays"},
		{"no tokens", "no tokens"},
	}
	for _, tt := range tests {
		if got := Render(tt.in, params); got != tt.want {
			t.Errorf("Render(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEveryLifecycleStatusHasTemplate(t *testing.T) {
	for _, s := range []string{
		notification.OrderPending, notification.OrderConfirmed, notification.OrderPreparing,
		notification.OrderOutForDelivery, notification.OrderDelivered, notification.OrderCancelled,
	} {
		if _, ok := TemplateFor(s); !ok {
			t.Errorf("missing template for %s", s)
		}
	}
}

func TestProtectedProvider_FailsFast(t *testing.T) {
	p := &mockProvider{failFor: map[string]bool{"o-1": true}}
	cb := circuitbreaker.New(circuitbreaker.Config{Name: "mock", MaxFailures: 2}, zap.NewNop())
	protected := Protect(p, cb)
	ctx := context.Background()
	msg := Message{OrderID: "o-1"}

	for i := 0; i < 2; i++ {
		if _, err := protected.Send(ctx, msg); err == nil {
			t.Fatal("expected provider error")
		}
	}
	if _, err := protected.Send(ctx, Message{OrderID: "o-2"}); !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if len(p.sent) != 0 {
		t.Fatal("provider must not be called while open")
	}
	if protected.Name() != "mock" || protected.Breaker() != cb {
		t.Fatal("wrapper should expose the provider name and breaker")
	}
}

type mockSES struct {
	input *ses.SendEmailInput
}

func (m *mockSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.input = in
	return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESProvider_Send(t *testing.T) {
	api := &mockSES{}
	p := &SESProvider{client: api}
	if err := p.Init(Config{}); err == nil {
		t.Fatal("expected error without sender address")
	}
	if err := p.Init(Config{From: "shop@example.com"}); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	id, err := p.Send(context.Background(), Message{To: "c@example.com", Subject: "s", Body: "b"})
	if err != nil || id != "ses-1" {
		t.Fatalf("unexpected result %q, %v", id, err)
	}
	if aws.ToString(api.input.Source) != "shop@example.com" || api.input.Destination.ToAddresses[0] != "c@example.com" {
		t.Fatalf("unexpected input %+v", api.input)
	}
}

func TestResendProvider_RequiresKey(t *testing.T) {
	p := NewResendProvider()
	if _, err := p.Send(context.Background(), Message{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured before init, got %v", err)
	}
	if err := p.Init(Config{}); err == nil {
		t.Fatal("expected error for empty key")
	}
	if err := p.Init(Config{PublicKey: "re_test"}); err != nil {
		t.Fatalf("init failed: %v", err)
	}
}
