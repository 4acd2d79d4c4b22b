package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeGateway struct {
	lastOp  string
	methods []MethodType
	intent  Intent
	method  Method
	err     error
}

func (f *fakeGateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	f.lastOp = "create_intent"
	return f.intent, f.err
}

func (f *fakeGateway) CreatePaymentMethod(ctx context.Context, req MethodRequest) (Method, error) {
	f.lastOp = "create_method"
	return f.method, f.err
}

func (f *fakeGateway) AttachPaymentMethod(ctx context.Context, req AttachRequest) (Intent, error) {
	f.lastOp = "attach"
	return f.intent, f.err
}

func (f *fakeGateway) RetrieveIntent(ctx context.Context, intentID string) (Intent, error) {
	f.lastOp = "retrieve"
	return f.intent, f.err
}

func (f *fakeGateway) Supports(method MethodType) bool {
	if len(f.methods) == 0 {
		return true
	}
	for _, m := range f.methods {
		if m == method {
			return true
		}
	}
	return false
}

func TestManagerResolveUsesPreferredProvider(t *testing.T) {
	paymongo := &fakeGateway{}
	stripe := &fakeGateway{}

	mgr, err := NewManager(map[string]Gateway{
		ProviderPayMongo: paymongo,
		ProviderStripe:   stripe,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	key, gw, err := mgr.Resolve(PaymentContext{PreferredProvider: "Stripe"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != ProviderStripe || gw != stripe {
		t.Fatalf("expected stripe, got %q", key)
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	paymongo := &fakeGateway{}
	stripe := &fakeGateway{methods: []MethodType{MethodCard}}

	mgr, err := NewManager(
		map[string]Gateway{ProviderPayMongo: paymongo, ProviderStripe: stripe},
		WithCurrencyRoutes(map[string]string{"usd": "stripe"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	key, _, err := mgr.Resolve(PaymentContext{Currency: "USD", Method: MethodCard})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != ProviderStripe {
		t.Fatalf("expected stripe for USD cards, got %q", key)
	}

	key, _, err = mgr.Resolve(PaymentContext{Currency: "USD", Method: MethodQRPh})
	if err != nil {
		t.Fatalf("resolve qr: %v", err)
	}
	if key != ProviderPayMongo {
		t.Fatalf("expected QR to skip card-only gateway, got %q", key)
	}
}

func TestManagerFallsBackToDefault(t *testing.T) {
	paymongo := &fakeGateway{}
	mgr, err := NewManager(map[string]Gateway{ProviderPayMongo: paymongo})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	key, gw, err := mgr.Resolve(PaymentContext{Currency: "PHP"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if key != ProviderPayMongo || gw != paymongo {
		t.Fatalf("expected default provider, got %q", key)
	}
	if _, ok := mgr.Provider("PAYMONGO"); !ok {
		t.Fatalf("expected provider lookup to be case insensitive")
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	mgr, err := NewManager(
		map[string]Gateway{ProviderStripe: &fakeGateway{methods: []MethodType{MethodCard}}, "other": &fakeGateway{methods: []MethodType{MethodCard}}},
		WithDefaultProvider(""),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if _, _, err := mgr.Resolve(PaymentContext{PreferredProvider: "unknown"}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
	if _, _, err := mgr.Resolve(PaymentContext{PreferredProvider: ProviderStripe, Method: MethodQRPh}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected QR to be unsupported, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Gateway{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}
