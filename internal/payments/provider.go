package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	ProviderPayMongo = "paymongo"
	ProviderStripe   = "stripe"
)

// Status enumerates the normalised intent states shared across gateways.
type Status string

const (
	StatusPending        Status = "pending"
	StatusRequiresAction Status = "requires_action"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
)

// MethodType is the payment method family requested from the gateway.
type MethodType string

const (
	MethodCard MethodType = "card"
	MethodQRPh MethodType = "qrph"
)

// NextActionType tells the client what to do after attach.
type NextActionType string

const (
	NextActionNone     NextActionType = "none"
	NextActionRedirect NextActionType = "redirect"
	NextActionQRCode   NextActionType = "qr_code"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a gateway.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrGatewayUnavailable wraps transport failures, timeouts and 5xx responses.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
)

// GatewayError is a rejection returned by the gateway (4xx). Code and Detail are surfaced verbatim.
type GatewayError struct {
	Provider   string
	StatusCode int
	Code       string
	Detail     string
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "payments: gateway error"
	}
	if e.Code == "" {
		return fmt.Sprintf("payments: %s rejected request (%d): %s", e.Provider, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("payments: %s rejected request (%d %s): %s", e.Provider, e.StatusCode, e.Code, e.Detail)
}

// IntentRequest creates an intent. Amount is in minor units of Currency.
type IntentRequest struct {
	Amount              int64
	Currency            string
	MethodTypes         []MethodType
	Description         string
	StatementDescriptor string
	Metadata            map[string]string
	IdempotencyKey      string
}

// NextAction is the payer step the gateway asks for after attach.
type NextAction struct {
	Type        NextActionType
	RedirectURL string
	QRCodeImage string
}

// Intent is the gateway-side amount to collect.
type Intent struct {
	ID               string
	Provider         string
	ClientKey        string
	Status           Status
	Amount           int64
	Currency         string
	NextAction       NextAction
	LastErrorCode    string
	LastErrorMessage string
}

// Card holds raw card details. Never logged or persisted.
type Card struct {
	Number   string
	ExpMonth int
	ExpYear  int
	CVC      string
}

type Billing struct {
	Name  string
	Email string
	Phone string
}

type MethodRequest struct {
	Type           MethodType
	Card           *Card
	Billing        Billing
	Metadata       map[string]string
	IdempotencyKey string
}

type Method struct {
	ID       string
	Provider string
	Type     MethodType
}

type AttachRequest struct {
	IntentID       string
	MethodID       string
	ClientKey      string
	ReturnURL      string
	IdempotencyKey string
}

// Gateway is the three-step intent protocol every provider adapter implements, plus a read-only
// status lookup. Only RetrieveIntent may be retried by adapters.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	CreatePaymentMethod(ctx context.Context, req MethodRequest) (Method, error)
	AttachPaymentMethod(ctx context.Context, req AttachRequest) (Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (Intent, error)
	Supports(method MethodType) bool
}

// Manager coordinates gateway selection.
type Manager struct {
	providers       map[string]Gateway
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default gateway for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.TrimSpace(strings.ToLower(provider))
	}
}

// WithCurrencyRoutes configures static currency to gateway mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(strings.ToLower(v))
		}
	}
}

// NewManager constructs a Manager over the supplied gateways.
func NewManager(providers map[string]Gateway, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Gateway, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	if _, ok := copyMap[ProviderPayMongo]; ok {
		m.defaultProvider = ProviderPayMongo
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a gateway.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
	Method            MethodType
}

// Resolve picks a gateway by preferred provider, then currency route, then default, then the sole
// registration. Candidates that do not support the requested method are skipped.
func (m *Manager) Resolve(pctx PaymentContext) (string, Gateway, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	candidates := make([]string, 0, 3)
	if preferred := strings.TrimSpace(strings.ToLower(pctx.PreferredProvider)); preferred != "" {
		candidates = append(candidates, preferred)
	}
	if currency := strings.ToUpper(strings.TrimSpace(pctx.Currency)); currency != "" {
		if routed, ok := m.currencyRoutes[currency]; ok {
			candidates = append(candidates, routed)
		}
	}
	if m.defaultProvider != "" {
		candidates = append(candidates, m.defaultProvider)
	}
	if len(m.providers) == 1 {
		for key := range m.providers {
			candidates = append(candidates, key)
		}
	}

	for _, key := range candidates {
		gw, ok := m.providers[key]
		if !ok {
			continue
		}
		if pctx.Method != "" && !gw.Supports(pctx.Method) {
			continue
		}
		return key, gw, nil
	}
	return "", nil, ErrUnsupportedProvider
}

// Provider returns a registered gateway by name.
func (m *Manager) Provider(name string) (Gateway, bool) {
	if m == nil {
		return nil, false
	}
	gw, ok := m.providers[strings.TrimSpace(strings.ToLower(name))]
	return gw, ok
}

func copyMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
