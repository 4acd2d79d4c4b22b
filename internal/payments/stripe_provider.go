package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripePaymentMethodAPI interface {
	New(params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

type stripeClients struct {
	intents        stripePaymentIntentAPI
	paymentMethods stripePaymentMethodAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clients   *stripeClients
}

// StripeProvider is a card-only Gateway backed by Stripe Payment Intents.
type StripeProvider struct {
	api     stripeClients
	account string
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe gateway using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents:        sc.PaymentIntents,
			paymentMethods: sc.PaymentMethods,
		}
	}
	if clients.intents == nil || clients.paymentMethods == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

func (p *StripeProvider) Supports(method MethodType) bool {
	return method == MethodCard
}

func (p *StripeProvider) applyCommon(ctx context.Context, params *stripe.Params, idempotencyKey string) {
	params.Context = ctx
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
}

// CreateIntent creates a card Payment Intent.
func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	for _, m := range req.MethodTypes {
		if m != MethodCard {
			return Intent{}, &GatewayError{Provider: ProviderStripe, StatusCode: 400, Code: "unsupported_method", Detail: fmt.Sprintf("method %s is not available", m)}
		}
	}
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{string(MethodCard)}),
	}
	p.applyCommon(ctx, &params.Params, req.IdempotencyKey)
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.StatementDescriptor != "" {
		params.StatementDescriptorSuffix = stripe.String(req.StatementDescriptor)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", classifyStripeError(err))
	}
	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"intentId": intent.ID,
		"currency": string(intent.Currency),
	})
	return stripeIntent(intent), nil
}

// CreatePaymentMethod registers raw card details. Stripe does not offer QR Ph.
func (p *StripeProvider) CreatePaymentMethod(ctx context.Context, req MethodRequest) (Method, error) {
	if req.Type != MethodCard || req.Card == nil {
		return Method{}, &GatewayError{Provider: ProviderStripe, StatusCode: 400, Code: "unsupported_method", Detail: "only card payment methods are supported"}
	}
	params := &stripe.PaymentMethodParams{
		Type: stripe.String(string(stripe.PaymentMethodTypeCard)),
		Card: &stripe.PaymentMethodCardParams{
			Number:   stripe.String(req.Card.Number),
			ExpMonth: stripe.Int64(int64(req.Card.ExpMonth)),
			ExpYear:  stripe.Int64(int64(req.Card.ExpYear)),
			CVC:      stripe.String(req.Card.CVC),
		},
		BillingDetails: &stripe.PaymentMethodBillingDetailsParams{},
	}
	p.applyCommon(ctx, &params.Params, req.IdempotencyKey)
	if req.Billing.Name != "" {
		params.BillingDetails.Name = stripe.String(req.Billing.Name)
	}
	if req.Billing.Email != "" {
		params.BillingDetails.Email = stripe.String(req.Billing.Email)
	}
	if req.Billing.Phone != "" {
		params.BillingDetails.Phone = stripe.String(req.Billing.Phone)
	}

	method, err := p.api.paymentMethods.New(params)
	if err != nil {
		return Method{}, fmt.Errorf("stripe: create payment method: %w", classifyStripeError(err))
	}
	return Method{ID: method.ID, Provider: ProviderStripe, Type: MethodCard}, nil
}

// AttachPaymentMethod confirms the intent with the method, which is Stripe's attach step.
func (p *StripeProvider) AttachPaymentMethod(ctx context.Context, req AttachRequest) (Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(req.MethodID),
	}
	p.applyCommon(ctx, &params.Params, req.IdempotencyKey)
	if req.ReturnURL != "" {
		params.ReturnURL = stripe.String(req.ReturnURL)
	}
	intent, err := p.api.intents.Confirm(req.IntentID, params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: confirm payment intent: %w", classifyStripeError(err))
	}
	p.logger(ctx, "payments.stripe.intent.confirmed", map[string]any{
		"intentId": intent.ID,
		"status":   string(intent.Status),
	})
	return stripeIntent(intent), nil
}

// RetrieveIntent reads the intent. The Stripe client already retries idempotent GETs internally.
func (p *StripeProvider) RetrieveIntent(ctx context.Context, intentID string) (Intent, error) {
	params := &stripe.PaymentIntentParams{}
	p.applyCommon(ctx, &params.Params, "")
	intent, err := p.api.intents.Get(intentID, params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: retrieve payment intent: %w", classifyStripeError(err))
	}
	return stripeIntent(intent), nil
}

func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 {
		return &GatewayError{
			Provider:   ProviderStripe,
			StatusCode: stripeErr.HTTPStatusCode,
			Code:       string(stripeErr.Code),
			Detail:     stripeErr.Msg,
		}
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}

func stripeIntent(intent *stripe.PaymentIntent) Intent {
	if intent == nil {
		return Intent{}
	}
	out := Intent{
		ID:         intent.ID,
		Provider:   ProviderStripe,
		ClientKey:  intent.ClientSecret,
		Amount:     intent.Amount,
		Currency:   strings.ToUpper(string(intent.Currency)),
		NextAction: NextAction{Type: NextActionNone},
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		out.Status = StatusSucceeded
	case stripe.PaymentIntentStatusRequiresAction:
		out.Status = StatusRequiresAction
	case stripe.PaymentIntentStatusCanceled:
		out.Status = StatusFailed
	default:
		out.Status = StatusPending
	}
	if intent.LastPaymentError != nil {
		out.LastErrorCode = string(intent.LastPaymentError.Code)
		out.LastErrorMessage = intent.LastPaymentError.Msg
		if intent.Status == stripe.PaymentIntentStatusRequiresPaymentMethod {
			out.Status = StatusFailed
		}
	}
	if na := intent.NextAction; na != nil && na.RedirectToURL != nil && na.RedirectToURL.URL != "" {
		out.NextAction = NextAction{Type: NextActionRedirect, RedirectURL: na.RedirectToURL.URL}
	}
	return out
}
