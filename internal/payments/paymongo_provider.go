package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
)

const (
	defaultPayMongoBaseURL = "https://api.paymongo.com/v1"
	maxPayMongoResponse    = 1 << 20
)

// PayMongoLogger defines the logging contract for PayMongo operations.
type PayMongoLogger func(ctx context.Context, event string, fields map[string]any)

// PayMongoConfig configures the PayMongoProvider.
type PayMongoConfig struct {
	SecretKey  string
	BaseURL    string
	HTTPClient *http.Client
	Logger     PayMongoLogger
	// StatusRetryAttempts bounds RetrieveIntent retries. Create and attach calls are never retried.
	StatusRetryAttempts int
	Backoff             gax.Backoff
}

// PayMongoProvider talks to the PayMongo REST API. Amounts are sent in centavos.
type PayMongoProvider struct {
	secretKey     string
	baseURL       string
	http          *http.Client
	logger        PayMongoLogger
	retryAttempts int
	backoff       gax.Backoff
}

func NewPayMongoProvider(cfg PayMongoConfig) (*PayMongoProvider, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errors.New("paymongo: secret key is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultPayMongoBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("paymongo: invalid base url: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	attempts := cfg.StatusRetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := cfg.Backoff
	if backoff.Initial <= 0 {
		backoff = gax.Backoff{Initial: 200 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2}
	}
	return &PayMongoProvider{
		secretKey:     secret,
		baseURL:       base,
		http:          client,
		logger:        logger,
		retryAttempts: attempts,
		backoff:       backoff,
	}, nil
}

func (p *PayMongoProvider) Supports(method MethodType) bool {
	return method == MethodCard || method == MethodQRPh
}

type payMongoEnvelope[T any] struct {
	Data struct {
		ID         string `json:"id,omitempty"`
		Type       string `json:"type,omitempty"`
		Attributes T      `json:"attributes"`
	} `json:"data"`
}

type payMongoErrorBody struct {
	Errors []struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

type payMongoIntentCreate struct {
	Amount               int64             `json:"amount"`
	Currency             string            `json:"currency"`
	PaymentMethodAllowed []string          `json:"payment_method_allowed"`
	CaptureType          string            `json:"capture_type"`
	Description          string            `json:"description,omitempty"`
	StatementDescriptor  string            `json:"statement_descriptor,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

type payMongoIntentAttributes struct {
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	ClientKey        string `json:"client_key"`
	Status           string `json:"status"`
	LastPaymentError *struct {
		Code   string `json:"failed_code"`
		Detail string `json:"failed_message"`
	} `json:"last_payment_error"`
	NextAction *struct {
		Type     string `json:"type"`
		Redirect *struct {
			URL string `json:"url"`
		} `json:"redirect"`
		Code *struct {
			ImageURL string `json:"image_url"`
		} `json:"code"`
	} `json:"next_action"`
}

type payMongoMethodCreate struct {
	Type     string            `json:"type"`
	Details  *payMongoCard     `json:"details,omitempty"`
	Billing  payMongoBilling   `json:"billing"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type payMongoCard struct {
	CardNumber string `json:"card_number"`
	ExpMonth   int    `json:"exp_month"`
	ExpYear    int    `json:"exp_year"`
	CVC        string `json:"cvc"`
}

type payMongoBilling struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type payMongoMethodAttributes struct {
	Type string `json:"type"`
}

type payMongoAttach struct {
	PaymentMethod string `json:"payment_method"`
	ClientKey     string `json:"client_key"`
	ReturnURL     string `json:"return_url,omitempty"`
}

// CreateIntent creates a payment intent. One call, no retry.
func (p *PayMongoProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if req.Amount <= 0 {
		return Intent{}, errors.New("paymongo: amount must be positive")
	}
	allowed := make([]string, 0, len(req.MethodTypes))
	for _, m := range req.MethodTypes {
		allowed = append(allowed, string(m))
	}
	var body payMongoEnvelope[payMongoIntentCreate]
	body.Data.Attributes = payMongoIntentCreate{
		Amount:               req.Amount,
		Currency:             strings.ToUpper(req.Currency),
		PaymentMethodAllowed: allowed,
		CaptureType:          "automatic",
		Description:          req.Description,
		StatementDescriptor:  req.StatementDescriptor,
		Metadata:             copyMetadata(req.Metadata),
	}

	var out payMongoEnvelope[payMongoIntentAttributes]
	if err := p.do(ctx, http.MethodPost, "/payment_intents", body, req.IdempotencyKey, &out); err != nil {
		return Intent{}, fmt.Errorf("paymongo: create intent: %w", err)
	}
	intent := p.toIntent(out.Data.ID, out.Data.Attributes)
	p.logger(ctx, "payments.paymongo.intent.created", map[string]any{
		"intentId": intent.ID,
		"amount":   intent.Amount,
		"currency": intent.Currency,
		"status":   string(intent.Status),
	})
	return intent, nil
}

// CreatePaymentMethod registers the card or QR Ph method with billing details.
func (p *PayMongoProvider) CreatePaymentMethod(ctx context.Context, req MethodRequest) (Method, error) {
	attrs := payMongoMethodCreate{
		Type:     string(req.Type),
		Billing:  payMongoBilling{Name: req.Billing.Name, Email: req.Billing.Email, Phone: req.Billing.Phone},
		Metadata: copyMetadata(req.Metadata),
	}
	switch req.Type {
	case MethodCard:
		if req.Card == nil {
			return Method{}, errors.New("paymongo: card details are required")
		}
		attrs.Details = &payMongoCard{
			CardNumber: req.Card.Number,
			ExpMonth:   req.Card.ExpMonth,
			ExpYear:    req.Card.ExpYear,
			CVC:        req.Card.CVC,
		}
	case MethodQRPh:
	default:
		return Method{}, fmt.Errorf("paymongo: unsupported method %q", req.Type)
	}

	var body payMongoEnvelope[payMongoMethodCreate]
	body.Data.Attributes = attrs
	var out payMongoEnvelope[payMongoMethodAttributes]
	if err := p.do(ctx, http.MethodPost, "/payment_methods", body, req.IdempotencyKey, &out); err != nil {
		return Method{}, fmt.Errorf("paymongo: create payment method: %w", err)
	}
	p.logger(ctx, "payments.paymongo.method.created", map[string]any{
		"methodId": out.Data.ID,
		"type":     string(req.Type),
	})
	return Method{ID: out.Data.ID, Provider: ProviderPayMongo, Type: req.Type}, nil
}

// AttachPaymentMethod binds the method to the intent, which triggers the charge attempt.
func (p *PayMongoProvider) AttachPaymentMethod(ctx context.Context, req AttachRequest) (Intent, error) {
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" || strings.TrimSpace(req.MethodID) == "" {
		return Intent{}, errors.New("paymongo: intent and method ids are required")
	}
	var body payMongoEnvelope[payMongoAttach]
	body.Data.Attributes = payMongoAttach{
		PaymentMethod: req.MethodID,
		ClientKey:     req.ClientKey,
		ReturnURL:     req.ReturnURL,
	}
	var out payMongoEnvelope[payMongoIntentAttributes]
	path := "/payment_intents/" + url.PathEscape(intentID) + "/attach"
	if err := p.do(ctx, http.MethodPost, path, body, req.IdempotencyKey, &out); err != nil {
		return Intent{}, fmt.Errorf("paymongo: attach payment method: %w", err)
	}
	intent := p.toIntent(out.Data.ID, out.Data.Attributes)
	p.logger(ctx, "payments.paymongo.intent.attached", map[string]any{
		"intentId":   intent.ID,
		"status":     string(intent.Status),
		"nextAction": string(intent.NextAction.Type),
	})
	return intent, nil
}

// RetrieveIntent reads the intent status. Transient failures are retried with backoff up to the
// configured attempt count.
func (p *PayMongoProvider) RetrieveIntent(ctx context.Context, intentID string) (Intent, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return Intent{}, errors.New("paymongo: intent id is required")
	}
	path := "/payment_intents/" + url.PathEscape(intentID)
	backoff := p.backoff

	var lastErr error
	for attempt := 1; attempt <= p.retryAttempts; attempt++ {
		var out payMongoEnvelope[payMongoIntentAttributes]
		err := p.do(ctx, http.MethodGet, path, nil, "", &out)
		if err == nil {
			return p.toIntent(out.Data.ID, out.Data.Attributes), nil
		}
		lastErr = err
		if !errors.Is(err, ErrGatewayUnavailable) || attempt == p.retryAttempts {
			break
		}
		pause := backoff.Pause()
		p.logger(ctx, "payments.paymongo.intent.retrieve_retry", map[string]any{
			"intentId": intentID,
			"attempt":  attempt,
			"pause":    pause.String(),
			"error":    err.Error(),
		})
		if err := gax.Sleep(ctx, pause); err != nil {
			return Intent{}, fmt.Errorf("paymongo: retrieve intent: %w: %v", ErrGatewayUnavailable, err)
		}
	}
	return Intent{}, fmt.Errorf("paymongo: retrieve intent: %w", lastErr)
}

func (p *PayMongoProvider) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(p.secretKey, "")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayMongoResponse))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return decodePayMongoError(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}
	return nil
}

func decodePayMongoError(status int, data []byte) error {
	gwErr := &GatewayError{Provider: ProviderPayMongo, StatusCode: status}
	var body payMongoErrorBody
	if err := json.Unmarshal(data, &body); err == nil && len(body.Errors) > 0 {
		gwErr.Code = body.Errors[0].Code
		details := make([]string, 0, len(body.Errors))
		for _, e := range body.Errors {
			if e.Detail != "" {
				details = append(details, e.Detail)
			}
		}
		gwErr.Detail = strings.Join(details, "; ")
	}
	if gwErr.Detail == "" {
		gwErr.Detail = http.StatusText(status)
	}
	return gwErr
}

func (p *PayMongoProvider) toIntent(id string, attrs payMongoIntentAttributes) Intent {
	intent := Intent{
		ID:         id,
		Provider:   ProviderPayMongo,
		ClientKey:  attrs.ClientKey,
		Amount:     attrs.Amount,
		Currency:   strings.ToUpper(attrs.Currency),
		Status:     payMongoStatus(attrs.Status),
		NextAction: NextAction{Type: NextActionNone},
	}
	if attrs.LastPaymentError != nil {
		intent.LastErrorCode = attrs.LastPaymentError.Code
		intent.LastErrorMessage = attrs.LastPaymentError.Detail
		if intent.Status == StatusPending {
			intent.Status = StatusFailed
		}
	}
	if na := attrs.NextAction; na != nil {
		switch {
		case na.Redirect != nil && na.Redirect.URL != "":
			intent.NextAction = NextAction{Type: NextActionRedirect, RedirectURL: na.Redirect.URL}
		case na.Code != nil && na.Code.ImageURL != "":
			intent.NextAction = NextAction{Type: NextActionQRCode, QRCodeImage: na.Code.ImageURL}
		}
	}
	return intent
}

func payMongoStatus(status string) Status {
	switch status {
	case "succeeded":
		return StatusSucceeded
	case "awaiting_next_action":
		return StatusRequiresAction
	case "cancelled", "canceled":
		return StatusFailed
	default:
		return StatusPending
	}
}
