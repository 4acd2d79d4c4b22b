package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78/webhook"
)

const (
	// WebhookSignatureHeader carries the gateway's "t=...,te=...,li=..." signature.
	WebhookSignatureHeader = "Paymongo-Signature"
	// PlainSignatureHeader is the unprefixed name some PayMongo deliveries and relays use.
	PlainSignatureHeader = "Signature"
	// StripeSignatureHeader carries Stripe's "t=...,v1=..." signature.
	StripeSignatureHeader = "Stripe-Signature"

	defaultMaxWebhookBody = 1 << 20
)

var (
	ErrSignatureMissing   = errors.New("auth: webhook signature missing")
	ErrSignatureMalformed = errors.New("auth: webhook signature malformed")
	ErrSignatureMismatch  = errors.New("auth: webhook signature mismatch")
	ErrSignatureStale     = errors.New("auth: webhook signature timestamp outside tolerance")
)

// WebhookSignature is the parsed form of the signature header.
type WebhookSignature struct {
	Timestamp     string
	TestSignature string
	LiveSignature string
}

// ParseWebhookSignature splits a "t=<ts>,te=<hex>,li=<hex>" header. Unknown keys are ignored.
func ParseWebhookSignature(header string) (WebhookSignature, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return WebhookSignature{}, ErrSignatureMissing
	}
	var sig WebhookSignature
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			sig.Timestamp = strings.TrimSpace(value)
		case "te":
			sig.TestSignature = strings.TrimSpace(value)
		case "li":
			sig.LiveSignature = strings.TrimSpace(value)
		}
	}
	if sig.Timestamp == "" {
		return WebhookSignature{}, fmt.Errorf("%w: timestamp missing", ErrSignatureMalformed)
	}
	if sig.TestSignature == "" && sig.LiveSignature == "" {
		return WebhookSignature{}, fmt.Errorf("%w: signature field missing", ErrSignatureMalformed)
	}
	return sig, nil
}

// pick returns the signature for the configured mode, falling back to the other field.
func (s WebhookSignature) pick(liveMode bool) string {
	primary, secondary := s.TestSignature, s.LiveSignature
	if liveMode {
		primary, secondary = secondary, primary
	}
	if primary != "" {
		return primary
	}
	return secondary
}

// WebhookSignatureVerifier authenticates gateway webhook deliveries.
type WebhookSignatureVerifier struct {
	name      string
	headers   []string
	secret    []byte
	liveMode  bool
	tolerance time.Duration
	maxBody   int64
	check     func(header string, body []byte) error

	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// SignatureOption customises the verifier.
type SignatureOption func(*WebhookSignatureVerifier)

func WithLiveMode(live bool) SignatureOption {
	return func(v *WebhookSignatureVerifier) { v.liveMode = live }
}

// WithSignatureTolerance rejects signatures whose timestamp is further than d from now. Zero disables the check.
func WithSignatureTolerance(d time.Duration) SignatureOption {
	return func(v *WebhookSignatureVerifier) {
		if d >= 0 {
			v.tolerance = d
		}
	}
}

func WithSignatureLogger(logger Logger) SignatureOption {
	return func(v *WebhookSignatureVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithSignatureMetrics(metrics MetricsRecorder) SignatureOption {
	return func(v *WebhookSignatureVerifier) { v.metrics = metrics }
}

func WithSignatureClock(now func() time.Time) SignatureOption {
	return func(v *WebhookSignatureVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

func WithMaxWebhookBody(n int64) SignatureOption {
	return func(v *WebhookSignatureVerifier) {
		if n > 0 {
			v.maxBody = n
		}
	}
}

// NewWebhookSignatureVerifier builds a PayMongo verifier. An empty secret disables verification.
func NewWebhookSignatureVerifier(secret string, opts ...SignatureOption) *WebhookSignatureVerifier {
	v := &WebhookSignatureVerifier{
		name:    "webhook_signature",
		headers: []string{WebhookSignatureHeader, PlainSignatureHeader},
		secret:  []byte(strings.TrimSpace(secret)),
		maxBody: defaultMaxWebhookBody,
		logger:  nopLogger{},
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	v.check = v.verifyPayMongo
	return v
}

// NewStripeSignatureVerifier builds a verifier for Stripe-Signature headers. Verification is
// delegated to stripe-go; a zero tolerance skips the timestamp check.
func NewStripeSignatureVerifier(secret string, opts ...SignatureOption) *WebhookSignatureVerifier {
	v := NewWebhookSignatureVerifier(secret, opts...)
	v.name = "stripe_signature"
	v.headers = []string{StripeSignatureHeader}
	v.check = v.verifyStripe
	return v
}

// Enabled reports whether a secret is configured.
func (v *WebhookSignatureVerifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Verify checks header against the body. Both schemes sign HMAC-SHA256(secret, "{t}.{body}").
func (v *WebhookSignatureVerifier) Verify(header string, body []byte) error {
	if v.check == nil {
		return v.verifyPayMongo(header, body)
	}
	return v.check(header, body)
}

func (v *WebhookSignatureVerifier) verifyPayMongo(header string, body []byte) error {
	sig, err := ParseWebhookSignature(header)
	if err != nil {
		return err
	}
	if v.tolerance > 0 {
		seconds, err := strconv.ParseInt(sig.Timestamp, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: timestamp not numeric", ErrSignatureMalformed)
		}
		skew := v.now().Sub(time.Unix(seconds, 0))
		if skew > v.tolerance || skew < -v.tolerance {
			return ErrSignatureStale
		}
	}
	provided, err := hex.DecodeString(sig.pick(v.liveMode))
	if err != nil {
		return fmt.Errorf("%w: signature not hex", ErrSignatureMalformed)
	}
	if !hmac.Equal(provided, ComputeWebhookSignature(v.secret, sig.Timestamp, body)) {
		return ErrSignatureMismatch
	}
	return nil
}

func (v *WebhookSignatureVerifier) verifyStripe(header string, body []byte) error {
	if strings.TrimSpace(header) == "" {
		return ErrSignatureMissing
	}
	_, err := webhook.ConstructEventWithOptions(body, header, string(v.secret), webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreTolerance:          v.tolerance == 0,
		IgnoreAPIVersionMismatch: true,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, webhook.ErrNotSigned):
		return ErrSignatureMissing
	case errors.Is(err, webhook.ErrTooOld):
		return ErrSignatureStale
	case errors.Is(err, webhook.ErrNoValidSignature):
		return ErrSignatureMismatch
	default:
		return fmt.Errorf("%w: %v", ErrSignatureMalformed, err)
	}
}

// signatureHeader returns the first configured header present on r.
func (v *WebhookSignatureVerifier) signatureHeader(r *http.Request) string {
	for _, name := range v.headers {
		if value := strings.TrimSpace(r.Header.Get(name)); value != "" {
			return value
		}
	}
	return ""
}

// ComputeWebhookSignature returns the raw HMAC for timestamp and body.
func ComputeWebhookSignature(secret []byte, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// RequireSignature rejects requests whose body does not match the signature header.
// The body is restored so downstream handlers can read it again.
func (v *WebhookSignatureVerifier) RequireSignature() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !v.Enabled() {
				v.logger.Printf("auth: webhook signature verification disabled; accepting %s %s unverified", r.Method, r.URL.Path)
				next.ServeHTTP(w, r)
				return
			}
			start := v.now()
			ctx := r.Context()

			body, err := readAndRestoreBody(r, v.maxBody)
			if err != nil {
				v.record(ctx, false, "body_unreadable", start)
				respondAuthError(w, http.StatusBadRequest, "invalid_body", "unable to read webhook body")
				return
			}

			if err := v.Verify(v.signatureHeader(r), body); err != nil {
				reason := signatureReason(err)
				v.logger.Printf("auth: webhook signature rejected (%s)", reason)
				v.record(ctx, false, reason, start)
				respondAuthError(w, http.StatusUnauthorized, reason, "webhook signature verification failed")
				return
			}

			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r)
		})
	}
}

func (v *WebhookSignatureVerifier) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, v.name, success, reason, v.now().Sub(start))
}

func signatureReason(err error) string {
	switch {
	case errors.Is(err, ErrSignatureMissing):
		return "signature_missing"
	case errors.Is(err, ErrSignatureStale):
		return "signature_stale"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature_mismatch"
	default:
		return "signature_invalid"
	}
}

func readAndRestoreBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > limit {
		return nil, errors.New("auth: webhook body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}
