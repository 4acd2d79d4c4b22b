package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tabitours/api/internal/domain"
	"github.com/tabitours/api/internal/payments"
	"github.com/tabitours/api/internal/platform/idempotency"
	"github.com/tabitours/api/internal/platform/textutil"
	"github.com/tabitours/api/internal/repositories"
)

const (
	defaultGatewayCallTimeout = 15 * time.Second
	maxBillingNameRunes       = 120
	maxIdempotencyKeyLength   = 255
	bookingIDPrefix           = "bk_"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutAmountMismatch indicates the client's expected total differs from the server quote.
	ErrCheckoutAmountMismatch = errors.New("checkout: amount mismatch")
	// ErrCheckoutGatewayRejected indicates the gateway refused a request (4xx).
	ErrCheckoutGatewayRejected = errors.New("checkout: gateway rejected request")
	// ErrCheckoutGatewayUnavailable indicates a gateway transport failure, timeout or 5xx.
	ErrCheckoutGatewayUnavailable = errors.New("checkout: gateway unavailable")
	// ErrCheckoutInProgress indicates another request holds the same idempotency key.
	ErrCheckoutInProgress = errors.New("checkout: attempt in progress")
	// ErrCheckoutIdempotencyConflict indicates a key reused with a different request body.
	ErrCheckoutIdempotencyConflict = errors.New("checkout: idempotency key reused with different request")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{6,19}$`)

// CheckoutError carries details for failures that the client is shown verbatim.
type CheckoutError struct {
	Err         error
	BookingID   string
	GatewayCode string
	Detail      string
	QuotedTotal int64
	Replayed    bool
}

func (e *CheckoutError) Error() string {
	switch {
	case e.GatewayCode != "" && e.Detail != "":
		return fmt.Sprintf("%v: %s: %s", e.Err, e.GatewayCode, e.Detail)
	case e.Detail != "":
		return fmt.Sprintf("%v: %s", e.Err, e.Detail)
	default:
		return e.Err.Error()
	}
}

func (e *CheckoutError) Unwrap() error { return e.Err }

type CheckoutServiceDeps struct {
	Pricing  PricingEngine
	Cart     CartAggregator
	Bookings repositories.BookingRepository
	Ledger   idempotency.Store
	Gateways GatewayDirectory
	Events   BookingEventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
	NewID    func() string
	Config   CheckoutConfig
}

// CheckoutConfig carries the checkout policy taken from configuration.
// Quotes are charged as priced, so every charge currency must equal CatalogCurrency.
type CheckoutConfig struct {
	CatalogCurrency     string
	DefaultCurrency     string
	QRCurrency          string
	ReturnURLBase       string
	StatementDescriptor string
	TransferAddOnID     string
	CallTimeout         time.Duration
	LedgerTTL           time.Duration
}

type checkoutService struct {
	pricing  PricingEngine
	cart     CartAggregator
	bookings repositories.BookingRepository
	ledger   idempotency.Store
	gateways GatewayDirectory
	events   BookingEventPublisher
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
	newID    func() string
	cfg      CheckoutConfig
}

var _ CheckoutService = (*checkoutService)(nil)

func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Pricing == nil:
		return nil, errors.New("checkout service: pricing engine is required")
	case deps.Cart == nil:
		return nil, errors.New("checkout service: cart aggregator is required")
	case deps.Bookings == nil:
		return nil, errors.New("checkout service: booking repository is required")
	case deps.Ledger == nil:
		return nil, errors.New("checkout service: attempt ledger is required")
	case deps.Gateways == nil:
		return nil, errors.New("checkout service: gateway directory is required")
	}

	cfg := deps.Config
	defaultCurrency, err := payments.NormalizeCurrency(cfg.DefaultCurrency)
	if err != nil {
		return nil, fmt.Errorf("checkout service: default currency: %w", err)
	}
	cfg.DefaultCurrency = defaultCurrency
	if strings.TrimSpace(cfg.CatalogCurrency) == "" {
		cfg.CatalogCurrency = defaultCurrency
	}
	if cfg.CatalogCurrency, err = payments.NormalizeCurrency(cfg.CatalogCurrency); err != nil {
		return nil, fmt.Errorf("checkout service: catalog currency: %w", err)
	}
	if strings.TrimSpace(cfg.QRCurrency) == "" {
		cfg.QRCurrency = cfg.CatalogCurrency
	}
	if cfg.QRCurrency, err = payments.NormalizeCurrency(cfg.QRCurrency); err != nil {
		return nil, fmt.Errorf("checkout service: qr currency: %w", err)
	}
	if cfg.DefaultCurrency != cfg.CatalogCurrency || cfg.QRCurrency != cfg.CatalogCurrency {
		return nil, fmt.Errorf("checkout service: charge currencies %s/%s must match catalog currency %s",
			cfg.DefaultCurrency, cfg.QRCurrency, cfg.CatalogCurrency)
	}
	if _, err := url.ParseRequestURI(strings.TrimSpace(cfg.ReturnURLBase)); err != nil {
		return nil, errors.New("checkout service: return url base must be an absolute url")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultGatewayCallTimeout
	}
	if cfg.LedgerTTL <= 0 {
		cfg.LedgerTTL = idempotency.DefaultTTL
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newID := deps.NewID
	if newID == nil {
		newID = func() string { return bookingIDPrefix + strings.ToLower(ulid.Make().String()) }
	}

	return &checkoutService{
		pricing:  deps.Pricing,
		cart:     deps.Cart,
		bookings: deps.Bookings,
		ledger:   deps.Ledger,
		gateways: deps.Gateways,
		events:   deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newID:  newID,
		cfg:    cfg,
	}, nil
}

// Checkout runs Start → IntentCreated → MethodCreated → Attached. Gateway calls run in order, each
// under its own timeout, and none is retried.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	cmd, chargeCurrency, err := s.normalise(cmd)
	if err != nil {
		return CheckoutResult{}, err
	}

	ledgerKey := cmd.CustomerID + ":" + cmd.IdempotencyKey
	fingerprint := checkoutFingerprint(cmd, chargeCurrency)

	reservation, err := s.ledger.Reserve(ctx, ledgerKey, fingerprint, s.now(), s.cfg.LedgerTTL)
	switch {
	case errors.Is(err, idempotency.ErrFingerprintMismatch):
		return CheckoutResult{}, ErrCheckoutIdempotencyConflict
	case err != nil:
		s.logger(ctx, "checkout.ledger_unavailable", map[string]any{"error": err})
		return CheckoutResult{}, ErrCheckoutUnavailable
	}
	switch reservation.State {
	case idempotency.ReservationStateCompleted:
		return s.replay(ctx, reservation.Attempt)
	case idempotency.ReservationStatePending:
		return CheckoutResult{}, ErrCheckoutInProgress
	}

	quote, err := s.quote(ctx, cmd)
	if err != nil {
		s.release(ctx, ledgerKey, fingerprint)
		return CheckoutResult{}, err
	}
	if cmd.ExpectedTotal != nil && *cmd.ExpectedTotal != quote.Total {
		s.release(ctx, ledgerKey, fingerprint)
		s.logger(ctx, "checkout.amount_mismatch", map[string]any{
			"expectedTotal": *cmd.ExpectedTotal,
			"quotedTotal":   quote.Total,
		})
		return CheckoutResult{}, &CheckoutError{
			Err:         ErrCheckoutAmountMismatch,
			Detail:      fmt.Sprintf("quoted total is %d", quote.Total),
			QuotedTotal: quote.Total,
		}
	}

	if !strings.EqualFold(quote.Currency, chargeCurrency) {
		s.release(ctx, ledgerKey, fingerprint)
		return CheckoutResult{}, fmt.Errorf("%w: quote is priced in %s, not %s", ErrCheckoutInvalidInput, quote.Currency, chargeCurrency)
	}

	amountMinor, err := payments.ToMinorUnits(quote.Total, chargeCurrency)
	if err != nil {
		s.release(ctx, ledgerKey, fingerprint)
		return CheckoutResult{}, fmt.Errorf("%w: %w", ErrCheckoutInvalidInput, err)
	}

	now := s.now()
	booking := domain.Booking{
		ID:          s.newID(),
		CustomerID:  cmd.CustomerID,
		Status:      domain.BookingStatusPending,
		Selection:   selectionFromCommand(cmd),
		Quote:       quote,
		TotalDue:    quote.Total,
		Currency:    chargeCurrency,
		PaymentType: cmd.PaymentType,
		Billing:     cmd.Billing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.bookings.Create(ctx, booking); err != nil {
		s.release(ctx, ledgerKey, fingerprint)
		s.logger(ctx, "checkout.booking_create_failed", map[string]any{"bookingId": booking.ID, "error": err})
		return CheckoutResult{}, ErrCheckoutUnavailable
	}

	result, failure := s.collect(ctx, cmd, booking, amountMinor)
	if failure != nil {
		s.complete(ctx, ledgerKey, fingerprint, idempotency.Outcome{
			BookingID: booking.ID,
			Succeeded: false,
			Payload:   encodeLedgerEntry(checkoutLedgerEntry{Failure: ledgerFailureFrom(failure)}),
		})
		s.logger(ctx, "checkout.gateway_failed", map[string]any{
			"bookingId":   booking.ID,
			"gatewayCode": failure.GatewayCode,
			"error":       failure,
		})
		return CheckoutResult{}, failure
	}
	result.Quote = quote
	result.Amount = quote.Total

	if err := s.bookings.AttachIntent(ctx, booking.ID, result.Provider, result.IntentID, s.now()); err != nil {
		// The intent metadata carries the booking id, so webhooks still reconcile.
		s.logger(ctx, "checkout.attach_intent_failed", map[string]any{
			"bookingId": booking.ID,
			"intentId":  result.IntentID,
			"error":     err,
		})
	}

	s.complete(ctx, ledgerKey, fingerprint, idempotency.Outcome{
		BookingID: booking.ID,
		Succeeded: true,
		Payload:   encodeLedgerEntry(checkoutLedgerEntry{Result: &result}),
	})
	publishBookingChange(ctx, s.events, s.logger, BookingStatusChange{
		Type:       domain.BookingEventCheckoutStarted,
		BookingID:  booking.ID,
		CustomerID: booking.CustomerID,
		To:         domain.BookingStatusPending,
		Source:     "checkout",
		Amount:     booking.TotalDue,
		Currency:   booking.Currency,
		OccurredAt: now,
	})
	s.logger(ctx, "checkout.intent_attached", map[string]any{
		"bookingId":    booking.ID,
		"provider":     result.Provider,
		"intentId":     result.IntentID,
		"intentStatus": string(result.IntentStatus),
		"nextAction":   string(result.NextAction.Type),
	})
	return result, nil
}

func (s *checkoutService) normalise(cmd CheckoutCommand) (CheckoutCommand, string, error) {
	invalid := func(msg string) (CheckoutCommand, string, error) {
		return CheckoutCommand{}, "", fmt.Errorf("%w: %s", ErrCheckoutInvalidInput, msg)
	}

	cmd.CustomerID = strings.TrimSpace(cmd.CustomerID)
	cmd.IdempotencyKey = strings.TrimSpace(cmd.IdempotencyKey)
	if cmd.CustomerID == "" {
		return invalid("customer is required")
	}
	if cmd.IdempotencyKey == "" || len(cmd.IdempotencyKey) > maxIdempotencyKeyLength {
		return invalid("idempotency key is required")
	}
	if !cmd.PaymentType.Valid() {
		return invalid("payment type must be card or qrph")
	}
	if len(cmd.Days) == 0 && strings.TrimSpace(cmd.ProductID) == "" {
		return invalid("either a product or custom days are required")
	}
	if len(cmd.Days) > 0 && strings.TrimSpace(cmd.ProductID) != "" {
		return invalid("product and custom days cannot be combined")
	}
	cmd.ProductID = strings.TrimSpace(cmd.ProductID)
	cmd.TravelDate = strings.TrimSpace(cmd.TravelDate)
	if cmd.TravelDate != "" {
		if _, err := time.Parse(cartDateLayout, cmd.TravelDate); err != nil {
			return invalid("travel date must use YYYY-MM-DD")
		}
	}

	cmd.Billing.Name = textutil.PlainText(cmd.Billing.Name, maxBillingNameRunes)
	if cmd.Billing.Name == "" {
		return invalid("billing name is required")
	}
	email := strings.TrimSpace(cmd.Billing.Email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalid("billing email is invalid")
	}
	cmd.Billing.Email = strings.ToLower(email)
	cmd.Billing.Phone = strings.TrimSpace(cmd.Billing.Phone)
	if cmd.Billing.Phone != "" && !phonePattern.MatchString(cmd.Billing.Phone) {
		return invalid("billing phone is invalid")
	}

	var chargeCurrency string
	switch cmd.PaymentType {
	case domain.PaymentTypeQRPh:
		if cmd.Card != nil {
			return invalid("card details are not accepted for qrph")
		}
		chargeCurrency = s.cfg.QRCurrency
	case domain.PaymentTypeCard:
		if err := validateCard(cmd.Card, s.now()); err != nil {
			return invalid(err.Error())
		}
		chargeCurrency = s.cfg.DefaultCurrency
		if strings.TrimSpace(cmd.Currency) != "" {
			code, err := payments.NormalizeCurrency(cmd.Currency)
			if err != nil {
				return invalid("currency is not supported")
			}
			chargeCurrency = code
		}
	}
	if chargeCurrency != s.cfg.CatalogCurrency {
		return invalid(fmt.Sprintf("currency %s is not offered; prices are in %s", chargeCurrency, s.cfg.CatalogCurrency))
	}
	cmd.Currency = chargeCurrency
	return cmd, chargeCurrency, nil
}

func validateCard(card *payments.Card, now time.Time) error {
	if card == nil {
		return errors.New("card details are required")
	}
	number := strings.ReplaceAll(strings.ReplaceAll(card.Number, " ", ""), "-", "")
	if len(number) < 12 || len(number) > 19 || strings.Trim(number, "0123456789") != "" {
		return errors.New("card number is invalid")
	}
	card.Number = number
	if card.ExpMonth < 1 || card.ExpMonth > 12 {
		return errors.New("card expiry month is invalid")
	}
	if card.ExpYear < 100 {
		card.ExpYear += 2000
	}
	if card.ExpYear < now.Year() || (card.ExpYear == now.Year() && card.ExpMonth < int(now.Month())) {
		return errors.New("card is expired")
	}
	cvc := strings.TrimSpace(card.CVC)
	if len(cvc) < 3 || len(cvc) > 4 || strings.Trim(cvc, "0123456789") != "" {
		return errors.New("card cvc is invalid")
	}
	card.CVC = cvc
	return nil
}

// quote re-derives the amount on the server. Client totals are only ever compared against it.
func (s *checkoutService) quote(ctx context.Context, cmd CheckoutCommand) (Quote, error) {
	var (
		quote Quote
		err   error
	)
	if len(cmd.Days) > 0 {
		quote, err = s.cart.Aggregate(ctx, AggregateCommand{Days: cmd.Days})
	} else {
		quote, err = s.pricing.Price(ctx, PriceCommand{
			ProductID:     cmd.ProductID,
			TravelerCount: cmd.TravelerCount,
			AddOnIDs:      cmd.AddOnIDs,
		})
	}
	if err != nil {
		if errors.Is(err, ErrPricingInvalidInput) || errors.Is(err, ErrPricingUnknownProduct) || errors.Is(err, ErrCartInvalidSelection) {
			return Quote{}, fmt.Errorf("%w: %w", ErrCheckoutInvalidInput, err)
		}
		return Quote{}, fmt.Errorf("%w: %w", ErrCheckoutUnavailable, err)
	}
	return quote, nil
}

// collect performs the three gateway calls. The booking stays pending on any failure and the
// reaper expires it later.
func (s *checkoutService) collect(ctx context.Context, cmd CheckoutCommand, booking domain.Booking, amountMinor int64) (CheckoutResult, *CheckoutError) {
	method := payments.MethodType(cmd.PaymentType)
	provider, gateway, err := s.gateways.Resolve(payments.PaymentContext{Currency: booking.Currency, Method: method})
	if err != nil {
		return CheckoutResult{}, &CheckoutError{
			Err:       ErrCheckoutGatewayUnavailable,
			BookingID: booking.ID,
			Detail:    fmt.Sprintf("no gateway for %s in %s", method, booking.Currency),
		}
	}

	metadata := textutil.CleanMetadata(map[string]string{
		"booking_id":            booking.ID,
		"customer_id":           booking.CustomerID,
		"tour_name":             booking.Quote.Title,
		"travel_date":           travelDate(cmd, booking.Quote),
		"with_airport_transfer": strconv.FormatBool(s.withTransfer(cmd)),
	})

	var intent payments.Intent
	err = s.call(ctx, func(ctx context.Context) error {
		var callErr error
		intent, callErr = gateway.CreateIntent(ctx, payments.IntentRequest{
			Amount:              amountMinor,
			Currency:            booking.Currency,
			MethodTypes:         []payments.MethodType{method},
			Description:         fmt.Sprintf("%s (%s)", booking.Quote.Title, booking.ID),
			StatementDescriptor: s.cfg.StatementDescriptor,
			Metadata:            metadata,
			IdempotencyKey:      booking.ID + ":intent",
		})
		return callErr
	})
	if err != nil {
		return CheckoutResult{}, gatewayFailure(booking.ID, err)
	}

	var pm payments.Method
	err = s.call(ctx, func(ctx context.Context) error {
		req := payments.MethodRequest{
			Type: method,
			Billing: payments.Billing{
				Name:  booking.Billing.Name,
				Email: booking.Billing.Email,
				Phone: booking.Billing.Phone,
			},
			Metadata:       map[string]string{"booking_id": booking.ID},
			IdempotencyKey: booking.ID + ":method",
		}
		if method == payments.MethodCard {
			req.Card = cmd.Card
		}
		var callErr error
		pm, callErr = gateway.CreatePaymentMethod(ctx, req)
		return callErr
	})
	if err != nil {
		return CheckoutResult{}, gatewayFailure(booking.ID, err)
	}

	var attached payments.Intent
	err = s.call(ctx, func(ctx context.Context) error {
		var callErr error
		attached, callErr = gateway.AttachPaymentMethod(ctx, payments.AttachRequest{
			IntentID:       intent.ID,
			MethodID:       pm.ID,
			ClientKey:      intent.ClientKey,
			ReturnURL:      s.returnURL(booking.ID),
			IdempotencyKey: booking.ID + ":attach",
		})
		return callErr
	})
	if err != nil {
		return CheckoutResult{}, gatewayFailure(booking.ID, err)
	}

	clientKey := attached.ClientKey
	if clientKey == "" {
		clientKey = intent.ClientKey
	}
	return CheckoutResult{
		BookingID:     booking.ID,
		BookingStatus: domain.BookingStatusPending,
		Provider:      provider,
		IntentID:      intent.ID,
		IntentStatus:  intentStatus(attached.Status),
		ClientKey:     clientKey,
		NextAction:    attached.NextAction,
		AmountMinor:   amountMinor,
		Currency:      booking.Currency,
	}, nil
}

func (s *checkoutService) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

func gatewayFailure(bookingID string, err error) *CheckoutError {
	var gwErr *payments.GatewayError
	if errors.As(err, &gwErr) {
		return &CheckoutError{
			Err:         ErrCheckoutGatewayRejected,
			BookingID:   bookingID,
			GatewayCode: gwErr.Code,
			Detail:      gwErr.Detail,
		}
	}
	return &CheckoutError{Err: ErrCheckoutGatewayUnavailable, BookingID: bookingID}
}

func intentStatus(status payments.Status) domain.PaymentIntentStatus {
	switch status {
	case payments.StatusRequiresAction:
		return domain.PaymentIntentRequiresAction
	case payments.StatusSucceeded:
		return domain.PaymentIntentSucceeded
	case payments.StatusFailed:
		return domain.PaymentIntentFailed
	default:
		return domain.PaymentIntentPending
	}
}

func (s *checkoutService) returnURL(bookingID string) string {
	u, err := url.Parse(strings.TrimSpace(s.cfg.ReturnURLBase))
	if err != nil {
		return s.cfg.ReturnURLBase
	}
	q := u.Query()
	q.Set("booking_id", bookingID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *checkoutService) withTransfer(cmd CheckoutCommand) bool {
	id := strings.TrimSpace(s.cfg.TransferAddOnID)
	if id == "" {
		return false
	}
	if slices.Contains(cmd.AddOnIDs, id) {
		return true
	}
	for _, day := range cmd.Days {
		if slices.Contains(day.AddOnIDs, id) {
			return true
		}
	}
	return false
}

func travelDate(cmd CheckoutCommand, quote Quote) string {
	if cmd.TravelDate != "" {
		return cmd.TravelDate
	}
	if len(quote.Dates) > 0 {
		return quote.Dates[0]
	}
	return ""
}

func selectionFromCommand(cmd CheckoutCommand) domain.BookingSelection {
	return domain.BookingSelection{
		ProductID:     cmd.ProductID,
		TravelerCount: cmd.TravelerCount,
		AddOnIDs:      slices.Clone(cmd.AddOnIDs),
		TravelDate:    cmd.TravelDate,
		Days:          slices.Clone(cmd.Days),
	}
}

// checkoutFingerprint covers everything that changes the charge. Card secrets are reduced to the
// last four digits.
func checkoutFingerprint(cmd CheckoutCommand, chargeCurrency string) string {
	parts := []string{
		string(cmd.PaymentType),
		chargeCurrency,
		cmd.ProductID,
		strconv.Itoa(cmd.TravelerCount),
		strings.Join(cmd.AddOnIDs, ","),
		cmd.TravelDate,
		cmd.Billing.Email,
	}
	for _, day := range cmd.Days {
		parts = append(parts, fmt.Sprintf("%s|%s|%d|%s|%s", day.Date, day.LocationID, day.TravelerCount,
			strings.Join(day.DestinationIDs, ","), strings.Join(day.AddOnIDs, ",")))
	}
	if cmd.ExpectedTotal != nil {
		parts = append(parts, "expected="+strconv.FormatInt(*cmd.ExpectedTotal, 10))
	}
	if cmd.Card != nil && len(cmd.Card.Number) >= 4 {
		parts = append(parts, "card="+cmd.Card.Number[len(cmd.Card.Number)-4:])
	}
	return idempotency.Fingerprint(parts...)
}

type checkoutLedgerEntry struct {
	Result  *CheckoutResult `json:"result,omitempty"`
	Failure *ledgerFailure  `json:"failure,omitempty"`
}

type ledgerFailure struct {
	Kind        string `json:"kind"`
	BookingID   string `json:"bookingId,omitempty"`
	GatewayCode string `json:"gatewayCode,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

const (
	failureKindRejected    = "gateway_rejected"
	failureKindUnavailable = "gateway_unavailable"
)

func ledgerFailureFrom(err *CheckoutError) *ledgerFailure {
	kind := failureKindUnavailable
	if errors.Is(err.Err, ErrCheckoutGatewayRejected) {
		kind = failureKindRejected
	}
	return &ledgerFailure{Kind: kind, BookingID: err.BookingID, GatewayCode: err.GatewayCode, Detail: err.Detail}
}

func encodeLedgerEntry(entry checkoutLedgerEntry) []byte {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil
	}
	return data
}

// replay returns the stored outcome of a completed attempt, success or failure.
func (s *checkoutService) replay(ctx context.Context, attempt idempotency.Attempt) (CheckoutResult, error) {
	var entry checkoutLedgerEntry
	if err := json.Unmarshal(attempt.Payload, &entry); err != nil || (entry.Result == nil && entry.Failure == nil) {
		s.logger(ctx, "checkout.replay_unreadable", map[string]any{"bookingId": attempt.BookingID})
		return CheckoutResult{}, ErrCheckoutUnavailable
	}
	s.logger(ctx, "checkout.replayed", map[string]any{"bookingId": attempt.BookingID, "succeeded": attempt.Succeeded})
	if entry.Result != nil {
		result := *entry.Result
		result.Replayed = true
		return result, nil
	}
	sentinel := ErrCheckoutGatewayUnavailable
	if entry.Failure.Kind == failureKindRejected {
		sentinel = ErrCheckoutGatewayRejected
	}
	return CheckoutResult{}, &CheckoutError{
		Err:         sentinel,
		BookingID:   entry.Failure.BookingID,
		GatewayCode: entry.Failure.GatewayCode,
		Detail:      entry.Failure.Detail,
		Replayed:    true,
	}
}

func (s *checkoutService) complete(ctx context.Context, key, fingerprint string, outcome idempotency.Outcome) {
	if err := s.ledger.Complete(ctx, key, fingerprint, outcome, s.now(), s.cfg.LedgerTTL); err != nil {
		s.logger(ctx, "checkout.ledger_complete_failed", map[string]any{"bookingId": outcome.BookingID, "error": err})
	}
}

func (s *checkoutService) release(ctx context.Context, key, fingerprint string) {
	if err := s.ledger.Release(ctx, key, fingerprint); err != nil {
		s.logger(ctx, "checkout.ledger_release_failed", map[string]any{"error": err})
	}
}
