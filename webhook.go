package tuma

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tumapay/tuma/config"
	"github.com/tumapay/tuma/internal/apierror"
	"github.com/tumapay/tuma/model"
)

// Ingest outcomes recorded on the webhook audit trail.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeMalformed = "malformed"
	OutcomeRejected  = "rejected"
	OutcomeRetrying  = "retry_scheduled"
)

// IngestResult acknowledges receipt of a provider callback. Providers only
// ever see this acknowledgement or an authentication rejection; processing
// outcomes stay internal on the audit trail and retry records.
type IngestResult struct {
	EventID  string `json:"event_id"`
	Received bool   `json:"received"`

	// Outcome is the internal processing result. It is recorded for audit
	// and never returned to the provider.
	Outcome string `json:"-"`
}

// webhookParser turns one provider's payload shape into the canonical
// normalized event. Each provider gets its own parser; provider identity
// comes from the callback URL, never from sniffing payload fields.
type webhookParser func(raw []byte) (*model.NormalizedEvent, error)

var webhookParsers = map[string]webhookParser{
	"mtnmomo":     parseMTNMomoWebhook,
	"airtelmoney": parseAirtelMoneyWebhook,
	"mpesa":       parseMpesaWebhook,
}

// IngestWebhook runs the intake pipeline for one provider delivery: source
// allow-list, constant-time signature verification, normalization, idempotent
// application, audit. Failures after the signature passes are either parked
// as malformed or scheduled for retry; the provider always gets a receipt
// acknowledgement so its redelivery loop stops.
func (l *Tuma) IngestWebhook(ctx context.Context, provider string, rawPayload []byte, signature, sourceIP string) (*IngestResult, error) {
	ctx, span := otel.Tracer("tuma.webhook").Start(ctx, "Ingesting webhook")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.provider", provider))

	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	providerCnf, ok := cnf.Provider(provider)
	if !ok {
		err := apierror.NewAPIError(apierror.ErrUnauthorizedSource, fmt.Sprintf("Unknown webhook provider '%s'", provider), nil)
		span.RecordError(err)
		return nil, err
	}

	if err := checkWebhookSource(cnf, providerCnf, sourceIP); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := verifyWebhookSignature(cnf, providerCnf, rawPayload, signature); err != nil {
		span.RecordError(err)
		return nil, err
	}

	event := &model.WebhookEvent{
		EventID:    model.GenerateUUIDWithSuffix("whk"),
		Provider:   providerCnf.Name,
		SourceIP:   sourceIP,
		RawPayload: rawPayload,
		CreatedAt:  time.Now(),
	}

	outcome, normalized, processErr := l.processWebhookPayload(ctx, providerCnf.Name, rawPayload)
	event.Outcome = outcome
	if processErr != nil {
		event.Error = processErr.Error()
	}
	if normalized != nil {
		event.TransactionID = normalized.TransactionID
		event.Normalized = normalized.Status
	}
	if outcome == OutcomeRetrying {
		if retryErr := l.scheduleWebhookRetry(ctx, providerCnf.Name, rawPayload, processErr); retryErr != nil {
			logrus.Errorf("failed to schedule webhook retry for %s: %v", providerCnf.Name, retryErr)
			event.Error = fmt.Sprintf("%s; retry scheduling failed: %v", event.Error, retryErr)
		}
	}

	if err := l.datasource.RecordWebhookEvent(ctx, event); err != nil {
		logrus.Errorf("failed to record webhook audit event: %v", err)
	}

	span.AddEvent("Webhook processed", trace.WithAttributes(
		attribute.String("webhook.event_id", event.EventID),
		attribute.String("webhook.outcome", outcome),
	))
	return &IngestResult{EventID: event.EventID, Received: true, Outcome: outcome}, nil
}

// processWebhookPayload runs normalization and idempotent application and
// classifies the result. Malformed payloads and conflicting transitions are
// permanent; a transaction that has not been recorded yet or a store error is
// transient and worth retrying. The normalized event is returned alongside
// the outcome so callers can audit it without parsing the payload again.
func (l *Tuma) processWebhookPayload(ctx context.Context, provider string, rawPayload []byte) (string, *model.NormalizedEvent, error) {
	normalized, err := parseWebhookPayload(provider, rawPayload)
	if err != nil {
		return OutcomeMalformed, nil, err
	}
	outcome, applyErr := l.applyNormalizedEvent(ctx, provider, normalized)
	return outcome, normalized, applyErr
}

func (l *Tuma) applyNormalizedEvent(ctx context.Context, provider string, normalized *model.NormalizedEvent) (string, error) {
	if normalized.Status == model.StatusPending {
		// Provider sent a non-final status. Nothing to apply; a later
		// delivery with a final status settles the transaction.
		return OutcomeIgnored, nil
	}

	txn, err := l.findWebhookTransaction(ctx, normalized.TransactionID)
	if err != nil {
		if apierror.CodeOf(err) == apierror.ErrNotFound {
			// The callback may have raced transaction creation; retry later.
			return OutcomeRetrying, err
		}
		return OutcomeRetrying, err
	}

	if model.TerminalStatus(txn.Status) {
		if txn.Status == normalized.Status {
			return OutcomeDuplicate, nil
		}
		return OutcomeRejected, apierror.NewAPIError(apierror.ErrInvalidTransition,
			fmt.Sprintf("Transaction '%s' is already '%s', webhook wants '%s'", txn.TransactionID, txn.Status, normalized.Status), nil)
	}

	_, err = l.Transition(ctx, txn.TransactionID, normalized.Status, "webhook:"+provider, normalized.Message, nil)
	if err != nil {
		switch apierror.CodeOf(err) {
		case apierror.ErrInvalidTransition:
			// Lost a race with a concurrent transition; re-check whether the
			// winner applied the same status.
			if current, getErr := l.datasource.GetTransaction(ctx, txn.TransactionID); getErr == nil && current.Status == normalized.Status {
				return OutcomeDuplicate, nil
			}
			return OutcomeRejected, err
		case apierror.ErrInsufficientBalance, apierror.ErrInvalidKind, apierror.ErrInvalidInput:
			return OutcomeRejected, err
		default:
			return OutcomeRetrying, err
		}
	}
	return OutcomeApplied, nil
}

// findWebhookTransaction resolves the identifier a provider echoes back,
// which may be our transaction ID or the merchant reference.
func (l *Tuma) findWebhookTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	txn, err := l.datasource.GetTransaction(ctx, id)
	if err == nil {
		return txn, nil
	}
	if apierror.CodeOf(err) != apierror.ErrNotFound {
		return nil, err
	}
	byRef, refErr := l.datasource.GetTransactionByRef(ctx, id)
	if refErr != nil {
		return nil, refErr
	}
	return &byRef, nil
}

func checkWebhookSource(cnf *config.Configuration, provider *config.ProviderConfig, sourceIP string) error {
	if provider.SkipSourceCheck && !cnf.IsProduction() {
		return nil
	}
	ip := net.ParseIP(sourceIP)
	if ip == nil {
		return apierror.NewAPIError(apierror.ErrUnauthorizedSource, fmt.Sprintf("Unparseable source address '%s'", sourceIP), nil)
	}
	for _, allowed := range provider.AllowedSources {
		if strings.Contains(allowed, "/") {
			_, block, err := net.ParseCIDR(allowed)
			if err == nil && block.Contains(ip) {
				return nil
			}
			continue
		}
		if allowedIP := net.ParseIP(allowed); allowedIP != nil && allowedIP.Equal(ip) {
			return nil
		}
	}
	return apierror.NewAPIError(apierror.ErrUnauthorizedSource, fmt.Sprintf("Source address '%s' is not allowed for provider '%s'", sourceIP, provider.Name), nil)
}

// verifyWebhookSignature checks the HMAC-SHA256 of the raw payload against
// the supplied signature in constant time. An optional "sha256=" prefix is
// accepted since several providers send one.
func verifyWebhookSignature(cnf *config.Configuration, provider *config.ProviderConfig, rawPayload []byte, signature string) error {
	if provider.SkipSignatureCheck && cnf.Environment == config.EnvSandbox {
		return nil
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return apierror.NewAPIError(apierror.ErrInvalidSignature, "Missing webhook signature", nil)
	}

	mac := hmac.New(sha256.New, []byte(provider.Secret))
	mac.Write(rawPayload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return apierror.NewAPIError(apierror.ErrInvalidSignature, fmt.Sprintf("Invalid webhook signature for provider '%s'", provider.Name), nil)
	}
	return nil
}

func parseWebhookPayload(provider string, raw []byte) (*model.NormalizedEvent, error) {
	parser, ok := webhookParsers[provider]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrMalformedWebhook, fmt.Sprintf("No payload parser registered for provider '%s'", provider), nil)
	}
	return parser(raw)
}

// mtnMomoPayload is MTN MoMo's request-to-pay callback shape. The externalId
// field carries the reference we supplied when initiating the payment.
type mtnMomoPayload struct {
	ExternalID             string `json:"externalId"`
	FinancialTransactionID string `json:"financialTransactionId"`
	Status                 string `json:"status"`
	Amount                 string `json:"amount"`
	Currency               string `json:"currency"`
	Reason                 string `json:"reason"`
}

func parseMTNMomoWebhook(raw []byte) (*model.NormalizedEvent, error) {
	var payload mtnMomoPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrMalformedWebhook, "Unparseable MTN MoMo payload", err)
	}
	if payload.ExternalID == "" || payload.Status == "" {
		return nil, apierror.NewAPIError(apierror.ErrMalformedWebhook, "MTN MoMo payload missing externalId or status", nil)
	}
	return &model.NormalizedEvent{
		TransactionID: payload.ExternalID,
		Status:        model.NormalizeProviderStatus(payload.Status),
		Currency:      payload.Currency,
		Message:       payload.Reason,
	}, nil
}

// airtelMoneyPayload is Airtel Money's disbursement callback shape. Status
// codes are two-letter: TS (success), TF (failure), TA (ambiguous).
type airtelMoneyPayload struct {
	Transaction struct {
		ID            string `json:"id"`
		StatusCode    string `json:"status_code"`
		Message       string `json:"message"`
		AirtelMoneyID string `json:"airtel_money_id"`
	} `json:"transaction"`
}

func parseAirtelMoneyWebhook(raw []byte) (*model.NormalizedEvent, error) {
	var payload airtelMoneyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrMalformedWebhook, "Unparseable Airtel Money payload", err)
	}
	if payload.Transaction.ID == "" || payload.Transaction.StatusCode == "" {
		return nil, apierror.NewAPIError(apierror.ErrMalformedWebhook, "Airtel Money payload missing transaction id or status_code", nil)
	}
	return &model.NormalizedEvent{
		TransactionID: payload.Transaction.ID,
		Status:        model.NormalizeProviderStatus(payload.Transaction.StatusCode),
		Message:       payload.Transaction.Message,
	}, nil
}

// mpesaPayload is Safaricom's STK push callback shape. ResultCode zero means
// the customer completed payment; anything else is a failure or cancellation.
type mpesaPayload struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        *int   `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func parseMpesaWebhook(raw []byte) (*model.NormalizedEvent, error) {
	var payload mpesaPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrMalformedWebhook, "Unparseable M-Pesa payload", err)
	}
	callback := payload.Body.StkCallback
	if callback.MerchantRequestID == "" || callback.ResultCode == nil {
		return nil, apierror.NewAPIError(apierror.ErrMalformedWebhook, "M-Pesa payload missing MerchantRequestID or ResultCode", nil)
	}
	status := model.StatusFailed
	if *callback.ResultCode == 0 {
		status = model.StatusCompleted
	}
	return &model.NormalizedEvent{
		TransactionID: callback.MerchantRequestID,
		Status:        status,
		Message:       callback.ResultDesc,
	}, nil
}

// ListWebhookEvents retrieves audit rows, newest first. An empty provider
// returns all providers.
func (l *Tuma) ListWebhookEvents(ctx context.Context, provider string, limit, offset int) ([]model.WebhookEvent, error) {
	ctx, span := otel.Tracer("tuma.webhook").Start(ctx, "Listing webhook events")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	return l.datasource.GetWebhookEvents(ctx, provider, limit, offset)
}
