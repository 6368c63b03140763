package services

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/config"
	"github.com/tripmarket/booking-core/internal/models"
)

// PayableEnvironmentURLs maps environment names to their IPG base URLs
var PayableEnvironmentURLs = map[string]string{
	"sandbox":    "https://sandboxipgpayment.payable.lk/ipg/sandbox",
	"production": "https://ipgpayment.payable.lk/ipg/pro",
}

// PayableGateway charges saved-card tokens through the PAYable IPG. Requests
// are authenticated with the SHA-512 check value; the merchant token itself
// is never sent.
type PayableGateway struct {
	config *config.PaymentConfig
	logger *logrus.Logger
	client *http.Client
	base   string
}

type payableChargeRequest struct {
	MerchantKey  string `json:"merchantKey"`
	InvoiceID    string `json:"invoiceId"`
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
	PaymentType  int    `json:"paymentType"` // 1 = one-time
	CardToken    string `json:"customerToken"`
	Description  string `json:"orderDescription,omitempty"`
	CheckValue   string `json:"checkValue"`
}

type payableChargeResponse struct {
	Status        string `json:"status"` // "success", "error"
	TransactionID string `json:"transactionId,omitempty"`
	UID           string `json:"uid,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`
	Message       string `json:"message,omitempty"`
}

type payableStatusRequest struct {
	MerchantKey string `json:"merchantKey"`
	InvoiceID   string `json:"invoiceId"`
	CheckValue  string `json:"checkValue"`
}

type payableStatusResponse struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"` // SUCCESS, FAILED, PENDING, NOT_FOUND
	Amount        string `json:"amount"`
	InvoiceID     string `json:"invoiceId"`
	TransactionID string `json:"transactionId,omitempty"`
	Message       string `json:"message,omitempty"`
}

// NewPayableGateway creates a new PayableGateway
func NewPayableGateway(cfg *config.PaymentConfig, logger *logrus.Logger) *PayableGateway {
	base := cfg.BaseURL
	if base == "" {
		var ok bool
		base, ok = PayableEnvironmentURLs[cfg.Environment]
		if !ok {
			base = PayableEnvironmentURLs["sandbox"]
		}
	}
	return &PayableGateway{
		config: cfg,
		logger: logger,
		// backstop only; callers bound each call with their context
		client: &http.Client{Timeout: 30 * time.Second},
		base:   strings.TrimRight(base, "/"),
	}
}

func (g *PayableGateway) Name() string { return "payable" }

// CheckValue computes
// SHA512("merchantKey|invoiceId|amount|currencyCode|SHA512(merchantToken)"), upper hex
func (g *PayableGateway) CheckValue(invoiceID, amount, currencyCode string) string {
	hash1 := sha512.Sum512([]byte(g.config.MerchantToken))
	hash1Hex := strings.ToUpper(hex.EncodeToString(hash1[:]))

	data := fmt.Sprintf("%s|%s|%s|%s|%s",
		g.config.MerchantKey,
		invoiceID,
		amount,
		currencyCode,
		hash1Hex,
	)
	hash2 := sha512.Sum512([]byte(data))
	return strings.ToUpper(hex.EncodeToString(hash2[:]))
}

func (g *PayableGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Card == nil || req.Card.Token == "" {
		return nil, &DeclineError{Reason: "card token is required"}
	}

	amount := req.Amount.String()
	body := &payableChargeRequest{
		MerchantKey:  g.config.MerchantKey,
		InvoiceID:    req.IdempotencyKey,
		Amount:       amount,
		CurrencyCode: req.Currency,
		PaymentType:  1,
		CardToken:    req.Card.Token,
		Description:  req.Description,
		CheckValue:   g.CheckValue(req.IdempotencyKey, amount, req.Currency),
	}

	g.logger.WithFields(logrus.Fields{
		"invoice_id": req.IdempotencyKey,
		"amount":     amount,
		"currency":   req.Currency,
	}).Info("Charging PAYable card token")

	status, raw, err := g.post(ctx, g.base+"/charge", body)
	if err != nil {
		return nil, err
	}

	var resp payableChargeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		// the charge may have gone through; let the caller ask for status
		return nil, fmt.Errorf("failed to parse PAYable response: %w", err)
	}
	payload := rawMap(raw)

	switch {
	case status >= 500:
		return nil, fmt.Errorf("PAYable returned status %d: %s", status, resp.Message)
	case status >= 400 || strings.EqualFold(resp.Status, "error"):
		reason := resp.Message
		if reason == "" {
			reason = resp.ErrorCode
		}
		if reason == "" {
			reason = fmt.Sprintf("declined with status %d", status)
		}
		return nil, &DeclineError{Reason: reason, Raw: payload}
	case resp.TransactionID == "":
		return nil, fmt.Errorf("PAYable response has no transaction id")
	}

	g.logger.WithFields(logrus.Fields{
		"invoice_id":     req.IdempotencyKey,
		"transaction_id": resp.TransactionID,
	}).Info("PAYable charge succeeded")

	return &ChargeResult{TransactionID: resp.TransactionID, Raw: payload}, nil
}

func (g *PayableGateway) Status(ctx context.Context, q StatusQuery) (*ChargeStatus, error) {
	body := &payableStatusRequest{
		MerchantKey: g.config.MerchantKey,
		InvoiceID:   q.IdempotencyKey,
		CheckValue:  g.CheckValue(q.IdempotencyKey, "", ""),
	}
	code, raw, err := g.post(ctx, g.statusURL(), body)
	if err != nil {
		return nil, err
	}
	if code == http.StatusNotFound {
		return &ChargeStatus{Outcome: ChargeNotFound, Raw: rawMap(raw)}, nil
	}
	if code >= 400 {
		return nil, fmt.Errorf("PAYable status check returned %d", code)
	}

	var resp payableStatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse PAYable status: %w", err)
	}

	st := &ChargeStatus{TransactionID: resp.TransactionID, Reason: resp.Message, Raw: rawMap(raw)}
	if resp.Amount != "" {
		if amount, err := models.ParseMoney(resp.Amount); err == nil {
			st.Amount = &amount
		}
	}
	switch strings.ToUpper(resp.PaymentStatus) {
	case "SUCCESS":
		st.Outcome = ChargeSucceeded
	case "FAILED", "CANCELLED":
		st.Outcome = ChargeFailed
	case "NOT_FOUND":
		st.Outcome = ChargeNotFound
	default:
		st.Outcome = ChargeUnknown
	}
	return st, nil
}

// statusURL lives next to the IPG endpoint: /ipg/<env> becomes /check-status/<env>
func (g *PayableGateway) statusURL() string {
	if strings.Contains(g.base, "/ipg/") {
		return strings.Replace(g.base, "/ipg/", "/check-status/", 1)
	}
	return g.base + "/check-status"
}

func (g *PayableGateway) post(ctx context.Context, url string, body interface{}) (int, []byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
		}
		return 0, nil, fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	g.logger.WithFields(logrus.Fields{
		"url":         url,
		"status_code": resp.StatusCode,
	}).Debug("PAYable response received")

	return resp.StatusCode, raw, nil
}

func rawMap(raw []byte) map[string]interface{} {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
