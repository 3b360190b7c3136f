package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolcore/fees-management/internal"
)

// Client talks to a Razorpay-compatible gateway over HTTP with basic auth.
type Client struct {
	client        *http.Client
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	currency      string
	fetchTimeout  time.Duration
	logger        *slog.Logger
}

func NewClient(cfg internal.GatewayConfig, logger *slog.Logger) *Client {
	return &Client{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:       cfg.BaseURL,
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
		currency:      cfg.Currency,
		fetchTimeout:  cfg.FetchTimeout,
		logger:        logger,
	}
}

var _ Adapter = (*Client)(nil)

type orderRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
	PaymentCapture int    `json:"payment_capture"`
}

type orderResponse struct {
	ID string `json:"id"`
}

type paymentResponse struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Amount  int64  `json:"amount"`
}

// OpenCharge creates a gateway order with automatic capture. The amount is
// sent in the smallest currency unit.
func (c *Client) OpenCharge(ctx context.Context, amount decimal.Decimal, receiptRef string) (string, error) {
	reqBody, err := json.Marshal(orderRequest{
		Amount:         amount.Mul(decimal.NewFromInt(100)).IntPart(),
		Currency:       c.currency,
		Receipt:        receiptRef,
		PaymentCapture: 1,
	})
	if err != nil {
		return "", fmt.Errorf("marshal error: %w", err)
	}

	url := fmt.Sprintf("%s/v1/orders", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("request creation error: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.keyID, c.keySecret)

	c.logger.Info("gateway: opening charge",
		"url", url,
		"receipt", receiptRef,
		"amount", amount.String())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Error("gateway: order request failed", "error", err, "receipt", receiptRef)
		return "", internal.NewGatewayUnavailableError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", internal.NewGatewayUnavailableError(err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("gateway: order API returned error",
			"status", resp.StatusCode,
			"response", string(respBody),
			"receipt", receiptRef)
		return "", internal.NewGatewayUnavailableError(
			fmt.Errorf("order API status %d", resp.StatusCode))
	}

	var order orderResponse
	if err := json.Unmarshal(respBody, &order); err != nil {
		return "", internal.NewGatewayUnavailableError(err)
	}
	if order.ID == "" {
		return "", internal.NewGatewayUnavailableError(
			fmt.Errorf("order response missing id"))
	}

	c.logger.Info("gateway: charge opened", "order_id", order.ID, "receipt", receiptRef)
	return order.ID, nil
}

// VerifyPaymentSignature checks the checkout callback signature: an
// HMAC-SHA256 of "orderID|paymentID" under the key secret.
func (c *Client) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	return verifyHMAC([]byte(orderID+"|"+paymentID), signature, c.keySecret)
}

// VerifyWebhookSignature checks the webhook signature: an HMAC-SHA256 of the
// raw body under the shared webhook secret.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	if len(body) == 0 || signature == "" {
		return false
	}
	return verifyHMAC(body, signature, c.webhookSecret)
}

// FetchPayment looks a payment up at the gateway. It runs under its own
// timeout; expiry or any transport failure is reported as gateway
// unavailability, never as a payment outcome.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*PaymentInfo, error) {
	ctx, cancel := internal.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1/payments/%s", c.baseURL, paymentID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("request creation error: %w", err)
	}
	httpReq.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Error("gateway: payment fetch failed", "error", err, "payment_id", paymentID)
		return nil, internal.NewGatewayUnavailableError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, internal.NewGatewayUnavailableError(err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, internal.ErrTransactionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("gateway: payment API returned error",
			"status", resp.StatusCode,
			"payment_id", paymentID)
		return nil, internal.NewGatewayUnavailableError(
			fmt.Errorf("payment API status %d", resp.StatusCode))
	}

	var payment paymentResponse
	if err := json.Unmarshal(respBody, &payment); err != nil {
		return nil, internal.NewGatewayUnavailableError(err)
	}

	return &PaymentInfo{
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		Status:    payment.Status,
		Amount:    decimal.NewFromInt(payment.Amount).Div(decimal.NewFromInt(100)),
	}, nil
}

type orderPaymentsResponse struct {
	Count int               `json:"count"`
	Items []paymentResponse `json:"items"`
}

// FetchOrderPayments lists every payment attempt the gateway recorded against
// an order. The audit sweep uses it to cross-check pending local rows.
func (c *Client) FetchOrderPayments(ctx context.Context, orderID string) ([]PaymentInfo, error) {
	ctx, cancel := internal.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1/orders/%s/payments", c.baseURL, orderID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("request creation error: %w", err)
	}
	httpReq.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Error("gateway: order payments fetch failed", "error", err, "order_id", orderID)
		return nil, internal.NewGatewayUnavailableError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, internal.NewGatewayUnavailableError(err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, internal.ErrTransactionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("gateway: order payments API returned error",
			"status", resp.StatusCode,
			"order_id", orderID)
		return nil, internal.NewGatewayUnavailableError(
			fmt.Errorf("order payments API status %d", resp.StatusCode))
	}

	var payments orderPaymentsResponse
	if err := json.Unmarshal(respBody, &payments); err != nil {
		return nil, internal.NewGatewayUnavailableError(err)
	}

	infos := make([]PaymentInfo, 0, len(payments.Items))
	for _, p := range payments.Items {
		infos = append(infos, PaymentInfo{
			PaymentID: p.ID,
			OrderID:   p.OrderID,
			Status:    p.Status,
			Amount:    decimal.NewFromInt(p.Amount).Div(decimal.NewFromInt(100)),
		})
	}
	return infos, nil
}

func verifyHMAC(payload []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
