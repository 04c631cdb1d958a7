// Package binancepay предоставляет клиент API BinancePay и проверку подписи вебхуков.
package binancepay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/binancepay-gateway/internal/model"
)

// Код ошибки BinancePay для дубликата merchantTradeNo.
const codeDuplicateTradeNo = "400201"

// APIError описывает отказ, возвращённый API BinancePay.
type APIError struct {
	Status  string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binancepay: %s (code %s): %s", e.Status, e.Code, e.Message)
}

// DuplicateTradeNo сообщает, что API отклонило запрос из-за повторного merchantTradeNo.
// Это восстановимая ситуация: существующий счёт можно переиспользовать.
func (e *APIError) DuplicateTradeNo() bool {
	return e.Code == codeDuplicateTradeNo
}

// Client инкапсулирует HTTP-взаимодействие с API BinancePay.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  []byte
	httpClient *http.Client
}

// NewClient создаёт клиент API BinancePay с учётными данными мерчанта.
func NewClient(baseURL, apiKey, apiSecret string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  []byte(apiSecret),
		httpClient: rc.StandardClient(),
	}
}

// CreateOrderRequest описывает запрос на создание счёта BinancePay.
type CreateOrderRequest struct {
	MerchantTradeNo string `json:"merchantTradeNo"`
	Currency        string `json:"currency"`
	OrderAmount     string `json:"orderAmount"`
	ReturnURL       string `json:"returnUrl"`
	CancelURL       string `json:"cancelUrl"`
	BuyerEmail      string `json:"buyerEmail,omitempty"`
	BuyerName       string `json:"buyerName,omitempty"`
}

// OrderResult содержит данные созданного счёта.
type OrderResult struct {
	PrepayID    string `json:"prepayId"`
	CheckoutURL string `json:"checkoutUrl"`
}

// Invoice содержит состояние счёта на стороне BinancePay.
type Invoice struct {
	PrepayID        string `json:"prepayId"`
	MerchantTradeNo string `json:"merchantTradeNo"`
	Status          string `json:"status"`
	CheckoutURL     string `json:"checkoutUrl"`
}

// CreateOrder создаёт счёт BinancePay для заказа.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResult, error) {
	var result OrderResult
	if err := c.call(ctx, "/binancepay/openapi/v2/order", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetInvoice запрашивает состояние счёта по его идентификатору.
func (c *Client) GetInvoice(ctx context.Context, storeID, invoiceID string) (*Invoice, error) {
	req := struct {
		MerchantID string `json:"merchantId"`
		PrepayID   string `json:"prepayId"`
	}{storeID, invoiceID}

	var result Invoice
	if err := c.call(ctx, "/binancepay/openapi/v2/order/query", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPaymentMethods запрашивает авторитетные данные расчёта по способам оплаты счёта.
func (c *Client) GetPaymentMethods(ctx context.Context, storeID, invoiceID string) ([]model.PaymentMethodSettlement, error) {
	req := struct {
		MerchantID string `json:"merchantId"`
		PrepayID   string `json:"prepayId"`
	}{storeID, invoiceID}

	var result []model.PaymentMethodSettlement
	if err := c.call(ctx, "/binancepay/openapi/v2/order/payment-methods", req, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// envelope — общий конверт ответов API BinancePay.
type envelope struct {
	Status       string          `json:"status"`
	Code         string          `json:"code"`
	Data         json.RawMessage `json:"data"`
	ErrorMessage string          `json:"errorMessage"`
}

func (c *Client) call(ctx context.Context, path string, reqBody, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("binancepay client not configured")
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("BinancePay-Timestamp", timestamp)
	req.Header.Set("BinancePay-Nonce", nonce)
	req.Header.Set("BinancePay-Certificate-SN", c.apiKey)
	req.Header.Set("BinancePay-Signature", c.sign(timestamp, nonce, body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if env.Status != "SUCCESS" {
		return &APIError{Status: env.Status, Code: env.Code, Message: env.ErrorMessage}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}

	return nil
}

// sign подписывает запрос по схеме BinancePay: HMAC-SHA512 от
// timestamp, nonce и тела запроса, разделённых переводами строки.
func (c *Client) sign(timestamp, nonce string, body []byte) string {
	payload := timestamp + "\n" + nonce + "\n" + string(body) + "\n"
	mac := hmac.New(sha512.New, c.apiSecret)
	mac.Write([]byte(payload))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// ValidWebhookRequest проверяет подпись вебхука над сырым телом запроса.
// Сравнение выполняется за постоянное время.
func (c *Client) ValidWebhookRequest(signature string, body []byte) bool {
	mac := hmac.New(sha512.New, c.apiSecret)
	mac.Write(body)
	expected := strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
	return hmac.Equal([]byte(strings.ToUpper(signature)), []byte(expected))
}

// SignWebhookPayload подписывает тело вебхука; используется в тестах и инструментах.
func (c *Client) SignWebhookPayload(body []byte) string {
	mac := hmac.New(sha512.New, c.apiSecret)
	mac.Write(body)
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
