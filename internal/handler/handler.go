// Package handler содержит HTTP-обработчики платёжного шлюза BinancePay.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/binancepay-gateway/internal/model"
	"github.com/mmeshcher/binancepay-gateway/internal/repository"
	"github.com/mmeshcher/binancepay-gateway/internal/service"
)

// Заголовок подписи вебхука. Промежуточные серверы могут менять регистр имени,
// поэтому поиск идёт через канонизированный http.Header.
const signatureHeader = "BinancePay-Sig"

// userFacingError показывается покупателю при сбое оформления оплаты.
const userFacingError = "Can't process order. Please contact us if the problem persists."

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateInvoice(ctx context.Context, orderID int64) (*model.InvoiceHandle, error)
	ApplyWebhook(ctx context.Context, ev model.WebhookEvent, rawBody []byte) error
}

// SignatureVerifier проверяет подпись вебхука над сырым телом запроса.
type SignatureVerifier interface {
	ValidWebhookRequest(signature string, body []byte) bool
}

// Handler реализует HTTP-обработчики платёжного шлюза.
type Handler struct {
	service  Service
	verifier SignatureVerifier
	logger   *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, verifier SignatureVerifier, logger *zap.Logger) *Handler {
	return &Handler{
		service:  s,
		verifier: verifier,
		logger:   logger,
	}
}

type payResponse struct {
	Result   string `json:"result"`
	Redirect string `json:"redirect,omitempty"`
	Message  string `json:"message,omitempty"`
}

// PayOrder создаёт счёт BinancePay для заказа и возвращает адрес редиректа покупателя.
func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	handle, err := h.service.CreateInvoice(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}

		h.logger.Error("create invoice error", zap.Error(err), zap.Int64("orderID", orderID))

		// Детали сбоя остаются в логах, покупателю — общий текст.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(payResponse{Result: "failure", Message: userFacingError})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payResponse{Result: "success", Redirect: handle.CheckoutURL}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// Webhook принимает уведомление BinancePay. Подпись проверяется над сырым телом
// до какого-либо обращения к хранилищу: без аутентификации заказы не трогаем.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(signatureHeader)
	if signature == "" || !h.verifier.ValidWebhookRequest(signature, body) {
		h.logger.Error("failed to validate webhook signature")
		http.Error(w, "webhook request validation failed", http.StatusUnauthorized)
		return
	}

	var ev model.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		h.logger.Error("error decoding webhook payload",
			zap.Error(err),
			zap.ByteString("payload", body))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if ev.InvoiceID == "" {
		h.logger.Error("no invoiceId in webhook payload", zap.ByteString("payload", body))
		http.Error(w, "no invoiceId provided", http.StatusBadRequest)
		return
	}

	if err := h.service.ApplyWebhook(r.Context(), ev, body); err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, "no order found for this invoiceId", http.StatusNotFound)
		case errors.Is(err, service.ErrAmbiguousInvoice):
			http.Error(w, "multiple orders found for this invoiceId", http.StatusConflict)
		default:
			h.logger.Error("webhook apply error",
				zap.Error(err),
				zap.ByteString("payload", body))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}
