// Package model содержит доменные сущности платёжного шлюза BinancePay.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order представляет локальный заказ магазина, привязываемый к счёту BinancePay.
// Number — внешний номер заказа, видимый покупателю; именно он уходит в
// BinancePay как merchantTradeNo, а не внутренний ID.
type Order struct {
	ID         int64
	Number     string
	Currency   string
	Total      decimal.Decimal
	Status     string
	BuyerEmail string
	BuyerName  string
	PaidAt     *time.Time
	UploadedAt time.Time
}

// Ключи метаданных заказа, в которых хранится запись-связка со счётом BinancePay.
const (
	MetaPrepayID         = "BinancePay_prepayId"
	MetaCheckoutURL      = "BinancePay_checkoutUrl"
	MetaStableCoin       = "BinancePay_stableCoin"
	MetaStableCoinRate   = "BinancePay_stableCoinRate"
	MetaStableCoinAmount = "BinancePay_stableCoinCalculatedAmount"
)

// InvoiceCorrelation описывает запись-связку заказа с созданным счётом BinancePay.
// Создаётся ровно один раз при успешном создании счёта и после этого не изменяется.
type InvoiceCorrelation struct {
	PrepayID         string
	CheckoutURL      string
	StableCoin       string
	StableCoinRate   string
	StableCoinAmount string
}

// InvoiceHandle возвращается сервисом создания счетов и содержит адрес редиректа покупателя.
type InvoiceHandle struct {
	PrepayID    string
	CheckoutURL string
}

// WebhookEvent описывает одно уведомление BinancePay о жизненном цикле счёта.
// Булевы флаги осмыслены только для своего типа события.
type WebhookEvent struct {
	Type            string `json:"type"`
	InvoiceID       string `json:"invoiceId"`
	AfterExpiration bool   `json:"afterExpiration"`
	OverPaid        bool   `json:"overPaid"`
	PartiallyPaid   bool   `json:"partiallyPaid"`
	ManuallyMarked  bool   `json:"manuallyMarked"`
}

// WebhookRecord — запись о доставке вебхука для дедупликации. Фиксируется в
// одной транзакции с переходом заказа: событие считается доставленным только
// после того, как его эффект применён.
type WebhookRecord struct {
	Digest    string
	EventType string
	InvoiceID string
	Payload   string
}

// PaymentMethodSettlement содержит авторитетные данные расчёта по одному способу оплаты счёта.
type PaymentMethodSettlement struct {
	PaymentMethod string `json:"paymentMethod"`
	Destination   string `json:"destination"`
	Amount        string `json:"amount"`
	TotalPaid     string `json:"totalPaid"`
	NetworkFee    string `json:"networkFee"`
	Rate          string `json:"rate"`
}
