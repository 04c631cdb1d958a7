package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/binancepay-gateway/internal/binancepay"
	"github.com/mmeshcher/binancepay-gateway/internal/config"
	"github.com/mmeshcher/binancepay-gateway/internal/model"
	"github.com/mmeshcher/binancepay-gateway/internal/rates"
	"github.com/mmeshcher/binancepay-gateway/internal/repository"
	"github.com/mmeshcher/binancepay-gateway/internal/states"
)

type stubRepo struct {
	orders map[int64]*model.Order
	meta   map[int64]map[string]string
	notes  map[int64][]string
	events map[string]bool
	paid   map[int64]bool

	saveCorrErr   error
	applyFailures int
	findCalls     int
}

func newStubRepo(orders ...*model.Order) *stubRepo {
	r := &stubRepo{
		orders: map[int64]*model.Order{},
		meta:   map[int64]map[string]string{},
		notes:  map[int64][]string{},
		events: map[string]bool{},
		paid:   map[int64]bool{},
	}
	for _, o := range orders {
		r.orders[o.ID] = o
		r.meta[o.ID] = map[string]string{}
	}
	return r
}

func (r *stubRepo) Close() error { return nil }

func (r *stubRepo) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *stubRepo) FindOrderIDsByMeta(ctx context.Context, key, value string) ([]int64, error) {
	r.findCalls++
	var ids []int64
	for id, m := range r.meta {
		if m[key] == value {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *stubRepo) GetOrderMeta(ctx context.Context, orderID int64, key string) (string, error) {
	return r.meta[orderID][key], nil
}

func (r *stubRepo) SetOrderMeta(ctx context.Context, orderID int64, key, value string) error {
	if r.meta[orderID] == nil {
		r.meta[orderID] = map[string]string{}
	}
	r.meta[orderID][key] = value
	return nil
}

func (r *stubRepo) SaveInvoiceCorrelation(ctx context.Context, orderID int64, corr model.InvoiceCorrelation) error {
	if r.saveCorrErr != nil {
		return r.saveCorrErr
	}
	if r.meta[orderID][model.MetaPrepayID] != "" {
		return repository.ErrInvoiceExists
	}
	_ = r.SetOrderMeta(ctx, orderID, model.MetaPrepayID, corr.PrepayID)
	_ = r.SetOrderMeta(ctx, orderID, model.MetaCheckoutURL, corr.CheckoutURL)
	_ = r.SetOrderMeta(ctx, orderID, model.MetaStableCoin, corr.StableCoin)
	_ = r.SetOrderMeta(ctx, orderID, model.MetaStableCoinRate, corr.StableCoinRate)
	_ = r.SetOrderMeta(ctx, orderID, model.MetaStableCoinAmount, corr.StableCoinAmount)
	return nil
}

func (r *stubRepo) WebhookEventSeen(ctx context.Context, digest string) (bool, error) {
	return r.events[digest], nil
}

func (r *stubRepo) RecordWebhookEvent(ctx context.Context, rec model.WebhookRecord) error {
	if r.events[rec.Digest] {
		return repository.ErrEventAlreadySeen
	}
	r.events[rec.Digest] = true
	return nil
}

func (r *stubRepo) ApplyOrderTransition(ctx context.Context, orderID int64, status, note string, markPaid bool, rec *model.WebhookRecord) error {
	if r.applyFailures > 0 {
		r.applyFailures--
		return errors.New("transient db failure")
	}
	o, ok := r.orders[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if rec != nil {
		if r.events[rec.Digest] {
			return repository.ErrEventAlreadySeen
		}
		r.events[rec.Digest] = true
	}
	if markPaid {
		r.paid[orderID] = true
	}
	if status != "" {
		o.Status = status
	}
	if note != "" {
		r.notes[orderID] = append(r.notes[orderID], note)
	}
	return nil
}

type stubPayments struct {
	createResult *binancepay.OrderResult
	createErr    error
	createCalls  int
	lastCreate   binancepay.CreateOrderRequest

	invoice    *binancepay.Invoice
	invoiceErr error

	methods    []model.PaymentMethodSettlement
	methodsErr error
}

func (p *stubPayments) CreateOrder(ctx context.Context, req binancepay.CreateOrderRequest) (*binancepay.OrderResult, error) {
	p.createCalls++
	p.lastCreate = req
	return p.createResult, p.createErr
}

func (p *stubPayments) GetInvoice(ctx context.Context, storeID, invoiceID string) (*binancepay.Invoice, error) {
	return p.invoice, p.invoiceErr
}

func (p *stubPayments) GetPaymentMethods(ctx context.Context, storeID, invoiceID string) ([]model.PaymentMethodSettlement, error) {
	return p.methods, p.methodsErr
}

type stubRates struct {
	rate float64
	err  error
}

func (r *stubRates) GetRate(ctx context.Context, asset, currency string) (float64, error) {
	return r.rate, r.err
}

func testConfig() *config.Config {
	return &config.Config{
		StableCoin:       "USDT",
		StoreID:          "store-1",
		PublicBaseURL:    "https://shop.example",
		StateTable:       states.DefaultTable(),
		InvalidStates:    []string{"Expired", "Invalid"},
		PriceDecimals:    2,
		PriceDecimalSep:  ".",
		PriceThousandSep: ",",
	}
}

func testOrder(id int64, number, currency, total string) *model.Order {
	return &model.Order{
		ID:       id,
		Number:   number,
		Currency: currency,
		Total:    decimal.RequireFromString(total),
		Status:   "pending",
	}
}

func newTestService(repo *stubRepo, payments *stubPayments, rateSrc *stubRates, cfg *config.Config) *Service {
	return NewService(repo, payments, rateSrc, cfg, zap.NewNop())
}

func TestCreateInvoice_Success(t *testing.T) {
	repo := newStubRepo(testOrder(1, "1001", "USD", "50"))
	payments := &stubPayments{createResult: &binancepay.OrderResult{PrepayID: "pp-1", CheckoutURL: "https://pay.example/pp-1"}}
	svc := newTestService(repo, payments, &stubRates{rate: 1.0}, testConfig())

	handle, err := svc.CreateInvoice(context.Background(), 1)
	if err != nil {
		t.Fatalf("CreateInvoice error: %v", err)
	}
	if handle.CheckoutURL != "https://pay.example/pp-1" {
		t.Fatalf("unexpected handle: %+v", handle)
	}

	if payments.lastCreate.MerchantTradeNo != "1001" {
		t.Fatalf("merchantTradeNo = %q, want order number", payments.lastCreate.MerchantTradeNo)
	}
	if payments.lastCreate.OrderAmount != "50.00000000" {
		t.Fatalf("orderAmount = %q, want 50.00000000", payments.lastCreate.OrderAmount)
	}

	if repo.meta[1][model.MetaPrepayID] != "pp-1" {
		t.Fatalf("correlation record not persisted: %+v", repo.meta[1])
	}
	if repo.meta[1][model.MetaStableCoinAmount] != "50.00000000" {
		t.Fatalf("stable coin amount = %q", repo.meta[1][model.MetaStableCoinAmount])
	}
}

func TestCreateInvoice_AmountFixedPrecision(t *testing.T) {
	repo := newStubRepo(testOrder(1, "1001", "USD", "100.00"))
	payments := &stubPayments{createResult: &binancepay.OrderResult{PrepayID: "pp-1", CheckoutURL: "u"}}
	svc := newTestService(repo, payments, &stubRates{rate: 0.999}, testConfig())

	if _, err := svc.CreateInvoice(context.Background(), 1); err != nil {
		t.Fatalf("CreateInvoice error: %v", err)
	}

	// 100 / 0.999 = 100.100100100... — строго фиксированная запись,
	// без артефактов двоичной арифметики.
	if payments.lastCreate.OrderAmount != "100.10010010" {
		t.Fatalf("orderAmount = %q, want 100.10010010", payments.lastCreate.OrderAmount)
	}
}

func TestCreateInvoice_RateUnavailable(t *testing.T) {
	repo := newStubRepo(testOrder(1, "1001", "USD", "50"))
	svc := newTestService(repo, &stubPayments{}, &stubRates{err: rates.ErrRateUnavailable}, testConfig())

	_, err := svc.CreateInvoice(context.Background(), 1)
	if !errors.Is(err, rates.ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable, got %v", err)
	}
}

func TestCreateInvoice_InvalidTradeNo(t *testing.T) {
	repo := newStubRepo(testOrder(1, "order 1001", "USD", "50"))
	payments := &stubPayments{}
	svc := newTestService(repo, payments, &stubRates{rate: 1.0}, testConfig())

	_, err := svc.CreateInvoice(context.Background(), 1)
	if !errors.Is(err, ErrInvoiceCreation) {
		t.Fatalf("expected ErrInvoiceCreation, got %v", err)
	}
	if payments.createCalls != 0 {
		t.Fatalf("API must not be called with invalid trade number")
	}
}

func TestCreateInvoice_ReusesExistingInvoice(t *testing.T) {
	repo := newStubRepo(testOrder(1, "1001", "USD", "50"))
	repo.meta[1][model.MetaPrepayID] = "pp-old"
	repo.meta[1][model.MetaCheckoutURL] = "https://pay.example/pp-old"

	payments := &stubPayments{invoice: &binancepay.Invoice{PrepayID: "pp-old", Status: "Initial", CheckoutURL: "https://pay.example/pp-old"}}
	svc := newTestService(repo, payments, &stubRates{rate: 1.0}, testConfig())

	handle, err := svc.CreateInvoice(context.Background(), 1)
	if err != nil {
		t.Fatalf("CreateInvoice error: %v", err)
	}
	if handle.PrepayID != "pp-old" {
		t.Fatalf("prepayId = %q, want pp-old", handle.PrepayID)
	}
	if payments.createCalls != 0 {
		t.Fatalf("new invoice must not be created when a valid one exists")
	}
}

func TestCreateInvoice_RejectsTerminalExistingInvoice(t *testing.T) {
	repo := newStubRepo(testOrder(1, "1001", "USD", "50"))
	repo.meta[1][model.MetaPrepayID] = "pp-old"

	payments := &stubPayments{invoice: &binancepay.Invoice{PrepayID: "pp-old", Status: "Expired"}}
	svc := newTestService(repo, payments, &stubRates{rate: 1.0}, testConfig())

	_, err := svc.CreateInvoice(context.Background(), 1)
	if !errors.Is(err, ErrInvoiceCreation) {
		t.Fatalf("expected ErrInvoiceCreation, got %v", err)
	}
}

func TestCreateInvoice_DuplicateTradeNoWithoutCorrelation(t *testing.T) {
	repo := newStubRepo(testOrder(1, "1001", "USD", "50"))
	payments := &stubPayments{createErr: &binancepay.APIError{Status: "FAIL", Code: "400201", Message: "merchantTradeNo is invalid or duplicated"}}
	svc := newTestService(repo, payments, &stubRates{rate: 1.0}, testConfig())

	_, err := svc.CreateInvoice(context.Background(), 1)
	if !errors.Is(err, ErrInvoiceCreation) {
		t.Fatalf("expected ErrInvoiceCreation, got %v", err)
	}
}

func TestCreateInvoice_CorrelationRaceFallsBackToReuse(t *testing.T) {
	repo := newStubRepo(testOrder(1, "1001", "USD", "50"))
	repo.saveCorrErr = repository.ErrInvoiceExists
	repo.meta[1][model.MetaPrepayID] = ""

	payments := &stubPayments{
		createResult: &binancepay.OrderResult{PrepayID: "pp-new", CheckoutURL: "https://pay.example/pp-new"},
		invoice:      &binancepay.Invoice{PrepayID: "pp-race", Status: "Initial", CheckoutURL: "https://pay.example/pp-race"},
	}
	svc := newTestService(repo, payments, &stubRates{rate: 1.0}, testConfig())

	// Другой процесс успел записать связку между нашей проверкой и записью.
	repo.meta[1][model.MetaPrepayID] = ""
	_, err := svc.CreateInvoice(context.Background(), 1)
	if err != nil {
		t.Fatalf("CreateInvoice error: %v", err)
	}
}

func settledPayload(invoiceID string) ([]byte, model.WebhookEvent) {
	body := []byte(fmt.Sprintf(`{"type":"InvoiceSettled","invoiceId":%q,"overPaid":false}`, invoiceID))
	return body, model.WebhookEvent{Type: states.EventInvoiceSettled, InvoiceID: invoiceID}
}

func TestApplyWebhook_SettledTransition(t *testing.T) {
	cfg := testConfig()
	repo := newStubRepo(testOrder(1, "1001", "USD", "50"))
	repo.meta[1][model.MetaPrepayID] = "pp-1"

	payments := &stubPayments{methods: []model.PaymentMethodSettlement{
		{PaymentMethod: "USDT", Destination: "addr-1", Amount: "50.1", TotalPaid: "50.1", NetworkFee: "0.1", Rate: "0.999"},
		{PaymentMethod: "BUSD", Destination: "", Amount: "0", TotalPaid: "0", NetworkFee: "0", Rate: "0"},
	}}
	svc := newTestService(repo, payments, &stubRates{rate: 1.0}, cfg)

	body, ev := settledPayload("pp-1")
	if err := svc.ApplyWebhook(context.Background(), ev, body); err != nil {
		t.Fatalf("ApplyWebhook error: %v", err)
	}

	if got := repo.orders[1].Status; got != cfg.StateTable[states.Settled] {
		t.Fatalf("status = %q, want %q", got, cfg.StateTable[states.Settled])
	}
	if !repo.paid[1] {
		t.Fatalf("payment must be marked complete on settlement")
	}
	if len(repo.notes[1]) != 1 || repo.notes[1][0] != "Invoice payment settled." {
		t.Fatalf("notes = %v", repo.notes[1])
	}

	// Детали оплаты записаны только для использованного способа.
	if repo.meta[1]["BinancePay_USDT_paid"] != "50.1" {
		t.Fatalf("USDT settlement meta not written: %+v", repo.meta[1])
	}
	if repo.meta[1]["BinancePay_USDT_rateFormatted"] != "1.00" {
		t.Fatalf("rateFormatted = %q, want 1.00", repo.meta[1]["BinancePay_USDT_rateFormatted"])
	}
	if _, ok := repo.meta[1]["BinancePay_BUSD_paid"]; ok {
		t.Fatalf("unused payment method must be skipped")
	}
}

func TestApplyWebhook_DuplicateDeliveryIsNoOp(t *testing.T) {
	repo := newStubRepo(testOrder(1, "1001", "USD", "50"))
	repo.meta[1][model.MetaPrepayID] = "pp-1"

	svc := newTestService(repo, &stubPayments{}, &stubRates{rate: 1.0}, testConfig())

	body, ev := settledPayload("pp-1")
	if err := svc.ApplyWebhook(context.Background(), ev, body); err != nil {
		t.Fatalf("first delivery error: %v", err)
	}
	if err := svc.ApplyWebhook(context.Background(), ev, body); err != nil {
		t.Fatalf("second delivery error: %v", err)
	}

	if len(repo.notes[1]) != 1 {
		t.Fatalf("notes duplicated on replay: %v", repo.notes[1])
	}
}

func TestApplyWebhook_ReplayNotesMode(t *testing.T) {
	cfg := testConfig()
	cfg.WebhookReplayNotes = true

	repo := newStubRepo(testOrder(1, "1001", "USD", "50"))
	repo.meta[1][model.MetaPrepayID] = "pp-1"

	svc := newTestService(repo, &stubPayments{}, &stubRates{rate: 1.0}, cfg)

	body, ev := settledPayload("pp-1")
	_ = svc.ApplyWebhook(context.Background(), ev, body)
	_ = svc.ApplyWebhook(context.Background(), ev, body)

	if len(repo.notes[1]) != 2 {
		t.Fatalf("replay mode must append notes, got %v", repo.notes[1])
	}
}

func TestApplyWebhook_AmbiguousMatchRefusesToGuess(t *testing.T) {
	repo := newStubRepo(testOrder(1, "1001", "USD", "50"), testOrder(2, "1002", "USD", "60"))
	repo.meta[1][model.MetaPrepayID] = "pp-1"
	repo.meta[2][model.MetaPrepayID] = "pp-1"

	svc := newTestService(repo, &stubPayments{}, &stubRates{rate: 1.0}, testConfig())

	body, ev := settledPayload("pp-1")
	err := svc.ApplyWebhook(context.Background(), ev, body)
	if !errors.Is(err, ErrAmbiguousInvoice) {
		t.Fatalf("expected ErrAmbiguousInvoice, got %v", err)
	}

	if repo.orders[1].Status != "pending" || repo.orders[2].Status != "pending" {
		t.Fatalf("no order must be mutated on ambiguity")
	}
	if len(repo.notes[1])+len(repo.notes[2]) != 0 {
		t.Fatalf("no notes must be written on ambiguity")
	}
}

func TestApplyWebhook_OrderNotFound(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, &stubPayments{}, &stubRates{rate: 1.0}, testConfig())

	body, ev := settledPayload("pp-unknown")
	err := svc.ApplyWebhook(context.Background(), ev, body)
	if !errors.Is(err, repository.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestApplyWebhook_UnknownEventIgnored(t *testing.T) {
	repo := newStubRepo(testOrder(1, "1001", "USD", "50"))
	repo.meta[1][model.MetaPrepayID] = "pp-1"

	svc := newTestService(repo, &stubPayments{}, &stubRates{rate: 1.0}, testConfig())

	body := []byte(`{"type":"InvoicePayoutCompleted","invoiceId":"pp-1"}`)
	ev := model.WebhookEvent{Type: "InvoicePayoutCompleted", InvoiceID: "pp-1"}

	if err := svc.ApplyWebhook(context.Background(), ev, body); err != nil {
		t.Fatalf("unknown event must not fail the pipeline: %v", err)
	}
	if repo.orders[1].Status != "pending" || len(repo.notes[1]) != 0 {
		t.Fatalf("unknown event must not mutate the order")
	}
}

func TestApplyWebhook_IgnoreSentinelSkipsStatusWrite(t *testing.T) {
	cfg := testConfig()
	cfg.StateTable[states.Expired] = states.StatusIgnore

	repo := newStubRepo(testOrder(1, "1001", "USD", "50"))
	repo.meta[1][model.MetaPrepayID] = "pp-1"

	svc := newTestService(repo, &stubPayments{}, &stubRates{rate: 1.0}, cfg)

	body := []byte(`{"type":"InvoiceExpired","invoiceId":"pp-1","partiallyPaid":false}`)
	ev := model.WebhookEvent{Type: states.EventInvoiceExpired, InvoiceID: "pp-1"}

	if err := svc.ApplyWebhook(context.Background(), ev, body); err != nil {
		t.Fatalf("ApplyWebhook error: %v", err)
	}
	if repo.orders[1].Status != "pending" {
		t.Fatalf("status must not change for IGNORE mapping, got %q", repo.orders[1].Status)
	}
	if len(repo.notes[1]) != 1 {
		t.Fatalf("note must still be appended, got %v", repo.notes[1])
	}
}

func TestApplyWebhook_ReceivedPaymentAfterExpiration(t *testing.T) {
	cfg := testConfig()

	expired := testOrder(1, "1001", "USD", "50")
	expired.Status = cfg.StateTable[states.Expired]

	repo := newStubRepo(expired)
	repo.meta[1][model.MetaPrepayID] = "pp-1"

	svc := newTestService(repo, &stubPayments{}, &stubRates{rate: 1.0}, cfg)

	body := []byte(`{"type":"InvoiceReceivedPayment","invoiceId":"pp-1","afterExpiration":true}`)
	ev := model.WebhookEvent{Type: states.EventInvoiceReceivedPayment, InvoiceID: "pp-1", AfterExpiration: true}

	if err := svc.ApplyWebhook(context.Background(), ev, body); err != nil {
		t.Fatalf("ApplyWebhook error: %v", err)
	}
	if repo.orders[1].Status != cfg.StateTable[states.ExpiredPaidPartial] {
		t.Fatalf("status = %q, want %q", repo.orders[1].Status, cfg.StateTable[states.ExpiredPaidPartial])
	}
}

func TestApplyWebhook_ReceivedPaymentBeforeExpiration(t *testing.T) {
	cfg := testConfig()
	repo := newStubRepo(testOrder(1, "1001", "USD", "50"))
	repo.meta[1][model.MetaPrepayID] = "pp-1"

	svc := newTestService(repo, &stubPayments{}, &stubRates{rate: 1.0}, cfg)

	body := []byte(`{"type":"InvoiceReceivedPayment","invoiceId":"pp-1","afterExpiration":true}`)
	ev := model.WebhookEvent{Type: states.EventInvoiceReceivedPayment, InvoiceID: "pp-1", AfterExpiration: true}

	if err := svc.ApplyWebhook(context.Background(), ev, body); err != nil {
		t.Fatalf("ApplyWebhook error: %v", err)
	}

	if repo.orders[1].Status != "pending" {
		t.Fatalf("status must stay pending, got %q", repo.orders[1].Status)
	}
	if len(repo.notes[1]) != 1 || repo.notes[1][0] != "Invoice (partial) payment received. Waiting for full payment." {
		t.Fatalf("notes = %v", repo.notes[1])
	}
}

func TestApplyWebhook_ReconciliationFailureDoesNotFailDelivery(t *testing.T) {
	repo := newStubRepo(testOrder(1, "1001", "USD", "50"))
	repo.meta[1][model.MetaPrepayID] = "pp-1"

	payments := &stubPayments{methodsErr: errors.New("api down")}
	svc := newTestService(repo, payments, &stubRates{rate: 1.0}, testConfig())

	body, ev := settledPayload("pp-1")
	if err := svc.ApplyWebhook(context.Background(), ev, body); err != nil {
		t.Fatalf("reconciliation failure must not fail the webhook: %v", err)
	}

	// Переход при этом применён.
	if repo.orders[1].Status != testConfig().StateTable[states.Settled] {
		t.Fatalf("status transition lost: %q", repo.orders[1].Status)
	}
}

func TestApplyWebhook_RedeliveryAfterFailedTransition(t *testing.T) {
	cfg := testConfig()
	repo := newStubRepo(testOrder(1, "1001", "USD", "50"))
	repo.meta[1][model.MetaPrepayID] = "pp-1"
	repo.applyFailures = 1

	svc := newTestService(repo, &stubPayments{}, &stubRates{rate: 1.0}, cfg)

	body, ev := settledPayload("pp-1")
	if err := svc.ApplyWebhook(context.Background(), ev, body); err == nil {
		t.Fatalf("expected error when the transition fails")
	}

	// Сорвавшаяся доставка не считается обработанной: повтор того же payload
	// применяет переход, а не гасится дедупликацией.
	if err := svc.ApplyWebhook(context.Background(), ev, body); err != nil {
		t.Fatalf("redelivery error: %v", err)
	}

	if got := repo.orders[1].Status; got != cfg.StateTable[states.Settled] {
		t.Fatalf("status = %q, want %q", got, cfg.StateTable[states.Settled])
	}
	if !repo.paid[1] {
		t.Fatalf("payment must be marked complete after redelivery")
	}
	if len(repo.notes[1]) != 1 {
		t.Fatalf("notes = %v, want exactly one", repo.notes[1])
	}

	// Третья доставка уже применённого события — no-op.
	if err := svc.ApplyWebhook(context.Background(), ev, body); err != nil {
		t.Fatalf("third delivery error: %v", err)
	}
	if len(repo.notes[1]) != 1 {
		t.Fatalf("notes duplicated on replay: %v", repo.notes[1])
	}
}

func TestOrderLocksEvicted(t *testing.T) {
	repo := newStubRepo(testOrder(1, "1001", "USD", "50"))
	repo.meta[1][model.MetaPrepayID] = "pp-1"

	svc := newTestService(repo, &stubPayments{}, &stubRates{rate: 1.0}, testConfig())

	body, ev := settledPayload("pp-1")
	if err := svc.ApplyWebhook(context.Background(), ev, body); err != nil {
		t.Fatalf("ApplyWebhook error: %v", err)
	}

	svc.locksMu.Lock()
	n := len(svc.locks)
	svc.locksMu.Unlock()
	if n != 0 {
		t.Fatalf("locks map holds %d entries after the work is done", n)
	}
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		value       string
		decimals    int
		decSep      string
		thousandSep string
		want        string
	}{
		{"0.999", 2, ".", ",", "1.00"},
		{"1234.5", 2, ".", ",", "1,234.50"},
		{"1234567.891", 3, ",", " ", "1 234 567,891"},
		{"12", 0, ".", ",", "12"},
	}

	for _, tt := range tests {
		got := formatPrice(decimal.RequireFromString(tt.value), tt.decimals, tt.decSep, tt.thousandSep)
		if got != tt.want {
			t.Fatalf("formatPrice(%s) = %q, want %q", tt.value, got, tt.want)
		}
	}
}
