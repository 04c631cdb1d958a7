// Package service реализует бизнес-логику сверки заказов со счетами BinancePay.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/binancepay-gateway/internal/binancepay"
	"github.com/mmeshcher/binancepay-gateway/internal/config"
	"github.com/mmeshcher/binancepay-gateway/internal/model"
	"github.com/mmeshcher/binancepay-gateway/internal/repository"
	"github.com/mmeshcher/binancepay-gateway/internal/states"
	"github.com/mmeshcher/binancepay-gateway/internal/validation"
)

// ErrInvoiceCreation возвращается, если счёт BinancePay создать не удалось.
var (
	ErrInvoiceCreation = errors.New("invoice creation failed")
	// ErrAmbiguousInvoice возвращается, если invoiceId вебхука совпал с несколькими заказами.
	ErrAmbiguousInvoice = errors.New("multiple orders match invoice id")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	FindOrderIDsByMeta(ctx context.Context, key, value string) ([]int64, error)
	GetOrderMeta(ctx context.Context, orderID int64, key string) (string, error)
	SetOrderMeta(ctx context.Context, orderID int64, key, value string) error
	SaveInvoiceCorrelation(ctx context.Context, orderID int64, corr model.InvoiceCorrelation) error
	WebhookEventSeen(ctx context.Context, digest string) (bool, error)
	RecordWebhookEvent(ctx context.Context, rec model.WebhookRecord) error
	ApplyOrderTransition(ctx context.Context, orderID int64, status, note string, markPaid bool, rec *model.WebhookRecord) error
}

// PaymentClient описывает контракт клиента API BinancePay, используемый сервисом.
type PaymentClient interface {
	CreateOrder(ctx context.Context, req binancepay.CreateOrderRequest) (*binancepay.OrderResult, error)
	GetInvoice(ctx context.Context, storeID, invoiceID string) (*binancepay.Invoice, error)
	GetPaymentMethods(ctx context.Context, storeID, invoiceID string) ([]model.PaymentMethodSettlement, error)
}

// RateSource описывает контракт источника курсов стейблкоинов.
type RateSource interface {
	GetRate(ctx context.Context, asset, currency string) (float64, error)
}

// Service содержит бизнес-логику платёжного шлюза BinancePay.
type Service struct {
	repo     Repository
	payments PaymentClient
	rates    RateSource
	cfg      *config.Config
	logger   *zap.Logger

	// Последовательное применение операций к одному заказу: создание счёта
	// и конкурирующие доставки вебхуков не должны перемежаться. Записи
	// считаются по ссылкам и удаляются, когда заказ никто не ждёт.
	locksMu sync.Mutex
	locks   map[int64]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

// NewService создаёт новый сервис платёжного шлюза.
func NewService(repo Repository, payments PaymentClient, rates RateSource, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		payments: payments,
		rates:    rates,
		cfg:      cfg,
		logger:   logger,
		locks:    map[int64]*orderLock{},
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) lockOrder(id int64) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &orderLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

// CreateInvoice создаёт счёт BinancePay для заказа и возвращает адрес редиректа.
// Для одного заказа создаётся не более одного счёта: повторные вызовы
// возвращают уже существующий счёт, пока он остаётся пригодным к оплате.
func (s *Service) CreateInvoice(ctx context.Context, orderID int64) (*model.InvoiceHandle, error) {
	unlock := s.lockOrder(orderID)
	defer unlock()

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Уже созданный счёт переиспользуем, если он не в терминально-негодном состоянии.
	existing, err := s.repo.GetOrderMeta(ctx, orderID, model.MetaPrepayID)
	if err != nil {
		return nil, err
	}
	if existing != "" {
		return s.reuseInvoice(ctx, order, existing)
	}

	if !validation.IsValidMerchantTradeNo(order.Number) {
		return nil, fmt.Errorf("%w: invalid merchant trade number %q", ErrInvoiceCreation, order.Number)
	}

	rate, err := s.rates.GetRate(ctx, s.cfg.StableCoin, order.Currency)
	if err != nil {
		s.logger.Error("failed to fetch exchange rate",
			zap.String("stableCoin", s.cfg.StableCoin),
			zap.String("currency", order.Currency),
			zap.Error(err))
		return nil, err
	}

	// Сумма в стейблкоине считается через decimal с фиксированной точностью,
	// чтобы по обе стороны API получалась одна и та же строка.
	rateDec := decimal.NewFromFloat(rate)
	if rateDec.IsZero() {
		return nil, fmt.Errorf("%w: zero exchange rate", ErrInvoiceCreation)
	}
	amount := order.Total.Div(rateDec).StringFixed(8)

	result, err := s.payments.CreateOrder(ctx, binancepay.CreateOrderRequest{
		MerchantTradeNo: order.Number,
		Currency:        s.cfg.StableCoin,
		OrderAmount:     amount,
		ReturnURL:       fmt.Sprintf("%s/orders/%s/received", strings.TrimRight(s.cfg.PublicBaseURL, "/"), order.Number),
		CancelURL:       fmt.Sprintf("%s/orders/%s/cancel", strings.TrimRight(s.cfg.PublicBaseURL, "/"), order.Number),
		BuyerEmail:      order.BuyerEmail,
		BuyerName:       order.BuyerName,
	})
	if err != nil {
		var apiErr *binancepay.APIError
		if errors.As(err, &apiErr) && apiErr.DuplicateTradeNo() {
			// Счёт с таким merchantTradeNo уже есть на стороне BinancePay.
			return s.recoverDuplicate(ctx, order)
		}
		s.logger.Error("binancepay order creation failed",
			zap.Int64("orderID", order.ID),
			zap.String("number", order.Number),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s", ErrInvoiceCreation, err)
	}

	corr := model.InvoiceCorrelation{
		PrepayID:         result.PrepayID,
		CheckoutURL:      result.CheckoutURL,
		StableCoin:       s.cfg.StableCoin,
		StableCoinRate:   rateDec.String(),
		StableCoinAmount: amount,
	}
	if err := s.repo.SaveInvoiceCorrelation(ctx, orderID, corr); err != nil {
		if errors.Is(err, repository.ErrInvoiceExists) {
			// Гонка с другим процессом: связка уже записана, работаем с ней.
			prepayID, metaErr := s.repo.GetOrderMeta(ctx, orderID, model.MetaPrepayID)
			if metaErr != nil {
				return nil, metaErr
			}
			return s.reuseInvoice(ctx, order, prepayID)
		}
		return nil, err
	}

	s.logger.Debug("binancepay order created",
		zap.Int64("orderID", order.ID),
		zap.String("prepayId", result.PrepayID),
		zap.String("amount", amount))

	return &model.InvoiceHandle{PrepayID: result.PrepayID, CheckoutURL: result.CheckoutURL}, nil
}

// reuseInvoice проверяет существующий счёт на стороне BinancePay и возвращает
// его для редиректа, если он не находится в терминально-негодном состоянии.
func (s *Service) reuseInvoice(ctx context.Context, order *model.Order, prepayID string) (*model.InvoiceHandle, error) {
	inv, err := s.payments.GetInvoice(ctx, s.cfg.StoreID, prepayID)
	if err != nil {
		s.logger.Error("failed to fetch existing invoice",
			zap.Int64("orderID", order.ID),
			zap.String("prepayId", prepayID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s", ErrInvoiceCreation, err)
	}

	for _, invalid := range s.cfg.InvalidStates {
		if inv.Status == invalid {
			s.logger.Error("existing invoice is not payable",
				zap.Int64("orderID", order.ID),
				zap.String("prepayId", prepayID),
				zap.String("status", inv.Status))
			return nil, fmt.Errorf("%w: existing invoice is %s", ErrInvoiceCreation, inv.Status)
		}
	}

	checkoutURL := inv.CheckoutURL
	if checkoutURL == "" {
		checkoutURL, err = s.repo.GetOrderMeta(ctx, order.ID, model.MetaCheckoutURL)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Debug("reusing existing binancepay invoice",
		zap.Int64("orderID", order.ID),
		zap.String("prepayId", prepayID))

	return &model.InvoiceHandle{PrepayID: prepayID, CheckoutURL: checkoutURL}, nil
}

// recoverDuplicate обрабатывает отказ "duplicate merchantTradeNo": счёт уже
// существует на стороне BinancePay, пробуем найти его по сохранённой связке.
func (s *Service) recoverDuplicate(ctx context.Context, order *model.Order) (*model.InvoiceHandle, error) {
	prepayID, err := s.repo.GetOrderMeta(ctx, order.ID, model.MetaPrepayID)
	if err != nil {
		return nil, err
	}
	if prepayID == "" {
		// Связки нет, восстановить счёт не по чему.
		s.logger.Error("duplicate merchantTradeNo without local correlation",
			zap.Int64("orderID", order.ID),
			zap.String("number", order.Number))
		return nil, fmt.Errorf("%w: duplicate merchantTradeNo %s", ErrInvoiceCreation, order.Number)
	}
	return s.reuseInvoice(ctx, order, prepayID)
}

// ApplyWebhook применяет аутентифицированное событие вебхука к локальному заказу.
// Повторная доставка того же payload распознаётся и не приводит к записи.
func (s *Service) ApplyWebhook(ctx context.Context, ev model.WebhookEvent, rawBody []byte) error {
	ids, err := s.repo.FindOrderIDsByMeta(ctx, model.MetaPrepayID, ev.InvoiceID)
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		s.logger.Debug("no order found for invoice", zap.String("invoiceId", ev.InvoiceID))
		return fmt.Errorf("%w: invoice %s", repository.ErrOrderNotFound, ev.InvoiceID)
	}

	if len(ids) > 1 {
		// Неоднозначность никогда не разрешается угадыванием.
		s.logger.Error("multiple orders match invoice",
			zap.String("invoiceId", ev.InvoiceID),
			zap.Int64s("orderIDs", ids))
		return fmt.Errorf("%w: invoice %s", ErrAmbiguousInvoice, ev.InvoiceID)
	}

	orderID := ids[0]

	unlock := s.lockOrder(orderID)
	defer unlock()

	sum := sha256.Sum256(rawBody)
	rec := &model.WebhookRecord{
		Digest:    hex.EncodeToString(sum[:]),
		EventType: ev.Type,
		InvoiceID: ev.InvoiceID,
		Payload:   string(rawBody),
	}

	// Запись о доставке фиксируется вместе с переходом: доставка, оборвавшаяся
	// до применения, не считается обработанной, и повтор применит переход.
	seen, err := s.repo.WebhookEventSeen(ctx, rec.Digest)
	if err != nil {
		return err
	}
	if seen {
		if !s.cfg.WebhookReplayNotes {
			s.logger.Info("webhook event deduplicated",
				zap.String("invoiceId", ev.InvoiceID),
				zap.String("type", ev.Type))
			return nil
		}
		// Режим совместимости: повтор обрабатывается заново, заметки дублируются.
		rec = nil
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	tr := states.Map(ev, order.Status, s.cfg.StateTable)
	if !tr.Known {
		s.logger.Debug("webhook event received but ignored", zap.String("type", ev.Type))
		return s.recordDelivery(ctx, rec)
	}

	status := tr.Status
	if status == states.StatusIgnore {
		// Оператор отключил смену статуса для этого состояния.
		status = ""
	}

	if status == "" && tr.Note == "" && !tr.Settles {
		return s.recordDelivery(ctx, rec)
	}

	if err := s.repo.ApplyOrderTransition(ctx, orderID, status, tr.Note, tr.Settles, rec); err != nil {
		if errors.Is(err, repository.ErrEventAlreadySeen) {
			// Другой процесс применил эту доставку между проверкой и записью.
			s.logger.Info("webhook event deduplicated",
				zap.String("invoiceId", ev.InvoiceID),
				zap.String("type", ev.Type))
			return nil
		}
		return err
	}

	s.logger.Debug("webhook event applied",
		zap.Int64("orderID", orderID),
		zap.String("type", ev.Type),
		zap.String("status", status))

	if tr.Reconcile {
		// Обогащение метаданных — по возможности; его сбой не отменяет уже
		// применённый переход и не должен провалить ответ на вебхук.
		if err := s.ReconcilePayments(ctx, orderID); err != nil {
			s.logger.Error("payment reconciliation failed",
				zap.Int64("orderID", orderID),
				zap.String("invoiceId", ev.InvoiceID),
				zap.Error(err))
		}
	}

	return nil
}

// recordDelivery фиксирует доставку, не требующую перехода заказа.
func (s *Service) recordDelivery(ctx context.Context, rec *model.WebhookRecord) error {
	if rec == nil {
		return nil
	}
	if err := s.repo.RecordWebhookEvent(ctx, *rec); err != nil && !errors.Is(err, repository.ErrEventAlreadySeen) {
		return err
	}
	return nil
}

// ReconcilePayments запрашивает авторитетные данные расчёта по способам оплаты
// счёта и записывает их в метаданные заказа, перезаписывая прежние значения.
func (s *Service) ReconcilePayments(ctx context.Context, orderID int64) error {
	invoiceID, err := s.repo.GetOrderMeta(ctx, orderID, model.MetaPrepayID)
	if err != nil {
		return err
	}
	if invoiceID == "" {
		return fmt.Errorf("order %d has no invoice correlation", orderID)
	}

	methods, err := s.payments.GetPaymentMethods(ctx, s.cfg.StoreID, invoiceID)
	if err != nil {
		return fmt.Errorf("fetch payment methods: %w", err)
	}

	for _, m := range methods {
		totalPaid, err := decimal.NewFromString(m.TotalPaid)
		if err != nil || !totalPaid.IsPositive() {
			// Способ оплаты предлагался, но не использовался.
			continue
		}

		prefix := "BinancePay_" + m.PaymentMethod + "_"
		meta := map[string]string{
			prefix + "destination": m.Destination,
			prefix + "amount":      m.Amount,
			prefix + "paid":        m.TotalPaid,
			prefix + "networkFee":  m.NetworkFee,
			prefix + "rate":        m.Rate,
		}

		if rate, rateErr := decimal.NewFromString(m.Rate); rateErr == nil && rate.IsPositive() {
			meta[prefix+"rateFormatted"] = formatPrice(rate, s.cfg.PriceDecimals, s.cfg.PriceDecimalSep, s.cfg.PriceThousandSep)
		}

		for key, value := range meta {
			if err := s.repo.SetOrderMeta(ctx, orderID, key, value); err != nil {
				return fmt.Errorf("write payment meta: %w", err)
			}
		}
	}

	return nil
}

// formatPrice форматирует курс по правилам отображения цен магазина.
func formatPrice(d decimal.Decimal, decimals int, decimalSep, thousandSep string) string {
	fixed := d.StringFixed(int32(decimals))

	intPart, fracPart, _ := strings.Cut(fixed, ".")

	neg := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")

	var groups []string
	for len(intPart) > 3 {
		groups = append([]string{intPart[len(intPart)-3:]}, groups...)
		intPart = intPart[:len(intPart)-3]
	}
	groups = append([]string{intPart}, groups...)

	out := strings.Join(groups, thousandSep)
	if neg {
		out = "-" + out
	}
	if decimals > 0 {
		out += decimalSep + fracPart
	}
	return out
}
