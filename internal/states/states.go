// Package states реализует отображение событий BinancePay на статусы локального заказа.
package states

import (
	"fmt"

	"github.com/mmeshcher/binancepay-gateway/internal/model"
)

// State — внутреннее семантическое состояние счёта BinancePay.
type State string

// Полный перечень внутренних состояний.
const (
	Processing         State = "PROCESSING"
	Invalid            State = "INVALID"
	Expired            State = "EXPIRED"
	ExpiredPaidPartial State = "EXPIRED_PAID_PARTIAL"
	Settled            State = "SETTLED"
	SettledPaidOver    State = "SETTLED_PAID_OVER"
	Ignore             State = "IGNORE"
)

// StatusIgnore — значение-маркер: статус заказа для этого состояния не трогаем.
const StatusIgnore = "BINANCEPAY_IGNORE"

// Типы событий вебхука BinancePay.
const (
	EventInvoiceCreated         = "InvoiceCreated"
	EventInvoiceReceivedPayment = "InvoiceReceivedPayment"
	EventInvoiceProcessing      = "InvoiceProcessing"
	EventInvoiceInvalid         = "InvoiceInvalid"
	EventInvoiceExpired         = "InvoiceExpired"
	EventInvoiceSettled         = "InvoiceSettled"
)

// Table отображает внутреннее состояние на строку статуса локальной системы.
type Table map[State]string

// all перечисляет все члены перечисления для проверки тотальности таблицы.
var all = []State{Processing, Invalid, Expired, ExpiredPaidPartial, Settled, SettledPaidOver, Ignore}

// DefaultTable возвращает таблицу статусов по умолчанию. Таблица тотальна:
// каждое состояние имеет непустое значение.
func DefaultTable() Table {
	return Table{
		Processing:         "on-hold",
		Invalid:            "failed",
		Expired:            "cancelled",
		ExpiredPaidPartial: "failed",
		Settled:            "processing",
		SettledPaidOver:    "processing",
		Ignore:             StatusIgnore,
	}
}

// Validate проверяет, что таблица покрывает все состояния непустыми значениями.
// Частичная пользовательская таблица — ошибка конфигурации, а не повод молча
// откатиться к значениям по умолчанию.
func Validate(t Table) error {
	for _, s := range all {
		if v, ok := t[s]; !ok || v == "" {
			return fmt.Errorf("order state mapping: missing entry for %s", s)
		}
	}
	return nil
}

// Transition описывает результат применения события к заказу.
// Пустой Status или значение StatusIgnore означают, что статус заказа не меняется.
type Transition struct {
	Status    string
	Note      string
	Settles   bool
	Reconcile bool
	Known     bool
}

// Map возвращает переход для события вебхука. Функция чистая: помимо события
// ей нужен только текущий статус заказа (правило InvoiceReceivedPayment после
// истечения срока счёта зависит от него). Неизвестный тип события — не ошибка,
// а переход "ничего не делать": схема вебхуков может расширяться.
func Map(ev model.WebhookEvent, currentStatus string, t Table) Transition {
	switch ev.Type {
	case EventInvoiceCreated:
		// Счёт создан нами же, локально делать нечего.
		return Transition{Known: true}

	case EventInvoiceReceivedPayment:
		tr := Transition{Known: true, Reconcile: true}
		if ev.AfterExpiration && currentStatus == t[Expired] {
			tr.Status = t[ExpiredPaidPartial]
			tr.Note = "Invoice payment received after invoice was already expired."
		} else {
			tr.Note = "Invoice (partial) payment received. Waiting for full payment."
		}
		return tr

	case EventInvoiceProcessing:
		tr := Transition{Known: true, Status: t[Processing]}
		if ev.OverPaid {
			tr.Note = "Invoice payment received fully with overpayment, waiting for settlement."
		} else {
			tr.Note = "Invoice payment received fully, waiting for settlement."
		}
		return tr

	case EventInvoiceInvalid:
		tr := Transition{Known: true, Status: t[Invalid]}
		if ev.ManuallyMarked {
			tr.Note = "Invoice manually marked invalid."
		} else {
			tr.Note = "Invoice became invalid."
		}
		return tr

	case EventInvoiceExpired:
		tr := Transition{Known: true}
		if ev.PartiallyPaid {
			tr.Status = t[ExpiredPaidPartial]
			tr.Note = "Invoice expired but was paid partially, please check."
		} else {
			tr.Status = t[Expired]
			tr.Note = "Invoice expired."
		}
		return tr

	case EventInvoiceSettled:
		tr := Transition{Known: true, Settles: true, Reconcile: true}
		if ev.OverPaid {
			tr.Status = t[SettledPaidOver]
			tr.Note = "Invoice payment settled but was overpaid."
		} else {
			tr.Status = t[Settled]
			tr.Note = "Invoice payment settled."
		}
		return tr
	}

	return Transition{}
}
