// Package repository содержит реализацию хранилища заказов в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/binancepay-gateway/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderNotFound возвращается, если заказ не найден.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists возвращается при попытке создать заказ с уже существующим номером.
	ErrOrderExists = errors.New("order already exists")
	// ErrInvoiceExists возвращается при попытке повторно сохранить запись-связку со счётом.
	ErrInvoiceExists = errors.New("invoice correlation already exists")
	// ErrEventAlreadySeen возвращается при повторной доставке уже обработанного вебхука.
	ErrEventAlreadySeen = errors.New("webhook event already seen")
)

// PostgresRepository предоставляет доступ к хранилищу заказов в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при временных сбоях БД: конфликтах сериализации,
// дедлоках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateOrder сохраняет новый заказ и возвращает его идентификатор.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO orders (number, currency, total, status, buyer_email, buyer_name)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		o.Number, o.Currency, o.Total.String(), o.Status, o.BuyerEmail, o.BuyerName,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrOrderExists, o.Number)
		}
		return 0, fmt.Errorf("create order: %w", err)
	}
	return id, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, number, currency, total::text, status, buyer_email, buyer_name, paid_at, uploaded_at
		 FROM orders WHERE id = $1`,
		id,
	)

	var (
		o        model.Order
		totalRaw string
	)
	err := row.Scan(&o.ID, &o.Number, &o.Currency, &totalRaw, &o.Status, &o.BuyerEmail, &o.BuyerName, &o.PaidAt, &o.UploadedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	o.Total, err = decimal.NewFromString(totalRaw)
	if err != nil {
		return nil, fmt.Errorf("parse order total: %w", err)
	}

	return &o, nil
}

// FindOrderIDsByMeta возвращает идентификаторы заказов с указанной парой метаданных.
func (r *PostgresRepository) FindOrderIDsByMeta(ctx context.Context, key, value string) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT order_id FROM order_meta WHERE key = $1 AND value = $2 ORDER BY order_id`,
		key, value,
	)
	if err != nil {
		return nil, fmt.Errorf("select order meta: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

// GetOrderMeta возвращает значение метаданных заказа; пустая строка — значение не задано.
func (r *PostgresRepository) GetOrderMeta(ctx context.Context, orderID int64, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx,
		`SELECT value FROM order_meta WHERE order_id = $1 AND key = $2`,
		orderID, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get order meta: %w", err)
	}
	return value, nil
}

// SetOrderMeta записывает значение метаданных заказа, перезаписывая прежнее.
func (r *PostgresRepository) SetOrderMeta(ctx context.Context, orderID int64, key, value string) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO order_meta (order_id, key, value) VALUES ($1, $2, $3)
			 ON CONFLICT (order_id, key) DO UPDATE SET value = EXCLUDED.value`,
			orderID, key, value,
		)
		if err != nil {
			return fmt.Errorf("set order meta: %w", err)
		}
		return nil
	})
}

// AddOrderNote добавляет запись в журнал заметок заказа.
func (r *PostgresRepository) AddOrderNote(ctx context.Context, orderID int64, note string) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO order_notes (order_id, note) VALUES ($1, $2)`,
			orderID, note,
		)
		if err != nil {
			return fmt.Errorf("add order note: %w", err)
		}
		return nil
	})
}

// GetOrderNotes возвращает заметки заказа в порядке добавления.
func (r *PostgresRepository) GetOrderNotes(ctx context.Context, orderID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT note FROM order_notes WHERE order_id = $1 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order notes: %w", err)
	}
	defer rows.Close()

	var notes []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return notes, nil
}

// SaveInvoiceCorrelation сохраняет запись-связку заказа со счётом ровно один раз.
// Повторная попытка завершается ErrInvoiceExists без изменения данных.
func (r *PostgresRepository) SaveInvoiceCorrelation(ctx context.Context, orderID int64, corr model.InvoiceCorrelation) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Наличие prepayId — признак уже созданного счёта; вставка без
		// перезаписи служит контрольной точкой "не более одного счёта на заказ".
		cmdTag, err := tx.Exec(ctx,
			`INSERT INTO order_meta (order_id, key, value) VALUES ($1, $2, $3)
			 ON CONFLICT (order_id, key) DO NOTHING`,
			orderID, model.MetaPrepayID, corr.PrepayID,
		)
		if err != nil {
			return fmt.Errorf("insert prepay id: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrInvoiceExists
		}

		rest := map[string]string{
			model.MetaCheckoutURL:      corr.CheckoutURL,
			model.MetaStableCoin:       corr.StableCoin,
			model.MetaStableCoinRate:   corr.StableCoinRate,
			model.MetaStableCoinAmount: corr.StableCoinAmount,
		}
		for key, value := range rest {
			if _, err := tx.Exec(ctx,
				`INSERT INTO order_meta (order_id, key, value) VALUES ($1, $2, $3)
				 ON CONFLICT (order_id, key) DO UPDATE SET value = EXCLUDED.value`,
				orderID, key, value,
			); err != nil {
				return fmt.Errorf("insert correlation meta: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// WebhookEventSeen сообщает, была ли доставка с таким digest уже применена.
func (r *PostgresRepository) WebhookEventSeen(ctx context.Context, digest string) (bool, error) {
	var seen bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE digest = $1)`,
		digest,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("check webhook event: %w", err)
	}
	return seen, nil
}

// RecordWebhookEvent фиксирует доставку вебхука, не требующую перехода заказа.
// Повторная доставка того же payload завершается ErrEventAlreadySeen.
func (r *PostgresRepository) RecordWebhookEvent(ctx context.Context, rec model.WebhookRecord) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO webhook_events (id, digest, event_type, invoice_id, payload)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), rec.Digest, rec.EventType, rec.InvoiceID, rec.Payload,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return ErrEventAlreadySeen
			}
			return fmt.Errorf("record webhook event: %w", err)
		}
		return nil
	})
}

// ApplyOrderTransition применяет переход заказа одной транзакцией: запись о
// доставке вебхука, отметка об оплате, смена статуса и заметка либо
// записываются вместе, либо не записываются вовсе. Откат транзакции не
// оставляет записи о доставке, поэтому повторная доставка после сбоя
// применит переход заново. Пустой status означает, что статус заказа не
// меняется; nil rec — переход без записи о доставке.
func (r *PostgresRepository) ApplyOrderTransition(ctx context.Context, orderID int64, status, note string, markPaid bool, rec *model.WebhookRecord) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if rec != nil {
			if _, err := tx.Exec(ctx,
				`INSERT INTO webhook_events (id, digest, event_type, invoice_id, payload)
				 VALUES ($1, $2, $3, $4, $5)`,
				uuid.NewString(), rec.Digest, rec.EventType, rec.InvoiceID, rec.Payload,
			); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
					return ErrEventAlreadySeen
				}
				return fmt.Errorf("record webhook event: %w", err)
			}
		}

		if markPaid {
			if _, err := tx.Exec(ctx,
				`UPDATE orders SET paid_at = now() WHERE id = $1 AND paid_at IS NULL`,
				orderID,
			); err != nil {
				return fmt.Errorf("mark payment complete: %w", err)
			}
		}

		if status != "" {
			if _, err := tx.Exec(ctx,
				`UPDATE orders SET status = $2 WHERE id = $1`,
				orderID, status,
			); err != nil {
				return fmt.Errorf("update order status: %w", err)
			}
		}

		if note != "" {
			if _, err := tx.Exec(ctx,
				`INSERT INTO order_notes (order_id, note) VALUES ($1, $2)`,
				orderID, note,
			); err != nil {
				return fmt.Errorf("insert order note: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}
