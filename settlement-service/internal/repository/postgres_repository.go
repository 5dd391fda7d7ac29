package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/studenthub/settlement-service/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
)

type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(cred *Credentials) (*PostgresRepository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "settlement_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

const orderColumns = `order_id, request_id, amount, product_ref, product_category, buyer_ref, seller_ref,
	payment_method, payment_status, admin_commission_rate, admin_commission, seller_amount,
	shipping_address, transaction_id, pay_url, extra_data, error_code, error_message,
	received_successfully, received_successfully_deadline, received_confirmed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var extra []byte
	var deadline, confirmedAt sql.NullTime
	err := row.Scan(
		&o.OrderID,
		&o.RequestID,
		&o.Amount,
		&o.ProductRef,
		&o.ProductCategory,
		&o.BuyerRef,
		&o.SellerRef,
		&o.PaymentMethod,
		&o.PaymentStatus,
		&o.AdminCommissionRate,
		&o.AdminCommission,
		&o.SellerAmount,
		&o.ShippingAddress,
		&o.TransactionID,
		&o.PayURL,
		&extra,
		&o.ErrorCode,
		&o.ErrorMessage,
		&o.ReceivedSuccessfully,
		&deadline,
		&confirmedAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &o.ExtraData); err != nil {
			return nil, fmt.Errorf("unmarshal extra data: %w", err)
		}
	}
	if deadline.Valid {
		t := deadline.Time
		o.ReceivedSuccessfullyDeadline = &t
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		o.ReceivedConfirmedAt = &t
	}
	return &o, nil
}

func extraDataValue(d domain.ExtraData) (any, error) {
	if d.IsZero() {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal extra data: %w", err)
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvents(ctx context.Context, ex execer, events []domain.Event) error {
	for _, ev := range events {
		_, err := ex.ExecContext(ctx,
			`INSERT INTO settlement_outbox (aggregate_id, event_type, payload) VALUES ($1, $2, $3)`,
			ev.AggregateID, ev.Type, string(ev.Payload))
		if err != nil {
			return fmt.Errorf("insert outbox event %s: %w", ev.Type, err)
		}
	}
	return nil
}

func (r *PostgresRepository) CreateOrder(ctx context.Context, order *domain.Order, events ...domain.Event) error {
	order.RecomputeCommission()
	extra, err := extraDataValue(order.ExtraData)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO orders (` + orderColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

	_, insertErr := tx.ExecContext(ctx, query,
		order.OrderID,
		order.RequestID,
		order.Amount,
		order.ProductRef,
		order.ProductCategory,
		order.BuyerRef,
		order.SellerRef,
		order.PaymentMethod,
		order.PaymentStatus,
		order.AdminCommissionRate,
		order.AdminCommission,
		order.SellerAmount,
		order.ShippingAddress,
		order.TransactionID,
		order.PayURL,
		extra,
		order.ErrorCode,
		order.ErrorMessage,
		order.ReceivedSuccessfully,
		nullTime(order.ReceivedSuccessfullyDeadline),
		nullTime(order.ReceivedConfirmedAt),
		order.CreatedAt,
		order.UpdatedAt)
	if insertErr != nil {
		var pqErr *pq.Error
		if errors.As(insertErr, &pqErr) && pqErr.Code == "23505" {
			return domain.ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", insertErr)
	}

	if err := insertEvents(ctx, tx, events); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	return o, nil
}

func historyWhere(f domain.HistoryFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.BuyerRef != "" {
		add("buyer_ref = $%d", f.BuyerRef)
	}
	if f.Status != "" {
		add("payment_status = $%d", f.Status)
	}
	if f.MinAmount != nil {
		add("amount >= $%d", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		add("amount <= $%d", *f.MaxAmount)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	if f.Category != "" {
		add("product_category = $%d", f.Category)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *PostgresRepository) ListOrders(ctx context.Context, filter domain.HistoryFilter) ([]*domain.Order, int, error) {
	filter.Normalize()
	where, args := historyWhere(filter)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_at DESC, order_id LIMIT %d OFFSET %d`,
		orderColumns, where, filter.Limit, filter.Offset())
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func scanOrders(rows *sql.Rows) ([]*domain.Order, error) {
	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

func (r *PostgresRepository) UpdateOrder(ctx context.Context, orderID string, mutate MutateFunc) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	o, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1 FOR UPDATE`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}

	events, err := mutate(o)
	if err != nil {
		return nil, err
	}
	o.RecomputeCommission()

	extra, err := extraDataValue(o.ExtraData)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `UPDATE orders SET
		payment_status = $2, admin_commission_rate = $3, admin_commission = $4, seller_amount = $5,
		shipping_address = $6, transaction_id = $7, pay_url = $8, extra_data = $9,
		error_code = $10, error_message = $11, received_successfully = $12,
		received_successfully_deadline = $13, received_confirmed_at = $14, updated_at = $15
		WHERE order_id = $1`,
		o.OrderID,
		o.PaymentStatus,
		o.AdminCommissionRate,
		o.AdminCommission,
		o.SellerAmount,
		o.ShippingAddress,
		o.TransactionID,
		o.PayURL,
		extra,
		o.ErrorCode,
		o.ErrorMessage,
		o.ReceivedSuccessfully,
		nullTime(o.ReceivedSuccessfullyDeadline),
		nullTime(o.ReceivedConfirmedAt),
		o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := insertEvents(ctx, tx, events); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit order update: %w", err)
	}
	return o, nil
}

const dueReceiptsPredicate = `payment_status = 'completed' AND received_successfully = FALSE
	AND received_successfully_deadline <= $1`

func (r *PostgresRepository) FindDueReceipts(ctx context.Context, now time.Time) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+dueReceiptsPredicate+` ORDER BY received_successfully_deadline`, now)
	if err != nil {
		return nil, fmt.Errorf("query due receipts: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (r *PostgresRepository) ConfirmDueReceipts(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `WITH confirmed AS (
		UPDATE orders SET received_successfully = TRUE, received_confirmed_at = $1, updated_at = $1
		WHERE `+dueReceiptsPredicate+`
		RETURNING order_id, buyer_ref, seller_ref
	)
	INSERT INTO settlement_outbox (aggregate_id, event_type, payload)
	SELECT order_id, $2::text, json_build_object(
		'order_id', order_id, 'buyer_ref', buyer_ref, 'seller_ref', seller_ref,
		'confirmed_at', $1::timestamptz, 'source', 'scheduler')
	FROM confirmed`, now, domain.EventReceiptConfirmed)
	if err != nil {
		return 0, fmt.Errorf("confirm due receipts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, aggregate_id, event_type, payload, created_at
		FROM settlement_outbox WHERE processed_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &ev.EventType, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		ev.Payload = payload
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *PostgresRepository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE settlement_outbox SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event %d: %w", id, err)
	}
	return nil
}

func (r *PostgresRepository) RecordReconciliation(ctx context.Context, e *ReconciliationEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `INSERT INTO reconciliation_log (order_id, product_ref, buyer_ref, target_state, last_error, attempts)
		VALUES ($1, $2, $3, $4, $5, 1) RETURNING id, created_at`,
		e.OrderID, e.ProductRef, e.BuyerRef, e.TargetState, e.LastError).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reconciliation entry: %w", err)
	}
	e.Attempts = 1

	if err := insertEvents(ctx, tx, []domain.Event{reconciliationEvent(e)}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reconciliation entry: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListUnresolvedReconciliations(ctx context.Context, limit int) ([]*ReconciliationEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, order_id, product_ref, buyer_ref, target_state, last_error, attempts, created_at
		FROM reconciliation_log WHERE resolved_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query reconciliation log: %w", err)
	}
	defer rows.Close()

	var entries []*ReconciliationEntry
	for rows.Next() {
		var e ReconciliationEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.ProductRef, &e.BuyerRef, &e.TargetState, &e.LastError, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reconciliation row: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}

func (r *PostgresRepository) ResolveReconciliation(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE reconciliation_log SET resolved_at = $2, updated_at = $2 WHERE id = $1 AND resolved_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("resolve reconciliation %d: %w", id, err)
	}
	return nil
}

func (r *PostgresRepository) FailReconciliationAttempt(ctx context.Context, id int64, lastErr string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE reconciliation_log SET attempts = attempts + 1, last_error = $2, updated_at = NOW() WHERE id = $1`, id, lastErr)
	if err != nil {
		return fmt.Errorf("update reconciliation %d: %w", id, err)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}
