package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/tryathome/orderflow/internal/domain"
	"github.com/tryathome/orderflow/internal/platform/pagination"
	"github.com/tryathome/orderflow/internal/repositories"
)

// OrderRepository stores each order as a JSONB snapshot next to the indexed columns used by
// lookups. Mutate locks the row with SELECT ... FOR UPDATE for the duration of the mutation.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository constructs a PostgreSQL-backed order repository.
func NewOrderRepository(db *sql.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires database")
	}
	return &OrderRepository{db: db}, nil
}

type orderColumns struct {
	reference   sql.NullString
	trialEndsAt sql.NullTime
	body        []byte
}

func columnsFor(order domain.Order) (orderColumns, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return orderColumns{}, fmt.Errorf("encode order %s: %w", order.ID, err)
	}
	cols := orderColumns{body: body}
	if ref := strings.TrimSpace(order.Payment.ProviderReference); ref != "" {
		cols.reference = sql.NullString{String: ref, Valid: true}
	}
	if order.Timestamps.TrialEndsAt != nil {
		cols.trialEndsAt = sql.NullTime{Time: order.Timestamps.TrialEndsAt.UTC(), Valid: true}
	}
	return cols, nil
}

func decodeBody(body []byte, version int64) (domain.Order, error) {
	var order domain.Order
	if err := json.Unmarshal(body, &order); err != nil {
		return domain.Order{}, fmt.Errorf("decode order: %w", err)
	}
	order.Version = version
	return order, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	cols, err := columnsFor(order)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO orders (id, customer_id, status, payment_reference, trial_ends_at, version, created_at, updated_at, body)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		order.ID, order.CustomerID, string(order.Status), cols.reference, cols.trialEndsAt,
		order.Version, order.CreatedAt.UTC(), order.UpdatedAt.UTC(), cols.body)
	return classify("orders.insert", err)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.find", `SELECT body, version FROM orders WHERE id = $1`, orderID)
}

func (r *OrderRepository) FindByPaymentReference(ctx context.Context, reference string) (domain.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.Order{}, repositories.NewNotFoundError("orders.find_by_reference", errors.New("payment reference is required"))
	}
	return r.findOne(ctx, "orders.find_by_reference", `SELECT body, version FROM orders WHERE payment_reference = $1`, reference)
}

func (r *OrderRepository) findOne(ctx context.Context, op, query string, arg any) (domain.Order, error) {
	var (
		body    []byte
		version int64
	)
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&body, &version); err != nil {
		return domain.Order{}, classify(op, err)
	}
	return decodeBody(body, version)
}

func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, pager domain.Pagination) (domain.Page[domain.Order], error) {
	pager = pagination.Normalize(pager)
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	query := `SELECT body, version FROM orders WHERE customer_id = $1`
	args := []any{customerID}
	if !cursor.IsZero() {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cursor.CreatedAt.UTC(), cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, pager.PageSize+1)

	orders, err := r.queryOrders(ctx, "orders.list", query, args...)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	page := domain.Page[domain.Order]{}
	if len(orders) > pager.PageSize {
		last := orders[pager.PageSize-1]
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.Page[domain.Order]{}, err
		}
		orders = orders[:pager.PageSize]
	}
	page.Items = orders
	return page, nil
}

func (r *OrderRepository) ListTrialsEndingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	query := `SELECT body, version FROM orders
		 WHERE status = $1 AND trial_ends_at < $2
		 ORDER BY trial_ends_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	return r.queryOrders(ctx, "orders.list_trials", query, string(domain.OrderStatusTrialStarted), cutoff.UTC())
}

func (r *OrderRepository) queryOrders(ctx context.Context, op, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	out := make([]domain.Order, 0)
	for rows.Next() {
		var (
			body    []byte
			version int64
		)
		if err := rows.Scan(&body, &version); err != nil {
			return nil, classify(op, err)
		}
		order, err := decodeBody(body, version)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.OrderMutation) (domain.Order, error) {
	var updated domain.Order
	err := withTx(ctx, r.db, "orders.mutate", func(tx *sql.Tx) error {
		var (
			body    []byte
			version int64
		)
		err := tx.QueryRowContext(ctx, `SELECT body, version FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&body, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return repositories.NewNotFoundError("orders.mutate", fmt.Errorf("order %s not found", orderID))
		}
		if err != nil {
			return err
		}
		working, err := decodeBody(body, version)
		if err != nil {
			return err
		}
		if err := fn(&working); err != nil {
			return err
		}
		working.Version = version + 1

		cols, err := columnsFor(working)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE orders SET status = $2, payment_reference = $3, trial_ends_at = $4, version = $5, updated_at = $6, body = $7
			 WHERE id = $1`,
			orderID, string(working.Status), cols.reference, cols.trialEndsAt, working.Version, working.UpdatedAt.UTC(), cols.body)
		if err != nil {
			return err
		}
		updated = working
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}
