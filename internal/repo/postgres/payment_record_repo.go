package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/storefront/internal/domain/enums"
	"github.com/ivankudzin/storefront/internal/domain/model"
	"github.com/ivankudzin/storefront/internal/repo"
)

const paymentRecordColumns = `
	id,
	gateway,
	gateway_order_id,
	gateway_payment_id,
	signature,
	item_type,
	item_id,
	purchaser_id,
	purchaser_email,
	amount,
	currency,
	status,
	fulfillment,
	failure_reason,
	last_error,
	attempts,
	created_at,
	updated_at,
	completed_at`

type PaymentRecordRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRecordRepo(pool *pgxpool.Pool) *PaymentRecordRepo {
	return &PaymentRecordRepo{pool: pool}
}

func (r *PaymentRecordRepo) Create(ctx context.Context, rec model.PaymentRecord) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if rec.ID == "" || strings.TrimSpace(rec.GatewayOrderID) == "" {
		return fmt.Errorf("invalid payment record payload")
	}

	fulfillment, err := marshalFulfillment(rec.Fulfillment)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
INSERT INTO payment_records (`+paymentRecordColumns+`
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14, $15, $16, $17, $18, $19)
`,
		rec.ID,
		rec.Gateway,
		rec.GatewayOrderID,
		rec.GatewayPaymentID,
		rec.Signature,
		string(rec.Item.Type),
		rec.Item.ID,
		rec.PurchaserID,
		rec.PurchaserEmail,
		rec.Amount,
		rec.Currency,
		string(rec.Status),
		fulfillment,
		rec.FailureReason,
		rec.LastError,
		rec.Attempts,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
		rec.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repo.ErrDuplicateOrder
		}
		return fmt.Errorf("insert payment record: %w", err)
	}
	return nil
}

func (r *PaymentRecordRepo) FindByOrderID(ctx context.Context, orderID string) (model.PaymentRecord, error) {
	return r.findOne(ctx, "gateway_order_id", orderID)
}

func (r *PaymentRecordRepo) FindByID(ctx context.Context, id string) (model.PaymentRecord, error) {
	return r.findOne(ctx, "id", id)
}

func (r *PaymentRecordRepo) findOne(ctx context.Context, column, value string) (model.PaymentRecord, error) {
	if r.pool == nil {
		return model.PaymentRecord{}, fmt.Errorf("postgres pool is nil")
	}

	rec, err := scanPaymentRecord(r.pool.QueryRow(ctx, `
SELECT`+paymentRecordColumns+`
FROM payment_records
WHERE `+column+` = $1
`, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PaymentRecord{}, repo.ErrRecordNotFound
		}
		return model.PaymentRecord{}, fmt.Errorf("get payment record by %s: %w", column, err)
	}
	return rec, nil
}

func (r *PaymentRecordRepo) HasCompletedPurchase(ctx context.Context, purchaserID int64, item model.ItemRef) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}

	var exists bool
	err := r.pool.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1
	FROM payment_records
	WHERE purchaser_id = $1
	  AND item_type = $2
	  AND item_id = $3
	  AND status = $4
)
`, purchaserID, string(item.Type), item.ID, string(enums.PaymentStatusCompleted)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check completed purchase: %w", err)
	}
	return exists, nil
}

// Update locks the row for the duration of fn, so concurrent completions for
// one order run strictly one after another. FOR NO KEY UPDATE leaves foreign
// key checks from the fulfillment tables unblocked. fn receives a context
// carrying the transaction; repositories that honour it write on the same
// connection.
func (r *PaymentRecordRepo) Update(ctx context.Context, orderID string, fn repo.UpdateFunc) (model.PaymentRecord, error) {
	if r.pool == nil {
		return model.PaymentRecord{}, fmt.Errorf("postgres pool is nil")
	}

	var (
		out   model.PaymentRecord
		fnErr error
	)
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		current, err := scanPaymentRecord(tx.QueryRow(txCtx, `
SELECT`+paymentRecordColumns+`
FROM payment_records
WHERE gateway_order_id = $1
FOR NO KEY UPDATE
`, orderID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return repo.ErrRecordNotFound
			}
			return fmt.Errorf("lock payment record: %w", err)
		}

		next, save, err := fn(txCtx, current)
		fnErr = err
		out = current
		if !save {
			return fnErr
		}

		saved, err := r.saveTx(txCtx, tx, next)
		if err != nil {
			return err
		}
		out = saved
		return nil
	})
	if err != nil {
		if fnErr != nil && err == fnErr {
			return out, fnErr
		}
		return model.PaymentRecord{}, err
	}
	return out, fnErr
}

func (r *PaymentRecordRepo) saveTx(ctx context.Context, tx pgx.Tx, rec model.PaymentRecord) (model.PaymentRecord, error) {
	fulfillment, err := marshalFulfillment(rec.Fulfillment)
	if err != nil {
		return model.PaymentRecord{}, err
	}

	saved, err := scanPaymentRecord(tx.QueryRow(ctx, `
UPDATE payment_records
SET
	gateway_payment_id = $2,
	signature = $3,
	status = $4,
	fulfillment = $5::jsonb,
	failure_reason = $6,
	last_error = $7,
	attempts = $8,
	updated_at = $9,
	completed_at = $10
WHERE id = $1
RETURNING`+paymentRecordColumns+`
`,
		rec.ID,
		rec.GatewayPaymentID,
		rec.Signature,
		string(rec.Status),
		fulfillment,
		rec.FailureReason,
		rec.LastError,
		rec.Attempts,
		rec.UpdatedAt.UTC(),
		rec.CompletedAt,
	))
	if err != nil {
		return model.PaymentRecord{}, fmt.Errorf("update payment record: %w", err)
	}
	return saved, nil
}

func (r *PaymentRecordRepo) ListStalled(ctx context.Context, olderThan time.Time, limit int) ([]model.PaymentRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
SELECT`+paymentRecordColumns+`
FROM payment_records
WHERE status = $1
  AND gateway_payment_id IS NOT NULL
  AND signature IS NOT NULL
  AND updated_at < $2
ORDER BY updated_at ASC
LIMIT $3
`, string(enums.PaymentStatusPending), olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stalled payment records: %w", err)
	}
	return collectPaymentRecords(rows)
}

func (r *PaymentRecordRepo) ListByPurchaser(ctx context.Context, purchaserID int64, limit int) ([]model.PaymentRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
SELECT`+paymentRecordColumns+`
FROM payment_records
WHERE purchaser_id = $1
ORDER BY created_at DESC
LIMIT $2
`, purchaserID, limit)
	if err != nil {
		return nil, fmt.Errorf("list purchaser payment records: %w", err)
	}
	return collectPaymentRecords(rows)
}

func collectPaymentRecords(rows pgx.Rows) ([]model.PaymentRecord, error) {
	defer rows.Close()

	out := make([]model.PaymentRecord, 0)
	for rows.Next() {
		rec, err := scanPaymentRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment records: %w", err)
	}
	return out, nil
}

func scanPaymentRecord(row pgx.Row) (model.PaymentRecord, error) {
	var (
		rec         model.PaymentRecord
		itemType    string
		status      string
		fulfillment []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Gateway,
		&rec.GatewayOrderID,
		&rec.GatewayPaymentID,
		&rec.Signature,
		&itemType,
		&rec.Item.ID,
		&rec.PurchaserID,
		&rec.PurchaserEmail,
		&rec.Amount,
		&rec.Currency,
		&status,
		&fulfillment,
		&rec.FailureReason,
		&rec.LastError,
		&rec.Attempts,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.CompletedAt,
	); err != nil {
		return model.PaymentRecord{}, err
	}

	rec.Item.Type = enums.ItemType(itemType)
	rec.Status = enums.PaymentStatus(status)
	if len(fulfillment) > 0 && string(fulfillment) != "null" {
		var result model.FulfillmentResult
		if err := json.Unmarshal(fulfillment, &result); err != nil {
			return model.PaymentRecord{}, fmt.Errorf("decode fulfillment: %w", err)
		}
		rec.Fulfillment = &result
	}
	return rec, nil
}

func marshalFulfillment(result *model.FulfillmentResult) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode fulfillment: %w", err)
	}
	return raw, nil
}
