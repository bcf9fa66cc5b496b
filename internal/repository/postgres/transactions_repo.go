package postgres

import (
	"context"
	"errors"

	"github.com/baharkarakas/phonehealth-backend/internal/models"
	repo "github.com/baharkarakas/phonehealth-backend/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type transactionsRepo struct{ pool *pgxpool.Pool }

const txColumns = `id, amount, customer_name, customer_email, customer_phone, product_name, product_category,
       status, gateway_reference, staged_form_data, linked_record_id, created_at, updated_at`

func scanTx(row pgx.Row) (models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(
		&tx.ID, &tx.Amount, &tx.CustomerName, &tx.CustomerEmail, &tx.CustomerPhone, &tx.ProductName, &tx.ProductCategory,
		&tx.Status, &tx.GatewayReference, &tx.StagedFormData, &tx.LinkedRecordID, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, repo.ErrNotFound
	}
	return tx, err
}

func (r *transactionsRepo) Create(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if tx.StagedFormData == nil {
		tx.StagedFormData = map[string]any{}
	}
	if tx.Status == "" {
		tx.Status = models.TxnPending
	}
	return scanTx(r.pool.QueryRow(ctx, `
INSERT INTO transactions (
  id, amount, customer_name, customer_email, customer_phone, product_name, product_category, status, staged_form_data
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING `+txColumns,
		tx.ID, tx.Amount, tx.CustomerName, tx.CustomerEmail, tx.CustomerPhone, tx.ProductName, tx.ProductCategory,
		tx.Status, tx.StagedFormData,
	))
}

func (r *transactionsRepo) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	return scanTx(r.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id=$1`, id))
}

func (r *transactionsRepo) List(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+txColumns+`
		   FROM transactions
		  ORDER BY created_at DESC
		  LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (r *transactionsRepo) Transition(ctx context.Context, id string, to models.TransactionStatus, gatewayRef *string) (models.Transaction, bool, error) {
	tx, err := scanTx(r.pool.QueryRow(ctx, `
UPDATE transactions
   SET status = $2,
       gateway_reference = COALESCE($3, gateway_reference),
       updated_at = now()
 WHERE id = $1 AND status = 'PENDING'
RETURNING `+txColumns,
		id, to, gatewayRef,
	))
	if err == nil {
		return tx, true, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return models.Transaction{}, false, err
	}
	// either unknown or already terminal
	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return models.Transaction{}, false, err
	}
	return cur, false, nil
}
