package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/gym-billing/internal/model"
)

const invoiceColumns = `id, number, member_id, subscription_id, status, currency, line_items,
	subtotal_minor, tax_total_minor, total_minor, issued_at, due_date, paid_at, paid_amount_minor,
	payment_reference, version, created_at, updated_at`

func scanInvoice(row pgx.Row) (model.Invoice, error) {
	var (
		inv                                  model.Invoice
		status                               string
		subtotal, taxTotal, total, paidMinor int64
	)
	err := row.Scan(&inv.ID, &inv.Number, &inv.MemberID, &inv.SubscriptionID, &status, &inv.Currency, &inv.LineItems,
		&subtotal, &taxTotal, &total, &inv.IssuedAt, &inv.DueDate, &inv.PaidAt, &paidMinor,
		&inv.PaymentReference, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
	inv.Status = model.InvoiceStatus(status)
	inv.Subtotal = model.FromMinor(subtotal)
	inv.TaxTotal = model.FromMinor(taxTotal)
	inv.Total = model.FromMinor(total)
	inv.PaidAmount = model.FromMinor(paidMinor)
	return inv, err
}

// GetInvoice возвращает счёт.
func (r *PostgresRepository) GetInvoice(ctx context.Context, id uuid.UUID) (model.Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inv, ErrInvoiceNotFound
		}
		return inv, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

// ListInvoicesByMember возвращает счета участника, новые первыми.
func (r *PostgresRepository) ListInvoicesByMember(ctx context.Context, memberID uuid.UUID) ([]model.Invoice, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE member_id = $1 ORDER BY created_at DESC`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("select invoices: %w", err)
	}
	defer rows.Close()

	var res []model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		res = append(res, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// InvoicesPastDue возвращает выставленные счета со сроком оплаты раньше today.
func (r *PostgresRepository) InvoicesPastDue(ctx context.Context, today time.Time, limit int) ([]uuid.UUID, error) {
	return r.selectIDs(ctx,
		`SELECT id FROM invoices WHERE status = $1 AND due_date < $2 ORDER BY due_date LIMIT $3`,
		string(model.InvoiceIssued), today, limit,
	)
}

func (t *pgTx) NextInvoiceNumber(ctx context.Context, year int) (string, error) {
	_, err := t.q.Exec(ctx,
		`INSERT INTO invoice_sequences (year, current) VALUES ($1, 0) ON CONFLICT (year) DO NOTHING`,
		year,
	)
	if err != nil {
		return "", fmt.Errorf("ensure invoice sequence: %w", err)
	}

	var current int64
	err = t.q.QueryRow(ctx, `SELECT current FROM invoice_sequences WHERE year = $1 FOR UPDATE`, year).Scan(&current)
	if err != nil {
		return "", fmt.Errorf("lock invoice sequence: %w", err)
	}
	current++

	if _, err := t.q.Exec(ctx, `UPDATE invoice_sequences SET current = $2 WHERE year = $1`, year, current); err != nil {
		return "", fmt.Errorf("update invoice sequence: %w", err)
	}
	return FormatInvoiceNumber(year, current), nil
}

// FormatInvoiceNumber форматирует номер счёта: INV-2026-000042.
func FormatInvoiceNumber(year int, seq int64) string {
	return fmt.Sprintf("INV-%04d-%06d", year, seq)
}

func (t *pgTx) CreateInvoice(ctx context.Context, inv model.Invoice) (model.Invoice, error) {
	inv.Version = 1
	var mu minorUnits
	args := []any{
		inv.ID, inv.Number, inv.MemberID, inv.SubscriptionID, string(inv.Status), inv.Currency, inv.LineItems,
		mu.of(inv.Subtotal), mu.of(inv.TaxTotal), mu.of(inv.Total),
		inv.IssuedAt, inv.DueDate, inv.PaidAt, mu.of(inv.PaidAmount),
		inv.PaymentReference, inv.Version, inv.CreatedAt, inv.UpdatedAt,
	}
	if mu.err != nil {
		return inv, fmt.Errorf("insert invoice: %w", mu.err)
	}
	_, err := t.q.Exec(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		args...,
	)
	if err != nil {
		return inv, fmt.Errorf("insert invoice: %w", err)
	}
	return inv, nil
}

func (t *pgTx) LockInvoice(ctx context.Context, id uuid.UUID) (model.Invoice, error) {
	inv, err := scanInvoice(t.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inv, ErrInvoiceNotFound
		}
		return inv, fmt.Errorf("lock invoice: %w", err)
	}
	return inv, nil
}

func (t *pgTx) LockOpenInvoice(ctx context.Context, subscriptionID uuid.UUID) (model.Invoice, error) {
	inv, err := scanInvoice(t.q.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE subscription_id = $1 AND status IN ($2, $3, $4)
		 ORDER BY created_at
		 LIMIT 1
		 FOR UPDATE`,
		subscriptionID, string(model.InvoiceDraft), string(model.InvoiceIssued), string(model.InvoiceOverdue),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inv, ErrInvoiceNotFound
		}
		return inv, fmt.Errorf("lock open invoice: %w", err)
	}
	return inv, nil
}

func (t *pgTx) UpdateInvoice(ctx context.Context, inv model.Invoice) (model.Invoice, error) {
	paidMinor, err := model.ToMinor(inv.PaidAmount)
	if err != nil {
		return inv, fmt.Errorf("update invoice: %w", err)
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE invoices SET status = $3, issued_at = $4, due_date = $5, paid_at = $6, paid_amount_minor = $7,
			payment_reference = $8, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $2`,
		inv.ID, inv.Version, string(inv.Status), inv.IssuedAt, inv.DueDate, inv.PaidAt,
		paidMinor, inv.PaymentReference,
	)
	if err != nil {
		return inv, fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return inv, fmt.Errorf("%w: invoice %s version %d", ErrConcurrentModification, inv.ID, inv.Version)
	}
	inv.Version++
	return inv, nil
}

func (t *pgTx) CreatePayment(ctx context.Context, p model.Payment) error {
	amountMinor, err := model.ToMinor(p.Amount)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	_, err = t.q.Exec(ctx,
		`INSERT INTO payments (id, invoice_id, amount_minor, reference, method, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.InvoiceID, amountMinor, p.Reference, string(p.Method), p.ReceivedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicatePayment, p.Reference)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}
