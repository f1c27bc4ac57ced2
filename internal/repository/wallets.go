package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/gym-billing/internal/model"
)

// GetWallet возвращает кошелёк участника.
func (r *PostgresRepository) GetWallet(ctx context.Context, memberID uuid.UUID) (model.Wallet, error) {
	w, err := scanWallet(r.pool.QueryRow(ctx,
		`SELECT member_id, balance_minor, currency, last_sequence, version FROM wallets WHERE member_id = $1`,
		memberID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return w, ErrWalletNotFound
		}
		return w, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// ListWalletTransactions возвращает журнал кошелька в порядке проведения.
func (r *PostgresRepository) ListWalletTransactions(ctx context.Context, memberID uuid.UUID) ([]model.WalletTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, member_id, sequence, kind, amount_minor, balance_after_minor, reference, description, invoice_id, created_at
		 FROM wallet_transactions
		 WHERE member_id = $1
		 ORDER BY sequence`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("select wallet transactions: %w", err)
	}
	defer rows.Close()

	var res []model.WalletTransaction
	for rows.Next() {
		var (
			tx                      model.WalletTransaction
			kind                    string
			amountMinor, afterMinor int64
		)
		if err := rows.Scan(&tx.ID, &tx.MemberID, &tx.Sequence, &kind, &amountMinor, &afterMinor,
			&tx.Reference, &tx.Description, &tx.InvoiceID, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		tx.Kind = model.WalletTransactionKind(kind)
		tx.Amount = model.FromMinor(amountMinor)
		tx.BalanceAfter = model.FromMinor(afterMinor)
		res = append(res, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func scanWallet(row pgx.Row) (model.Wallet, error) {
	var (
		w            model.Wallet
		balanceMinor int64
	)
	err := row.Scan(&w.MemberID, &balanceMinor, &w.Currency, &w.LastSequence, &w.Version)
	w.Balance = model.FromMinor(balanceMinor)
	return w, err
}

func (t *pgTx) LockWallet(ctx context.Context, memberID uuid.UUID, currency string) (model.Wallet, error) {
	_, err := t.q.Exec(ctx,
		`INSERT INTO wallets (member_id, currency) VALUES ($1, $2) ON CONFLICT (member_id) DO NOTHING`,
		memberID, currency,
	)
	if err != nil {
		return model.Wallet{}, fmt.Errorf("ensure wallet: %w", err)
	}

	// Блокируем кошелёк, чтобы параллельные списания не превысили баланс.
	w, err := scanWallet(t.q.QueryRow(ctx,
		`SELECT member_id, balance_minor, currency, last_sequence, version FROM wallets WHERE member_id = $1 FOR UPDATE`,
		memberID,
	))
	if err != nil {
		return w, fmt.Errorf("lock wallet: %w", err)
	}
	return w, nil
}

func (t *pgTx) SaveWallet(ctx context.Context, w model.Wallet, txs ...model.WalletTransaction) (model.Wallet, error) {
	balanceMinor, err := model.ToMinor(w.Balance)
	if err != nil {
		return w, fmt.Errorf("update wallet: %w", err)
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE wallets SET balance_minor = $3, last_sequence = $4, version = version + 1
		 WHERE member_id = $1 AND version = $2`,
		w.MemberID, w.Version, balanceMinor, w.LastSequence,
	)
	if err != nil {
		return w, fmt.Errorf("update wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return w, fmt.Errorf("%w: wallet %s version %d", ErrConcurrentModification, w.MemberID, w.Version)
	}

	for _, tx := range txs {
		var mu minorUnits
		args := []any{
			tx.ID, tx.MemberID, tx.Sequence, string(tx.Kind), mu.of(tx.Amount), mu.of(tx.BalanceAfter),
			tx.Reference, tx.Description, tx.InvoiceID, tx.CreatedAt,
		}
		if mu.err != nil {
			return w, fmt.Errorf("insert wallet transaction: %w", mu.err)
		}
		_, err := t.q.Exec(ctx,
			`INSERT INTO wallet_transactions
				(id, member_id, sequence, kind, amount_minor, balance_after_minor, reference, description, invoice_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			args...,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return w, fmt.Errorf("%w: wallet %s sequence %d", ErrConcurrentModification, tx.MemberID, tx.Sequence)
			}
			return w, fmt.Errorf("insert wallet transaction: %w", err)
		}
	}

	w.Version++
	return w, nil
}
