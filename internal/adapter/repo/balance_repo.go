package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"nero/internal/domain"
	"nero/internal/infra"
	"nero/internal/sqlinline"
)

// BalanceRepositoryPG implements domain.BalanceRepository on users.star_balance
// with a balance_debits row per debited task.
type BalanceRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewBalanceRepository(sql infra.SQLExecutor) *BalanceRepositoryPG {
	return &BalanceRepositoryPG{sql: sql}
}

func (r *BalanceRepositoryPG) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectStarBalance, userID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (r *BalanceRepositoryPG) Debit(ctx context.Context, userID, taskID string, amount int64) (domain.DebitResult, error) {
	var (
		inserted bool
		balance  *int64
	)
	if err := r.sql.QueryRow(ctx, sqlinline.QDebitStars, userID, taskID, amount).Scan(&inserted, &balance); err != nil {
		return domain.DebitResult{}, err
	}
	if !inserted {
		return domain.DebitResult{Applied: false}, nil
	}
	if balance == nil {
		current, err := r.Balance(ctx, userID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return domain.DebitResult{}, err
		}
		return domain.DebitResult{Applied: true, Short: true, Balance: current}, nil
	}
	return domain.DebitResult{Applied: true, Balance: *balance}, nil
}

func (r *BalanceRepositoryPG) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	var balance int64
	if err := r.sql.QueryRow(ctx, sqlinline.QCreditStars, userID, amount).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}
