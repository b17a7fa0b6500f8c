// Package billing checks and debits the prepaid star balance. Debits happen
// only after a task is confirmed completed and are keyed by task id.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"nero/internal/domain"
)

// InsufficientBalanceError reports the shortfall for a cost-bearing operation.
type InsufficientBalanceError struct {
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return domain.ErrInsufficientBalance }

// CostTable maps each task kind to its star price.
type CostTable map[domain.TaskKind]int64

// Cost returns the price for kind; unknown kinds are free.
func (c CostTable) Cost(kind domain.TaskKind) int64 {
	if c == nil {
		return 0
	}
	return c[kind]
}

type Ledger struct {
	repo   domain.BalanceRepository
	logger zerolog.Logger
}

func NewLedger(repo domain.BalanceRepository, logger zerolog.Logger) *Ledger {
	return &Ledger{repo: repo, logger: logger}
}

// Balance returns the user's current stars; unknown users hold zero.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	balance, err := l.repo.Balance(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	return balance, err
}

// CheckBalance rejects a submission the user cannot currently pay for. It is
// not reserved: two concurrent submissions can both pass.
func (l *Ledger) CheckBalance(ctx context.Context, userID string, cost int64) error {
	if cost <= 0 {
		return nil
	}
	balance, err := l.Balance(ctx, userID)
	if err != nil {
		return fmt.Errorf("billing: load balance: %w", err)
	}
	if balance < cost {
		return &InsufficientBalanceError{Required: cost, Available: balance}
	}
	return nil
}

// Debit charges cost for taskID at most once. A repeated call for the same
// task is a no-op.
func (l *Ledger) Debit(ctx context.Context, userID, taskID string, cost int64) error {
	if cost <= 0 {
		return nil
	}
	res, err := l.repo.Debit(ctx, userID, taskID, cost)
	if err != nil {
		return fmt.Errorf("billing: debit task %s: %w", taskID, err)
	}
	log := l.logger.With().Str("user_id", userID).Str("task_id", taskID).Int64("cost", cost).Logger()
	switch {
	case !res.Applied:
		log.Info().Msg("billing: debit already recorded")
	case res.Short:
		log.Warn().Int64("balance", res.Balance).Msg("billing: balance short at debit time")
		return &InsufficientBalanceError{Required: cost, Available: res.Balance}
	default:
		log.Info().Int64("balance", res.Balance).Msg("billing: debited")
	}
	return nil
}

// Credit tops up a user's balance.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: credit amount must be positive, got %d", domain.ErrInvalidInput, amount)
	}
	return l.repo.Credit(ctx, userID, amount)
}
