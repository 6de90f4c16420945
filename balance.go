package tuma

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/tumapay/tuma/model"
)

const balanceCacheTTL = 5 * time.Minute

func balanceCacheKey(accountID, currency string) string {
	return fmt.Sprintf("balance:%s:%s", accountID, currency)
}

// GetBalance retrieves the derived balance for an account, read through the
// cache. Accounts that have never received a ledger entry have no balance and
// return not-found.
func (l *Tuma) GetBalance(ctx context.Context, accountID, currency string) (*model.Balance, error) {
	ctx, span := otel.Tracer("tuma.balance").Start(ctx, "Getting balance")
	defer span.End()

	var cached model.Balance
	if err := l.cache.Get(ctx, balanceCacheKey(accountID, currency), &cached); err == nil && cached.BalanceID != "" {
		return &cached, nil
	}

	balance, err := l.datasource.GetBalance(ctx, accountID, currency)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := l.cache.Set(ctx, balanceCacheKey(accountID, currency), balance, balanceCacheTTL); err != nil {
		logrus.Warnf("failed to cache balance for %s: %v", accountID, err)
	}
	return balance, nil
}

// ListBalances retrieves balances ordered by creation time.
func (l *Tuma) ListBalances(ctx context.Context, limit, offset int) ([]model.Balance, error) {
	ctx, span := otel.Tracer("tuma.balance").Start(ctx, "Listing balances")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	return l.datasource.GetAllBalances(ctx, limit, offset)
}

// invalidateBalance drops the cached balance after a write so the next read
// comes from the store.
func (l *Tuma) invalidateBalance(ctx context.Context, accountID, currency string) {
	if err := l.cache.Delete(ctx, balanceCacheKey(accountID, currency)); err != nil {
		logrus.Warnf("failed to invalidate balance cache for %s: %v", accountID, err)
	}
}
