package postgres

import (
	"context"
	"slices"

	"github.com/uptrace/bun"

	"salonbook/backend/internal/store"
)

// Store implements store.Store on PostgreSQL. Reads outside a transaction
// go straight to the pool.
type Store struct {
	queries
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{queries: queries{db: db}, db: db}
}

func (s *Store) InProviderTransaction(ctx context.Context, providerIDs []string, fn func(ctx context.Context, tx store.Tx) error) error {
	ids := slices.Clone(providerIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Locks are taken in sorted order so two transactions touching the
		// same pair of providers cannot deadlock.
		for _, id := range ids {
			if err := lockProviderSchedule(ctx, tx, id); err != nil {
				return err
			}
		}
		return fn(ctx, queries{db: tx})
	})
}

func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, queries{db: tx})
	})
}

func lockProviderSchedule(ctx context.Context, tx bun.Tx, providerID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", "provider:"+providerID).Exec(ctx)
	return err
}
