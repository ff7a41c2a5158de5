package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/store"
)

// Catalog reads service durations from the services table.
type Catalog struct {
	db bun.IDB
}

func NewCatalog(db bun.IDB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) Duration(ctx context.Context, serviceID string) (time.Duration, error) {
	var def domain.ServiceDefinition
	err := c.db.NewSelect().
		Model(&def).
		Where("id = ?", serviceID).
		Where("is_active").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("service %q: %w", serviceID, store.ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return def.Duration(), nil
}

// PutService registers or replaces a catalog entry.
func (c *Catalog) PutService(ctx context.Context, def domain.ServiceDefinition) error {
	_, err := c.db.NewInsert().
		Model(&def).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("duration_minutes = EXCLUDED.duration_minutes").
		Set("is_active = EXCLUDED.is_active").
		Exec(ctx)
	return err
}
