package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
)

func (d *Database) GetSetting(ctx context.Context, key string) (string, bool, error) {
	query := "select value from settings where key = ?"

	var value string
	if err := d.db.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("scan row: %w", err)
	}

	return value, true, nil
}

// SetSettings writes all values atomically.
func (d *Database) SetSettings(ctx context.Context, values map[string]string) error {
	query := `insert into settings (key, value)
	values (?, ?)
	on conflict (key) do update
	set value = excluded.value`

	return d.inTx(ctx, "SetSettings", func(tx *sql.Tx) error {
		for _, key := range slices.Sorted(maps.Keys(values)) {
			if _, err := tx.ExecContext(ctx, query, key, values[key]); err != nil {
				return fmt.Errorf("upsert setting %s: %w", key, err)
			}
		}

		return nil
	})
}

func (d *Database) DeleteSettings(ctx context.Context, keys ...string) error {
	query := "delete from settings where key = ?"

	return d.inTx(ctx, "DeleteSettings", func(tx *sql.Tx) error {
		for _, key := range keys {
			if _, err := tx.ExecContext(ctx, query, key); err != nil {
				return fmt.Errorf("delete setting %s: %w", key, err)
			}
		}

		return nil
	})
}
