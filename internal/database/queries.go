package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"snoosync/internal/domain"
)

func (d *Database) CreateSubscription(ctx context.Context, sub domain.Subscription) error {
	id := strings.TrimSpace(sub.ID)
	if id == "" {
		return errors.New("subscription ID is empty")
	}

	name := strings.TrimSpace(sub.Name)
	if name == "" {
		return errors.New("subscription name is empty")
	}

	query := "insert or ignore into subscriptions (id, name, priority) values (?, ?, ?)"

	_, err := d.db.ExecContext(ctx, query, id, name, sub.Priority)

	return err
}

func (d *Database) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	query := "delete from subscriptions where id = ?"

	_, err := d.db.ExecContext(ctx, query, subscriptionID)

	return err
}

func (d *Database) GetSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	query := "select id, name, priority, post_count from subscriptions order by name"

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"operation", "GetSubscriptions")
		}
	}()

	var subs []domain.Subscription
	for rows.Next() {
		sub := domain.NewSubscription("", "")
		if err = rows.Scan(&sub.ID, &sub.Name, &sub.Priority, &sub.PostCount); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		subs = append(subs, sub)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	watermarks, err := d.getWatermarks(ctx, d.db, "")
	if err != nil {
		return nil, err
	}

	for i := range subs {
		for period, at := range watermarks[subs[i].ID] {
			subs[i].SetWatermark(period, at)
		}
	}

	return subs, nil
}

func (d *Database) GetSubscription(ctx context.Context, subscriptionID string) (domain.Subscription, error) {
	return d.getSubscription(ctx, d.db, subscriptionID)
}

func (d *Database) getSubscription(ctx context.Context, q queryer, subscriptionID string) (domain.Subscription, error) {
	query := "select id, name, priority, post_count from subscriptions where id = ?"

	sub := domain.NewSubscription("", "")
	err := q.QueryRowContext(ctx, query, subscriptionID).Scan(&sub.ID, &sub.Name, &sub.Priority, &sub.PostCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Subscription{}, fmt.Errorf("subscription %s: %w", subscriptionID, ErrNotFound)
		}

		return domain.Subscription{}, fmt.Errorf("scan row: %w", err)
	}

	watermarks, err := d.getWatermarks(ctx, q, subscriptionID)
	if err != nil {
		return domain.Subscription{}, err
	}

	for period, at := range watermarks[sub.ID] {
		sub.SetWatermark(period, at)
	}

	return sub, nil
}

// UpdatePriority stores a new priority; resetWatermarks forgets every tier's
// last fetch time in the same transaction.
func (d *Database) UpdatePriority(
	ctx context.Context,
	subscriptionID string,
	priority int,
	resetWatermarks bool,
) error {
	return d.inTx(ctx, "UpdatePriority", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "update subscriptions set priority = ? where id = ?", priority, subscriptionID)
		if err != nil {
			return fmt.Errorf("update priority: %w", err)
		}

		if n, rowsErr := res.RowsAffected(); rowsErr == nil && n == 0 {
			return fmt.Errorf("subscription %s: %w", subscriptionID, ErrNotFound)
		}

		if !resetWatermarks {
			return nil
		}

		if _, err = tx.ExecContext(ctx, "delete from watermarks where subscription_id = ?", subscriptionID); err != nil {
			return fmt.Errorf("delete watermarks: %w", err)
		}

		return nil
	})
}

func (d *Database) UpdateWatermark(
	ctx context.Context,
	subscriptionID string,
	period domain.Period,
	fetchedAt time.Time,
) error {
	return updateWatermark(ctx, d.db, subscriptionID, period, fetchedAt)
}

func updateWatermark(
	ctx context.Context,
	q queryer,
	subscriptionID string,
	period domain.Period,
	fetchedAt time.Time,
) error {
	query := `insert into watermarks (subscription_id, period, fetched_at)
	values (?, ?, ?)
	on conflict (subscription_id, period) do update
	set fetched_at = excluded.fetched_at`

	if _, err := q.ExecContext(ctx, query, subscriptionID, string(period), fetchedAt.UTC()); err != nil {
		return fmt.Errorf("upsert watermark: %w", err)
	}

	return nil
}

func (d *Database) getWatermarks(
	ctx context.Context,
	q queryer,
	subscriptionID string,
) (map[string]map[domain.Period]time.Time, error) {
	query := "select subscription_id, period, fetched_at from watermarks"
	var args []any

	if subscriptionID != "" {
		query += " where subscription_id = ?"
		args = append(args, subscriptionID)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"subscriptionID", subscriptionID,
				"operation", "getWatermarks")
		}
	}()

	watermarks := make(map[string]map[domain.Period]time.Time)
	for rows.Next() {
		var (
			id        string
			rawPeriod string
			fetchedAt time.Time
		)

		if err = rows.Scan(&id, &rawPeriod, &fetchedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		period, parseErr := domain.ParsePeriod(rawPeriod)
		if parseErr != nil {
			d.log.WarnContext(ctx, "Skipping watermark with unknown period",
				"error", parseErr,
				"subscriptionID", id)

			continue
		}

		if watermarks[id] == nil {
			watermarks[id] = make(map[domain.Period]time.Time, len(domain.Periods))
		}
		watermarks[id][period] = fetchedAt.UTC()
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return watermarks, nil
}
