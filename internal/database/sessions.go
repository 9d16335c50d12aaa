package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveShopToken stores the offline admin access token of a shop, replacing
// any previous one.
func (db *DB) SaveShopToken(ctx context.Context, shop, token string, now time.Time) error {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO shop_sessions (shop, access_token, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(shop) DO UPDATE SET
			access_token = excluded.access_token,
			updated_at = excluded.updated_at`,
		shop, token, formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to save shop session: %w", err)
	}
	return nil
}

// ShopToken returns the stored access token of shop, or "" when none is
// stored.
func (db *DB) ShopToken(ctx context.Context, shop string) (string, error) {
	var token string
	err := db.conn.QueryRowContext(ctx,
		`SELECT access_token FROM shop_sessions WHERE shop = ?`, shop).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query shop session: %w", err)
	}
	return token, nil
}
