package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"postpurchase-api/internal/gid"
	"postpurchase-api/internal/models"
)

const offerColumns = `o.id, o.shop, o.name, o.description, o.status, o.discount_type,
	o.discount_value, o.offer_title, o.offer_description, o.button_text,
	o.limit_per_customer, o.total_limit, o.expiry_date, o.schedule_start,
	o.enable_ab_test, o.created_at, o.updated_at`

const productColumns = `id, offer_id, role, product_id, product_gid, variant_id, variant_gid,
	product_title, variant_title, product_price, variant_price, image_url, variants_count`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateOffer inserts an offer and its product rows in one transaction.
func (db *DB) CreateOffer(ctx context.Context, offer models.Offer) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO offers (
			id, shop, name, description, status, discount_type, discount_value,
			offer_title, offer_description, button_text, limit_per_customer,
			total_limit, expiry_date, schedule_start, enable_ab_test, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			offer.ID,
			offer.Shop,
			offer.Name,
			offer.Description,
			string(offer.Status),
			string(offer.DiscountType),
			offer.DiscountValue.String(),
			offer.OfferTitle,
			offer.OfferDescription,
			offer.ButtonText,
			offer.LimitPerCustomer,
			offer.TotalLimit,
			formatTimePtr(offer.ExpiryDate),
			formatTimePtr(offer.ScheduleStart),
			offer.EnableABTest,
			formatTime(offer.CreatedAt),
			formatTime(offer.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert offer: %w", err)
		}

		return insertProducts(ctx, tx, offer)
	})
}

// ReplaceOffer overwrites an offer row and fully replaces its product sets.
// The delete and re-insert happen inside the same transaction.
func (db *DB) ReplaceOffer(ctx context.Context, offer models.Offer) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE offers SET
			name = ?, description = ?, status = ?, discount_type = ?, discount_value = ?,
			offer_title = ?, offer_description = ?, button_text = ?, limit_per_customer = ?,
			total_limit = ?, expiry_date = ?, schedule_start = ?, enable_ab_test = ?, updated_at = ?
			WHERE id = ? AND shop = ?`,
			offer.Name,
			offer.Description,
			string(offer.Status),
			string(offer.DiscountType),
			offer.DiscountValue.String(),
			offer.OfferTitle,
			offer.OfferDescription,
			offer.ButtonText,
			offer.LimitPerCustomer,
			offer.TotalLimit,
			formatTimePtr(offer.ExpiryDate),
			formatTimePtr(offer.ScheduleStart),
			offer.EnableABTest,
			formatTime(offer.UpdatedAt),
			offer.ID,
			offer.Shop,
		)
		if err != nil {
			return fmt.Errorf("failed to update offer: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM offer_products WHERE offer_id = ?`, offer.ID); err != nil {
			return fmt.Errorf("failed to delete offer products: %w", err)
		}

		return insertProducts(ctx, tx, offer)
	})
}

func insertProducts(ctx context.Context, tx *sql.Tx, offer models.Offer) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO offer_products (
		id, offer_id, role, product_id, product_gid, variant_id, variant_gid,
		product_title, variant_title, product_price, variant_price, image_url,
		variants_count, position
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	position := 0
	insert := func(role models.ProductRole, products []models.OfferProduct) error {
		for _, p := range products {
			id := p.ID
			if id == "" {
				id = uuid.New().String()
			}
			var variantPrice any
			if p.VariantPrice != nil {
				variantPrice = p.VariantPrice.String()
			}
			_, err := stmt.ExecContext(ctx,
				id,
				offer.ID,
				string(role),
				p.ProductID,
				p.ProductGID,
				p.VariantID,
				p.VariantGID,
				p.ProductTitle,
				p.VariantTitle,
				p.ProductPrice.String(),
				variantPrice,
				p.ImageURL,
				p.VariantsCount,
				position,
			)
			if err != nil {
				return fmt.Errorf("failed to insert %s product %s: %w", role, p.ProductID, err)
			}
			position++
		}
		return nil
	}

	if err := insert(models.RoleTrigger, offer.TriggerProducts); err != nil {
		return err
	}
	return insert(models.RoleTarget, offer.TargetProducts)
}

// GetOffer returns one offer of shop with its products.
func (db *DB) GetOffer(ctx context.Context, shop, id string) (models.Offer, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offers o WHERE o.id = ? AND o.shop = ?`, id, shop)

	offer, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Offer{}, ErrNotFound
	}
	if err != nil {
		return models.Offer{}, err
	}

	offers := []models.Offer{offer}
	if err := db.attachProducts(ctx, offers); err != nil {
		return models.Offer{}, err
	}
	return offers[0], nil
}

// ListOffers returns every offer of shop, newest first.
func (db *DB) ListOffers(ctx context.Context, shop string) ([]models.Offer, error) {
	return db.queryOffers(ctx,
		`SELECT `+offerColumns+` FROM offers o WHERE o.shop = ? ORDER BY o.created_at DESC, o.id`, shop)
}

// DeleteOffer removes an offer and its products. Recorded events and daily
// aggregates are kept; they still count toward the monthly quota.
func (db *DB) DeleteOffer(ctx context.Context, shop, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM offers WHERE id = ? AND shop = ?`, id, shop)
	if err != nil {
		return fmt.Errorf("failed to delete offer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateOfferStatus sets the status of one offer.
func (db *DB) UpdateOfferStatus(ctx context.Context, shop, id string, status models.OfferStatus, now time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE offers SET status = ?, updated_at = ? WHERE id = ? AND shop = ?`,
		string(status), formatTime(now), id, shop)
	if err != nil {
		return fmt.Errorf("failed to update offer status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActiveOffers counts active offers of shop, ignoring excludeID when
// it is set.
func (db *DB) CountActiveOffers(ctx context.Context, shop, excludeID string) (int64, error) {
	var count int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM offers WHERE shop = ? AND status = ? AND id != ?`,
		shop, string(models.StatusActive), excludeID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active offers: %w", err)
	}
	return count, nil
}

// CountOffers counts every offer of shop regardless of status.
func (db *DB) CountOffers(ctx context.Context, shop string) (int64, error) {
	var count int64
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM offers WHERE shop = ?`, shop).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count offers: %w", err)
	}
	return count, nil
}

// FindEligibleOffers returns active, in-window offers of shop that have a
// trigger row plausibly matching productID in either id encoding. Callers
// confirm the match per trigger row.
func (db *DB) FindEligibleOffers(ctx context.Context, shop, productID string, now time.Time) ([]models.Offer, error) {
	numeric := gid.ToNumericID(productID)
	if numeric == "" {
		return nil, nil
	}
	ts := formatTime(now)

	query := `SELECT ` + offerColumns + ` FROM offers o
		WHERE o.shop = ?
		AND o.status = ?
		AND (o.expiry_date IS NULL OR o.expiry_date >= ?)
		AND (o.schedule_start IS NULL OR o.schedule_start <= ?)
		AND EXISTS (
			SELECT 1 FROM offer_products p
			WHERE p.offer_id = o.id
			AND p.role = ?
			AND (
				p.product_id IN (?, ?)
				OR p.product_gid IN (?, ?)
				OR p.product_id LIKE ?
				OR p.product_gid LIKE ?
			)
		)
		ORDER BY o.created_at DESC, o.id`

	like := "%/" + numeric
	return db.queryOffers(ctx, query,
		shop, string(models.StatusActive), ts, ts, string(models.RoleTrigger),
		numeric, productID, numeric, productID, like, like,
	)
}

func (db *DB) queryOffers(ctx context.Context, query string, args ...any) ([]models.Offer, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}
	defer rows.Close()

	var offers []models.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating offers: %w", err)
	}

	if err := db.attachProducts(ctx, offers); err != nil {
		return nil, err
	}
	return offers, nil
}

func scanOffer(row rowScanner) (models.Offer, error) {
	var (
		offer                     models.Offer
		status, discountType      string
		discountValue             string
		totalLimit                sql.NullInt64
		expiryDate, scheduleStart sql.NullString
		createdAt, updatedAt      string
	)

	err := row.Scan(
		&offer.ID,
		&offer.Shop,
		&offer.Name,
		&offer.Description,
		&status,
		&discountType,
		&discountValue,
		&offer.OfferTitle,
		&offer.OfferDescription,
		&offer.ButtonText,
		&offer.LimitPerCustomer,
		&totalLimit,
		&expiryDate,
		&scheduleStart,
		&offer.EnableABTest,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Offer{}, err
		}
		return models.Offer{}, fmt.Errorf("failed to scan offer: %w", err)
	}

	offer.Status = models.OfferStatus(status)
	offer.DiscountType = models.DiscountType(discountType)
	offer.DiscountValue = parseDecimal(discountValue)
	if totalLimit.Valid {
		limit := int(totalLimit.Int64)
		offer.TotalLimit = &limit
	}

	if offer.ExpiryDate, err = parseTimePtr(expiryDate); err != nil {
		return models.Offer{}, fmt.Errorf("failed to parse expiry_date: %w", err)
	}
	if offer.ScheduleStart, err = parseTimePtr(scheduleStart); err != nil {
		return models.Offer{}, fmt.Errorf("failed to parse schedule_start: %w", err)
	}
	if offer.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Offer{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if offer.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.Offer{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	offer.TriggerProducts = []models.OfferProduct{}
	offer.TargetProducts = []models.OfferProduct{}
	return offer, nil
}

// attachProducts loads product rows for all offers with one query.
func (db *DB) attachProducts(ctx context.Context, offers []models.Offer) error {
	if len(offers) == 0 {
		return nil
	}

	index := make(map[string]int, len(offers))
	placeholders := make([]string, 0, len(offers))
	args := make([]any, 0, len(offers))
	for i, o := range offers {
		index[o.ID] = i
		placeholders = append(placeholders, "?")
		args = append(args, o.ID)
	}

	query := `SELECT ` + productColumns + ` FROM offer_products
		WHERE offer_id IN (` + strings.Join(placeholders, ",") + `)
		ORDER BY offer_id, position`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query offer products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p            models.OfferProduct
			role         string
			productPrice string
			variantPrice sql.NullString
		)
		err := rows.Scan(
			&p.ID,
			&p.OfferID,
			&role,
			&p.ProductID,
			&p.ProductGID,
			&p.VariantID,
			&p.VariantGID,
			&p.ProductTitle,
			&p.VariantTitle,
			&productPrice,
			&variantPrice,
			&p.ImageURL,
			&p.VariantsCount,
		)
		if err != nil {
			return fmt.Errorf("failed to scan offer product: %w", err)
		}

		p.Role = models.ProductRole(role)
		p.ProductPrice = parseDecimal(productPrice)
		if variantPrice.Valid {
			v := parseDecimal(variantPrice.String)
			p.VariantPrice = &v
		}

		i, ok := index[p.OfferID]
		if !ok {
			continue
		}
		if p.Role == models.RoleTrigger {
			offers[i].TriggerProducts = append(offers[i].TriggerProducts, p)
		} else {
			offers[i].TargetProducts = append(offers[i].TargetProducts, p)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating offer products: %w", err)
	}
	return nil
}
