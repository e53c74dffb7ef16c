package repository

import (
	"context"
	"time"

	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/order/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Create(order).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM orders WHERE id = ? LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrOrderNotFound
	}
	return &item, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM orders WHERE id = ? LIMIT 1 FOR UPDATE`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrOrderNotFound
	}
	return &item, nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.OrderStatus, now time.Time) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, domain.ErrInvalidTransition
	}

	query := `UPDATE orders SET status = ?, updated_at = ?`
	args := []interface{}{to, now}
	switch to {
	case domain.OrderStatusPaid:
		query += `, paid_at = ?`
		args = append(args, now)
	case domain.OrderStatusFulfilled:
		query += `, fulfilled_at = ?`
		args = append(args, now)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, from)

	res := db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetProviderSessionID(ctx context.Context, db *gorm.DB, id snowflake.ID, sessionID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET provider_session_id = ?, updated_at = ? WHERE id = ?`,
		sessionID, now, id,
	).Error
}

func (r *repo) SetProviderPaymentID(ctx context.Context, db *gorm.DB, id snowflake.ID, paymentID string, now time.Time) error {
	// The external payment reference is write-once.
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET provider_payment_id = ?, updated_at = ?
		 WHERE id = ? AND (provider_payment_id = '' OR provider_payment_id IS NULL)`,
		paymentID, now, id,
	).Error
}

func (r *repo) SetNeedsReview(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET needs_review = ?, review_reason = ?, updated_at = ? WHERE id = ?`,
		true, reason, now, id,
	).Error
}

func (r *repo) CountUndeliveredSongs(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM songs WHERE order_id = ? AND status <> ?`,
		id, "delivered",
	).Scan(&count).Error
	return count, err
}
