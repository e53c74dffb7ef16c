package repository

import (
	"context"
	"time"

	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/song/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, song *domain.Song) error {
	return db.WithContext(ctx).Create(song).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Song, error) {
	var item domain.Song
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM songs WHERE id = ? LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrSongNotFound
	}
	return &item, nil
}

func (r *repo) FindByOrderID(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]domain.Song, error) {
	var items []domain.Song
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM songs WHERE order_id = ? ORDER BY id`,
		orderID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.SongStatus, now time.Time) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, domain.ErrInvalidTransition
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE songs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, now, id, from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, from domain.SongStatus, kind domain.FailureKind, reason string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE songs SET status = ?, failed_from = ?, fail_kind = ?, fail_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.SongStatusFailed, from, kind, reason, now, id, from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetLyrics(ctx context.Context, db *gorm.DB, id snowflake.ID, lyrics string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE songs SET lyrics = ?, updated_at = ? WHERE id = ?`,
		lyrics, now, id,
	).Error
}

func (r *repo) SetAudioURL(ctx context.Context, db *gorm.DB, id snowflake.ID, url string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE songs SET audio_url = ?, updated_at = ? WHERE id = ?`,
		url, now, id,
	).Error
}

func (r *repo) SetVideoURL(ctx context.Context, db *gorm.DB, id snowflake.ID, url string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE songs SET video_url = ?, updated_at = ? WHERE id = ?`,
		url, now, id,
	).Error
}

func (r *repo) MarkDelivered(ctx context.Context, db *gorm.DB, id snowflake.ID, from domain.SongStatus, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE songs SET status = ?, delivered_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.SongStatusDelivered, now, now, id, from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) CountByOrderNotInStatus(ctx context.Context, db *gorm.DB, orderID snowflake.ID, status domain.SongStatus) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM songs WHERE order_id = ? AND status <> ?`,
		orderID, status,
	).Scan(&count).Error
	return count, err
}
