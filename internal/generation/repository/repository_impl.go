package repository

import (
	"context"
	"time"

	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/generation/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Enqueue(ctx context.Context, db *gorm.DB, task *domain.GenerationTask) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO generation_tasks (
			id, song_id, order_id, stage, status, attempt, run_after,
			last_error, created_at, updated_at
		)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM generation_tasks
			WHERE song_id = ? AND stage = ? AND status IN ('queued', 'running')
		)`,
		task.ID,
		task.SongID,
		task.OrderID,
		task.Stage,
		domain.TaskStatusQueued,
		task.Attempt,
		task.RunAfter,
		task.LastError,
		task.CreatedAt,
		task.UpdatedAt,
		task.SongID,
		task.Stage,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FetchDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.GenerationTask, error) {
	var items []domain.GenerationTask
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM generation_tasks
		 WHERE status = ? AND run_after <= ?
		 ORDER BY run_after
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		domain.TaskStatusQueued,
		now,
		limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE generation_tasks
		 SET status = ?, started_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.TaskStatusRunning,
		now,
		now,
		id,
		domain.TaskStatusQueued,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkSucceeded(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE generation_tasks
		 SET status = ?, finished_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.TaskStatusSucceeded,
		now,
		now,
		id,
		domain.TaskStatusRunning,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE generation_tasks
		 SET status = ?, last_error = ?, finished_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.TaskStatusFailed,
		lastError,
		now,
		now,
		id,
		domain.TaskStatusRunning,
	).Error
}

func (r *repo) MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE generation_tasks
		 SET status = ?, last_error = ?, finished_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.TaskStatusCancelled,
		reason,
		now,
		now,
		id,
		domain.TaskStatusRunning,
	).Error
}

func (r *repo) Requeue(ctx context.Context, db *gorm.DB, id snowflake.ID, attempt int, runAfter time.Time, lastError string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE generation_tasks
		 SET status = ?, attempt = ?, run_after = ?, last_error = ?, started_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.TaskStatusQueued,
		attempt,
		runAfter,
		lastError,
		now,
		id,
		domain.TaskStatusRunning,
	).Error
}

func (r *repo) CancelQueuedByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE generation_tasks
		 SET status = ?, finished_at = ?, updated_at = ?
		 WHERE order_id = ? AND status = ?`,
		domain.TaskStatusCancelled,
		now,
		now,
		orderID,
		domain.TaskStatusQueued,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) FindBySongAndStage(ctx context.Context, db *gorm.DB, songID snowflake.ID, stage domain.Stage) (*domain.GenerationTask, error) {
	var item domain.GenerationTask
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM generation_tasks
		 WHERE song_id = ? AND stage = ?
		 ORDER BY id DESC
		 LIMIT 1`,
		songID,
		stage,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrTaskNotFound
	}
	return &item, nil
}
