package domain

import (
	"context"
	"errors"
	"time"

	songdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/song/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Stage string

const (
	StageLyrics Stage = "lyrics"
	StageAudio  Stage = "audio"
	StageVideo  Stage = "video"
)

// PendingStatus is the song status a task of this stage runs under.
func (s Stage) PendingStatus() songdomain.SongStatus {
	switch s {
	case StageLyrics:
		return songdomain.SongStatusLyricsPending
	case StageAudio:
		return songdomain.SongStatusAudioPending
	case StageVideo:
		return songdomain.SongStatusVideoPending
	}
	return ""
}

// ReadyStatus is the song status a task of this stage produces on success.
func (s Stage) ReadyStatus() songdomain.SongStatus {
	switch s {
	case StageLyrics:
		return songdomain.SongStatusLyricsReady
	case StageAudio:
		return songdomain.SongStatusAudioReady
	case StageVideo:
		return songdomain.SongStatusVideoReady
	}
	return ""
}

type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// GenerationTask is one unit of work for the orchestrator. At most one task
// per (song, stage) is queued or running at any time; attempt counts retries
// of the same stage and run_after implements the retry backoff.
type GenerationTask struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	SongID     snowflake.ID `json:"song_id" gorm:"not null;index"`
	OrderID    snowflake.ID `json:"order_id" gorm:"not null;index"`
	Stage      Stage        `json:"stage" gorm:"type:text;not null"`
	Status     TaskStatus   `json:"status" gorm:"type:text;not null;index"`
	Attempt    int          `json:"attempt" gorm:"not null;default:1"`
	RunAfter   time.Time    `json:"run_after" gorm:"not null;index"`
	LastError  string       `json:"last_error" gorm:"type:text"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt  time.Time    `json:"updated_at" gorm:"not null"`
	StartedAt  *time.Time   `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at"`
}

func (GenerationTask) TableName() string { return "generation_tasks" }

var (
	ErrTaskNotFound = errors.New("generation_task_not_found")
)

type Repository interface {
	// Enqueue inserts a queued task for (song, stage) unless one is already
	// queued or running; the guard and the insert are one atomic statement.
	// It returns false when an active task already existed.
	Enqueue(ctx context.Context, db *gorm.DB, task *GenerationTask) (bool, error)
	// FetchDue locks and returns up to limit queued tasks whose run_after has
	// passed, skipping rows locked by concurrent pollers.
	FetchDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]GenerationTask, error)
	// Claim moves a task queued→running; false means another worker won.
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	MarkSucceeded(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, now time.Time) error
	// MarkCancelled retires a running task whose order is no longer live.
	MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) error
	// Requeue moves a running task back to queued with a bumped attempt and
	// a deferred run_after.
	Requeue(ctx context.Context, db *gorm.DB, id snowflake.ID, attempt int, runAfter time.Time, lastError string, now time.Time) error
	CancelQueuedByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID, now time.Time) (int64, error)
	FindBySongAndStage(ctx context.Context, db *gorm.DB, songID snowflake.ID, stage Stage) (*GenerationTask, error)
}
