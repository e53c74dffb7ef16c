package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SongStatus string

const (
	SongStatusCreated       SongStatus = "created"
	SongStatusLyricsPending SongStatus = "lyrics_pending"
	SongStatusLyricsReady   SongStatus = "lyrics_ready"
	SongStatusAudioPending  SongStatus = "audio_pending"
	SongStatusAudioReady    SongStatus = "audio_ready"
	SongStatusVideoPending  SongStatus = "video_pending"
	SongStatusVideoReady    SongStatus = "video_ready"
	SongStatusDelivered     SongStatus = "delivered"
	SongStatusFailed        SongStatus = "failed"
)

// Song is a single generated work under an order. The pending statuses mark
// a stage whose generation task is queued or running; the ready statuses mark
// a stage whose artifact is persisted.
type Song struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrderID     snowflake.ID   `json:"order_id" gorm:"not null;index"`
	UserID      snowflake.ID   `json:"user_id" gorm:"not null;index"`
	Title       string         `json:"title" gorm:"type:text;not null"`
	Brief       string         `json:"brief" gorm:"type:text"`
	MusicStyle  string         `json:"music_style" gorm:"type:text"`
	Tone        string         `json:"tone" gorm:"type:text"`
	WithVideo   bool           `json:"with_video" gorm:"not null;default:false"`
	Status      SongStatus     `json:"status" gorm:"type:text;not null;index"`
	Lyrics      string         `json:"lyrics" gorm:"type:text"`
	AudioURL    string         `json:"audio_url" gorm:"type:text"`
	VideoURL    string         `json:"video_url" gorm:"type:text"`
	ImageRefs   datatypes.JSON `json:"image_refs" gorm:"type:jsonb"`
	FailKind    FailureKind    `json:"fail_kind" gorm:"type:text"`
	FailReason  string         `json:"-" gorm:"type:text"`
	FailedFrom  SongStatus     `json:"failed_from" gorm:"type:text"`
	CreatedAt   time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"not null"`
	DeliveredAt *time.Time     `json:"delivered_at"`
}

func (Song) TableName() string { return "songs" }

// FailureKind is the coarse failure class surfaced to customers. The raw
// provider message is kept in fail_reason for operators only.
type FailureKind string

const (
	FailureKindProvider   FailureKind = "provider_error"
	FailureKindTimeout    FailureKind = "timeout"
	FailureKindValidation FailureKind = "validation"
)

var transitions = map[SongStatus][]SongStatus{
	SongStatusCreated:       {SongStatusLyricsPending},
	SongStatusLyricsPending: {SongStatusLyricsReady, SongStatusFailed},
	SongStatusLyricsReady:   {SongStatusAudioPending},
	SongStatusAudioPending:  {SongStatusAudioReady, SongStatusFailed},
	SongStatusAudioReady:    {SongStatusVideoPending, SongStatusDelivered},
	SongStatusVideoPending:  {SongStatusVideoReady, SongStatusFailed},
	SongStatusVideoReady:    {SongStatusDelivered},
	// Retry re-enters the stage that failed; failed_from remembers it.
	SongStatusFailed: {SongStatusLyricsPending, SongStatusAudioPending, SongStatusVideoPending},
}

func CanTransition(from, to SongStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s SongStatus) Pending() bool {
	switch s {
	case SongStatusLyricsPending, SongStatusAudioPending, SongStatusVideoPending:
		return true
	}
	return false
}

type Service interface {
	GetSong(ctx context.Context, id snowflake.ID) (*Song, error)
	ListByOrder(ctx context.Context, orderID snowflake.ID) ([]Song, error)
	// RetrySong re-queues generation for a failed song at the stage recorded
	// in failed_from.
	RetrySong(ctx context.Context, id snowflake.ID) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, song *Song) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Song, error)
	FindByOrderID(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]Song, error)
	// Transition is a compare-and-swap on the status column.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to SongStatus, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, from SongStatus, kind FailureKind, reason string, now time.Time) (bool, error)
	SetLyrics(ctx context.Context, db *gorm.DB, id snowflake.ID, lyrics string, now time.Time) error
	SetAudioURL(ctx context.Context, db *gorm.DB, id snowflake.ID, url string, now time.Time) error
	SetVideoURL(ctx context.Context, db *gorm.DB, id snowflake.ID, url string, now time.Time) error
	MarkDelivered(ctx context.Context, db *gorm.DB, id snowflake.ID, from SongStatus, now time.Time) (bool, error)
	CountByOrderNotInStatus(ctx context.Context, db *gorm.DB, orderID snowflake.ID, status SongStatus) (int64, error)
}
