package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WebhookEvent is the idempotency ledger row for an externally-sourced event.
// (provider, provider_event_id) is unique for the lifetime of the ledger;
// rows are append-only and never reprocessed for side effects.
type WebhookEvent struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Outcome         string         `json:"outcome" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

const (
	OutcomeReceived = "received"
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
)

var ErrEventNotFound = errors.New("webhook_event_not_found")

// Repository methods take the db handle so callers can run them inside their
// own transactions.
type Repository interface {
	// InsertEvent records the event if its (provider, provider_event_id) pair
	// is new. The insert and the uniqueness check are one atomic statement;
	// exactly one concurrent caller observes inserted=true.
	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*WebhookEvent, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome string, processedAt time.Time) error
}
