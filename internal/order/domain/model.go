package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusFulfilling OrderStatus = "fulfilling"
	OrderStatusFulfilled  OrderStatus = "fulfilled"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

type ProductKind string

const (
	ProductKindAudio      ProductKind = "audio_only"
	ProductKindAudioVideo ProductKind = "audio_video"
)

// Order is the purchase record a payment webhook settles against. The
// external payment reference is immutable once set; paid_at is set exactly
// when the order leaves pending through the paid transition.
type Order struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID            snowflake.ID `json:"user_id" gorm:"not null;index"`
	UserEmail         string       `json:"user_email" gorm:"type:text;not null"`
	ProductKind       ProductKind  `json:"product_kind" gorm:"type:text;not null"`
	Amount            int64        `json:"amount" gorm:"not null"`
	Currency          string       `json:"currency" gorm:"type:text;not null"`
	Status            OrderStatus  `json:"status" gorm:"type:text;not null;index"`
	ProviderSessionID string       `json:"provider_session_id" gorm:"type:text"`
	ProviderPaymentID string       `json:"provider_payment_id" gorm:"type:text"`
	NeedsReview       bool         `json:"needs_review" gorm:"not null;default:false"`
	ReviewReason      string       `json:"review_reason" gorm:"type:text"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time    `json:"updated_at" gorm:"not null"`
	PaidAt            *time.Time   `json:"paid_at"`
	FulfilledAt       *time.Time   `json:"fulfilled_at"`
}

func (Order) TableName() string { return "orders" }

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:       {OrderStatusFulfilling, OrderStatusRefunded},
	OrderStatusFulfilling: {OrderStatusFulfilled, OrderStatusFailed, OrderStatusRefunded},
	OrderStatusFailed:     {OrderStatusFulfilling},
}

// CanTransition reports whether from→to is a legal order transition. The
// failed→fulfilling edge exists only for the explicit retry action.
func CanTransition(from, to OrderStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFulfilled, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

type CreateOrderRequest struct {
	UserID      snowflake.ID
	UserEmail   string
	ProductKind ProductKind
	Title       string
	Brief       string
	MusicStyle  string
	Tone        string
	Lyrics      string
	ImageRefs   []string
}

type CreateOrderResult struct {
	Order       *Order
	CheckoutURL string
}

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error)
	GetOrder(ctx context.Context, id snowflake.ID) (*Order, error)
	CancelOrder(ctx context.Context, id snowflake.ID) error
	RetryOrder(ctx context.Context, id snowflake.ID) error

	// MarkPaid runs pending→paid→fulfilling: it pins the external payment
	// reference, moves the order's songs into their first generation stage and
	// queues the initial generation tasks. It runs on the caller's transaction
	// so the caller can make it atomic with its own writes.
	MarkPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, providerPaymentID string) error
	MarkRefunded(ctx context.Context, tx *gorm.DB, id snowflake.ID) error
	FlagForReview(ctx context.Context, tx *gorm.DB, id snowflake.ID, reason string) error

	// TryFulfill moves fulfilling→fulfilled once every song under the order
	// is delivered; a no-op while any song is still in flight.
	TryFulfill(ctx context.Context, id snowflake.ID) error
	MarkFailed(ctx context.Context, id snowflake.ID) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	// Transition is a compare-and-swap on the status column; it returns false
	// when the row was not in the expected state.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to OrderStatus, now time.Time) (bool, error)
	SetProviderSessionID(ctx context.Context, db *gorm.DB, id snowflake.ID, sessionID string, now time.Time) error
	SetProviderPaymentID(ctx context.Context, db *gorm.DB, id snowflake.ID, paymentID string, now time.Time) error
	SetNeedsReview(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) error
	CountUndeliveredSongs(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
}
