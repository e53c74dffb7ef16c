package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/clock"
	eventledgerdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/eventledger/domain"
	obsmetrics "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/observability/metrics"
	orderdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/order/domain"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/payment/adapters"
	paymentdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/payment/domain"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Ledger    eventledgerdomain.Repository
	OrderRepo orderdomain.Repository
	Orders    orderdomain.Service
	Adapters  *adapters.Registry
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

// Service is the payment webhook processor. Every event passes through the
// idempotency ledger first; the ledger row and the resulting order writes
// commit in one transaction, so an event either fully applies once or not at
// all.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	ledger    eventledgerdomain.Repository
	orderRepo orderdomain.Repository
	orders    orderdomain.Service
	adapters  *adapters.Registry
	metrics   *obsmetrics.Metrics
}

func NewService(p ServiceParam) paymentdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("payment.service"),
		genID: p.GenID,
		clock: p.Clock,

		ledger:    p.Ledger,
		orderRepo: p.OrderRepo,
		orders:    p.Orders,
		adapters:  p.Adapters,
		metrics:   p.Metrics,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, header http.Header, body []byte) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	adapter, ok := s.adapters.Get(provider)
	if !ok {
		s.metrics.RecordWebhookEvent(provider, "unknown_provider")
		return paymentdomain.ErrUnknownProvider
	}

	if err := adapter.Verify(header, body); err != nil {
		s.metrics.RecordWebhookEvent(provider, "invalid_signature")
		s.log.Warn("webhook signature rejected", zap.String("provider", provider))
		return err
	}

	event, err := adapter.Parse(header, body)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.metrics.RecordWebhookEvent(provider, "ignored")
			return err
		}
		// The sender is authentic but the payload is unusable. A retry
		// delivers the same bytes, so acknowledge the event and keep the
		// details in the log.
		s.metrics.RecordWebhookEvent(provider, "invalid_payload")
		s.log.Warn("webhook payload rejected",
			zap.String("provider", provider),
			zap.Error(err),
		)
		return paymentdomain.ErrEventIgnored
	}
	return s.ProcessEvent(ctx, event)
}

func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.Event) error {
	now := s.clock.Now()
	ledgerRow := &eventledgerdomain.WebhookEvent{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.EventID,
		EventType:       string(event.Type),
		Outcome:         eventledgerdomain.OutcomeReceived,
		Payload:         event.Raw,
		ReceivedAt:      now,
	}

	outcome := eventledgerdomain.OutcomeApplied
	var reject string

	err := s.db.Transaction(func(tx *gorm.DB) error {
		inserted, err := s.ledger.InsertEvent(ctx, tx, ledgerRow)
		if err != nil {
			return err
		}
		if !inserted {
			return paymentdomain.ErrEventAlreadyProcessed
		}

		reject, err = s.applyEvent(ctx, tx, event)
		if err != nil {
			return err
		}
		if reject != "" {
			outcome = eventledgerdomain.OutcomeRejected
		}
		return s.ledger.MarkProcessed(ctx, tx, ledgerRow.ID, outcome, s.clock.Now())
	})
	if err != nil {
		// Two concurrent deliveries of the same event can race past the
		// conflict check and trip the ledger's unique index instead.
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) || db.IsDuplicateKeyErr(err) {
			s.metrics.RecordWebhookEvent(event.Provider, "duplicate")
			s.log.Info("duplicate webhook event",
				zap.String("provider", event.Provider),
				zap.String("event_id", event.EventID),
			)
			return paymentdomain.ErrEventAlreadyProcessed
		}
		s.metrics.RecordWebhookEvent(event.Provider, "error")
		return err
	}

	s.metrics.RecordWebhookEvent(event.Provider, outcome)
	if reject != "" {
		s.log.Warn("webhook event rejected",
			zap.String("provider", event.Provider),
			zap.String("event_id", event.EventID),
			zap.String("reason", reject),
		)
	} else {
		s.log.Info("webhook event applied",
			zap.String("provider", event.Provider),
			zap.String("event_id", event.EventID),
			zap.String("type", string(event.Type)),
		)
	}
	return nil
}

// applyEvent performs the order-side effect of a deduplicated event. A
// non-empty reject reason means the event was recorded but intentionally not
// applied; an error rolls the whole transaction back, ledger row included, so
// the provider retries.
func (s *Service) applyEvent(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event) (string, error) {
	order, err := s.orderRepo.FindByID(ctx, tx, event.OrderID)
	if err != nil {
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			return "unknown order", nil
		}
		return "", err
	}

	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		if event.Currency != strings.ToUpper(order.Currency) {
			if err := s.orders.FlagForReview(ctx, tx, order.ID, "currency mismatch: got "+event.Currency); err != nil {
				return "", err
			}
			return "currency mismatch", nil
		}
		if event.Amount != order.Amount {
			if err := s.orders.FlagForReview(ctx, tx, order.ID, "amount mismatch"); err != nil {
				return "", err
			}
			return "amount mismatch", nil
		}
		if err := s.orders.MarkPaid(ctx, tx, order.ID, event.PaymentID); err != nil {
			if errors.Is(err, orderdomain.ErrInvalidTransition) {
				return "order not payable: " + string(order.Status), nil
			}
			return "", err
		}
		return "", nil

	case paymentdomain.EventTypePaymentFailed:
		// The order stays pending; the customer can still retry checkout.
		return "", nil

	case paymentdomain.EventTypeRefundSucceeded:
		if err := s.orders.MarkRefunded(ctx, tx, order.ID); err != nil {
			if errors.Is(err, orderdomain.ErrInvalidTransition) {
				return "order not refundable: " + string(order.Status), nil
			}
			return "", err
		}
		return "", nil
	}
	return "unsupported event type", nil
}
