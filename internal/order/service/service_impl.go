package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/clock"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/config"
	generationdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/generation/domain"
	obsmetrics "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/observability/metrics"
	orderdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/order/domain"
	paymentdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/payment/domain"
	songdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/song/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const orderCacheTTL = 30 * time.Second

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Pricing  *config.PricingConfigHolder
	Repo     orderdomain.Repository
	SongRepo songdomain.Repository
	TaskRepo generationdomain.Repository
	Checkout paymentdomain.CheckoutClient
	Metrics  *obsmetrics.Metrics `optional:"true"`
	Cache    *redis.Client       `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	pricing  *config.PricingConfigHolder
	repo     orderdomain.Repository
	songRepo songdomain.Repository
	taskRepo generationdomain.Repository
	checkout paymentdomain.CheckoutClient
	metrics  *obsmetrics.Metrics
	cache    *redis.Client
}

func NewService(p ServiceParam) orderdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("order.service"),
		genID: p.GenID,
		clock: p.Clock,

		pricing:  p.Pricing,
		repo:     p.Repo,
		songRepo: p.SongRepo,
		taskRepo: p.TaskRepo,
		checkout: p.Checkout,
		metrics:  p.Metrics,
		cache:    p.Cache,
	}
}

func (s *Service) CreateOrder(ctx context.Context, req orderdomain.CreateOrderRequest) (*orderdomain.CreateOrderResult, error) {
	if req.UserID == 0 || strings.TrimSpace(req.UserEmail) == "" || strings.TrimSpace(req.Title) == "" {
		return nil, orderdomain.ErrInvalidRequest
	}

	pricing := s.pricing.Get()
	var amount int64
	withVideo := false
	switch req.ProductKind {
	case orderdomain.ProductKindAudio:
		amount = pricing.AudioPrice
	case orderdomain.ProductKindAudioVideo:
		amount = pricing.VideoPrice
		withVideo = true
	default:
		return nil, orderdomain.ErrInvalidProduct
	}

	now := s.clock.Now()
	order := &orderdomain.Order{
		ID:          s.genID.Generate(),
		UserID:      req.UserID,
		UserEmail:   strings.TrimSpace(req.UserEmail),
		ProductKind: req.ProductKind,
		Amount:      amount,
		Currency:    pricing.Currency,
		Status:      orderdomain.OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var imageRefs datatypes.JSON
	if len(req.ImageRefs) > 0 {
		raw, err := json.Marshal(req.ImageRefs)
		if err != nil {
			return nil, orderdomain.ErrInvalidRequest
		}
		imageRefs = raw
	}

	song := &songdomain.Song{
		ID:         s.genID.Generate(),
		OrderID:    order.ID,
		UserID:     req.UserID,
		Title:      strings.TrimSpace(req.Title),
		Brief:      req.Brief,
		MusicStyle: req.MusicStyle,
		Tone:       req.Tone,
		Lyrics:     req.Lyrics,
		WithVideo:  withVideo,
		Status:     songdomain.SongStatusCreated,
		ImageRefs:  imageRefs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, order); err != nil {
			return err
		}
		return s.songRepo.Insert(ctx, tx, song)
	})
	if err != nil {
		return nil, err
	}

	session, err := s.checkout.CreateCheckoutSession(ctx, paymentdomain.CheckoutRequest{
		OrderID:     order.ID,
		UserID:      order.UserID,
		UserEmail:   order.UserEmail,
		ProductName: song.Title,
		Amount:      order.Amount,
		Currency:    order.Currency,
	})
	if err != nil {
		s.log.Error("checkout session failed",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		return nil, paymentdomain.ErrCheckoutFailed
	}

	if err := s.repo.SetProviderSessionID(ctx, s.db, order.ID, session.SessionID, s.clock.Now()); err != nil {
		return nil, err
	}
	order.ProviderSessionID = session.SessionID

	s.log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("product_kind", string(order.ProductKind)),
		zap.Int64("amount", order.Amount),
	)
	return &orderdomain.CreateOrderResult{Order: order, CheckoutURL: session.URL}, nil
}

func (s *Service) GetOrder(ctx context.Context, id snowflake.ID) (*orderdomain.Order, error) {
	if cached := s.cacheGet(ctx, id); cached != nil {
		return cached, nil
	}
	order, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, order)
	return order, nil
}

func (s *Service) CancelOrder(ctx context.Context, id snowflake.ID) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.Transition(ctx, tx, id, orderdomain.OrderStatusPending, orderdomain.OrderStatusCancelled, s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			if _, err := s.repo.FindByID(ctx, tx, id); err != nil {
				return err
			}
			return orderdomain.ErrInvalidTransition
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.cacheInvalidate(ctx, id)
	s.metrics.RecordOrderTransition(string(orderdomain.OrderStatusPending), string(orderdomain.OrderStatusCancelled))
	s.log.Info("order cancelled", zap.String("order_id", id.String()))
	return nil
}

func (s *Service) RetryOrder(ctx context.Context, id snowflake.ID) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		ok, err := s.repo.Transition(ctx, tx, id, orderdomain.OrderStatusFailed, orderdomain.OrderStatusFulfilling, now)
		if err != nil {
			return err
		}
		if !ok {
			if _, err := s.repo.FindByID(ctx, tx, id); err != nil {
				return err
			}
			return orderdomain.ErrRetryNotAllowed
		}

		songs, err := s.songRepo.FindByOrderID(ctx, tx, id)
		if err != nil {
			return err
		}
		for i := range songs {
			song := &songs[i]
			if song.Status != songdomain.SongStatusFailed {
				continue
			}
			if err := s.requeueFailedSong(ctx, tx, song, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.cacheInvalidate(ctx, id)
	s.metrics.RecordOrderTransition(string(orderdomain.OrderStatusFailed), string(orderdomain.OrderStatusFulfilling))
	s.log.Info("order retry requested", zap.String("order_id", id.String()))
	return nil
}

func (s *Service) MarkPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, providerPaymentID string) error {
	now := s.clock.Now()

	order, err := s.repo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	switch order.Status {
	case orderdomain.OrderStatusPaid, orderdomain.OrderStatusFulfilling, orderdomain.OrderStatusFulfilled:
		// Already settled; the idempotency ledger keeps this path rare.
		return nil
	case orderdomain.OrderStatusPending:
	default:
		return orderdomain.ErrInvalidTransition
	}

	ok, err := s.repo.Transition(ctx, tx, id, orderdomain.OrderStatusPending, orderdomain.OrderStatusPaid, now)
	if err != nil {
		return err
	}
	if !ok {
		return orderdomain.ErrInvalidTransition
	}
	if providerPaymentID != "" {
		if err := s.repo.SetProviderPaymentID(ctx, tx, id, providerPaymentID, now); err != nil {
			return err
		}
	}
	if _, err := s.repo.Transition(ctx, tx, id, orderdomain.OrderStatusPaid, orderdomain.OrderStatusFulfilling, now); err != nil {
		return err
	}

	songs, err := s.songRepo.FindByOrderID(ctx, tx, id)
	if err != nil {
		return err
	}
	for i := range songs {
		song := &songs[i]
		if song.Status != songdomain.SongStatusCreated {
			continue
		}
		ok, err := s.songRepo.Transition(ctx, tx, song.ID, songdomain.SongStatusCreated, songdomain.SongStatusLyricsPending, now)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := s.enqueueStage(ctx, tx, song, generationdomain.StageLyrics, now); err != nil {
			return err
		}
	}

	s.cacheInvalidate(ctx, id)
	s.metrics.RecordOrderTransition(string(orderdomain.OrderStatusPending), string(orderdomain.OrderStatusPaid))
	s.metrics.RecordOrderTransition(string(orderdomain.OrderStatusPaid), string(orderdomain.OrderStatusFulfilling))
	s.log.Info("order paid",
		zap.String("order_id", id.String()),
		zap.String("provider_payment_id", providerPaymentID),
	)
	return nil
}

func (s *Service) MarkRefunded(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	now := s.clock.Now()
	order, err := s.repo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if order.Status == orderdomain.OrderStatusRefunded {
		return nil
	}
	ok, err := s.repo.Transition(ctx, tx, id, order.Status, orderdomain.OrderStatusRefunded, now)
	if err != nil {
		return err
	}
	if !ok {
		return orderdomain.ErrInvalidTransition
	}
	cancelled, err := s.taskRepo.CancelQueuedByOrder(ctx, tx, id, now)
	if err != nil {
		return err
	}

	s.cacheInvalidate(ctx, id)
	s.metrics.RecordOrderTransition(string(order.Status), string(orderdomain.OrderStatusRefunded))
	s.log.Info("order refunded",
		zap.String("order_id", id.String()),
		zap.Int64("tasks_cancelled", cancelled),
	)
	return nil
}

func (s *Service) FlagForReview(ctx context.Context, tx *gorm.DB, id snowflake.ID, reason string) error {
	if err := s.repo.SetNeedsReview(ctx, tx, id, reason, s.clock.Now()); err != nil {
		return err
	}
	s.cacheInvalidate(ctx, id)
	s.log.Warn("order flagged for review",
		zap.String("order_id", id.String()),
		zap.String("reason", reason),
	)
	return nil
}

func (s *Service) TryFulfill(ctx context.Context, id snowflake.ID) error {
	var fulfilled bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		remaining, err := s.songRepo.CountByOrderNotInStatus(ctx, tx, id, songdomain.SongStatusDelivered)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}
		ok, err := s.repo.Transition(ctx, tx, id, orderdomain.OrderStatusFulfilling, orderdomain.OrderStatusFulfilled, s.clock.Now())
		if err != nil {
			return err
		}
		fulfilled = ok
		return nil
	})
	if err != nil {
		return err
	}
	if fulfilled {
		s.cacheInvalidate(ctx, id)
		s.metrics.RecordOrderTransition(string(orderdomain.OrderStatusFulfilling), string(orderdomain.OrderStatusFulfilled))
		s.log.Info("order fulfilled", zap.String("order_id", id.String()))
	}
	return nil
}

func (s *Service) MarkFailed(ctx context.Context, id snowflake.ID) error {
	ok, err := s.repo.Transition(ctx, s.db, id, orderdomain.OrderStatusFulfilling, orderdomain.OrderStatusFailed, s.clock.Now())
	if err != nil {
		return err
	}
	if ok {
		s.cacheInvalidate(ctx, id)
		s.metrics.RecordOrderTransition(string(orderdomain.OrderStatusFulfilling), string(orderdomain.OrderStatusFailed))
		s.log.Warn("order failed", zap.String("order_id", id.String()))
	}
	return nil
}

func (s *Service) requeueFailedSong(ctx context.Context, tx *gorm.DB, song *songdomain.Song, now time.Time) error {
	stage := stageForStatus(song.FailedFrom)
	if stage == "" {
		return songdomain.ErrRetryNotAllowed
	}
	ok, err := s.songRepo.Transition(ctx, tx, song.ID, songdomain.SongStatusFailed, stage.PendingStatus(), now)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return s.enqueueStage(ctx, tx, song, stage, now)
}

func (s *Service) enqueueStage(ctx context.Context, tx *gorm.DB, song *songdomain.Song, stage generationdomain.Stage, now time.Time) error {
	_, err := s.taskRepo.Enqueue(ctx, tx, &generationdomain.GenerationTask{
		ID:        s.genID.Generate(),
		SongID:    song.ID,
		OrderID:   song.OrderID,
		Stage:     stage,
		Status:    generationdomain.TaskStatusQueued,
		Attempt:   1,
		RunAfter:  now,
		CreatedAt: now,
		UpdatedAt: now,
	})
	return err
}

func stageForStatus(status songdomain.SongStatus) generationdomain.Stage {
	switch status {
	case songdomain.SongStatusLyricsPending:
		return generationdomain.StageLyrics
	case songdomain.SongStatusAudioPending:
		return generationdomain.StageAudio
	case songdomain.SongStatusVideoPending:
		return generationdomain.StageVideo
	}
	return ""
}

func orderCacheKey(id snowflake.ID) string {
	return fmt.Sprintf("order:%s", id.String())
}

func (s *Service) cacheGet(ctx context.Context, id snowflake.ID) *orderdomain.Order {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, orderCacheKey(id)).Bytes()
	if err != nil {
		return nil
	}
	var order orderdomain.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil
	}
	return &order
}

func (s *Service) cacheSet(ctx context.Context, order *orderdomain.Order) {
	if s.cache == nil || order == nil {
		return
	}
	raw, err := json.Marshal(order)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, orderCacheKey(order.ID), raw, orderCacheTTL).Err(); err != nil {
		s.log.Debug("order cache set failed", zap.Error(err))
	}
}

func (s *Service) cacheInvalidate(ctx context.Context, id snowflake.ID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, orderCacheKey(id)).Err(); err != nil {
		s.log.Debug("order cache invalidate failed", zap.Error(err))
	}
}
