package service

import (
	"context"
	"time"

	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/clock"
	generationdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/generation/domain"
	obsmetrics "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/observability/metrics"
	orderdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/order/domain"
	songdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/song/domain"
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
	Repo      songdomain.Repository
	OrderRepo orderdomain.Repository
	TaskRepo  generationdomain.Repository
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	repo      songdomain.Repository
	orderRepo orderdomain.Repository
	taskRepo  generationdomain.Repository
	metrics   *obsmetrics.Metrics
}

func NewService(p ServiceParam) songdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("song.service"),
		genID: p.GenID,
		clock: p.Clock,

		repo:      p.Repo,
		orderRepo: p.OrderRepo,
		taskRepo:  p.TaskRepo,
		metrics:   p.Metrics,
	}
}

func (s *Service) GetSong(ctx context.Context, id snowflake.ID) (*songdomain.Song, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) ListByOrder(ctx context.Context, orderID snowflake.ID) ([]songdomain.Song, error) {
	return s.repo.FindByOrderID(ctx, s.db, orderID)
}

// RetrySong re-enters the stage recorded in failed_from and, when the parent
// order had already been marked failed, moves it back to fulfilling so the
// orchestrator can finish it.
func (s *Service) RetrySong(ctx context.Context, id snowflake.ID) error {
	var stage generationdomain.Stage
	err := s.db.Transaction(func(tx *gorm.DB) error {
		song, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if song.Status != songdomain.SongStatusFailed {
			return songdomain.ErrRetryNotAllowed
		}
		stage = stageForStatus(song.FailedFrom)
		if stage == "" {
			return songdomain.ErrRetryNotAllowed
		}
		now := s.clock.Now()
		ok, err := s.repo.Transition(ctx, tx, song.ID, songdomain.SongStatusFailed, stage.PendingStatus(), now)
		if err != nil {
			return err
		}
		if !ok {
			return songdomain.ErrRetryNotAllowed
		}
		if err := s.enqueueStage(ctx, tx, song, stage, now); err != nil {
			return err
		}
		// failed→fulfilling only applies when the order already gave up.
		if _, err := s.orderRepo.Transition(ctx, tx, song.OrderID, orderdomain.OrderStatusFailed, orderdomain.OrderStatusFulfilling, now); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.RecordSongTransition(string(songdomain.SongStatusFailed), string(stage.PendingStatus()))
	s.log.Info("song retry requested",
		zap.String("song_id", id.String()),
		zap.String("stage", string(stage)),
	)
	return nil
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
