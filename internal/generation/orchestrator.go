package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/clock"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/config"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/generation/domain"
	obsmetrics "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/observability/metrics"
	orderdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/order/domain"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/providers/audio"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/providers/email"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/providers/lyrics"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/providers/storage"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/providers/video"
	songdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/song/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type OrchestratorParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	TaskRepo  domain.Repository
	SongRepo  songdomain.Repository
	OrderRepo orderdomain.Repository
	Orders    orderdomain.Service
	Lyrics    lyrics.Generator
	Audio     audio.Generator
	Video     video.Generator
	Uploader  storage.Uploader
	Mailer    email.Sender
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

// Orchestrator drains the generation task queue: it claims due tasks, runs
// the external generation call for the task's stage, records the artifact and
// advances the song's state machine. Claiming is a compare-and-swap, so any
// number of replicas can poll the same table.
type Orchestrator struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	cfg   config.GenerationConfig

	taskRepo  domain.Repository
	songRepo  songdomain.Repository
	orderRepo orderdomain.Repository
	orders    orderdomain.Service

	lyrics   lyrics.Generator
	audio    audio.Generator
	video    video.Generator
	uploader storage.Uploader
	mailer   email.Sender
	metrics  *obsmetrics.Metrics
}

func NewOrchestrator(p OrchestratorParam) *Orchestrator {
	cfg := p.Config.Generation
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 5 * time.Minute
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Minute
	}
	if cfg.RunInterval <= 0 {
		cfg.RunInterval = 5 * time.Second
	}
	return &Orchestrator{
		db:    p.DB,
		log:   p.Log.Named("generation.orchestrator"),
		genID: p.GenID,
		clock: p.Clock,
		cfg:   cfg,

		taskRepo:  p.TaskRepo,
		songRepo:  p.SongRepo,
		orderRepo: p.OrderRepo,
		orders:    p.Orders,

		lyrics:   p.Lyrics,
		audio:    p.Audio,
		video:    p.Video,
		uploader: p.Uploader,
		mailer:   p.Mailer,
		metrics:  p.Metrics,
	}
}

// RunForever polls on a ticker until ctx is cancelled.
func (o *Orchestrator) RunForever(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.RunInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.RunOnce(ctx); err != nil {
				o.log.Error("orchestrator pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce claims one batch of due tasks and processes them sequentially.
// Per-task errors are joined so one bad task does not starve the rest.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	start := o.clock.Now()
	defer func() {
		o.metrics.ObserveOrchestratorRun(o.clock.Now().Sub(start))
	}()

	tasks, err := o.claimBatch(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for i := range tasks {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := o.processTask(ctx, &tasks[i]); err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", tasks[i].ID.String(), err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) claimBatch(ctx context.Context) ([]domain.GenerationTask, error) {
	var claimed []domain.GenerationTask
	err := o.db.Transaction(func(tx *gorm.DB) error {
		now := o.clock.Now()
		due, err := o.taskRepo.FetchDue(ctx, tx, now, o.cfg.BatchSize)
		if err != nil {
			return err
		}
		for i := range due {
			ok, err := o.taskRepo.Claim(ctx, tx, due[i].ID, now)
			if err != nil {
				return err
			}
			if ok {
				claimed = append(claimed, due[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (o *Orchestrator) processTask(ctx context.Context, task *domain.GenerationTask) error {
	order, err := o.orderRepo.FindByID(ctx, o.db, task.OrderID)
	if err != nil {
		return err
	}
	if closedOrder(order.Status) {
		// The refund path cancels queued tasks, but a task enqueued after
		// the refund committed can still land here. Never call a provider
		// for an order the customer already got their money back on.
		o.log.Warn("cancelling task for closed order",
			zap.String("task_id", task.ID.String()),
			zap.String("stage", string(task.Stage)),
			zap.String("order_status", string(order.Status)),
		)
		o.metrics.RecordTaskOutcome(string(task.Stage), string(domain.TaskStatusCancelled))
		return o.taskRepo.MarkCancelled(ctx, o.db, task.ID, "order "+string(order.Status), o.clock.Now())
	}

	song, err := o.songRepo.FindByID(ctx, o.db, task.SongID)
	if err != nil {
		return err
	}
	if song.Status != task.Stage.PendingStatus() {
		// The song moved on without us, e.g. the order was refunded while
		// this task sat in the queue.
		o.log.Warn("dropping stale task",
			zap.String("task_id", task.ID.String()),
			zap.String("stage", string(task.Stage)),
			zap.String("song_status", string(song.Status)),
		)
		return o.taskRepo.MarkFailed(ctx, o.db, task.ID, "song left stage "+string(task.Stage.PendingStatus()), o.clock.Now())
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	stageStart := o.clock.Now()
	stageErr := o.runStage(stageCtx, task.Stage, song)
	cancel()
	o.metrics.ObserveStageDuration(string(task.Stage), o.clock.Now().Sub(stageStart))

	if stageErr != nil {
		return o.handleStageFailure(ctx, task, song, stageErr)
	}
	return o.advance(ctx, task, song)
}

func (o *Orchestrator) runStage(ctx context.Context, stage domain.Stage, song *songdomain.Song) error {
	now := o.clock.Now()
	switch stage {
	case domain.StageLyrics:
		// Customer-provided lyrics skip the provider call.
		if song.Lyrics != "" {
			return nil
		}
		text, err := o.lyrics.GenerateLyrics(ctx, lyrics.Request{
			Title:      song.Title,
			Brief:      song.Brief,
			MusicStyle: song.MusicStyle,
			Tone:       song.Tone,
		})
		if err != nil {
			return err
		}
		song.Lyrics = text
		return o.songRepo.SetLyrics(ctx, o.db, song.ID, text, now)

	case domain.StageAudio:
		result, err := o.audio.GenerateAudio(ctx, audio.Request{
			Title:  song.Title,
			Lyrics: song.Lyrics,
			Style:  song.MusicStyle,
		})
		if err != nil {
			return err
		}
		url, err := o.uploader.FetchAndStore(ctx, storage.ObjectKey(song.OrderID, song.Title, ".mp3"), result.AudioURL)
		if err != nil {
			return err
		}
		song.AudioURL = url
		return o.songRepo.SetAudioURL(ctx, o.db, song.ID, url, now)

	case domain.StageVideo:
		var imageURLs []string
		if len(song.ImageRefs) > 0 {
			if err := json.Unmarshal(song.ImageRefs, &imageURLs); err != nil {
				o.log.Warn("unreadable image refs", zap.String("song_id", song.ID.String()), zap.Error(err))
			}
		}
		result, err := o.video.GenerateVideo(ctx, video.Request{
			Title:     song.Title,
			AudioURL:  song.AudioURL,
			ImageURLs: imageURLs,
		})
		if err != nil {
			return err
		}
		url, err := o.uploader.FetchAndStore(ctx, storage.ObjectKey(song.OrderID, song.Title, ".mp4"), result.VideoURL)
		if err != nil {
			return err
		}
		song.VideoURL = url
		return o.songRepo.SetVideoURL(ctx, o.db, song.ID, url, now)
	}
	return fmt.Errorf("unknown stage %q", stage)
}

// advance commits the task result and moves the song to the next stage. The
// task outcome, the song transition and the follow-up enqueue share one
// transaction so a crash cannot leave a ready song without its next task.
func (o *Orchestrator) advance(ctx context.Context, task *domain.GenerationTask, song *songdomain.Song) error {
	var delivered bool
	err := o.db.Transaction(func(tx *gorm.DB) error {
		now := o.clock.Now()
		if err := o.taskRepo.MarkSucceeded(ctx, tx, task.ID, now); err != nil {
			return err
		}
		ok, err := o.songRepo.Transition(ctx, tx, song.ID, task.Stage.PendingStatus(), task.Stage.ReadyStatus(), now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		// A refund can land while the stage runs. The artifact stays
		// persisted, but no further stage is scheduled and the song is
		// not delivered.
		order, err := o.orderRepo.FindByIDForUpdate(ctx, tx, song.OrderID)
		if err != nil {
			return err
		}
		if closedOrder(order.Status) {
			o.log.Warn("stopping pipeline for closed order",
				zap.String("song_id", song.ID.String()),
				zap.String("stage", string(task.Stage)),
				zap.String("order_status", string(order.Status)),
			)
			return nil
		}

		switch task.Stage {
		case domain.StageLyrics:
			return o.enterStage(ctx, tx, song, songdomain.SongStatusLyricsReady, domain.StageAudio, now)
		case domain.StageAudio:
			if song.WithVideo {
				return o.enterStage(ctx, tx, song, songdomain.SongStatusAudioReady, domain.StageVideo, now)
			}
			delivered, err = o.songRepo.MarkDelivered(ctx, tx, song.ID, songdomain.SongStatusAudioReady, now)
			return err
		case domain.StageVideo:
			delivered, err = o.songRepo.MarkDelivered(ctx, tx, song.ID, songdomain.SongStatusVideoReady, now)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	o.metrics.RecordTaskOutcome(string(task.Stage), string(domain.TaskStatusSucceeded))
	o.metrics.RecordSongTransition(string(task.Stage.PendingStatus()), string(task.Stage.ReadyStatus()))
	o.log.Info("stage complete",
		zap.String("song_id", song.ID.String()),
		zap.String("stage", string(task.Stage)),
		zap.Int("attempt", task.Attempt),
	)

	if delivered {
		o.metrics.RecordSongTransition(string(task.Stage.ReadyStatus()), string(songdomain.SongStatusDelivered))
		if err := o.orders.TryFulfill(ctx, song.OrderID); err != nil {
			return err
		}
		o.notifyDelivered(song)
	}
	return nil
}

func (o *Orchestrator) enterStage(ctx context.Context, tx *gorm.DB, song *songdomain.Song, from songdomain.SongStatus, next domain.Stage, now time.Time) error {
	ok, err := o.songRepo.Transition(ctx, tx, song.ID, from, next.PendingStatus(), now)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	_, err = o.taskRepo.Enqueue(ctx, tx, &domain.GenerationTask{
		ID:        o.genID.Generate(),
		SongID:    song.ID,
		OrderID:   song.OrderID,
		Stage:     next,
		Status:    domain.TaskStatusQueued,
		Attempt:   1,
		RunAfter:  now,
		CreatedAt: now,
		UpdatedAt: now,
	})
	return err
}

func (o *Orchestrator) handleStageFailure(ctx context.Context, task *domain.GenerationTask, song *songdomain.Song, stageErr error) error {
	now := o.clock.Now()

	if task.Attempt < o.cfg.MaxAttempts {
		delay := o.cfg.BackoffBase << (task.Attempt - 1)
		o.log.Warn("stage failed, retrying",
			zap.String("song_id", song.ID.String()),
			zap.String("stage", string(task.Stage)),
			zap.Int("attempt", task.Attempt),
			zap.Duration("retry_in", delay),
			zap.Error(stageErr),
		)
		o.metrics.RecordTaskOutcome(string(task.Stage), "retried")
		return o.taskRepo.Requeue(ctx, o.db, task.ID, task.Attempt+1, now.Add(delay), stageErr.Error(), now)
	}

	err := o.db.Transaction(func(tx *gorm.DB) error {
		if err := o.taskRepo.MarkFailed(ctx, tx, task.ID, stageErr.Error(), now); err != nil {
			return err
		}
		_, err := o.songRepo.MarkFailed(ctx, tx, song.ID, task.Stage.PendingStatus(), classifyStageError(stageErr), stageErr.Error(), now)
		return err
	})
	if err != nil {
		return err
	}

	o.metrics.RecordTaskOutcome(string(task.Stage), string(domain.TaskStatusFailed))
	o.metrics.RecordSongTransition(string(task.Stage.PendingStatus()), string(songdomain.SongStatusFailed))
	o.log.Error("stage failed permanently",
		zap.String("song_id", song.ID.String()),
		zap.String("stage", string(task.Stage)),
		zap.Int("attempt", task.Attempt),
		zap.Error(stageErr),
	)
	return o.orders.MarkFailed(ctx, song.OrderID)
}

func closedOrder(status orderdomain.OrderStatus) bool {
	return status == orderdomain.OrderStatusCancelled || status == orderdomain.OrderStatusRefunded
}

// classifyStageError reduces a stage failure to the coarse kind exposed on
// the song; the raw provider message stays on the task and in the logs.
func classifyStageError(err error) songdomain.FailureKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return songdomain.FailureKindTimeout
	case errors.Is(err, lyrics.ErrEmptyResult):
		return songdomain.FailureKindValidation
	default:
		return songdomain.FailureKindProvider
	}
}

// notifyDelivered emails the customer off the hot path; a failed send never
// affects order state.
func (o *Orchestrator) notifyDelivered(song *songdomain.Song) {
	order, err := o.orderRepo.FindByID(context.Background(), o.db, song.OrderID)
	if err != nil {
		o.log.Warn("delivery notification skipped", zap.String("order_id", song.OrderID.String()), zap.Error(err))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := o.mailer.SendSongDelivered(ctx, order.UserEmail, email.SongDeliveredData{
			Title:    song.Title,
			AudioURL: song.AudioURL,
			VideoURL: song.VideoURL,
		})
		if err != nil && !errors.Is(err, email.ErrNotConfigured) {
			o.log.Warn("delivery email failed",
				zap.String("order_id", order.ID.String()),
				zap.Error(err),
			)
		}
	}()
}
