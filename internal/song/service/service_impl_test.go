package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/clock"
	generationdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/generation/domain"
	generationrepo "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/generation/repository"
	orderdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/order/domain"
	orderrepo "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/order/repository"
	songdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/song/domain"
	songrepo "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/song/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type songFixture struct {
	db        *gorm.DB
	node      *snowflake.Node
	clk       *clock.FakeClock
	songs     songdomain.Service
	repo      songdomain.Repository
	orderRepo orderdomain.Repository
	taskRepo  generationdomain.Repository
}

func setupSongService(t *testing.T) *songFixture {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	if err := db.Exec(`CREATE TABLE orders (
		id BIGINT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		user_email TEXT NOT NULL,
		product_kind TEXT NOT NULL,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		provider_session_id TEXT NOT NULL DEFAULT '',
		provider_payment_id TEXT NOT NULL DEFAULT '',
		needs_review BOOLEAN NOT NULL DEFAULT FALSE,
		review_reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		paid_at DATETIME,
		fulfilled_at DATETIME
	)`).Error; err != nil {
		t.Fatalf("create orders: %v", err)
	}
	if err := db.Exec(`CREATE TABLE songs (
		id BIGINT PRIMARY KEY,
		order_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		title TEXT NOT NULL,
		brief TEXT NOT NULL DEFAULT '',
		music_style TEXT NOT NULL DEFAULT '',
		tone TEXT NOT NULL DEFAULT '',
		with_video BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		lyrics TEXT NOT NULL DEFAULT '',
		audio_url TEXT NOT NULL DEFAULT '',
		video_url TEXT NOT NULL DEFAULT '',
		image_refs JSON,
		fail_kind TEXT NOT NULL DEFAULT '',
		fail_reason TEXT NOT NULL DEFAULT '',
		failed_from TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		delivered_at DATETIME
	)`).Error; err != nil {
		t.Fatalf("create songs: %v", err)
	}
	if err := db.Exec(`CREATE TABLE generation_tasks (
		id BIGINT PRIMARY KEY,
		song_id BIGINT NOT NULL,
		order_id BIGINT NOT NULL,
		stage TEXT NOT NULL,
		status TEXT NOT NULL,
		attempt INT NOT NULL DEFAULT 1,
		run_after DATETIME NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		started_at DATETIME,
		finished_at DATETIME
	)`).Error; err != nil {
		t.Fatalf("create generation_tasks: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	repo := songrepo.Provide()
	oRepo := orderrepo.Provide()
	taskRepo := generationrepo.Provide()

	songs := NewService(ServiceParam{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Repo:      repo,
		OrderRepo: oRepo,
		TaskRepo:  taskRepo,
	})

	return &songFixture{
		db:        db,
		node:      node,
		clk:       clk,
		songs:     songs,
		repo:      repo,
		orderRepo: oRepo,
		taskRepo:  taskRepo,
	}
}

func (f *songFixture) seed(t *testing.T, orderStatus orderdomain.OrderStatus, songStatus songdomain.SongStatus, failedFrom songdomain.SongStatus) (*orderdomain.Order, *songdomain.Song) {
	t.Helper()
	now := f.clk.Now()
	order := &orderdomain.Order{
		ID:          f.node.Generate(),
		UserID:      f.node.Generate(),
		UserEmail:   "customer@example.com",
		ProductKind: orderdomain.ProductKindAudio,
		Amount:      999,
		Currency:    "USD",
		Status:      orderStatus,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := f.orderRepo.Insert(context.Background(), f.db, order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	song := &songdomain.Song{
		ID:         f.node.Generate(),
		OrderID:    order.ID,
		UserID:     order.UserID,
		Title:      "Road Trip Anthem",
		Status:     songStatus,
		FailReason: "audio provider unavailable",
		FailedFrom: failedFrom,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := f.repo.Insert(context.Background(), f.db, song); err != nil {
		t.Fatalf("seed song: %v", err)
	}
	return order, song
}

func TestRetrySongRequeuesFailedStage(t *testing.T) {
	f := setupSongService(t)
	ctx := context.Background()
	order, song := f.seed(t, orderdomain.OrderStatusFailed, songdomain.SongStatusFailed, songdomain.SongStatusAudioPending)

	if err := f.songs.RetrySong(ctx, song.ID); err != nil {
		t.Fatalf("retry song: %v", err)
	}

	got, err := f.repo.FindByID(ctx, f.db, song.ID)
	if err != nil {
		t.Fatalf("find song: %v", err)
	}
	if got.Status != songdomain.SongStatusAudioPending {
		t.Fatalf("expected song back in audio_pending, got %s", got.Status)
	}

	task, err := f.taskRepo.FindBySongAndStage(ctx, f.db, song.ID, generationdomain.StageAudio)
	if err != nil {
		t.Fatalf("find task: %v", err)
	}
	if task.Status != generationdomain.TaskStatusQueued {
		t.Fatalf("expected queued audio task, got %s", task.Status)
	}

	gotOrder, err := f.orderRepo.FindByID(ctx, f.db, order.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if gotOrder.Status != orderdomain.OrderStatusFulfilling {
		t.Fatalf("expected order back in fulfilling, got %s", gotOrder.Status)
	}
}

func TestRetrySongLeavesHealthyOrderAlone(t *testing.T) {
	f := setupSongService(t)
	ctx := context.Background()
	order, song := f.seed(t, orderdomain.OrderStatusFulfilling, songdomain.SongStatusFailed, songdomain.SongStatusLyricsPending)

	if err := f.songs.RetrySong(ctx, song.ID); err != nil {
		t.Fatalf("retry song: %v", err)
	}

	gotOrder, err := f.orderRepo.FindByID(ctx, f.db, order.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if gotOrder.Status != orderdomain.OrderStatusFulfilling {
		t.Fatalf("expected order to stay fulfilling, got %s", gotOrder.Status)
	}
}

func TestRetrySongRejectsNonFailedSong(t *testing.T) {
	f := setupSongService(t)
	ctx := context.Background()
	_, song := f.seed(t, orderdomain.OrderStatusFulfilling, songdomain.SongStatusAudioPending, "")

	err := f.songs.RetrySong(ctx, song.ID)
	if !errors.Is(err, songdomain.ErrRetryNotAllowed) {
		t.Fatalf("expected ErrRetryNotAllowed, got %v", err)
	}
}
