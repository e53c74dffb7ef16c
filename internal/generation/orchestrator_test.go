package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/clock"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/config"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/generation/domain"
	generationrepo "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/generation/repository"
	orderdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/order/domain"
	orderrepo "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/order/repository"
	orderservice "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/order/service"
	paymentdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/payment/domain"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/providers/audio"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/providers/email"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/providers/lyrics"
	"github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/providers/video"
	songdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/song/domain"
	songrepo "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/song/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type lyricsStub struct {
	mu       sync.Mutex
	calls    int
	failures int
}

func (s *lyricsStub) GenerateLyrics(ctx context.Context, req lyrics.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return "", errors.New("lyrics provider unavailable")
	}
	return "Verse one for " + req.Title, nil
}

func (s *lyricsStub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type audioStub struct {
	mu       sync.Mutex
	calls    int
	failures int
	onCall   func()
}

func (s *audioStub) GenerateAudio(ctx context.Context, req audio.Request) (*audio.Result, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	hook := s.onCall
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fail {
		return nil, errors.New("audio provider unavailable")
	}
	return &audio.Result{AudioURL: "https://provider.test/track.mp3", Duration: 184.2}, nil
}

func (s *audioStub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type videoStub struct {
	mu    sync.Mutex
	calls int
}

func (s *videoStub) GenerateVideo(ctx context.Context, req video.Request) (*video.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return &video.Result{VideoURL: "https://provider.test/render.mp4"}, nil
}

func (s *videoStub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type uploaderStub struct {
	mu   sync.Mutex
	keys []string
}

func (s *uploaderStub) Store(ctx context.Context, key string, contentType string, body io.Reader) (string, error) {
	return s.record(key), nil
}

func (s *uploaderStub) FetchAndStore(ctx context.Context, key string, srcURL string) (string, error) {
	return s.record(key), nil
}

func (s *uploaderStub) record(key string) string {
	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.mu.Unlock()
	return "https://cdn.test/" + key
}

func (s *uploaderStub) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

type mailerStub struct {
	delivered chan string
}

func (s *mailerStub) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}

func (s *mailerStub) SendSongDelivered(ctx context.Context, to string, data email.SongDeliveredData) error {
	select {
	case s.delivered <- to:
	default:
	}
	return nil
}

type checkoutStub struct{}

func (c *checkoutStub) CreateCheckoutSession(ctx context.Context, req paymentdomain.CheckoutRequest) (*paymentdomain.CheckoutSession, error) {
	return &paymentdomain.CheckoutSession{SessionID: "sess_test", URL: "https://checkout.test"}, nil
}

type orchestratorFixture struct {
	db   *gorm.DB
	node *snowflake.Node
	clk  *clock.FakeClock
	orch *Orchestrator

	orderRepo orderdomain.Repository
	songRepo  songdomain.Repository
	taskRepo  domain.Repository

	lyrics   *lyricsStub
	audio    *audioStub
	video    *videoStub
	uploader *uploaderStub
	mailer   *mailerStub
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

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
	_ = db.Exec("PRAGMA journal_mode = WAL").Error

	// SQLite support hack: remove FOR UPDATE clauses
	db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	})
	db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	})

	return db
}

func prepareSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
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
}

func setupOrchestrator(t *testing.T) *orchestratorFixture {
	t.Helper()

	node := mustNode(t)
	db := openTestDB(t)
	prepareSchema(t, db)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	orderRepo := orderrepo.Provide()
	songRepo := songrepo.Provide()
	taskRepo := generationrepo.Provide()

	orders := orderservice.NewService(orderservice.ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Pricing:  config.NewPricingConfigHolderForTest(config.DefaultPricingConfig()),
		Repo:     orderRepo,
		SongRepo: songRepo,
		TaskRepo: taskRepo,
		Checkout: &checkoutStub{},
	})

	f := &orchestratorFixture{
		db:        db,
		node:      node,
		clk:       clk,
		orderRepo: orderRepo,
		songRepo:  songRepo,
		taskRepo:  taskRepo,
		lyrics:    &lyricsStub{},
		audio:     &audioStub{},
		video:     &videoStub{},
		uploader:  &uploaderStub{},
		mailer:    &mailerStub{delivered: make(chan string, 4)},
	}

	f.orch = NewOrchestrator(OrchestratorParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Config: config.Config{
			Generation: config.GenerationConfig{
				RunInterval:  time.Second,
				BatchSize:    10,
				MaxAttempts:  3,
				StageTimeout: time.Minute,
				BackoffBase:  time.Minute,
			},
		},
		TaskRepo:  taskRepo,
		SongRepo:  songRepo,
		OrderRepo: orderRepo,
		Orders:    orders,
		Lyrics:    f.lyrics,
		Audio:     f.audio,
		Video:     f.video,
		Uploader:  f.uploader,
		Mailer:    f.mailer,
	})
	return f
}

func (f *orchestratorFixture) seedFulfillingOrder(t *testing.T, withVideo bool, songStatus songdomain.SongStatus, lyricsText string) (*orderdomain.Order, *songdomain.Song) {
	t.Helper()
	now := f.clk.Now()
	kind := orderdomain.ProductKindAudio
	if withVideo {
		kind = orderdomain.ProductKindAudioVideo
	}
	order := &orderdomain.Order{
		ID:          f.node.Generate(),
		UserID:      f.node.Generate(),
		UserEmail:   "customer@example.com",
		ProductKind: kind,
		Amount:      999,
		Currency:    "USD",
		Status:      orderdomain.OrderStatusFulfilling,
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
		Title:      "Anniversary Waltz",
		MusicStyle: "waltz",
		WithVideo:  withVideo,
		Status:     songStatus,
		Lyrics:     lyricsText,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := f.songRepo.Insert(context.Background(), f.db, song); err != nil {
		t.Fatalf("seed song: %v", err)
	}
	return order, song
}

func (f *orchestratorFixture) enqueueTask(t *testing.T, song *songdomain.Song, stage domain.Stage) *domain.GenerationTask {
	t.Helper()
	now := f.clk.Now()
	task := &domain.GenerationTask{
		ID:        f.node.Generate(),
		SongID:    song.ID,
		OrderID:   song.OrderID,
		Stage:     stage,
		Status:    domain.TaskStatusQueued,
		Attempt:   1,
		RunAfter:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inserted, err := f.taskRepo.Enqueue(context.Background(), f.db, task)
	if err != nil {
		t.Fatalf("enqueue task: %v", err)
	}
	if !inserted {
		t.Fatalf("expected task to be enqueued")
	}
	return task
}

func (f *orchestratorFixture) mustSong(t *testing.T, id snowflake.ID) *songdomain.Song {
	t.Helper()
	song, err := f.songRepo.FindByID(context.Background(), f.db, id)
	if err != nil {
		t.Fatalf("find song: %v", err)
	}
	return song
}

func (f *orchestratorFixture) mustOrder(t *testing.T, id snowflake.ID) *orderdomain.Order {
	t.Helper()
	order, err := f.orderRepo.FindByID(context.Background(), f.db, id)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	return order
}

func (f *orchestratorFixture) mustTask(t *testing.T, songID snowflake.ID, stage domain.Stage) *domain.GenerationTask {
	t.Helper()
	task, err := f.taskRepo.FindBySongAndStage(context.Background(), f.db, songID, stage)
	if err != nil {
		t.Fatalf("find task: %v", err)
	}
	return task
}

func (f *orchestratorFixture) waitForDelivery(t *testing.T) string {
	t.Helper()
	select {
	case to := <-f.mailer.delivered:
		return to
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a delivery email")
		return ""
	}
}

func TestRunOnceAudioOnlyPipeline(t *testing.T) {
	f := setupOrchestrator(t)
	ctx := context.Background()
	order, song := f.seedFulfillingOrder(t, false, songdomain.SongStatusLyricsPending, "")
	f.enqueueTask(t, song, domain.StageLyrics)

	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("run once (lyrics): %v", err)
	}
	got := f.mustSong(t, song.ID)
	if got.Status != songdomain.SongStatusAudioPending {
		t.Fatalf("expected audio_pending after lyrics, got %s", got.Status)
	}
	if got.Lyrics == "" {
		t.Fatalf("expected lyrics to be persisted")
	}
	if f.lyrics.Calls() != 1 {
		t.Fatalf("expected 1 lyrics call, got %d", f.lyrics.Calls())
	}
	if task := f.mustTask(t, song.ID, domain.StageAudio); task.Status != domain.TaskStatusQueued {
		t.Fatalf("expected queued audio task, got %s", task.Status)
	}

	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("run once (audio): %v", err)
	}
	got = f.mustSong(t, song.ID)
	if got.Status != songdomain.SongStatusDelivered {
		t.Fatalf("expected delivered, got %s", got.Status)
	}
	if got.DeliveredAt == nil {
		t.Fatalf("expected delivered_at to be set")
	}
	if !strings.HasSuffix(got.AudioURL, ".mp3") {
		t.Fatalf("unexpected audio url %q", got.AudioURL)
	}
	if f.audio.Calls() != 1 {
		t.Fatalf("expected 1 audio call, got %d", f.audio.Calls())
	}
	if gotOrder := f.mustOrder(t, order.ID); gotOrder.Status != orderdomain.OrderStatusFulfilled {
		t.Fatalf("expected order fulfilled, got %s", gotOrder.Status)
	}
	if to := f.waitForDelivery(t); to != order.UserEmail {
		t.Fatalf("expected delivery mail to %s, got %s", order.UserEmail, to)
	}
}

func TestRunOnceKeepsCustomerLyrics(t *testing.T) {
	f := setupOrchestrator(t)
	ctx := context.Background()
	_, song := f.seedFulfillingOrder(t, false, songdomain.SongStatusLyricsPending, "Words the customer wrote")
	f.enqueueTask(t, song, domain.StageLyrics)

	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if f.lyrics.Calls() != 0 {
		t.Fatalf("expected no lyrics provider call, got %d", f.lyrics.Calls())
	}
	got := f.mustSong(t, song.ID)
	if got.Status != songdomain.SongStatusAudioPending {
		t.Fatalf("expected audio_pending, got %s", got.Status)
	}
	if got.Lyrics != "Words the customer wrote" {
		t.Fatalf("customer lyrics were replaced: %q", got.Lyrics)
	}
}

func TestRunOnceVideoPipeline(t *testing.T) {
	f := setupOrchestrator(t)
	ctx := context.Background()
	order, song := f.seedFulfillingOrder(t, true, songdomain.SongStatusAudioPending, "la la la")
	f.enqueueTask(t, song, domain.StageAudio)

	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("run once (audio): %v", err)
	}
	got := f.mustSong(t, song.ID)
	if got.Status != songdomain.SongStatusVideoPending {
		t.Fatalf("expected video_pending after audio, got %s", got.Status)
	}

	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("run once (video): %v", err)
	}
	got = f.mustSong(t, song.ID)
	if got.Status != songdomain.SongStatusDelivered {
		t.Fatalf("expected delivered, got %s", got.Status)
	}
	if !strings.HasSuffix(got.VideoURL, ".mp4") {
		t.Fatalf("unexpected video url %q", got.VideoURL)
	}
	if f.video.Calls() != 1 {
		t.Fatalf("expected 1 video call, got %d", f.video.Calls())
	}
	if gotOrder := f.mustOrder(t, order.ID); gotOrder.Status != orderdomain.OrderStatusFulfilled {
		t.Fatalf("expected order fulfilled, got %s", gotOrder.Status)
	}

	keys := f.uploader.Keys()
	if len(keys) != 2 || !strings.HasSuffix(keys[0], ".mp3") || !strings.HasSuffix(keys[1], ".mp4") {
		t.Fatalf("unexpected uploaded keys %v", keys)
	}
}

func TestStageRetryWithBackoff(t *testing.T) {
	f := setupOrchestrator(t)
	ctx := context.Background()
	_, song := f.seedFulfillingOrder(t, false, songdomain.SongStatusAudioPending, "la la la")
	f.enqueueTask(t, song, domain.StageAudio)
	f.audio.failures = 2

	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("run once (attempt 1): %v", err)
	}
	task := f.mustTask(t, song.ID, domain.StageAudio)
	if task.Status != domain.TaskStatusQueued || task.Attempt != 2 {
		t.Fatalf("expected requeued attempt 2, got status=%s attempt=%d", task.Status, task.Attempt)
	}
	if task.LastError == "" {
		t.Fatalf("expected last_error recorded")
	}

	// Not due yet: backoff defers run_after past the fake clock.
	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("run once (backoff): %v", err)
	}
	if f.audio.Calls() != 1 {
		t.Fatalf("expected task to wait out backoff, got %d calls", f.audio.Calls())
	}

	f.clk.Advance(time.Minute)
	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("run once (attempt 2): %v", err)
	}
	task = f.mustTask(t, song.ID, domain.StageAudio)
	if task.Status != domain.TaskStatusQueued || task.Attempt != 3 {
		t.Fatalf("expected requeued attempt 3, got status=%s attempt=%d", task.Status, task.Attempt)
	}

	f.clk.Advance(2 * time.Minute)
	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("run once (attempt 3): %v", err)
	}
	got := f.mustSong(t, song.ID)
	if got.Status != songdomain.SongStatusDelivered {
		t.Fatalf("expected delivered after retries, got %s", got.Status)
	}
	if f.audio.Calls() != 3 {
		t.Fatalf("expected 3 audio calls, got %d", f.audio.Calls())
	}
}

func TestStagePermanentFailureFailsSongAndOrder(t *testing.T) {
	f := setupOrchestrator(t)
	ctx := context.Background()
	order, song := f.seedFulfillingOrder(t, false, songdomain.SongStatusAudioPending, "la la la")
	f.enqueueTask(t, song, domain.StageAudio)
	f.audio.failures = 3

	for i := 0; i < 3; i++ {
		if err := f.orch.RunOnce(ctx); err != nil {
			t.Fatalf("run once (attempt %d): %v", i+1, err)
		}
		f.clk.Advance(5 * time.Minute)
	}

	task := f.mustTask(t, song.ID, domain.StageAudio)
	if task.Status != domain.TaskStatusFailed {
		t.Fatalf("expected failed task, got %s", task.Status)
	}
	got := f.mustSong(t, song.ID)
	if got.Status != songdomain.SongStatusFailed {
		t.Fatalf("expected failed song, got %s", got.Status)
	}
	if got.FailedFrom != songdomain.SongStatusAudioPending {
		t.Fatalf("expected failed_from audio_pending, got %s", got.FailedFrom)
	}
	if got.FailReason == "" {
		t.Fatalf("expected fail_reason recorded")
	}
	if got.FailKind != songdomain.FailureKindProvider {
		t.Fatalf("expected provider_error fail kind, got %s", got.FailKind)
	}
	if gotOrder := f.mustOrder(t, order.ID); gotOrder.Status != orderdomain.OrderStatusFailed {
		t.Fatalf("expected order failed, got %s", gotOrder.Status)
	}
	if f.audio.Calls() != 3 {
		t.Fatalf("expected 3 audio calls, got %d", f.audio.Calls())
	}
}

func TestRunOnceDropsStaleTask(t *testing.T) {
	f := setupOrchestrator(t)
	ctx := context.Background()
	_, song := f.seedFulfillingOrder(t, false, songdomain.SongStatusDelivered, "la la la")
	task := f.enqueueTask(t, song, domain.StageLyrics)

	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if f.lyrics.Calls() != 0 {
		t.Fatalf("expected no provider call for stale task, got %d", f.lyrics.Calls())
	}
	got := f.mustTask(t, song.ID, task.Stage)
	if got.Status != domain.TaskStatusFailed {
		t.Fatalf("expected stale task failed, got %s", got.Status)
	}
}

func TestRunOnceCancelsTaskForRefundedOrder(t *testing.T) {
	f := setupOrchestrator(t)
	ctx := context.Background()
	order, song := f.seedFulfillingOrder(t, false, songdomain.SongStatusAudioPending, "la la la")
	task := f.enqueueTask(t, song, domain.StageAudio)

	// Refund lands after the task was enqueued.
	if err := f.db.Exec(`UPDATE orders SET status = ? WHERE id = ?`,
		orderdomain.OrderStatusRefunded, order.ID).Error; err != nil {
		t.Fatalf("refund order: %v", err)
	}

	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if f.audio.Calls() != 0 {
		t.Fatalf("expected no provider call for refunded order, got %d", f.audio.Calls())
	}
	got := f.mustTask(t, song.ID, task.Stage)
	if got.Status != domain.TaskStatusCancelled {
		t.Fatalf("expected cancelled task, got %s", got.Status)
	}
	if gotSong := f.mustSong(t, song.ID); gotSong.Status != songdomain.SongStatusAudioPending {
		t.Fatalf("expected song left alone, got %s", gotSong.Status)
	}
}

func TestRefundDuringStageStopsPipeline(t *testing.T) {
	f := setupOrchestrator(t)
	ctx := context.Background()
	order, song := f.seedFulfillingOrder(t, false, songdomain.SongStatusAudioPending, "la la la")
	f.enqueueTask(t, song, domain.StageAudio)

	// The refund commits while the audio stage is running.
	f.audio.onCall = func() {
		if err := f.db.Exec(`UPDATE orders SET status = ? WHERE id = ?`,
			orderdomain.OrderStatusRefunded, order.ID).Error; err != nil {
			t.Errorf("refund order: %v", err)
		}
	}

	if err := f.orch.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	got := f.mustSong(t, song.ID)
	if got.Status != songdomain.SongStatusAudioReady {
		t.Fatalf("expected pipeline stopped at audio_ready, got %s", got.Status)
	}
	if gotOrder := f.mustOrder(t, order.ID); gotOrder.Status != orderdomain.OrderStatusRefunded {
		t.Fatalf("expected order to stay refunded, got %s", gotOrder.Status)
	}
	select {
	case to := <-f.mailer.delivered:
		t.Fatalf("unexpected delivery email to %s", to)
	default:
	}
}

func TestEnqueueSkipsActiveStageTask(t *testing.T) {
	f := setupOrchestrator(t)
	ctx := context.Background()
	_, song := f.seedFulfillingOrder(t, false, songdomain.SongStatusLyricsPending, "")
	f.enqueueTask(t, song, domain.StageLyrics)

	now := f.clk.Now()
	inserted, err := f.taskRepo.Enqueue(ctx, f.db, &domain.GenerationTask{
		ID:        f.node.Generate(),
		SongID:    song.ID,
		OrderID:   song.OrderID,
		Stage:     domain.StageLyrics,
		Status:    domain.TaskStatusQueued,
		Attempt:   1,
		RunAfter:  now,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate enqueue to be skipped")
	}

	var count int64
	if err := f.db.Raw(`SELECT COUNT(1) FROM generation_tasks WHERE song_id = ?`, song.ID).Scan(&count).Error; err != nil {
		t.Fatalf("count tasks: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 task for the stage, got %d", count)
	}
}

func TestRunOnceEmptyQueue(t *testing.T) {
	f := setupOrchestrator(t)
	if err := f.orch.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once on empty queue: %v", err)
	}
}
