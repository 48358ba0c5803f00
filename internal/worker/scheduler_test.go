package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/aurawell/webhook-engine/internal/config"
	"github.com/aurawell/webhook-engine/internal/models"
	"github.com/aurawell/webhook-engine/internal/queue"
	"github.com/aurawell/webhook-engine/internal/signature"
)

type capturedJob struct {
	job       *models.DeliveryJob
	notBefore time.Time
}

// stubQueue records re-enqueued retries so tests can drive the state
// machine by hand and assert the scheduled delays.
type stubQueue struct {
	mu   sync.Mutex
	jobs []capturedJob
}

func (q *stubQueue) Enqueue(_ context.Context, job *models.DeliveryJob, notBefore time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, capturedJob{job: job, notBefore: notBefore})
	return nil
}

func (q *stubQueue) Start(queue.Handler) error { return nil }
func (q *stubQueue) Stop() error               { return nil }

func (q *stubQueue) pop(t *testing.T) capturedJob {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	require.NotEmpty(t, q.jobs, "expected a scheduled retry")
	captured := q.jobs[len(q.jobs)-1]
	q.jobs = q.jobs[:len(q.jobs)-1]
	return captured
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.WebhookSubscription{}, &models.DeliveryAttempt{}))
	return db
}

func testConfig() *config.WebhookConfig {
	return &config.WebhookConfig{
		MaxAttempts:   5,
		KillThreshold: 5,
		MaxPerUser:    10,
		HTTPTimeout:   5 * time.Second,
		RetryDelays:   config.DefaultRetryDelays,
	}
}

func newTestScheduler(t *testing.T, db *gorm.DB, cfg *config.WebhookConfig) (*Scheduler, *stubQueue) {
	t.Helper()
	q := &stubQueue{}
	deliverer := NewDeliverer(cfg.HTTPTimeout, zap.NewNop())
	s := NewScheduler(db, cfg, q, deliverer, zap.NewNop())
	return s, q
}

func seedSubscription(t *testing.T, db *gorm.DB, url string, failureCount int, active bool) *models.WebhookSubscription {
	t.Helper()
	sub := &models.WebhookSubscription{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		URL:          url,
		Events:       models.EventTypeList{"mood.logged"},
		Secret:       "whsec_test",
		Active:       active,
		FailureCount: failureCount,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func jobFor(sub *models.WebhookSubscription) *models.DeliveryJob {
	return &models.DeliveryJob{
		ID:        uuid.New(),
		WebhookID: sub.ID,
		UserID:    sub.UserID,
		URL:       sub.URL,
		EventType: "mood.logged",
		Payload:   map[string]interface{}{"score": float64(4)},
		Attempt:   0,
		NotBefore: time.Now().UTC(),
	}
}

func reload(t *testing.T, db *gorm.DB, id uuid.UUID) *models.WebhookSubscription {
	t.Helper()
	var sub models.WebhookSubscription
	require.NoError(t, db.Where("id = ?", id).First(&sub).Error)
	return &sub
}

func attempts(t *testing.T, db *gorm.DB, webhookID uuid.UUID) []models.DeliveryAttempt {
	t.Helper()
	var rows []models.DeliveryAttempt
	require.NoError(t, db.Where("webhook_id = ?", webhookID).Order("id ASC").Find(&rows).Error)
	return rows
}

func TestHandleJob_SuccessResetsFailureCount(t *testing.T) {
	db := openTestDB(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := seedSubscription(t, db, server.URL, 3, true)
	s, q := newTestScheduler(t, db, testConfig())

	require.NoError(t, s.HandleJob(context.Background(), jobFor(sub)))

	rows := attempts(t, db, sub.ID)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Success)
	assert.Equal(t, http.StatusOK, rows[0].HTTPStatus)
	assert.Nil(t, rows[0].Error)

	assert.Equal(t, 0, reload(t, db, sub.ID).FailureCount)
	assert.Empty(t, q.jobs)
}

func TestHandleJob_SignsRequests(t *testing.T) {
	db := openTestDB(t)

	var mu sync.Mutex
	var gotBody []byte
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := seedSubscription(t, db, server.URL, 0, true)
	s, _ := newTestScheduler(t, db, testConfig())
	job := jobFor(sub)

	require.NoError(t, s.HandleJob(context.Background(), job))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "mood.logged", gotHeaders.Get(signature.HeaderEvent))
	assert.Equal(t, job.ID.String(), gotHeaders.Get(signature.HeaderID))

	// The receiver-side verification the signed headers promise
	assert.True(t, signature.Verify(
		gotBody,
		gotHeaders.Get(signature.HeaderTimestamp),
		gotHeaders.Get(signature.HeaderSignature),
		sub.Secret,
	))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(gotBody, &body))
	assert.Equal(t, "mood.logged", body["event"])
	assert.Equal(t, map[string]interface{}{"score": float64(4)}, body["data"])
}

func TestHandleJob_RetriesThenSucceeds(t *testing.T) {
	db := openTestDB(t)

	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := seedSubscription(t, db, server.URL, 0, true)
	s, q := newTestScheduler(t, db, testConfig())

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	job := jobFor(sub)
	wantDelays := []time.Duration{1 * time.Minute, 5 * time.Minute, 30 * time.Minute}

	for i := 0; i < 3; i++ {
		require.NoError(t, s.HandleJob(context.Background(), job))
		captured := q.pop(t)
		assert.Equal(t, base.Add(wantDelays[i]), captured.notBefore, "retry %d delay", i+1)
		assert.Equal(t, i+1, captured.job.Attempt)
		job = captured.job
	}

	// Fourth attempt succeeds
	require.NoError(t, s.HandleJob(context.Background(), job))
	assert.Empty(t, q.jobs)

	rows := attempts(t, db, sub.ID)
	require.Len(t, rows, 4)
	for i, want := range []bool{false, false, false, true} {
		assert.Equal(t, want, rows[i].Success, "attempt %d", i+1)
	}

	after := reload(t, db, sub.ID)
	assert.Equal(t, 0, after.FailureCount)
	assert.True(t, after.Active)
}

func TestHandleJob_TerminalFailureIncrementsByOne(t *testing.T) {
	db := openTestDB(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sub := seedSubscription(t, db, server.URL, 2, true)
	s, q := newTestScheduler(t, db, testConfig())

	job := jobFor(sub)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.HandleJob(context.Background(), job))
		job = q.pop(t).job
	}
	// Fifth attempt is terminal: no retry scheduled
	require.NoError(t, s.HandleJob(context.Background(), job))
	assert.Empty(t, q.jobs)

	rows := attempts(t, db, sub.ID)
	require.Len(t, rows, 5)
	for i, row := range rows {
		assert.False(t, row.Success, "attempt %d", i+1)
		assert.Equal(t, http.StatusInternalServerError, row.HTTPStatus)
		assert.NotNil(t, row.Error)
	}

	after := reload(t, db, sub.ID)
	// One job, one increment - not one per attempt
	assert.Equal(t, 3, after.FailureCount)
	assert.True(t, after.Active)
}

func TestHandleJob_KillSwitchTripsAtThreshold(t *testing.T) {
	db := openTestDB(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sub := seedSubscription(t, db, server.URL, 4, true)
	s, q := newTestScheduler(t, db, testConfig())

	job := jobFor(sub)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.HandleJob(context.Background(), job))
		job = q.pop(t).job
	}
	require.NoError(t, s.HandleJob(context.Background(), job))

	after := reload(t, db, sub.ID)
	assert.Equal(t, 5, after.FailureCount)
	assert.False(t, after.Active)
}

func TestHandleJob_KillThresholdIsIndependentOfMaxAttempts(t *testing.T) {
	db := openTestDB(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.KillThreshold = 2

	sub := seedSubscription(t, db, server.URL, 0, true)
	s, q := newTestScheduler(t, db, cfg)

	// First job fails terminally on its single attempt
	require.NoError(t, s.HandleJob(context.Background(), jobFor(sub)))
	assert.Empty(t, q.jobs)
	after := reload(t, db, sub.ID)
	assert.Equal(t, 1, after.FailureCount)
	assert.True(t, after.Active)

	// Second terminal failure reaches the threshold
	require.NoError(t, s.HandleJob(context.Background(), jobFor(sub)))
	after = reload(t, db, sub.ID)
	assert.Equal(t, 2, after.FailureCount)
	assert.False(t, after.Active)
}

func TestHandleJob_NetworkFailureRecordsStatusZero(t *testing.T) {
	db := openTestDB(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close() // connection refused from here on

	sub := seedSubscription(t, db, url, 0, true)
	s, q := newTestScheduler(t, db, testConfig())

	require.NoError(t, s.HandleJob(context.Background(), jobFor(sub)))
	require.NotEmpty(t, q.jobs)

	rows := attempts(t, db, sub.ID)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Success)
	assert.Equal(t, 0, rows[0].HTTPStatus)
	require.NotNil(t, rows[0].Error)
	assert.NotEmpty(t, *rows[0].Error)
}

func TestHandleJob_AbandonsSlowEndpointAtTimeout(t *testing.T) {
	db := openTestDB(t)

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	cfg := testConfig()
	cfg.HTTPTimeout = 50 * time.Millisecond

	sub := seedSubscription(t, db, server.URL, 0, true)
	s, q := newTestScheduler(t, db, cfg)

	start := time.Now()
	require.NoError(t, s.HandleJob(context.Background(), jobFor(sub)))
	assert.Less(t, time.Since(start), 2*time.Second, "attempt was not abandoned at the timeout")

	// Timed-out attempt counts like a network failure
	rows := attempts(t, db, sub.ID)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Success)
	assert.Equal(t, 0, rows[0].HTTPStatus)
	require.NotNil(t, rows[0].Error)
	assert.NotEmpty(t, *rows[0].Error)

	captured := q.pop(t)
	assert.Equal(t, 1, captured.job.Attempt)
}

func TestHandleJob_RequeuesWhenSubscriptionLoadFails(t *testing.T) {
	db := openTestDB(t)
	s, q := newTestScheduler(t, db, testConfig())

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	// Simulate an infrastructure fault on the pre-send load
	require.NoError(t, db.Migrator().DropTable(&models.WebhookSubscription{}))

	job := &models.DeliveryJob{
		ID:        uuid.New(),
		WebhookID: uuid.New(),
		URL:       "https://example.com/hooks",
		EventType: "mood.logged",
	}
	require.NoError(t, s.HandleJob(context.Background(), job))

	// The job goes back with no attempt consumed and no log row
	captured := q.pop(t)
	assert.Equal(t, job.ID, captured.job.ID)
	assert.Equal(t, 0, captured.job.Attempt)
	assert.Equal(t, base.Add(infraRetryDelay), captured.notBefore)
	assert.Empty(t, attempts(t, db, job.WebhookID))
}

func TestHandleJob_SkipsInactiveSubscription(t *testing.T) {
	db := openTestDB(t)

	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))
	defer server.Close()

	sub := seedSubscription(t, db, server.URL, 0, false)
	s, q := newTestScheduler(t, db, testConfig())

	require.NoError(t, s.HandleJob(context.Background(), jobFor(sub)))

	// No request, no log row, no retry
	mu.Lock()
	assert.Zero(t, calls)
	mu.Unlock()
	assert.Empty(t, attempts(t, db, sub.ID))
	assert.Empty(t, q.jobs)
}

func TestHandleJob_SkipsDeletedSubscription(t *testing.T) {
	db := openTestDB(t)
	s, q := newTestScheduler(t, db, testConfig())

	job := &models.DeliveryJob{
		ID:        uuid.New(),
		WebhookID: uuid.New(),
		URL:       "https://example.com/hooks",
		EventType: "mood.logged",
	}
	require.NoError(t, s.HandleJob(context.Background(), job))
	assert.Empty(t, q.jobs)
}

func TestSendTest_SingleAttemptNoRetry(t *testing.T) {
	db := openTestDB(t)

	var mu sync.Mutex
	var gotEvent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotEvent = r.Header.Get(signature.HeaderEvent)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := seedSubscription(t, db, server.URL, 2, true)
	s, q := newTestScheduler(t, db, testConfig())

	attempt, err := s.SendTest(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, attempt.Success)
	assert.Equal(t, "webhook.test", attempt.EventType)

	mu.Lock()
	assert.Equal(t, "webhook.test", gotEvent)
	mu.Unlock()

	rows := attempts(t, db, sub.ID)
	require.Len(t, rows, 1)
	assert.Empty(t, q.jobs)

	// Test sends never touch failure bookkeeping
	assert.Equal(t, 2, reload(t, db, sub.ID).FailureCount)
}

func TestSendTest_FailureIsReturnedNotRetried(t *testing.T) {
	db := openTestDB(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sub := seedSubscription(t, db, server.URL, 0, true)
	s, q := newTestScheduler(t, db, testConfig())

	attempt, err := s.SendTest(context.Background(), sub)
	require.NoError(t, err)
	assert.False(t, attempt.Success)
	assert.Equal(t, http.StatusBadGateway, attempt.HTTPStatus)
	assert.Empty(t, q.jobs)
	assert.Equal(t, 0, reload(t, db, sub.ID).FailureCount)
}
