package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"consenthub/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens an isolated in-memory database with the DSAR schema
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:mem_" + uuid.New().String() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.DSARRequest{}, &models.AuditLog{}, &models.Notification{}, &models.ConsentLog{}))
	return db
}

// testClock is a settable clock for deterministic deadlines
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingMailer captures outbound email
type recordingMailer struct {
	mu   sync.Mutex
	sent []*Email
	err  error
}

func (m *recordingMailer) Send(email *Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, email)
	return m.err
}

func (m *recordingMailer) Sent() []*Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Email(nil), m.sent...)
}

// recordingHandler collects events delivered to a subscriber
type recordingHandler struct {
	mu     sync.Mutex
	events []Event
}

func (h *recordingHandler) Handle(ctx context.Context, e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *recordingHandler) Types() []EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	types := make([]EventType, len(h.events))
	for i, e := range h.events {
		types[i] = e.Type
	}
	return types
}

type testEnv struct {
	DB      *gorm.DB
	Clock   *testClock
	Bus     *MemoryBus
	Events  *recordingHandler
	Mailer  *recordingMailer
	Service *DSARService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		DB:     setupTestDB(t),
		Clock:  newTestClock(),
		Bus:    NewMemoryBus(64),
		Events: &recordingHandler{},
		Mailer: &recordingMailer{},
	}
	env.Bus.Subscribe(env.Events.Handle)

	env.Service = NewDSARService(env.DB, env.Bus, nil)
	env.Service.Now = env.Clock.Now
	env.Service.Mailer = env.Mailer
	return env
}

var testActor = Actor{ID: "csr-1", Name: "Casey Support", Email: "casey@consenthub.test", Role: "csr"}

func validSubmission() SubmitRequest {
	return SubmitRequest{
		RequesterName:  "Alice Perera",
		RequesterEmail: "alice@example.com",
		RequestType:    string(models.DSARTypeDataErasure),
		Subject:        "Delete my data",
		Description:    "Please delete all my data.",
	}
}

func (env *testEnv) submit(t *testing.T, mutate ...func(*SubmitRequest)) *models.DSARRequest {
	t.Helper()
	in := validSubmission()
	for _, fn := range mutate {
		fn(&in)
	}
	r, err := env.Service.Submit(context.Background(), in, Actor{Email: in.RequesterEmail, Role: "customer"})
	require.NoError(t, err)
	return r
}
