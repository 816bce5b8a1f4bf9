package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"consenthub/middleware"
	"consenthub/models"
	"consenthub/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "test-secret-with-at-least-32-characters!"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique shared memory name isolates tests while letting async writers see the same data
	dsn := "file:mem_" + uuid.New().String() + "?mode=memory&cache=shared"
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, testDB.AutoMigrate(&models.DSARRequest{}, &models.AuditLog{}, &models.Notification{}, &models.ConsentLog{}))
	return testDB
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []*services.Email
}

func (m *recordingMailer) Send(email *services.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, email)
	return nil
}

func (m *recordingMailer) Sent() []*services.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*services.Email(nil), m.sent...)
}

type testServer struct {
	E        *echo.Echo
	DB       *gorm.DB
	Bus      *services.MemoryBus
	Mailer   *recordingMailer
	DSAR     *services.DSARService
	Security *services.SecurityMonitor
	Now      time.Time
}

var (
	customer      = middleware.Principal{ID: "cust-1", Email: "alice@example.com", Name: "Alice Perera", Role: middleware.RoleCustomer}
	otherCustomer = middleware.Principal{ID: "cust-2", Email: "bob@example.com", Name: "Bob Silva", Role: middleware.RoleCustomer}
	csr           = middleware.Principal{ID: "csr-1", Email: "casey@consenthub.test", Name: "Casey Support", Role: middleware.RoleCSR}
	admin         = middleware.Principal{ID: "admin-1", Email: "ada@consenthub.test", Name: "Ada Admin", Role: middleware.RoleAdmin}
)

func setupServer(t *testing.T) *testServer {
	t.Helper()

	s := &testServer{
		DB:     setupTestDB(t),
		Bus:    services.NewMemoryBus(256),
		Mailer: &recordingMailer{},
		Now:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	s.DSAR = services.NewDSARService(s.DB, s.Bus, nil)
	s.DSAR.Mailer = s.Mailer
	s.DSAR.Now = func() time.Time { return s.Now }

	notifications := services.NewNotificationService(s.DB, s.Mailer, nil, "https://privacy.example.com")
	s.Bus.Subscribe(notifications.HandleEvent)
	consents := services.NewConsentService(s.DB)
	s.Bus.Subscribe(consents.HandleEvent)

	s.Security = services.NewSecurityMonitor(s.DB, s.Mailer, "security@consenthub.test")
	s.Security.Now = func() time.Time { return s.Now }

	storage := services.NewLocalStorage(t.TempDir(), "/api/v1/files")
	responses := services.NewResponseService(s.DSAR, storage, nil)

	s.E = echo.New()
	s.E.HTTPErrorHandler = HTTPErrorHandler
	RegisterRoutes(s.E, &Handlers{
		DSAR:          NewDSARHandler(s.DSAR, responses, storage, s.Bus, s.Security),
		Notifications: NewNotificationHandler(notifications),
		Consents:      NewConsentHandler(consents),
		Security:      s.Security,
		DB:            s.DB,
		Limits:        &middleware.RateLimiters{
			Submission:   middleware.NewRateLimiter(middleware.RateLimitConfig{Requests: 1000, Window: time.Hour}),
			Verification: middleware.NewRateLimiter(middleware.RateLimitConfig{Requests: 1000, Window: time.Hour}),
			API:          middleware.NewRateLimiter(middleware.RateLimitConfig{Requests: 1000, Window: time.Minute}),
		},
		Ping:          func(ctx context.Context) error { return nil },
	}, testSecret)

	return s
}

func token(t *testing.T, p middleware.Principal) string {
	t.Helper()
	tok, err := middleware.IssueToken(testSecret, p, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends a request as p (nil for anonymous) and returns the recorder
func (s *testServer) do(t *testing.T, p *middleware.Principal, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if p != nil {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, *p))
	}

	rec := httptest.NewRecorder()
	s.E.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func submission(requestType string) map[string]interface{} {
	return map[string]interface{}{
		"requesterName":  "Alice Perera",
		"requesterEmail": "alice@example.com",
		"requestType":    requestType,
		"subject":        "Please send my data",
		"description":    "I would like a copy of everything you hold about me.",
	}
}

// create submits as the customer and returns the new requestId
func (s *testServer) create(t *testing.T, requestType string) string {
	t.Helper()
	rec := s.do(t, &customer, http.MethodPost, "/api/v1/dsar/dsarRequest", submission(requestType))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	request := decode(t, rec)["request"].(map[string]interface{})
	return request["requestId"].(string)
}
