package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-frontdesk/internal/conversation"
	"github.com/wolfman30/clinic-frontdesk/internal/dispatch"
	httpmiddleware "github.com/wolfman30/clinic-frontdesk/internal/http/middleware"
	"github.com/wolfman30/clinic-frontdesk/internal/records"
	"github.com/wolfman30/clinic-frontdesk/internal/scheduling"
	"github.com/wolfman30/clinic-frontdesk/internal/symptoms"
	"github.com/wolfman30/clinic-frontdesk/internal/verification"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

func newTestRouter(t *testing.T, limiter *httpmiddleware.RateLimiter) http.Handler {
	t.Helper()

	logger := logging.Discard()
	now := func() time.Time { return time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC) }
	tables := records.NewMemoryTables()
	dispatcher := dispatch.New(
		verification.NewService(tables.Patients, verification.WithClock(now), verification.WithLogger(logger)),
		scheduling.NewEngine(tables.Appointments, scheduling.DefaultRules(), scheduling.WithClock(now), scheduling.WithLogger(logger)),
		symptoms.NewService(tables.Patients, tables.Symptoms, logger, nil),
		logger,
	)
	svc := conversation.NewService(conversation.KeywordClassifier{}, dispatcher,
		conversation.WithLogger(logger),
		conversation.WithClock(now),
		conversation.WithIDGenerator(func() string { return "conv-router" }),
	)

	return New(&Config{
		Logger:              logger,
		ConversationHandler: conversation.NewHandler(svc, logger),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
		CORSAllowedOrigins: []string{"https://clinic.example"},
		RateLimiter:        limiter,
	})
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, rr.Header().Get("Content-Type"))
}

func TestRouterMetricsEndpoint(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(t, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "# metrics", rr.Body.String())
}

func TestRouterConversationLifecycle(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/conversations/start", nil))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	body, _ := json.Marshal(map[string]string{"conversation_id": "conv-router", "message": "There is heavy bleeding from my gum"})
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/conversations/message", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var turn conversation.Response
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&turn))
	assert.Equal(t, "emergency", turn.Status)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/conversations/conv-router/history", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/conversations/conv-router", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/conversations/message", bytes.NewReader(body)))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouterCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/conversations/start", nil)
	req.Header.Set("Origin", "https://clinic.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	newTestRouter(t, nil).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://clinic.example", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterRateLimitsConversations(t *testing.T) {
	router := newTestRouter(t, httpmiddleware.NewRateLimiter(0.001, 1))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/conversations/start", nil))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/conversations/start", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
