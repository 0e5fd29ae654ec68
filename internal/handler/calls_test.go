package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxbridge/voxbridge/internal/models"
	"github.com/voxbridge/voxbridge/pkg/progress"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"
)

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	silent := glog.New(log.New(io.Discard, "", log.LstdFlags), glog.Config{LogLevel: glog.Silent})
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: silent})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	h := NewHandlers(db, progress.NewHub(), "", nil)
	r := gin.New()
	h.Register(r, "/api")
	return r, db
}

func TestListCalls(t *testing.T) {
	r, db := setupRouter(t)

	_, err := models.CreateCall(db, "call-1", "+441234567890", "+442071234567", "")
	require.NoError(t, err)
	_, err = models.CreateCall(db, "call-2", "+441234567891", "+442071234567", "")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calls", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var calls []models.Call
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &calls))
	require.Len(t, calls, 2)
	// Newest first.
	assert.Equal(t, "call-2", calls[0].CallID)
	assert.Equal(t, "call-1", calls[1].CallID)
}

func TestListCalls_Limit(t *testing.T) {
	r, db := setupRouter(t)
	for _, id := range []string{"a", "b", "c"} {
		_, err := models.CreateCall(db, id, "+441234567890", "+442071234567", "")
		require.NoError(t, err)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calls?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var calls []models.Call
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &calls))
	assert.Len(t, calls, 2)
}

func TestGetCall_WithBridgedChildren(t *testing.T) {
	r, db := setupRouter(t)

	_, err := models.CreateCall(db, "call-1", "+441234567890", "+442071234567", "")
	require.NoError(t, err)
	_, err = models.CreateBridgedCall(db, "call-1", "call-2", "+441234567890", "+447700900123", "")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calls/call-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Call    models.Call   `json:"call"`
		Bridged []models.Call `json:"bridged"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "call-1", body.Call.CallID)
	require.Len(t, body.Bridged, 1)
	assert.Equal(t, "call-2", body.Bridged[0].CallID)
}

func TestGetCall_NotFound(t *testing.T) {
	r, _ := setupRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calls/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateAndListAgents(t *testing.T) {
	r, _ := setupRouter(t)

	payload := `{
		"name": "support",
		"systemPrompt": "You answer support calls.",
		"greeting": "Hello, support speaking.",
		"functions": [{"name":"check_stock","implementation":"stub","template":"ok"}]
	}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/agents", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/agents", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var agents []models.AgentConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "support", agents[0].Name)
	assert.NotEmpty(t, agents[0].Functions)
}

func TestCreateAgent_NameRequired(t *testing.T) {
	r, _ := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/agents", strings.NewReader(`{"greeting":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestObserve_UnknownCall(t *testing.T) {
	r, _ := setupRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/observe/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGateway_BadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	silent := glog.New(log.New(io.Discard, "", log.LstdFlags), glog.Config{LogLevel: glog.Silent})
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: silent})
	require.NoError(t, err)

	h := NewHandlers(db, progress.NewHub(), "secret", nil)
	r := gin.New()
	h.Register(r, "/api")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/telephony/ws", nil)
	req.Header.Set("X-Gateway-Token", "wrong")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
