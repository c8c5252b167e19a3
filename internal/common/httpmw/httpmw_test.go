package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kandev/mcphost/internal/common/logger"
)

func newRouter(log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(log), RequestLogger(log, "test"), OtelTracing(noop.NewTracerProvider().Tracer("test")))
	r.GET("/ok/:id", func(c *gin.Context) { c.String(http.StatusOK, "fine") })
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusBadGateway) })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func observed() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logger.FromZap(zap.New(core)), logs
}

func TestRequestLogger(t *testing.T) {
	log, logs := observed()
	r := newRouter(log)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok/7", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	entries := logs.FilterMessage("http").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
		assert.Equal(t, "/ok/:id", entries[0].ContextMap()["path"])
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("http").FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestRecovery(t *testing.T) {
	log, logs := observed()
	r := newRouter(log)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic in http handler").Len())
}

func TestOtelTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(OtelTracing(tp.Tracer("test")))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/agent/status", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/api/v1/agent/restart", func(c *gin.Context) {
		c.Set(AgentCommandKey, "restart")
		c.Set(ErrorCodeKey, "NOT_READY")
		c.Status(http.StatusGatewayTimeout)
	})
	r.POST("/api/v1/agent/start", func(c *gin.Context) {
		c.Set(AgentCommandKey, "start")
		c.Set(AgentStateKey, "running")
		c.Status(http.StatusOK)
	})

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/api/v1/agent/status"},
		{http.MethodPost, "/api/v1/agent/restart"},
		{http.MethodPost, "/api/v1/agent/start"},
	} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(req.method, req.path, nil))
	}

	spans := recorder.Ended()
	require.Len(t, spans, 3, "health checks are not traced")

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		byName[s.Name()] = s
	}
	require.Contains(t, byName, "GET /api/v1/agent/status")
	require.Contains(t, byName, "agent restart")
	require.Contains(t, byName, "agent start")

	restart := byName["agent restart"]
	assert.Equal(t, codes.Error, restart.Status().Code)
	assert.Equal(t, "NOT_READY", restart.Status().Description)
	assert.Contains(t, restart.Attributes(), attribute.String(ErrorCodeKey, "NOT_READY"))

	start := byName["agent start"]
	assert.Equal(t, codes.Unset, start.Status().Code)
	assert.Contains(t, start.Attributes(), attribute.String(AgentStateKey, "running"))
	assert.Contains(t, start.Attributes(), attribute.String(AgentCommandKey, "start"))
}

func TestIsLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:7420", true},
		{"https://[::1]:8443", true},
		{"https://evil.example.com", false},
		{"http://localhost.evil.example.com", false},
		{"http://192.168.1.10", false},
		{"null", false},
		{"file://localhost", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/agent/start", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, IsLocalOrigin(req), tt.origin)
	}
}

func TestLocalOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(LocalOrigin())
	var hits int
	r.POST("/start", func(c *gin.Context) {
		hits++
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/start", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "FORBIDDEN")
	assert.Zero(t, hits)

	req = httptest.NewRequest(http.MethodPost, "/start", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, hits)
}
