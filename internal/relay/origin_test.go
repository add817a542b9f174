package relay

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func originRouter(allowed ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(OriginFilter(allowed))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func originRequest(router *gin.Engine, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/health", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestOriginFilterAllowsListedOrigin(t *testing.T) {
	router := originRouter("https://gema.example.com")

	w := originRequest(router, http.MethodGet, "https://gema.example.com")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://gema.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
}

func TestOriginFilterRejectsUnknownOrigin(t *testing.T) {
	router := originRouter("https://gema.example.com")

	w := originRequest(router, http.MethodGet, "https://evil.example.net")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginFilterPassesNativeClients(t *testing.T) {
	// The host and viewer binaries send no Origin header at all.
	router := originRouter("https://gema.example.com")

	w := originRequest(router, http.MethodGet, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginFilterPreflight(t *testing.T) {
	router := originRouter("https://gema.example.com")

	w := originRequest(router, http.MethodOptions, "https://gema.example.com")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://gema.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginFilterWildcard(t *testing.T) {
	router := originRouter("*")

	w := originRequest(router, http.MethodGet, "http://localhost:3000")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
