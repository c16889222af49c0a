package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/noah-isme/approvals-api/internal/service"
	"github.com/noah-isme/approvals-api/pkg/config"
)

func TestRouterGuardsRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Env: config.EnvProduction, APIPrefix: "/api/v1"}
	router := newRouter(cfg, zap.NewNop(), routerDeps{metrics: service.NewMetricsService()})

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{method: http.MethodGet, path: "/health", want: http.StatusOK},
		{method: http.MethodGet, path: "/ready", want: http.StatusOK},
		{method: http.MethodGet, path: "/metrics", want: http.StatusOK},
		{method: http.MethodGet, path: "/docs/index.html", want: http.StatusNotFound},
		{method: http.MethodPost, path: "/api/v1/changes", want: http.StatusUnauthorized},
		{method: http.MethodGet, path: "/api/v1/requests/mine", want: http.StatusUnauthorized},
		{method: http.MethodGet, path: "/api/v1/students", want: http.StatusUnauthorized},
		{method: http.MethodGet, path: "/api/v1/students/abc", want: http.StatusUnauthorized},
		{method: http.MethodGet, path: "/api/v1/admin/approvals", want: http.StatusUnauthorized},
		{method: http.MethodPost, path: "/api/v1/admin/changes/req-1/approve", want: http.StatusUnauthorized},
		{method: http.MethodPost, path: "/api/v1/admin/users/req-1/approve", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
