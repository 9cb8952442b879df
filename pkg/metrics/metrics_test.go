package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.Deliveries.WithLabelValues("user").Inc()
	m.Deliveries.WithLabelValues("user").Inc()
	m.Connections.Set(3)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("user")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.Connections))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", m.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "chat_deliveries_total")
}

func TestNewIsIndependent(t *testing.T) {
	a, b := New(), New()
	a.RateLimited.Inc()
	require.Equal(t, 0.0, testutil.ToFloat64(b.RateLimited))
}
