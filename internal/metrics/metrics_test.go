package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopWhenDisabled(t *testing.T) {
	m := NewNoopFSMetrics()
	m.RecordOpen("STATUS_OK", time.Millisecond)
	m.RecordRetry("sharing")
	m.SetPendingWaits(3)
	assert.IsType(t, noopFSMetrics{}, m)
}

func TestPrometheusEndpoint(t *testing.T) {
	InitRegistry()
	m := NewFSMetrics()
	m.RecordOpen("STATUS_SHARING_VIOLATION", 2*time.Millisecond)
	m.RecordOplockBreak("level2")
	m.RecordSearchExpired()

	srv := NewServer("127.0.0.1:0")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `pvfs_opens_total{status="STATUS_SHARING_VIOLATION"} 1`)
	assert.Contains(t, body, `pvfs_oplock_breaks_total{level="level2"} 1`)
	assert.Contains(t, body, "pvfs_search_expired_total 1")
}
