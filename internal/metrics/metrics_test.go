package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(nil)
	m.InboundMessage("created")
	m.InboundMessage("created")
	m.InboundMessage("duplicate")
	m.OutboundReply("sent")
	m.BlocksEmitted(12)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.inbound.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inbound.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outbound.WithLabelValues("sent")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.blocks))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.InboundMessage("created")
	m.OutboundReply("failed")
	m.BlocksEmitted(3)
	assert.Nil(t, m.Registry())
}

func TestServerEndpoints(t *testing.T) {
	m := New(nil)
	m.InboundMessage("ignored")
	srv := NewServer(":0", m, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `casesync_inbound_messages_total{action="ignored"} 1`), body)
}
