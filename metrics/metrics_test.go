package metrics_test

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/cmwaters/bnms/metrics"
	bnerrors "github.com/cmwaters/bnms/pkg/errors"
)

func TestObserveFlow(t *testing.T) {
	m := metrics.New()
	start := time.Now()
	m.ObserveFlow("CreateNetwork", start, nil)
	m.ObserveFlow("CreateNetwork", start, bnerrors.DuplicateRequest("network %q exists", "n"))
	m.ObserveFlow("CreateNetwork", start, errors.New("boom"))

	require.Equal(t, 1.0, testutil.ToFloat64(m.FlowTotal.WithLabelValues("CreateNetwork", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.FlowTotal.WithLabelValues("CreateNetwork", "duplicate_request")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.FlowTotal.WithLabelValues("CreateNetwork", "error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveFlow("x", time.Now(), nil)
	m.ObserveConflict()
	m.ObserveSync(metrics.DirectionSent, 3)
}

func TestHandlerExposesMeters(t *testing.T) {
	m := metrics.New()
	m.ObserveConflict()
	m.ObserveSync(metrics.DirectionReceived, 2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	require.True(t, strings.Contains(body, "bnms_notary_conflicts_total 1"))
	require.True(t, strings.Contains(body, `bnms_sync_states_total{direction="received"} 2`))
}
