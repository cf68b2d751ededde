package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.ObserveCall("aria2.tellStatus", 15*time.Millisecond, ResultSuccess)
	pr.IncPoll("p1", ResultSuccess)
	pr.IncPoll("p1", ResultSuccess)
	pr.IncPoll("p1", ResultTransport)
	pr.IncSubmission("bt", ResultSuccess)
	pr.IncResubmission("p1")
	pr.IncReconcile("p1", true)
	pr.SetPoolConnected("p1", true)
	pr.SetTasks("active", 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(pr.polls.WithLabelValues("p1", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.poolConnected.WithLabelValues("p1")))
	assert.Equal(t, 4.0, testutil.ToFloat64(pr.tasks.WithLabelValues("active")))

	pr.SetPoolConnected("p1", false)
	assert.Zero(t, testutil.ToFloat64(pr.poolConnected.WithLabelValues("p1")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestHTTPHandler(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).IncResubmission("p1")

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `ariasync_resubmissions_total{pool="p1"} 1`)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	assert.NotPanics(t, func() {
		pr.IncPoll("p", ResultSuccess)
		pr.SetPoolConnected("p", true)
	})
	var _ Recorder = NoopRecorder{}
	var _ Recorder = pr
}
