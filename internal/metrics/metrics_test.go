package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-docparser/pkg/schema"
)

func TestDoneCountsOutcomes(t *testing.T) {
	m := New()
	m.Done(schema.JobDone{JobID: "a", TotalProcessed: 2, TotalPages: 7})
	m.Done(schema.JobDone{JobID: "b", Error: "boom", Stage: schema.StageInput})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("succeeded", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("failed", "input")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.documents))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.pages))
}

func TestLifecycleObservesStages(t *testing.T) {
	m := New()
	m.Lifecycle(schema.JobLifecycleEvent{Stage: schema.StageConvert, ProcessingStart: 1000, ProcessingEnd: 3500})
	m.Lifecycle(schema.JobLifecycleEvent{Stage: schema.StagePublish, ProcessingStart: 0, ProcessingEnd: 10, Error: "denied"})
	m.Lifecycle(schema.JobLifecycleEvent{Stage: schema.StageCompleted, ProcessingStart: 0, ProcessingEnd: 10})

	assert.Equal(t, 2, testutil.CollectAndCount(m.stageDuration))
}

func TestReleasesAndInFlight(t *testing.T) {
	m := New()
	m.WorkspaceReleased("a", nil)
	m.WorkspaceReleased("b", errors.New("busy"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.releases.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.releases.WithLabelValues("error")))

	done := m.Track()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Done(schema.JobDone{JobID: "a", TotalProcessed: 1})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "docparser_jobs_total"), "metrics body missing jobs counter")
}
