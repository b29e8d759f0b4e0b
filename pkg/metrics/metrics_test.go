package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordAndExpose(t *testing.T) {
	m := New()
	m.ObserveTurn("sync", "COMMITTED", 150*time.Millisecond)
	m.ObserveTurn("sync", "FAILED", time.Second)
	m.ObserveTurn("sync", "COMMITTED", time.Second)
	m.AddStreamDeltas(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turns.WithLabelValues("sync", "COMMITTED")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.streamDeltas))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `rag_chat_turns_total{mode="sync",state="FAILED"} 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTurn("stream", "COMMITTED", time.Second)
		m.AddStreamDeltas(1)
		m.ObserveRetrieval(3)
		m.ObserveEmbeddingBatch(10)
		m.DocumentProcessed("ok")
		m.ObserveHTTP("GET", "/", "200")
	})
}
