package es

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-chat-go/pkg/vectorstore"
)

// fakeES 模拟 Elasticsearch 的少量接口，并记录收到的请求。
type fakeES struct {
	mu          sync.Mutex
	indexExists bool
	paths       []string
	bodies      []string
	searchResp  string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)
	f.bodies = append(f.bodies, string(body))
	exists := f.indexExists
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodHead:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut:
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
	case strings.HasSuffix(r.URL.Path, "/_search"):
		_, _ = w.Write([]byte(f.searchResp))
	case strings.HasSuffix(r.URL.Path, "/_delete_by_query"):
		_, _ = w.Write([]byte(`{"deleted":2}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeES) recorded() (paths, bodies []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...), append([]string(nil), f.bodies...)
}

func newTestStore(t *testing.T, fake *fakeES) *Store {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewStore(client, "chunks", 3)
}

func TestEnsureIndex_CreatesWhenMissing(t *testing.T) {
	fake := &fakeES{}
	store := newTestStore(t, fake)

	require.NoError(t, store.EnsureIndex(context.Background()))
	paths, bodies := fake.recorded()
	require.Len(t, paths, 2)
	assert.Equal(t, "PUT /chunks", paths[1])
	assert.Contains(t, bodies[1], `"dims": 3`)
}

func TestEnsureIndex_Existing(t *testing.T) {
	fake := &fakeES{indexExists: true}
	store := newTestStore(t, fake)

	require.NoError(t, store.EnsureIndex(context.Background()))
	paths, _ := fake.recorded()
	assert.Len(t, paths, 1)
}

func TestSearch_CosineScoresAndFiltersByUser(t *testing.T) {
	fake := &fakeES{searchResp: `{"hits":{"hits":[
		{"_score": 8.0, "_source": {"document_id":"d2","filename":"faq.md","chunk_id":3,"text_content":"shipping","vector":[0,0,0.3]}},
		{"_score": 2.0, "_source": {"document_id":"d1","filename":"refunds.md","chunk_id":0,"text_content":"refund within 30 days","vector":[0.2,0.4,0.6]}}
	]}}`}
	store := newTestStore(t, fake)

	hits, err := store.Search(context.Background(), vectorstore.Query{
		Vector: []float32{0.1, 0.2, 0.3}, Text: "What is the refund policy?", UserID: 42, TopK: 2,
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.InDelta(t, 0.3/math.Sqrt(0.14), hits[1].Score, 1e-6)
	assert.Equal(t, "refunds.md", hits[0].Filename, "ordered by similarity, not by hybrid score")
	assert.Equal(t, 3, hits[1].ChunkID)

	_, bodies := fake.recorded()
	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(bodies[0]), &sent))
	knn := sent["knn"].(map[string]any)
	assert.Equal(t, float64(42), knn["filter"].(map[string]any)["term"].(map[string]any)["user_id"])
	assert.Contains(t, bodies[0], `"what is the refund policy"`)
}

func TestSearch_WeakMatchIsNotInflated(t *testing.T) {
	fake := &fakeES{searchResp: `{"hits":{"hits":[
		{"_score": 12.5, "_source": {"document_id":"d1","filename":"a.md","chunk_id":0,"text_content":"x","vector":[1,0,0]}},
		{"_score": 3.0, "_source": {"document_id":"d2","filename":"b.md","chunk_id":0,"text_content":"y","vector":[-1,0,0]}}
	]}}`}
	store := newTestStore(t, fake)

	hits, err := store.Search(context.Background(), vectorstore.Query{
		Vector: []float32{0.1, 1, 0}, Text: "unrelated", UserID: 1, TopK: 2,
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Less(t, hits[0].Score, 0.2, "best hit keeps its own similarity")
	assert.Equal(t, 0.0, hits[1].Score)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosine([]float32{1, 0}, []float32{1}))
	assert.Equal(t, 0.0, cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestUpsertAndDelete(t *testing.T) {
	fake := &fakeES{}
	store := newTestStore(t, fake)
	ctx := context.Background()

	err := store.Upsert(ctx, []vectorstore.Record{
		{DocumentID: "d1", Filename: "a.md", ChunkID: 0, Text: "hello", Vector: []float32{1, 0, 0}, UserID: 1},
		{DocumentID: "d1", Filename: "a.md", ChunkID: 1, Text: "world", Vector: []float32{0, 1, 0}, UserID: 1},
	})
	require.NoError(t, err)
	_, bodies := fake.recorded()
	assert.Equal(t, 4, strings.Count(bodies[0], "\n"))
	assert.Contains(t, bodies[0], `"_id":"d1_1"`)

	require.NoError(t, store.DeleteByDocument(ctx, "d1"))
	_, bodies = fake.recorded()
	assert.Contains(t, bodies[1], `"document_id":"d1"`)
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "退款 政策是什么", normalizeQuery("退款, 政策是什么？"))
	assert.Equal(t, "hello world", normalizeQuery("  Hello,   World! "))
	assert.Equal(t, "???", normalizeQuery("???"))
}
