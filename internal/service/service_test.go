package service

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/vectorstore"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.ConversationRecord{},
		&model.MessageRecord{},
		&model.DocumentRecord{},
		&model.DocumentVector{},
	))
	return db
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// fakeRetriever 返回固定的检索结果并记录调用参数。
type fakeRetriever struct {
	chunks []model.RetrievedChunk
	err    error

	mu      sync.Mutex
	queries []string
	userIDs []uint
}

func (r *fakeRetriever) Retrieve(_ context.Context, userID uint, query string, _ int) ([]model.RetrievedChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	r.userIDs = append(r.userIDs, userID)
	if r.err != nil {
		return nil, r.err
	}
	return r.chunks, nil
}

// fakeGenerator 把 parts 作为流式增量返回，Generate 返回它们的拼接。
// failAt >= 0 时在第 failAt 个增量处返回 err。
type fakeGenerator struct {
	parts  []string
	err    error
	failAt int

	mu          sync.Mutex
	histories   [][]model.ChatMessage
	contexts    []string
	streamsOpen int
}

func newFakeGenerator(parts ...string) *fakeGenerator {
	return &fakeGenerator{parts: parts, failAt: -1}
}

func (g *fakeGenerator) record(history []model.ChatMessage, contextText string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.histories = append(g.histories, history)
	g.contexts = append(g.contexts, contextText)
}

func (g *fakeGenerator) lastHistory() []model.ChatMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.histories[len(g.histories)-1]
}

func (g *fakeGenerator) lastContext() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.contexts[len(g.contexts)-1]
}

func (g *fakeGenerator) Generate(_ context.Context, history []model.ChatMessage, contextText string) (string, error) {
	g.record(history, contextText)
	if g.err != nil {
		return "", &model.GenerationError{Model: "fake", Err: g.err}
	}
	var out string
	for _, p := range g.parts {
		out += p
	}
	return out, nil
}

func (g *fakeGenerator) GenerateStream(_ context.Context, history []model.ChatMessage, contextText string) iter.Seq2[string, error] {
	g.record(history, contextText)
	return func(yield func(string, error) bool) {
		g.mu.Lock()
		g.streamsOpen++
		g.mu.Unlock()
		defer func() {
			g.mu.Lock()
			g.streamsOpen--
			g.mu.Unlock()
		}()
		for i, p := range g.parts {
			if i == g.failAt {
				yield("", &model.GenerationError{Model: "fake", Err: g.err})
				return
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (g *fakeGenerator) openStreams() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.streamsOpen
}

var errUpstream = errors.New("upstream unavailable")

// fakeStore 是内存向量库，Search 按 Records 顺序返回当前用户的片段。
type fakeStore struct {
	mu      sync.Mutex
	records []vectorstore.Record
	deleted []string
	queries []vectorstore.Query
	err     error
}

func (s *fakeStore) Upsert(_ context.Context, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, records...)
	return nil
}

func (s *fakeStore) Search(_ context.Context, q vectorstore.Query) ([]model.RetrievedChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	var out []model.RetrievedChunk
	for _, r := range s.records {
		if r.UserID != q.UserID {
			continue
		}
		out = append(out, model.RetrievedChunk{DocumentID: r.DocumentID, ChunkID: r.ChunkID, Text: r.Text, Score: 0.5})
		if len(out) == q.TopK {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteByDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.deleted = append(s.deleted, documentID)
	kept := s.records[:0]
	for _, r := range s.records {
		if r.DocumentID != documentID {
			kept = append(kept, r)
		}
	}
	s.records = kept
	return nil
}

// fakeEmbedder 为每段文本生成长度固定的向量。
type fakeEmbedder struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (e *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) (model.Embedding, error) {
	out, err := e.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return model.Embedding{}, err
	}
	return out[0], nil
}

func (e *fakeEmbedder) CreateEmbeddings(_ context.Context, texts []string) ([]model.Embedding, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, &model.EmbeddingError{Model: "fake", Err: e.err}
	}
	out := make([]model.Embedding, len(texts))
	for i, text := range texts {
		out[i] = model.NewEmbedding([]float32{float32(len(text)), 1, 0}, "fake", text)
	}
	return out, nil
}
