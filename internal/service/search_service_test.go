package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-chat-go/internal/model"
	"rag-chat-go/internal/repository"
	"rag-chat-go/pkg/vectorstore"
)

func TestSearchService_RetrieveFillsFilenames(t *testing.T) {
	ctx := context.Background()
	docRepo := repository.NewDocumentRepository(newTestDB(t))
	require.NoError(t, docRepo.Save(ctx, &model.DocumentRecord{
		ID: "doc-1", UserID: 1, Filename: "policy.md", Size: 1, CreatedAt: time.Now(),
	}))

	store := &fakeStore{records: []vectorstore.Record{
		{DocumentID: "doc-1", ChunkID: 0, Text: "Refunds within 30 days", UserID: 1},
		{DocumentID: "doc-1", ChunkID: 1, Text: "Exchanges allowed", UserID: 1},
		{DocumentID: "doc-2", ChunkID: 0, Text: "Someone else's notes", UserID: 2},
	}}
	embedder := &fakeEmbedder{}
	svc := NewSearchService(embedder, store, docRepo, nil)

	chunks, err := svc.Retrieve(ctx, 1, "refund", 5)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Equal(t, "policy.md", c.Filename)
		assert.Equal(t, "doc-1", c.DocumentID)
	}

	require.Len(t, store.queries, 1)
	q := store.queries[0]
	assert.Equal(t, uint(1), q.UserID)
	assert.Equal(t, 5, q.TopK)
	assert.Equal(t, "refund", q.Text)
	assert.Equal(t, []float32{6, 1, 0}, q.Vector)
}

func TestSearchService_RetrieveTopK(t *testing.T) {
	store := &fakeStore{records: []vectorstore.Record{
		{DocumentID: "d", ChunkID: 0, UserID: 1},
		{DocumentID: "d", ChunkID: 1, UserID: 1},
		{DocumentID: "d", ChunkID: 2, UserID: 1},
	}}
	svc := NewSearchService(&fakeEmbedder{}, store, repository.NewDocumentRepository(newTestDB(t)), nil)

	chunks, err := svc.Retrieve(context.Background(), 1, "q", 2)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestSearchService_RetrieveEmbeddingFailure(t *testing.T) {
	store := &fakeStore{}
	svc := NewSearchService(&fakeEmbedder{err: errUpstream}, store, repository.NewDocumentRepository(newTestDB(t)), nil)

	_, err := svc.Retrieve(context.Background(), 1, "q", 2)
	var embErr *model.EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Empty(t, store.queries, "store is not queried without a vector")
}

func TestSearchService_RetrieveStoreFailure(t *testing.T) {
	store := &fakeStore{err: errUpstream}
	svc := NewSearchService(&fakeEmbedder{}, store, repository.NewDocumentRepository(newTestDB(t)), nil)

	_, err := svc.Retrieve(context.Background(), 1, "q", 2)
	assert.ErrorIs(t, err, errUpstream)
}
