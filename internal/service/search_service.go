// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"

	"rag-chat-go/internal/model"
	"rag-chat-go/internal/repository"
	"rag-chat-go/pkg/embedding"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/metrics"
	"rag-chat-go/pkg/vectorstore"
)

// SearchService 负责语义检索，同时实现 Retriever。
type SearchService interface {
	Retriever
}

type searchService struct {
	embeddingClient embedding.Client
	store           vectorstore.Store
	docRepo         repository.DocumentRepository
	metrics         *metrics.Metrics
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embeddingClient embedding.Client, store vectorstore.Store, docRepo repository.DocumentRepository, m *metrics.Metrics) SearchService {
	return &searchService{
		embeddingClient: embeddingClient,
		store:           store,
		docRepo:         docRepo,
		metrics:         m,
	}
}

// Retrieve 向量化查询后在用户自己的文档片段中检索 topK 条结果。
func (s *searchService) Retrieve(ctx context.Context, userID uint, query string, topK int) ([]model.RetrievedChunk, error) {
	log.Infof("[SearchService] 开始检索, query: '%s', topK: %d, user: %d", query, topK, userID)

	// 1. 向量化查询
	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, err
	}

	// 2. 向量库检索
	chunks, err := s.store.Search(ctx, vectorstore.Query{
		Vector: queryVector.Vector(),
		Text:   query,
		UserID: userID,
		TopK:   topK,
	})
	if err != nil {
		log.Errorf("[SearchService] 向量库检索失败: %v", err)
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	// 3. 补全缺失的文件名
	if err := s.fillFilenames(ctx, chunks); err != nil {
		log.Warnf("[SearchService] 补全文件名失败: %v", err)
	}

	s.metrics.ObserveRetrieval(len(chunks))
	log.Infof("[SearchService] 检索完成, 返回 %d 条结果", len(chunks))
	return chunks, nil
}

func (s *searchService) fillFilenames(ctx context.Context, chunks []model.RetrievedChunk) error {
	var missing []string
	seen := make(map[string]struct{})
	for _, c := range chunks {
		if c.Filename != "" {
			continue
		}
		if _, ok := seen[c.DocumentID]; !ok {
			seen[c.DocumentID] = struct{}{}
			missing = append(missing, c.DocumentID)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	docs, err := s.docRepo.FindByIDs(ctx, missing)
	if err != nil {
		return err
	}
	names := make(map[string]string, len(docs))
	for _, d := range docs {
		names[d.ID] = d.Filename
	}
	for i := range chunks {
		if chunks[i].Filename == "" {
			chunks[i].Filename = names[chunks[i].DocumentID]
		}
	}
	return nil
}
