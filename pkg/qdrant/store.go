// Package qdrant 使用 Qdrant 作为文档片段的向量库。
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"rag-chat-go/internal/config"
	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/vectorstore"
)

const (
	vectorName = "content"
	batchSize  = 100
)

var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Store 基于 Qdrant gRPC 客户端实现 vectorstore.Store。
type Store struct {
	client     *qdrant.Client
	collection string
	dims       int
}

// NewStore 连接 Qdrant 并在启动时做健康检查，失败会按指数退避重试。
func NewStore(cfg config.QdrantConfig, dims int) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	s := &Store{client: client, collection: cfg.Collection, dims: dims}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(func() error { return s.Health(context.Background()) }, b); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant unreachable: %w", err)
	}
	return s, nil
}

// Health 执行一次健康检查。
func (s *Store) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return errors.New("health check returned invalid response")
	}
	return nil
}

// EnsureCollection 创建集合与 payload 索引，已存在时直接返回。
func (s *Store) EnsureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == s.collection {
			log.Infof("[Qdrant] 集合 '%s' 已存在", s.collection)
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(s.dims),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	indexes := map[string]qdrant.FieldType{
		"document_id": qdrant.FieldType_FieldTypeKeyword,
		"user_id":     qdrant.FieldType_FieldTypeInteger,
	}
	for field, fieldType := range indexes {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      fieldType.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	log.Infof("[Qdrant] 集合 '%s' 创建成功", s.collection)
	return nil
}

// pointID 把片段 ID 映射为稳定的 UUID，重复写入同一片段会覆盖旧点。
func pointID(r vectorstore.Record) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(r.ID())).String()
}

// Upsert 以 100 个点为一批写入。
func (s *Store) Upsert(ctx context.Context, records []vectorstore.Record) error {
	for i, r := range records {
		if len(r.Vector) != s.dims {
			return fmt.Errorf("%w: record %d has %d dimensions, expected %d", ErrDimensionMismatch, i, len(r.Vector), s.dims)
		}
	}
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		points := make([]*qdrant.PointStruct, 0, end-start)
		for _, r := range records[start:end] {
			points = append(points, &qdrant.PointStruct{
				Id: qdrant.NewIDUUID(pointID(r)),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					vectorName: qdrant.NewVector(r.Vector...),
				}),
				Payload: qdrant.NewValueMap(map[string]any{
					"document_id":   r.DocumentID,
					"filename":      r.Filename,
					"chunk_id":      int64(r.ChunkID),
					"text_content":  r.Text,
					"model_version": r.Model,
					"user_id":       int64(r.UserID),
				}),
			})
		}
		if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// Search 在用户自己的文档中做余弦相似度检索。
func (s *Store) Search(ctx context.Context, q vectorstore.Query) ([]model.RetrievedChunk, error) {
	if len(q.Vector) != s.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d", ErrDimensionMismatch, len(q.Vector), s.dims)
	}
	using := vectorName
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(q.Vector...),
		Using:          &using,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchInt("user_id", int64(q.UserID))},
		},
		Limit:       qdrant.PtrOf(uint64(q.TopK)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	chunks := make([]model.RetrievedChunk, 0, len(results))
	for _, r := range results {
		p := r.Payload
		chunks = append(chunks, model.RetrievedChunk{
			DocumentID: p["document_id"].GetStringValue(),
			Filename:   p["filename"].GetStringValue(),
			ChunkID:    int(p["chunk_id"].GetIntegerValue()),
			Text:       p["text_content"].GetStringValue(),
			Score:      model.ClampScore(float64(r.Score)),
		})
	}
	return chunks, nil
}

// DeleteByDocument 删除某个文档的全部片段。
func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to delete chunks of document %s: %w", documentID, err)
	}
	return nil
}

// Close 关闭 gRPC 连接。
func (s *Store) Close() error {
	return s.client.Close()
}
