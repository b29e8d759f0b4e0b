// Package vectorstore 定义文档片段向量的存取接口，具体实现见 pkg/es 与 pkg/qdrant。
package vectorstore

import (
	"context"

	"rag-chat-go/internal/model"
)

// Record 是写入向量库的一个文档片段。
type Record struct {
	DocumentID string
	Filename   string
	ChunkID    int
	Text       string
	Vector     []float32
	Model      string
	UserID     uint
}

// ID 返回片段在向量库中的唯一标识。
func (r Record) ID() string {
	return model.ChunkVectorID(r.DocumentID, r.ChunkID)
}

// Query 描述一次相似度检索。Text 供支持关键词召回的实现使用。
type Query struct {
	Vector []float32
	Text   string
	UserID uint
	TopK   int
}

// Store 是外部向量库的抽象。Search 返回的结果按相关度降序，Score 位于 [0,1]。
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, q Query) ([]model.RetrievedChunk, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}
