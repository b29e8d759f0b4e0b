package model

import "fmt"

// EsDocument 是写入 Elasticsearch 的片段结构。
type EsDocument struct {
	VectorID     string    `json:"vector_id"` // documentId + chunkId
	DocumentID   string    `json:"document_id"`
	Filename     string    `json:"filename"`
	ChunkID      int       `json:"chunk_id"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
	UserID       uint      `json:"user_id"`
}

// ChunkVectorID 生成片段在向量库中的唯一标识。
func ChunkVectorID(documentID string, chunkID int) string {
	return fmt.Sprintf("%s_%d", documentID, chunkID)
}
