package model

// RetrievedChunk 是检索返回的一个文档片段，Score 位于 [0,1]。
type RetrievedChunk struct {
	DocumentID string  `json:"documentId"`
	Filename   string  `json:"filename"`
	ChunkID    int     `json:"chunkId"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// ClampScore 把相似度截断到 [0,1]。
func ClampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}
