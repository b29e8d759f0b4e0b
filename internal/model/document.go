package model

import (
	"iter"
	"time"

	"rag-chat-go/internal/chunker"
)

const previewLength = 200

// Document 是用户上传的一份文档，Chunks 总是由 Content 实时计算。
type Document struct {
	ID        string
	Filename  string
	Content   string
	UserID    uint
	CreatedAt time.Time
}

// Chunks 按 targetSize 切分当前正文。
func (d *Document) Chunks(targetSize int) iter.Seq[string] {
	return chunker.Split(d.Content, targetSize)
}

// Preview 返回正文前 200 个字符。
func (d *Document) Preview() string {
	return truncateRunes(d.Content, previewLength)
}
