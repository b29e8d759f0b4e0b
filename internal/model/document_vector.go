package model

// DocumentVector 对应 document_vectors 表，每行是一个文档片段。
type DocumentVector struct {
	VectorID     uint   `gorm:"primaryKey;autoIncrement;column:vector_id"`
	DocumentID   string `gorm:"type:varchar(36);not null;index;column:document_id"`
	ChunkID      int    `gorm:"not null;column:chunk_id"`
	TextContent  string `gorm:"type:text;column:text_content"`
	ModelVersion string `gorm:"type:varchar(64);column:model_version"`
	UserID       uint   `gorm:"not null;column:user_id"`
}

func (DocumentVector) TableName() string {
	return "document_vectors"
}
