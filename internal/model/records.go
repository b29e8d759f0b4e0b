package model

import "time"

// ConversationRecord 对应 conversations 表。
type ConversationRecord struct {
	ID        string         `gorm:"type:varchar(36);primaryKey"`
	UserID    uint           `gorm:"index;not null"`
	Title     string         `gorm:"type:varchar(200);not null"`
	TitleSet  bool           `gorm:"not null;default:false"`
	Metadata  map[string]any `gorm:"serializer:json"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"index;not null"`
}

func (ConversationRecord) TableName() string {
	return "conversations"
}

// MessageRecord 对应 messages 表。Position 用于时间戳相同时保持插入顺序。
type MessageRecord struct {
	ID             string    `gorm:"type:varchar(36);primaryKey"`
	ConversationID string    `gorm:"type:varchar(36);index:idx_conversation_position,priority:1;not null"`
	Position       int       `gorm:"index:idx_conversation_position,priority:2;not null"`
	Role           string    `gorm:"type:varchar(16);not null"`
	Content        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (MessageRecord) TableName() string {
	return "messages"
}

// ToMessage 转换为领域消息，遇到未知角色时返回错误。
func (r MessageRecord) ToMessage() (ChatMessage, error) {
	role, err := ParseRole(r.Role)
	if err != nil {
		return ChatMessage{}, err
	}
	return ChatMessage{ID: r.ID, Role: role, Content: r.Content, CreatedAt: r.CreatedAt}, nil
}

// DocumentRecord 对应 documents 表。Status 记录异步处理进度。
type DocumentRecord struct {
	ID          string     `gorm:"type:varchar(36);primaryKey"`
	UserID      uint       `gorm:"uniqueIndex:idx_user_filename,priority:1;not null"`
	Filename    string     `gorm:"type:varchar(255);uniqueIndex:idx_user_filename,priority:2;not null"`
	Content     string     `gorm:"type:longtext"`
	ObjectName  string     `gorm:"type:varchar(255)"`
	Size        int64      `gorm:"not null"`
	Status      int        `gorm:"type:tinyint;not null;default:0"`
	ChunkCount  int        `gorm:"not null;default:0"`
	CreatedAt   time.Time  `gorm:"not null"`
	ProcessedAt *time.Time `gorm:"default:null"`
}

// 文档处理状态
const (
	DocumentStatusPending   = 0
	DocumentStatusProcessed = 1
	DocumentStatusFailed    = 2
)

func (DocumentRecord) TableName() string {
	return "documents"
}

func (r DocumentRecord) ToDocument() *Document {
	return &Document{
		ID:        r.ID,
		Filename:  r.Filename,
		Content:   r.Content,
		UserID:    r.UserID,
		CreatedAt: r.CreatedAt,
	}
}
