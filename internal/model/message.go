package model

import "time"

// ChatMessage 是对话中的单条消息，创建后不可修改。
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
