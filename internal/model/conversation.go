// Package model 包含领域对象、数据库记录以及错误定义。
package model

import (
	"time"

	"github.com/google/uuid"
)

// DefaultConversationTitle 是新对话的占位标题，首条用户消息会替换它。
const DefaultConversationTitle = "New Conversation"

const autoTitleLength = 20

// Clock 返回当前时间，测试中可以注入固定时钟。
type Clock func() time.Time

// IDGenerator 生成新的实体 ID。
type IDGenerator func() string

// NewID 生成一个 UUID 字符串。
func NewID() string {
	return uuid.NewString()
}

// Conversation 是对话聚合根，独占其消息列表。
// 它不是并发安全的，同一对话的多个轮次需要由调用方串行化。
type Conversation struct {
	ID        string
	UserID    uint
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  map[string]any

	messages []ChatMessage
	titleSet bool
	now      Clock
	newID    IDGenerator
}

// ConversationOption 定制 NewConversation / RestoreConversation 的行为。
type ConversationOption func(*Conversation)

func WithClock(c Clock) ConversationOption {
	return func(conv *Conversation) { conv.now = c }
}

func WithIDGenerator(g IDGenerator) ConversationOption {
	return func(conv *Conversation) { conv.newID = g }
}

// WithTitle 使用自定义标题创建对话，此后首条用户消息不再改写标题。
// 标题需要事先通过 ValidateTitle 校验。
func WithTitle(title string) ConversationOption {
	return func(conv *Conversation) {
		if title != "" {
			conv.Title = title
		}
	}
}

// NewConversation 创建一个属于 userID 的空对话。
func NewConversation(userID uint, opts ...ConversationOption) *Conversation {
	conv := &Conversation{
		UserID:   userID,
		Title:    DefaultConversationTitle,
		Metadata: map[string]any{},
		now:      time.Now,
		newID:    NewID,
	}
	for _, opt := range opts {
		opt(conv)
	}
	conv.ID = conv.newID()
	conv.CreatedAt = conv.now()
	conv.UpdatedAt = conv.CreatedAt
	return conv
}

// WithTitleSet 恢复对话时指明标题是否已经确定（手动设置或已由首条用户消息生成）。
func WithTitleSet(set bool) ConversationOption {
	return func(conv *Conversation) { conv.titleSet = set }
}

// RestoreConversation 用持久化的状态重建聚合，供仓储层使用。
// messages 可以只是最近的一段历史。未传 WithTitleSet 时，
// 标题不是占位值或已有用户消息即视为已确定。
func RestoreConversation(id string, userID uint, title string, createdAt, updatedAt time.Time,
	metadata map[string]any, messages []ChatMessage, opts ...ConversationOption) *Conversation {
	if metadata == nil {
		metadata = map[string]any{}
	}
	conv := &Conversation{
		ID:        id,
		UserID:    userID,
		Title:     title,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Metadata:  metadata,
		messages:  append([]ChatMessage(nil), messages...),
		now:       time.Now,
		newID:     NewID,
	}
	conv.titleSet = title != DefaultConversationTitle
	for _, m := range messages {
		if m.Role == RoleUser {
			conv.titleSet = true
		}
	}
	for _, opt := range opts {
		opt(conv)
	}
	return conv
}

// AddMessage 追加一条消息并推进 UpdatedAt。
// 标题尚未确定时，首条用户消息的前 20 个字符成为标题。
func (c *Conversation) AddMessage(role Role, content string) ChatMessage {
	ts := c.now()
	// 时钟回拨时保持时间戳单调不减
	if n := len(c.messages); n > 0 && ts.Before(c.messages[n-1].CreatedAt) {
		ts = c.messages[n-1].CreatedAt
	}
	if ts.Before(c.UpdatedAt) {
		ts = c.UpdatedAt
	}

	msg := ChatMessage{
		ID:        c.newID(),
		Role:      role,
		Content:   content,
		CreatedAt: ts,
	}
	c.messages = append(c.messages, msg)
	c.UpdatedAt = ts

	if role == RoleUser && !c.titleSet {
		c.Title = truncateRunes(content, autoTitleLength)
		c.titleSet = true
	}
	return msg
}

func (c *Conversation) AddUserMessage(content string) ChatMessage {
	return c.AddMessage(RoleUser, content)
}

func (c *Conversation) AddAssistantMessage(content string) ChatMessage {
	return c.AddMessage(RoleAssistant, content)
}

// LastUserMessage 从最新消息向前查找最近一条用户消息。
func (c *Conversation) LastUserMessage() (ChatMessage, bool) {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleUser {
			return c.messages[i], true
		}
	}
	return ChatMessage{}, false
}

func (c *Conversation) MessageCount() int {
	return len(c.messages)
}

// Messages 返回消息列表的副本。
func (c *Conversation) Messages() []ChatMessage {
	return append([]ChatMessage(nil), c.messages...)
}

// RecentMessages 返回最近 n 条消息，按时间正序。n <= 0 时返回全部。
func (c *Conversation) RecentMessages(n int) []ChatMessage {
	if n <= 0 || n >= len(c.messages) {
		return c.Messages()
	}
	return append([]ChatMessage(nil), c.messages[len(c.messages)-n:]...)
}

// Rename 修改标题。手动设置的标题不会再被自动覆盖。
func (c *Conversation) Rename(title string) error {
	if err := ValidateTitle(title); err != nil {
		return err
	}
	c.Title = title
	c.titleSet = true
	ts := c.now()
	if ts.After(c.UpdatedAt) {
		c.UpdatedAt = ts
	}
	return nil
}

// HasDefaultTitle 报告标题是否仍待首条用户消息生成。
// 手动改回占位文字的标题也算已确定。
func (c *Conversation) HasDefaultTitle() bool {
	return !c.titleSet
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
