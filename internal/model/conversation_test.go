package model

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock 每次调用前进 step，可通过 rewind 模拟时钟回拨。
type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func sequentialIDs(prefix string) IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newTestConversation(opts ...ConversationOption) (*Conversation, *stepClock) {
	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Second}
	base := []ConversationOption{WithClock(clock.Now), WithIDGenerator(sequentialIDs("id"))}
	return NewConversation(7, append(base, opts...)...), clock
}

func TestNewConversation(t *testing.T) {
	conv, _ := newTestConversation()
	assert.Equal(t, "id-1", conv.ID)
	assert.Equal(t, uint(7), conv.UserID)
	assert.Equal(t, DefaultConversationTitle, conv.Title)
	assert.True(t, conv.HasDefaultTitle())
	assert.Equal(t, conv.CreatedAt, conv.UpdatedAt)
	assert.Zero(t, conv.MessageCount())
	assert.NotNil(t, conv.Metadata)
}

func TestAddUserMessage_SetsTitleOnce(t *testing.T) {
	conv, _ := newTestConversation()

	conv.AddUserMessage("What is the refund policy?")
	assert.Equal(t, "What is the refund p", conv.Title)

	conv.AddUserMessage("And what about shipping costs?")
	assert.Equal(t, "What is the refund p", conv.Title, "title is derived only once")
}

func TestAddUserMessage_ShortContentTitle(t *testing.T) {
	conv, _ := newTestConversation()
	conv.AddUserMessage("Hi")
	assert.Equal(t, "Hi", conv.Title)
}

func TestAddUserMessage_TitleCountsCharacters(t *testing.T) {
	conv, _ := newTestConversation()
	conv.AddUserMessage("退款政策是什么？请详细说明一下退款的流程和时间限制")
	assert.Equal(t, "退款政策是什么？请详细说明一下退款的流程", conv.Title)
}

func TestAddAssistantMessage_DoesNotSetTitle(t *testing.T) {
	conv, _ := newTestConversation()
	conv.AddAssistantMessage("Hello, how can I help?")
	assert.True(t, conv.HasDefaultTitle())

	conv.AddUserMessage("Refunds please")
	assert.Equal(t, "Refunds please", conv.Title)
}

func TestCustomTitleIsNeverOverwritten(t *testing.T) {
	conv, _ := newTestConversation(WithTitle("Billing questions"))
	conv.AddUserMessage("What is the refund policy?")
	assert.Equal(t, "Billing questions", conv.Title)
}

func TestRenameToPlaceholderTextIsKept(t *testing.T) {
	conv, _ := newTestConversation()
	require.NoError(t, conv.Rename(DefaultConversationTitle))
	assert.False(t, conv.HasDefaultTitle())

	conv.AddUserMessage("What is the refund policy?")
	assert.Equal(t, DefaultConversationTitle, conv.Title)
}

func TestRestoreConversation_TitleSet(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	fresh := RestoreConversation("c1", 3, DefaultConversationTitle, created, created, nil, nil)
	fresh.AddUserMessage("Shipping times")
	assert.Equal(t, "Shipping times", fresh.Title)

	renamed := RestoreConversation("c2", 3, DefaultConversationTitle, created, created, nil, nil, WithTitleSet(true))
	renamed.AddUserMessage("Shipping times")
	assert.Equal(t, DefaultConversationTitle, renamed.Title)
}

func TestAddMessage_OrderingAndTimestamps(t *testing.T) {
	conv, _ := newTestConversation()
	const n = 25
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		conv.AddMessage(role, fmt.Sprintf("message %d", i))
	}

	require.Equal(t, n, conv.MessageCount())
	msgs := conv.Messages()
	for i := range msgs {
		assert.Equal(t, fmt.Sprintf("message %d", i), msgs[i].Content)
		if i > 0 {
			assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
		}
	}
	assert.Equal(t, msgs[n-1].CreatedAt, conv.UpdatedAt)
}

func TestAddMessage_ClockRegressionIsClamped(t *testing.T) {
	conv, clock := newTestConversation()
	first := conv.AddUserMessage("first")

	clock.now = clock.now.Add(-time.Hour)
	second := conv.AddAssistantMessage("second")

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, first.CreatedAt, conv.UpdatedAt)
}

func TestAddMessage_AdvancesUpdatedAt(t *testing.T) {
	conv, _ := newTestConversation()
	before := conv.UpdatedAt
	msg := conv.AddUserMessage("hello")
	assert.True(t, conv.UpdatedAt.After(before))
	assert.Equal(t, msg.CreatedAt, conv.UpdatedAt)
	assert.NotEqual(t, conv.ID, msg.ID)
}

func TestLastUserMessage(t *testing.T) {
	conv, _ := newTestConversation()
	_, ok := conv.LastUserMessage()
	assert.False(t, ok)

	conv.AddUserMessage("first question")
	conv.AddAssistantMessage("first answer")
	conv.AddUserMessage("second question")
	conv.AddAssistantMessage("second answer")
	conv.AddMessage(RoleSystem, "note")

	msg, ok := conv.LastUserMessage()
	require.True(t, ok)
	assert.Equal(t, "second question", msg.Content)
	assert.Equal(t, RoleUser, msg.Role)
}

func TestMessagesReturnsCopy(t *testing.T) {
	conv, _ := newTestConversation()
	conv.AddUserMessage("original")

	msgs := conv.Messages()
	msgs[0].Content = "changed"
	assert.Equal(t, "original", conv.Messages()[0].Content)
}

func TestRecentMessages(t *testing.T) {
	conv, _ := newTestConversation()
	for i := 0; i < 5; i++ {
		conv.AddUserMessage(fmt.Sprintf("m%d", i))
	}
	recent := conv.RecentMessages(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "m3", recent[0].Content)
	assert.Equal(t, "m4", recent[1].Content)
	assert.Len(t, conv.RecentMessages(0), 5)
	assert.Len(t, conv.RecentMessages(10), 5)
}

func TestRename(t *testing.T) {
	conv, _ := newTestConversation()
	require.NoError(t, conv.Rename("Shipping"))
	conv.AddUserMessage("A question")
	assert.Equal(t, "Shipping", conv.Title)

	err := conv.Rename("")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "Shipping", conv.Title)
}

func TestRestoreConversation(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := []ChatMessage{
		{ID: "m1", Role: RoleUser, Content: "hi", CreatedAt: created},
		{ID: "m2", Role: RoleAssistant, Content: "hello", CreatedAt: created.Add(time.Second)},
	}
	conv := RestoreConversation("c1", 3, "hi", created, created.Add(time.Second), nil, msgs)

	assert.Equal(t, 2, conv.MessageCount())
	assert.NotNil(t, conv.Metadata)
	msgs[0].Content = "mutated"
	assert.Equal(t, "hi", conv.Messages()[0].Content)

	conv.AddUserMessage("again")
	assert.Equal(t, "hi", conv.Title)
}
