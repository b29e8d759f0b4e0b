package model

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	MaxMessageLength = 10000
	MaxTitleLength   = 200
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrDocumentExists       = errors.New("document already exists")
	ErrTurnInProgress       = errors.New("another turn is in progress for this conversation")
)

// ValidationError 描述一次输入校验失败，errors.Is(err, ErrInvalidInput) 为 true。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// EmbeddingError 表示向量生成失败。批量调用失败时不会返回任何部分结果。
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding (model %s) failed: %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// GenerationError 表示大模型生成失败，包装上游 SDK 的原始错误。
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation (model %s) failed: %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// ValidateMessage 校验用户消息长度，按字符而非字节计数。
func ValidateMessage(content string) error {
	return validateLength("message", content, MaxMessageLength)
}

// ValidateTitle 校验对话标题长度。
func ValidateTitle(title string) error {
	return validateLength("title", title, MaxTitleLength)
}

func validateLength(field, value string, max int) error {
	n := utf8.RuneCountInString(value)
	if n < 1 || n > max {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("length must be between 1 and %d characters, got %d", max, n)}
	}
	return nil
}
