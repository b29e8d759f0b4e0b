// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rag-chat-go/internal/model"
	"rag-chat-go/internal/service"
	"rag-chat-go/pkg/log"
)

// 对外稳定的错误码
const (
	CodeInvalidInput          = "INVALID_INPUT"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeUsernameTaken         = "USERNAME_TAKEN"
	CodeUserNotFound          = "USER_NOT_FOUND"
	CodeConversationNotFound  = "CONVERSATION_NOT_FOUND"
	CodeDocumentNotFound      = "DOCUMENT_NOT_FOUND"
	CodeDocumentExists        = "DOCUMENT_EXISTS"
	CodeTurnInProgress        = "TURN_IN_PROGRESS"
	CodeEmbeddingUnavailable  = "EMBEDDING_UNAVAILABLE"
	CodeGenerationUnavailable = "GENERATION_UNAVAILABLE"
	CodeInternal              = "INTERNAL"
)

// ErrorInfo 是错误响应中的 error 字段。
type ErrorInfo struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// ClassifyError 把业务错误映射为 HTTP 状态码与错误码。
func ClassifyError(err error) (int, ErrorInfo) {
	var (
		validationErr *model.ValidationError
		embeddingErr  *model.EmbeddingError
		generationErr *model.GenerationError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, ErrorInfo{Code: CodeInvalidInput, Detail: validationErr.Error()}
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, ErrorInfo{Code: CodeInvalidInput, Detail: err.Error()}
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, ErrorInfo{Code: CodeUnauthorized}
	case errors.Is(err, service.ErrUsernameTaken):
		return http.StatusConflict, ErrorInfo{Code: CodeUsernameTaken}
	case errors.Is(err, model.ErrUserNotFound):
		return http.StatusNotFound, ErrorInfo{Code: CodeUserNotFound}
	case errors.Is(err, model.ErrConversationNotFound):
		return http.StatusNotFound, ErrorInfo{Code: CodeConversationNotFound}
	case errors.Is(err, model.ErrDocumentNotFound):
		return http.StatusNotFound, ErrorInfo{Code: CodeDocumentNotFound}
	case errors.Is(err, model.ErrDocumentExists):
		return http.StatusConflict, ErrorInfo{Code: CodeDocumentExists}
	case errors.Is(err, model.ErrTurnInProgress):
		return http.StatusConflict, ErrorInfo{Code: CodeTurnInProgress}
	case errors.As(err, &embeddingErr):
		return http.StatusServiceUnavailable, ErrorInfo{Code: CodeEmbeddingUnavailable}
	case errors.As(err, &generationErr):
		return http.StatusServiceUnavailable, ErrorInfo{Code: CodeGenerationUnavailable}
	}
	return http.StatusInternalServerError, ErrorInfo{Code: CodeInternal}
}

func respondOK(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": message, "data": data})
}

func respondError(c *gin.Context, err error) {
	status, info := ClassifyError(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("[Handler] %s %s 失败: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, gin.H{"code": status, "message": http.StatusText(status), "error": info})
}

func respondBadRequest(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"code":    http.StatusBadRequest,
		"message": http.StatusText(http.StatusBadRequest),
		"error":   ErrorInfo{Code: CodeInvalidInput, Detail: detail},
	})
}

// currentUser 取出认证中间件放入上下文的用户。
func currentUser(c *gin.Context) *model.User {
	if u, ok := c.Get("user"); ok {
		if user, ok := u.(*model.User); ok {
			return user
		}
	}
	return nil
}
