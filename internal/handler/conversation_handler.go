package handler

import (
	"github.com/gin-gonic/gin"

	"rag-chat-go/internal/service"
)

// ConversationHandler 负责对话的增删改查。
type ConversationHandler struct {
	conversationService service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler 实例。
func NewConversationHandler(conversationService service.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService}
}

// TitleRequest 是创建与重命名对话的请求体。
type TitleRequest struct {
	Title string `json:"title"`
}

func (h *ConversationHandler) Create(c *gin.Context) {
	var req TitleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, "invalid request body")
			return
		}
	}
	conv, err := h.conversationService.Create(c.Request.Context(), currentUser(c).ID, req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "Conversation created", conv)
}

func (h *ConversationHandler) List(c *gin.Context) {
	page, size := intQuery(c, "page", 1), intQuery(c, "size", 20)
	items, total, err := h.conversationService.List(c.Request.Context(), currentUser(c).ID, page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "success", PageData{Items: items, Total: total, Page: page, Size: size})
}

func (h *ConversationHandler) Get(c *gin.Context) {
	conv, err := h.conversationService.Get(c.Request.Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "success", conv)
}

// Messages 分页返回对话消息，按时间正序。
func (h *ConversationHandler) Messages(c *gin.Context) {
	page, size := intQuery(c, "page", 1), intQuery(c, "size", 50)
	msgs, err := h.conversationService.Messages(c.Request.Context(), currentUser(c).ID, c.Param("id"), page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "success", msgs)
}

func (h *ConversationHandler) Rename(c *gin.Context) {
	var req TitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	conv, err := h.conversationService.Rename(c.Request.Context(), currentUser(c).ID, c.Param("id"), req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "Conversation renamed", conv)
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	if err := h.conversationService.Delete(c.Request.Context(), currentUser(c).ID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "Conversation deleted", nil)
}
