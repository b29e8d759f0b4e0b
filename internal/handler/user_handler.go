package handler

import (
	"github.com/gin-gonic/gin"

	"rag-chat-go/internal/service"
	"rag-chat-go/pkg/log"
)

// UserHandler 负责处理注册、登录、个人信息与 token 相关的请求。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// CredentialsRequest 是注册与登录的请求体。
type CredentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshTokenRequest 是刷新 token 的请求体。
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (h *UserHandler) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "username and password are required")
		return
	}
	user, err := h.userService.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		log.Warnf("[UserHandler] 注册失败, username: %s, error: %v", req.Username, err)
		respondError(c, err)
		return
	}
	respondOK(c, "User registered successfully", user)
}

func (h *UserHandler) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "username and password are required")
		return
	}
	pair, err := h.userService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		log.Warnf("[UserHandler] 登录失败, username: %s, error: %v", req.Username, err)
		respondError(c, err)
		return
	}
	log.Infof("[UserHandler] 用户登录成功, username: %s", req.Username)
	respondOK(c, "Login successful", pair)
}

// Me 返回当前登录用户的信息。
func (h *UserHandler) Me(c *gin.Context) {
	respondOK(c, "success", currentUser(c))
}

// Logout 注销当前请求携带的 access token。
func (h *UserHandler) Logout(c *gin.Context) {
	if err := h.userService.Logout(c.Request.Context(), c.GetString("token")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "Logout successful", nil)
}

func (h *UserHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "refreshToken is required")
		return
	}
	pair, err := h.userService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "Token refreshed successfully", pair)
}
