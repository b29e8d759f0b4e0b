package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"rag-chat-go/internal/model"
	"rag-chat-go/internal/service"
	"rag-chat-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChatHandler 提供同步对话接口与 WebSocket 流式对话。
type ChatHandler struct {
	chatService         service.ChatService
	conversationService service.ConversationService
	userService         service.UserService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, conversationService service.ConversationService, userService service.UserService) *ChatHandler {
	return &ChatHandler{
		chatService:         chatService,
		conversationService: conversationService,
		userService:         userService,
	}
}

// ChatRequest 是同步对话的请求体，conversationId 为空时新建对话。
type ChatRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

// Chat 同步执行一轮对话，返回助手回复与检索到的上下文。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}
	result, err := h.chatService.Chat(c.Request.Context(), service.ChatRequest{
		UserID:         currentUser(c).ID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, "success", result)
}

// Handle 处理 /chat/:token 上的 WebSocket 连接。
// 每个文本帧是一条用户消息（纯文本或 {"conversationId","message"}），
// {"type":"stop"} 放弃正在进行的流式输出。
func (h *ChatHandler) Handle(c *gin.Context) {
	user, err := h.userService.Authenticate(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[ChatHandler] WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("[ChatHandler] WebSocket 连接已建立, user: %s", user.Username)

	s := &chatSession{
		handler:        h,
		conn:           conn,
		user:           user,
		conversationID: c.Query("conversationId"),
	}
	s.run(c.Request.Context())
	log.Infof("[ChatHandler] WebSocket 连接已关闭, user: %s", user.Username)
}

// inboundFrame 是客户端发来的 JSON 帧。
type inboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

func parseFrame(data []byte) inboundFrame {
	var f inboundFrame
	if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, &f); err == nil {
			return f
		}
	}
	return inboundFrame{Message: string(data)}
}

type turnOutcome struct {
	result *service.ChatResult
	err    error
}

// chatSession 保存一个连接的状态。同一连接同时只有一个轮次在执行。
type chatSession struct {
	handler        *ChatHandler
	conn           *websocket.Conn
	user           *model.User
	conversationID string

	writeMu sync.Mutex
}

func (s *chatSession) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *chatSession) writeError(err error) {
	_, info := ClassifyError(err)
	_ = s.writeJSON(gin.H{"type": "error", "error": info})
}

func (s *chatSession) readLoop(frames chan<- []byte) {
	defer close(frames)
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("[ChatHandler] 从 WebSocket 读取消息失败: %v", err)
			}
			return
		}
		frames <- msg
	}
}

func (s *chatSession) run(ctx context.Context) {
	frames := make(chan []byte)
	go s.readLoop(frames)

	var (
		running bool
		stopped bool
		cancel  context.CancelFunc = func() {}
		done                       = make(chan turnOutcome, 1)
	)
	defer func() { cancel() }()

	for {
		select {
		case msg, ok := <-frames:
			if !ok {
				cancel()
				if running {
					<-done
				}
				return
			}
			frame := parseFrame(msg)
			if frame.Type == "stop" {
				if running {
					stopped = true
					cancel()
				} else {
					_ = s.writeJSON(gin.H{"type": "stop", "message": "no response in progress"})
				}
				continue
			}
			if running {
				s.writeError(model.ErrTurnInProgress)
				continue
			}
			if err := model.ValidateMessage(frame.Message); err != nil {
				s.writeError(err)
				continue
			}
			if frame.ConversationID != "" {
				s.conversationID = frame.ConversationID
			}
			if err := s.ensureConversation(ctx); err != nil {
				s.writeError(err)
				continue
			}

			var turnCtx context.Context
			turnCtx, cancel = context.WithCancel(ctx)
			running, stopped = true, false
			req := service.ChatRequest{UserID: s.user.ID, ConversationID: s.conversationID, Message: frame.Message}
			go func() {
				res, err := s.handler.chatService.StreamChat(turnCtx, req, func(delta string) error {
					return s.writeJSON(gin.H{"chunk": delta})
				})
				done <- turnOutcome{result: res, err: err}
			}()

		case out := <-done:
			running = false
			cancel()
			switch {
			case stopped:
				_ = s.writeJSON(gin.H{"type": "stop", "message": "response stopped", "timestamp": time.Now().UnixMilli()})
			case out.err != nil:
				log.Errorf("[ChatHandler] 流式对话失败, conversation: %s, error: %v", s.conversationID, out.err)
				s.writeError(out.err)
			default:
				_ = s.writeJSON(gin.H{
					"type":           "completion",
					"status":         "finished",
					"conversationId": out.result.ConversationID,
					"title":          out.result.Title,
					"timestamp":      time.Now().UnixMilli(),
				})
			}
		}
	}
}

// ensureConversation 在连接还没有对话时新建一个，并把对话 ID 告知客户端，
// 这样即使首轮失败，客户端也能在同一对话中继续。
func (s *chatSession) ensureConversation(ctx context.Context) error {
	if s.conversationID != "" {
		return nil
	}
	conv, err := s.handler.conversationService.Create(ctx, s.user.ID, "")
	if err != nil {
		return err
	}
	s.conversationID = conv.ID
	return s.writeJSON(gin.H{"type": "conversation", "conversationId": conv.ID})
}
