package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"rag-chat-go/internal/handler"
	"rag-chat-go/internal/middleware"
	"rag-chat-go/pkg/database"
	"rag-chat-go/pkg/log"
)

// newRouter 注册全部路由。
func newRouter(a *app) *gin.Engine {
	gin.SetMode(a.cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(a.metrics), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		ctx := c.Request.Context()
		sqlDB, err := a.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err == nil {
			err = a.rdb.Ping(ctx).Err()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if a.metrics != nil {
		r.GET(a.cfg.Metrics.Path, gin.WrapH(a.metrics.Handler()))
	}

	userHandler := handler.NewUserHandler(a.userService)
	conversationHandler := handler.NewConversationHandler(a.conversationService)
	documentHandler := handler.NewDocumentHandler(a.documentService)
	searchHandler := handler.NewSearchHandler(a.searchService, a.cfg.Chat.TopK)
	chatHandler := handler.NewChatHandler(a.chatService, a.conversationService, a.userService)
	auth := middleware.AuthMiddleware(a.userService)

	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/auth/refreshToken", userHandler.RefreshToken)

		users := apiV1.Group("/users")
		{
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)
			users.GET("/me", auth, userHandler.Me)
			users.POST("/logout", auth, userHandler.Logout)
		}

		conversations := apiV1.Group("/conversations", auth)
		{
			conversations.POST("", conversationHandler.Create)
			conversations.GET("", conversationHandler.List)
			conversations.GET("/:id", conversationHandler.Get)
			conversations.GET("/:id/messages", conversationHandler.Messages)
			conversations.PATCH("/:id", conversationHandler.Rename)
			conversations.DELETE("/:id", conversationHandler.Delete)
		}

		documents := apiV1.Group("/documents", auth)
		{
			documents.POST("", documentHandler.Upload)
			documents.GET("", documentHandler.List)
			documents.GET("/search", documentHandler.Search)
			documents.GET("/:id", documentHandler.Get)
			documents.GET("/:id/download", documentHandler.Download)
			documents.DELETE("/:id", documentHandler.Delete)
		}

		apiV1.GET("/search", auth, searchHandler.Search)
		apiV1.POST("/chat", auth, chatHandler.Chat)
	}
	r.GET("/chat/:token", chatHandler.Handle)
	return r
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// 后台 Kafka 消费者，ctx 取消时退出
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := a.consumer.Run(ctx); err != nil {
			log.Errorf("[Server] Kafka 消费者异常退出: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: newRouter(a),
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("[Server] 服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("HTTP 服务监听失败: %w", err)
	case <-ctx.Done():
	}
	log.Info("[Server] 接收到停机信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP 服务器关闭失败: %w", err)
	}
	<-consumerDone
	log.Info("[Server] 服务已优雅关闭")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := database.OpenMySQL(cfg.Database.MySQL)
	if err != nil {
		return err
	}
	if err := database.AutoMigrate(db); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	log.Info("[Migrate] 数据库迁移完成")
	return nil
}
