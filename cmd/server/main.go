// Package main 是应用程序的入口点。
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"rag-chat-go/internal/config"
	"rag-chat-go/pkg/log"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "rag-chat",
	Short: "Retrieval-augmented chat server",
	Long: `rag-chat 把用户上传的文档切分、向量化后写入向量库，
对话时检索相关片段作为上下文交给大模型生成回答。

环境变量 RAG_<SECTION>_<KEY> 可以覆盖配置文件中的值，例如 RAG_LLM_API_KEY。`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the document processing consumer",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE:  runMigrate,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Upload every file in a directory for a user, skipping files that already exist",
	RunE:  runSeed,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "path to the YAML config file")
	seedCmd.Flags().String("dir", "initfile", "directory to import")
	seedCmd.Flags().String("user", "admin", "owner of the imported documents")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd)
}

// loadConfig 读取配置并初始化日志，是进程内唯一构建配置的地方。
func loadConfig() (*config.Config, error) {
	path := configPath
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	log.Info("日志记录器初始化成功")
	return cfg, nil
}

func main() {
	// 本地开发时读取 .env，文件不存在时忽略
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	log.Sync()
}
