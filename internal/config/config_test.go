package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Document.ChunkSize)
	assert.Equal(t, 200, cfg.Document.ChunkOverlap)
	assert.Equal(t, []string{"pdf", "docx", "txt", "md"}, cfg.Document.AllowedExtensions)
	assert.Equal(t, 5, cfg.Chat.TopK)
	assert.Equal(t, 2*time.Minute, cfg.Chat.LockTTL)
	assert.Equal(t, 24*time.Hour, cfg.Embedding.CacheTTL)
	assert.Equal(t, "elasticsearch", cfg.VectorStore.Provider)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
llm:
  model: gpt-4o-mini
vector_store:
  provider: qdrant
chat:
  top_k: 8
`), 0o600))
	t.Setenv("RAG_LLM_API_KEY", "sk-test")
	t.Setenv("RAG_CHAT_TOP_K", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 3, cfg.Chat.TopK, "environment overrides the file")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Document:    DocumentConfig{ChunkSize: 100, ChunkOverlap: 10},
			Chat:        ChatConfig{TopK: 5},
			VectorStore: VectorStoreConfig{Provider: "qdrant"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.Document.ChunkSize = 0 }},
		{"overlap not smaller than size", func(c *Config) { c.Document.ChunkOverlap = 100 }},
		{"negative overlap", func(c *Config) { c.Document.ChunkOverlap = -1 }},
		{"zero top k", func(c *Config) { c.Chat.TopK = 0 }},
		{"unknown provider", func(c *Config) { c.VectorStore.Provider = "pinecone" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
