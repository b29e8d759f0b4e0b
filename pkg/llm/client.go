// Package llm 封装大语言模型的对话生成能力，支持同步与流式两种调用方式。
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"rag-chat-go/internal/config"
	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/log"
)

const defaultRules = "Answer the question using only the given context."

// ErrStreamConsumed 在同一个流被第二次遍历时返回。
var ErrStreamConsumed = errors.New("llm: stream already consumed")

// Generator 是生成端口。两个方法接收相同的历史与上下文时，
// GenerateStream 的所有增量按序拼接等于 Generate 的返回值。
type Generator interface {
	Generate(ctx context.Context, history []model.ChatMessage, contextText string) (string, error)
	// GenerateStream 返回惰性、只能消费一次的增量序列。
	// 消费方提前 break 即放弃该流，底层连接随之关闭。
	GenerateStream(ctx context.Context, history []model.ChatMessage, contextText string) iter.Seq2[string, error]
}

type openAIClient struct {
	client openai.Client
	model  string
	gen    config.LLMGenerationConfig
	prompt config.LLMPromptConfig
}

// NewClient 根据配置创建 Generator。
func NewClient(cfg config.LLMConfig) Generator {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openAIClient{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		gen:    cfg.Generation,
		prompt: cfg.Prompt,
	}
}

// SystemPrompt 组装 system 消息：规则在前，检索上下文用 ref 标记包裹。
func SystemPrompt(prompt config.LLMPromptConfig, contextText string) string {
	rules := prompt.Rules
	if rules == "" {
		rules = defaultRules
	}
	refStart, refEnd := prompt.RefStart, prompt.RefEnd
	if refStart == "" {
		refStart = "<<REF>>"
	}
	if refEnd == "" {
		refEnd = "<<END>>"
	}

	var sys strings.Builder
	sys.WriteString(rules)
	sys.WriteString("\n\n")
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if strings.TrimSpace(contextText) != "" {
		sys.WriteString(strings.TrimRight(contextText, "\n"))
	} else {
		noRes := prompt.NoResultText
		if noRes == "" {
			noRes = "(no relevant context was found)"
		}
		sys.WriteString(noRes)
	}
	sys.WriteString("\n")
	sys.WriteString(refEnd)
	return sys.String()
}

// composeMessages 生成发送给模型的消息，system 消息永远在第一位。
func (c *openAIClient) composeMessages(history []model.ChatMessage, contextText string) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	msgs = append(msgs, openai.SystemMessage(SystemPrompt(c.prompt, contextText)))
	for _, m := range history {
		switch m.Role {
		case model.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case model.RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case model.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		}
	}
	return msgs
}

func (c *openAIClient) buildParams(history []model.ChatMessage, contextText string) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: c.composeMessages(history, contextText),
	}
	// 只下发非零的生成参数
	if c.gen.Temperature != 0 {
		params.Temperature = openai.Float(c.gen.Temperature)
	}
	if c.gen.TopP != 0 {
		params.TopP = openai.Float(c.gen.TopP)
	}
	if c.gen.MaxTokens != 0 {
		params.MaxTokens = openai.Int(int64(c.gen.MaxTokens))
	}
	return params
}

// Generate 同步调用对话接口并返回完整回复。
func (c *openAIClient) Generate(ctx context.Context, history []model.ChatMessage, contextText string) (string, error) {
	log.Infof("[LLMClient] 开始调用对话接口, model: %s, history: %d", c.model, len(history))
	resp, err := c.client.Chat.Completions.New(ctx, c.buildParams(history, contextText))
	if err != nil {
		log.Errorf("[LLMClient] 调用对话接口失败, error: %v", err)
		return "", &model.GenerationError{Model: c.model, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &model.GenerationError{Model: c.model, Err: errors.New("response contained no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream 在第一次遍历时才发起请求。
func (c *openAIClient) GenerateStream(ctx context.Context, history []model.ChatMessage, contextText string) iter.Seq2[string, error] {
	params := c.buildParams(history, contextText)
	var consumed atomic.Bool
	return func(yield func(string, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield("", ErrStreamConsumed)
			return
		}

		log.Infof("[LLMClient] 开始流式调用对话接口, model: %s, history: %d", c.model, len(history))
		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		deltas := 0
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			deltas++
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				log.Infof("[LLMClient] 消费方提前结束流, 已发送 %d 个分块", deltas)
				return
			}
		}
		if err := stream.Err(); err != nil {
			log.Errorf("[LLMClient] 流式读取失败, error: %v", err)
			yield("", &model.GenerationError{Model: c.model, Err: fmt.Errorf("stream: %w", err)})
		}
	}
}
