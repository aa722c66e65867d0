// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"course-rag-go/internal/config"

	"github.com/gorilla/websocket"
)

// MessageWriter defines an interface for writing streamed chunks.
// A *websocket.Conn satisfies it directly.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Client defines the interface for an LLM client.
type Client interface {
	// StreamChatMessages 以 role-based 消息与可选生成参数调用聊天接口，并将流式分块写入 writer。
	StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) error
	// Generate 以流式方式调用聊天接口并返回拼接后的完整回答。
	Generate(ctx context.Context, messages []Message) (string, error)
	// GenerateStream 在返回完整回答的同时把每个分块转发给 writer。
	GenerateStream(ctx context.Context, messages []Message, writer MessageWriter) (string, error)
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client for an OpenAI-compatible chat completions endpoint.
func NewClient(cfg config.LLMConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// accumulator 收集流式分块，并可选地转发给下游 writer。
type accumulator struct {
	sb   strings.Builder
	next MessageWriter
}

func (a *accumulator) WriteMessage(messageType int, data []byte) error {
	a.sb.Write(data)
	if a.next != nil {
		return a.next.WriteMessage(messageType, data)
	}
	return nil
}

func (c *openAICompatibleClient) Generate(ctx context.Context, messages []Message) (string, error) {
	return c.GenerateStream(ctx, messages, nil)
}

func (c *openAICompatibleClient) GenerateStream(ctx context.Context, messages []Message, writer MessageWriter) (string, error) {
	acc := &accumulator{next: writer}
	if err := c.StreamChatMessages(ctx, messages, nil, acc); err != nil {
		return "", err
	}
	answer := strings.TrimSpace(acc.sb.String())
	if answer == "" {
		return "", errors.New("chat api returned an empty answer")
	}
	return answer, nil
}

func (c *openAICompatibleClient) StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, writer MessageWriter) error {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   true,
	}
	// 传参优先，否则使用配置中的非零值
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
	} else {
		if c.cfg.Generation.Temperature != 0 {
			t := c.cfg.Generation.Temperature
			reqBody.Temperature = &t
		}
		if c.cfg.Generation.TopP != 0 {
			p := c.cfg.Generation.TopP
			reqBody.TopP = &p
		}
		if c.cfg.Generation.MaxTokens != 0 {
			m := c.cfg.Generation.MaxTokens
			reqBody.MaxTokens = &m
		}
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read from stream: %w", err)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			if strings.TrimSpace(data) == "[DONE]" {
				return nil
			}
			var chunk chatResponse
			if jerr := json.Unmarshal([]byte(data), &chunk); jerr == nil && len(chunk.Choices) > 0 {
				content := chunk.Choices[0].Delta.Content
				if content != "" {
					if werr := writer.WriteMessage(websocket.TextMessage, []byte(content)); werr != nil {
						return fmt.Errorf("failed to write stream chunk: %w", werr)
					}
				}
			}
		}
		if err != nil {
			return nil
		}
	}
}
