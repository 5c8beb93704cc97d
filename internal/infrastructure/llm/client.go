package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"crop-doctor/internal/domain/port"
)

const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultModel       = "moonshotai/kimi-k2-instruct-0905"
	DefaultTemperature = 0.6
	DefaultMaxTokens   = 1024
)

var (
	ErrEmptyCompletion = errors.New("completion has no choices")
	ErrStatus          = errors.New("unexpected completion status")
)

// Client OpenAI-совместимый клиент chat completions (Groq)
type Client struct {
	api         *openai.Client
	httpClient  *http.Client
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
}

// Option настройка клиента
type Option func(*Client)

// WithBaseURL адрес OpenAI-совместимого API без /chat/completions
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithModel имя модели
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithTemperature температура выборки
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithMaxTokens предел длины ответа
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// WithTimeout ноль означает без таймаута
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient подменяет HTTP-клиент целиком
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// NewClient создаёт клиента с ключом API
func NewClient(apiKey string, options ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{},
		baseURL:     DefaultBaseURL,
		model:       DefaultModel,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
	}
	for _, opt := range options {
		opt(c)
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = c.baseURL
	cfg.HTTPClient = c.httpClient
	c.api = openai.NewClientWithConfig(cfg)
	return c
}

// Generate отправляет одну пользовательскую реплику и возвращает ответ модели.
// Стриминг выключен, повторов нет.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(c.temperature),
		MaxTokens:   c.maxTokens,
		TopP:        1,
		Stream:      false,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	return resp.Choices[0].Message.Content, nil
}

// classify помечает ответы сервера с кодом ошибки как ErrStatus
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %d %v", ErrStatus, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: %d %v", ErrStatus, reqErr.HTTPStatusCode, err)
	}
	return fmt.Errorf("completion request: %w", err)
}

var _ port.TextGenerator = (*Client)(nil)
