// ABOUTME: OpenAI-compatible client for frame embeddings and VLM answers
// ABOUTME: Same embedding model serves corpus and queries; all calls are timeout-bounded with retry
package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/harper/recall/internal/config"
	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/util"
)

// Client wraps embedding and chat endpoints. Embeddings may point at a
// separate OpenAI-compatible server (a local CLIP service) via
// RECALL_EMBEDDING_BASE_URL; images are sent base64-encoded as the input
// string, which is the convention such servers follow.
type Client struct {
	embed      *openai.Client
	chat       *openai.Client
	embModel   string
	vlmModel   string
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewClient builds a client from configuration.
func NewClient(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if cfg.OpenAIKey == "" && cfg.EmbeddingBaseURL == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required when no local embedding endpoint is configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	chatConf := openai.DefaultConfig(cfg.OpenAIKey)
	if cfg.VLMBaseURL != "" {
		chatConf.BaseURL = cfg.VLMBaseURL
	}
	chat := openai.NewClientWithConfig(chatConf)

	embedConf := openai.DefaultConfig(cfg.OpenAIKey)
	if cfg.EmbeddingBaseURL != "" {
		embedConf.BaseURL = cfg.EmbeddingBaseURL
	}
	embed := openai.NewClientWithConfig(embedConf)

	return &Client{
		embed:      embed,
		chat:       chat,
		embModel:   cfg.EmbeddingModel,
		vlmModel:   cfg.VLMModel,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}, nil
}

// Model returns the embedding model name. Stored with every corpus vector and
// compared at query time.
func (c *Client) Model() string {
	return c.embModel
}

// VLMModel returns the vision model name used for synthesis.
func (c *Client) VLMModel() string {
	return c.vlmModel
}

// EmbedText embeds a query string in the corpus embedding space.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float64, error) {
	return c.embedInput(ctx, text)
}

// EmbedImage embeds an encoded image. The bytes travel base64-encoded as the
// embedding input.
func (c *Client) EmbedImage(ctx context.Context, imageData []byte) ([]float64, error) {
	return c.embedInput(ctx, base64.StdEncoding.EncodeToString(imageData))
}

func (c *Client) embedInput(ctx context.Context, input string) ([]float64, error) {
	var vector []float64

	err := util.Retry(ctx, c.maxRetries, c.retryDelay, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.embed.CreateEmbeddings(callCtx, openai.EmbeddingRequestStrings{
			Input: []string{input},
			Model: openai.EmbeddingModel(c.embModel),
		})
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return fmt.Errorf("no embeddings returned")
		}

		embedding32 := resp.Data[0].Embedding
		vector = make([]float64, len(embedding32))
		for i, v := range embedding32 {
			vector[i] = float64(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingUnavailable, err)
	}
	return vector, nil
}

// Describe asks the VLM for a short caption of one frame.
func (c *Client) Describe(ctx context.Context, imageData []byte) (string, error) {
	msg := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{
				Type: openai.ChatMessagePartTypeText,
				Text: "Describe this screenshot in one or two sentences: visible applications, windows, and what the user appears to be doing.",
			},
			imagePart(imageData),
		},
	}
	return c.complete(ctx, []openai.ChatCompletionMessage{msg})
}

// EvidenceImage is one frame's payload for grounded answer generation.
type EvidenceImage struct {
	Data      []byte
	Caption   string
	Timestamp time.Time
}

// Answer sends the query and evidence images to the VLM as one grounded
// generation request and returns the response text verbatim.
func (c *Client) Answer(ctx context.Context, query string, evidence []EvidenceImage) (string, error) {
	parts := []openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: answerPrompt(query, evidence),
	}}
	for _, ev := range evidence {
		parts = append(parts, imagePart(ev.Data))
	}

	msg := openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	}
	answer, err := c.complete(ctx, []openai.ChatCompletionMessage{msg})
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrSynthesisUnavailable, err)
	}
	return answer, nil
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	var content string

	err := util.Retry(ctx, c.maxRetries, c.retryDelay, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.chat.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:    c.vlmModel,
			Messages: messages,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("no completion choices returned")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	return content, err
}

func answerPrompt(query string, evidence []EvidenceImage) string {
	prompt := fmt.Sprintf(`You are a visual memory assistant. You are given %d screenshots of the user's screen, ordered by relevance, with capture timestamps. Answer the user's question grounded only in what the screenshots show.

Question: %s

Screenshots:
`, len(evidence), query)
	for i, ev := range evidence {
		prompt += fmt.Sprintf("%d. captured %s", i+1, ev.Timestamp.Format(time.RFC3339))
		if ev.Caption != "" {
			prompt += ": " + ev.Caption
		}
		prompt += "\n"
	}
	return prompt
}

func imagePart(data []byte) openai.ChatMessagePart {
	return openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{
			URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
			Detail: openai.ImageURLDetailAuto,
		},
	}
}
