// Package llm talks to the local chat and vision models through Ollama's
// OpenAI-compatible API.
package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

var ErrEmptyReply = errors.New("empty model reply")

// ToolCall is the JSON object a chat reply may carry instead of prose.
type ToolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

type Reply struct {
	Text string
	Tool *ToolCall
}

type Options struct {
	BaseURL     string
	Model       string
	VisionModel string
	HTTPClient  *http.Client
	MaxRetries  int
}

type Client struct {
	api    openai.Client
	model  string
	vision string
}

func New(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/") + "/v1/"

	reqOpts := []option.RequestOption{
		option.WithBaseURL(base),
		// Ollama ignores the key but the client insists on one.
		option.WithAPIKey("ollama"),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &Client{
		api:    openai.NewClient(reqOpts...),
		model:  opts.Model,
		vision: opts.VisionModel,
	}
}

// Chat sends one prompt. A reply that is a JSON object with a "tool" key is
// returned as a ToolCall.
func (c *Client) Chat(ctx context.Context, prompt, system string) (Reply, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	text, err := c.complete(ctx, c.model, msgs)
	if err != nil {
		return Reply{}, err
	}

	log.Debug("Chat reply", "model", c.model, "text", text)
	return ParseReply(text), nil
}

// Analyze asks the vision model about one image.
func (c *Client) Analyze(ctx context.Context, prompt string, image []byte) (string, error) {
	if len(image) == 0 {
		return "", errors.New("analyze: empty image")
	}

	url := fmt.Sprintf("data:%s;base64,%s", http.DetectContentType(image), base64.StdEncoding.EncodeToString(image))
	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(prompt),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}),
		}),
	}

	text, err := c.complete(ctx, c.vision, msgs)
	if err != nil {
		return "", err
	}

	log.Debug("Vision reply", "model", c.vision, "text", text)
	return text, nil
}

func (c *Client) complete(ctx context.Context, model string, msgs []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrEmptyReply)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyReply
	}
	return content, nil
}

func ParseReply(text string) Reply {
	body := strings.TrimSpace(text)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	if strings.HasPrefix(body, "{") {
		var call ToolCall
		if err := json.Unmarshal([]byte(body), &call); err == nil && call.Tool != "" {
			if call.Args == nil {
				call.Args = map[string]any{}
			}
			return Reply{Text: text, Tool: &call}
		}
	}
	return Reply{Text: text}
}
