package llm

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient is the OpenAI provider.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	return &OpenAIClient{client: openai.NewClient(apiKey)}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

func openaiRequest(req *Request, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Turns))
	for i, turn := range req.Turns {
		messages[i] = openai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Content,
		}
	}

	return openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
		Stream:    stream,
	}
}

// Reply sends a completion request.
func (c *OpenAIClient) Reply(ctx context.Context, req *Request) (*Reply, error) {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openaiRequest(req, false))
	if err != nil {
		return nil, err
	}

	var content, stopReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		stopReason = string(resp.Choices[0].FinishReason)
	}

	return &Reply{
		Content:    content,
		Model:      resp.Model,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// StreamReply streams the completion token by token.
func (c *OpenAIClient) StreamReply(ctx context.Context, req *Request, onToken TokenFunc) (*Reply, error) {
	start := time.Now()

	stream, err := c.client.CreateChatCompletionStream(ctx, openaiRequest(req, true))
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var content, stopReason string

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if len(response.Choices) > 0 {
			delta := response.Choices[0].Delta.Content
			if delta != "" {
				content += delta
				if err := onToken(delta); err != nil {
					return nil, err
				}
			}
			if response.Choices[0].FinishReason != "" {
				stopReason = string(response.Choices[0].FinishReason)
			}
		}
	}

	model := req.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	return &Reply{
		Content:    content,
		Model:      model,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
